// Package job runs the boot environment policies: scheduled snapshots and retention pruning.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	eventemitter "github.com/vansante/go-event-emitter"

	"github.com/vansante/go-bootenv/be"
)

const (
	createSnapshotInterval   = time.Minute
	pruneSnapshotInterval    = time.Minute
	pruneEnvironmentInterval = 5 * time.Minute
)

// NewRunner creates a new job runner, it fails when a policy has an invalid schedule
func NewRunner(ctx context.Context, engine *be.Engine, conf Config, logger *slog.Logger) (*Runner, error) {
	r := &Runner{
		Emitter:   eventemitter.NewEmitter(false),
		engine:    engine,
		config:    conf,
		schedules: make(map[string]cron.Schedule, len(conf.Policies)),
		logger:    logger,
		ctx:       ctx,
		now:       time.Now,
	}

	for name, policy := range conf.Policies {
		if policy.Schedule == "" {
			continue
		}
		sched, err := cron.ParseStandard(policy.Schedule)
		if err != nil {
			return nil, fmt.Errorf("error parsing schedule %q of policy %s: %w", policy.Schedule, name, err)
		}
		r.schedules[name] = sched
	}
	return r, nil
}

// Runner creates policy snapshots and prunes policy snapshots and volatile boot environments
type Runner struct {
	*eventemitter.Emitter

	engine    *be.Engine
	config    Config
	schedules map[string]cron.Schedule

	logger *slog.Logger
	ctx    context.Context
	now    func() time.Time
}

// Run starts the goroutines for the different types of jobs
func (r *Runner) Run() {
	if r.config.EnableSnapshotCreate {
		go r.runJob("createSnapshots", createSnapshotInterval, r.createSnapshots)
	}

	if r.config.EnableSnapshotPrune {
		go r.runJob("pruneSnapshots", pruneSnapshotInterval, r.pruneSnapshots)
	}

	if r.config.EnableEnvironmentPrune {
		go r.runJob("pruneEnvironments", pruneEnvironmentInterval, r.pruneEnvironments)
	}
}

// RunOnce runs every enabled job a single time, in order
func (r *Runner) RunOnce() error {
	var errs []error
	if r.config.EnableSnapshotCreate {
		errs = append(errs, r.createSnapshots())
	}
	if r.config.EnableSnapshotPrune {
		errs = append(errs, r.pruneSnapshots())
	}
	if r.config.EnableEnvironmentPrune {
		errs = append(errs, r.pruneEnvironments())
	}
	return errors.Join(errs...)
}

func (r *Runner) runJob(name string, interval time.Duration, job func() error) {
	dur := randomizeDuration(interval)
	ticker := time.NewTicker(dur)
	defer ticker.Stop()

	logger := r.logger.With("job", name)
	logger.Info("be.job.Runner.runJob: Running", "interval", dur)
	defer logger.Info("be.job.Runner.runJob: Stopped")

	for {
		select {
		case <-ticker.C:
			err := job()
			switch {
			case isContextError(err):
				logger.Info("be.job.Runner.runJob: Job interrupted", "error", err)
			case err != nil:
				logger.Error("be.job.Runner.runJob: Job failed", "error", err)
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// environments lists the boot environments with a policy the runner knows
func (r *Runner) environments() ([]be.BootEnvironment, error) {
	list, err := r.engine.List(r.ctx, r.config.Pool)
	if err != nil {
		return nil, fmt.Errorf("error listing boot environments: %w", err)
	}

	envs := list[:0]
	for _, env := range list {
		if _, ok := r.config.Policies[env.Policy]; ok {
			envs = append(envs, env)
		}
	}
	return envs, nil
}
