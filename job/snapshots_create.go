package job

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vansante/go-bootenv/be"
)

func (r *Runner) createSnapshots() error {
	envs, err := r.environments()
	if err != nil {
		return err
	}

	now := r.now()
	for i := range envs {
		if r.ctx.Err() != nil {
			return r.ctx.Err()
		}

		env := &envs[i]
		sched, ok := r.schedules[env.Policy]
		if !ok {
			continue
		}

		err = r.createPolicySnapshot(env, sched, now)
		switch {
		case isContextError(err):
			return err
		case err != nil:
			r.logger.Error("be.job.Runner.createSnapshots: Error creating snapshot",
				"error", err,
				"pool", env.Pool,
				"name", env.Name,
			)
		}
	}
	return nil
}

func (r *Runner) snapshotName(env *be.BootEnvironment, tm time.Time) string {
	name := r.config.SnapshotNameTemplate
	name = strings.ReplaceAll(name, "%POLICY%", env.Policy)
	name = strings.ReplaceAll(name, "%BE%", env.Name)
	name = strings.ReplaceAll(name, "%UNIXTIME%", strconv.FormatInt(tm.Unix(), 10))
	return name
}

// createPolicySnapshot snapshots the boot environment when the schedule has passed a slot since its latest policy snapshot
func (r *Runner) createPolicySnapshot(env *be.BootEnvironment, sched cron.Schedule, now time.Time) error {
	snaps := policySnapshots(env, env.Policy)
	if len(snaps) > 0 && now.Before(sched.Next(snaps[len(snaps)-1].Creation)) {
		return nil // The next scheduled slot has not been reached yet
	}

	name, err := r.engine.CreateSnapshot(r.ctx, be.CreateSnapshotRequest{
		Pool:     env.Pool,
		Name:     env.Name,
		Snapshot: r.snapshotName(env, now),
		Policy:   env.Policy,
	})
	if err != nil {
		return fmt.Errorf("error creating snapshot of %s: %w", env.Name, err)
	}

	r.logger.Info("be.job.Runner.createPolicySnapshot: Created snapshot",
		"pool", env.Pool,
		"name", env.Name,
		"snapshot", name,
		"policy", env.Policy,
	)
	r.EmitEvent(CreatedSnapshotEvent, env.Pool, env.Name, name, env.Policy)
	return nil
}
