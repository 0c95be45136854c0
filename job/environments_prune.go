package job

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/vansante/go-bootenv/be"
)

// pruneEnvironments destroys the volatile boot environments beyond the retention of their policy.
// Boot environments that are active or mounted are never destroyed, but do count towards the retention.
func (r *Runner) pruneEnvironments() error {
	envs, err := r.environments()
	if err != nil {
		return err
	}

	byPolicy := make(map[string][]be.BootEnvironment)
	for _, env := range envs {
		if r.config.Policies[env.Policy].volatile() {
			byPolicy[env.Policy] = append(byPolicy[env.Policy], env)
		}
	}

	now := r.now()
	for name, list := range byPolicy {
		policy := r.config.Policies[name]
		slices.SortStableFunc(list, func(a, b be.BootEnvironment) int {
			return a.Creation.Compare(b.Creation)
		})

		for i := range list {
			if r.ctx.Err() != nil {
				return r.ctx.Err()
			}

			env := &list[i]
			beyondCount := policy.KeepEnvironments > 0 && len(list)-i > policy.KeepEnvironments
			expired := policy.EnvironmentRetentionMinutes > 0 &&
				now.Sub(env.Creation) > time.Duration(policy.EnvironmentRetentionMinutes)*time.Minute
			if !beyondCount && !expired {
				continue
			}
			if env.ActiveNow || env.ActiveOnBoot || env.Mounted || env.MountPath != "" {
				r.logger.Info("be.job.Runner.pruneEnvironments: Keeping boot environment in use",
					"pool", env.Pool,
					"name", env.Name,
				)
				continue
			}

			err = r.engine.Destroy(r.ctx, be.DestroyRequest{
				Pool:          env.Pool,
				Name:          env.Name,
				DestroyOrigin: true,
			})
			switch {
			case isContextError(err):
				return err
			case errors.Is(err, be.Busy), errors.Is(err, be.NoEnt):
				r.logger.Info("be.job.Runner.pruneEnvironments: Skipping boot environment",
					"error", err,
					"pool", env.Pool,
					"name", env.Name,
				)
				continue
			case err != nil:
				return fmt.Errorf("error destroying boot environment %s: %w", env.Name, err)
			}

			r.EmitEvent(DeletedEnvironmentEvent, env.Pool, env.Name)
		}
	}
	return nil
}
