package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/vansante/go-bootenv/be"
)

func (r *Runner) pruneSnapshots() error {
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
		policy := r.config.Policies[env.Policy]
		for _, snap := range prunableSnapshots(policySnapshots(env, env.Policy), policy, now) {
			err = r.engine.DestroySnapshot(r.ctx, be.DestroySnapshotRequest{
				Pool:     env.Pool,
				Name:     env.Name,
				Snapshot: snap.Name,
			})
			switch {
			case isContextError(err):
				return err
			case errors.Is(err, be.Busy):
				// Cloned by another boot environment, it goes once that one is destroyed
				r.logger.Info("be.job.Runner.pruneSnapshots: Skipping snapshot in use",
					"pool", env.Pool,
					"name", env.Name,
					"snapshot", snap.Name,
				)
				continue
			case err != nil:
				return fmt.Errorf("error destroying snapshot %s of %s: %w", snap.Name, env.Name, err)
			}

			r.EmitEvent(DeletedSnapshotEvent, env.Pool, env.Name, snap.Name)
		}
	}
	return nil
}

// prunableSnapshots returns the snapshots beyond the retention of the policy, the snapshots must be ordered oldest first
func prunableSnapshots(snaps []be.SnapshotSet, policy Policy, now time.Time) []be.SnapshotSet {
	var prune []be.SnapshotSet
	for i, snap := range snaps {
		beyondCount := policy.KeepSnapshots > 0 && len(snaps)-i > policy.KeepSnapshots
		expired := policy.SnapshotRetentionMinutes > 0 &&
			now.Sub(snap.Creation) > time.Duration(policy.SnapshotRetentionMinutes)*time.Minute
		if beyondCount || expired {
			prune = append(prune, snap)
		}
	}
	return prune
}
