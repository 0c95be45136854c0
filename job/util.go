package job

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/vansante/go-bootenv/be"
)

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// policySnapshots returns the snapshot sets tagged with the policy, oldest first
func policySnapshots(env *be.BootEnvironment, policy string) []be.SnapshotSet {
	snaps := make([]be.SnapshotSet, 0, len(env.Snapshots))
	for _, snap := range env.Snapshots {
		if snap.Policy == policy {
			snaps = append(snaps, snap)
		}
	}
	return snaps
}

// randomizeDuration adds or removes up to 5% of the duration to randomize background routine wake up times
func randomizeDuration(d time.Duration) time.Duration {
	rnd := time.Duration(rand.Int63n(int64(d / 10)))

	return d - (d / 20) + rnd
}
