package be

import (
	"context"
)

// MaxAvailable returns the amount of bytes that would be freed by destroying every boot environment
// of the pool except the one that is active now.
//
// Only unique space is counted. Blocks shared between a snapshot and a clone of another boot
// environment are charged to neither: the snapshot is kept alive by the clone, and the clone only
// owns what it wrote after cloning.
func (e *Engine) MaxAvailable(ctx context.Context, pool string) (uint64, error) {
	pool, err := e.resolvePool("max-available", pool)
	if err != nil {
		return 0, err
	}
	f, err := e.discover(ctx, pool)
	if err != nil {
		return 0, err
	}

	var total uint64
	for i := range f.envs {
		env := &f.envs[i]
		if f.nodes[env.root].ds.Name == f.activeNow {
			continue
		}
		total += f.uniqueSpace(env)
	}
	return total, nil
}

// uniqueSpace returns the space only referenced by the datasets and snapshots of the environment
func (f *forest) uniqueSpace(env *envTree) uint64 {
	var total uint64
	for _, idx := range env.members {
		n := &f.nodes[idx]
		total += n.ds.Usedbydataset

		clonedElsewhere := false
		var exclusive uint64
		for i := range n.snapshots {
			if f.clonedOutside(env, n.snapshots[i].Clones) {
				clonedElsewhere = true
				continue
			}
			exclusive += n.snapshots[i].Used
		}

		if clonedElsewhere {
			total += exclusive
		} else {
			// Also counts blocks shared by several snapshots of this dataset
			total += n.ds.Usedbysnapshots
		}
	}
	return total
}

func (f *forest) clonedOutside(env *envTree, clones []string) bool {
	for _, clone := range clones {
		if !f.inEnv(env, clone) {
			return true
		}
	}
	return false
}
