package be

import (
	"context"
	"slices"
	"strings"

	zfs "github.com/vansante/go-bootenv"
)

// List returns the boot environments of the pool ordered by creation time. An empty pool name
// lists the boot environments of every pool.
func (e *Engine) List(ctx context.Context, pool string) ([]BootEnvironment, error) {
	f, err := e.discover(ctx, pool)
	if err != nil {
		return nil, err
	}

	envs := f.sortedEnvs()
	list := make([]BootEnvironment, 0, len(envs))
	for _, env := range envs {
		list = append(list, e.describe(f, env))
	}
	return list, nil
}

// Get returns a single boot environment
func (e *Engine) Get(ctx context.Context, pool, name string) (*BootEnvironment, error) {
	pool, err := e.resolvePool("get", pool)
	if err != nil {
		return nil, err
	}
	f, env, err := e.open(ctx, "get", pool, name)
	if err != nil {
		return nil, err
	}
	be := e.describe(f, env)
	return &be, nil
}

// SharedFilesystems returns the filesystems shared by every boot environment of the pool
func (e *Engine) SharedFilesystems(ctx context.Context, pool string) ([]Dataset, error) {
	f, err := e.discover(ctx, pool)
	if err != nil {
		return nil, err
	}
	list := make([]Dataset, 0, len(f.shared))
	for _, idx := range f.shared {
		list = append(list, e.describeDataset(f, idx, ""))
	}
	return list, nil
}

func (e *Engine) describe(f *forest, env *envTree) BootEnvironment {
	root := &f.nodes[env.root].ds
	pool := zfs.PoolName(root.Name)

	be := BootEnvironment{
		Name:         env.name,
		Pool:         pool,
		Root:         root.Name,
		ActiveNow:    f.activeNow == root.Name,
		ActiveOnBoot: f.bootfs[pool] == root.Name,
		MountPath:    f.nodes[env.root].mountPath,
		Policy:       root.ExtraProps[e.config.Properties.PolicyProperty()],
		Description:  root.ExtraProps[e.config.Properties.DescriptionProperty()],
		Creation:     root.Creation,
		Origin:       root.Origin,
		Datasets:     make([]Dataset, 0, len(env.members)),
	}

	be.Mounted = true
	for _, idx := range env.members {
		ds := e.describeDataset(f, idx, f.relPath(env, idx))
		if ds.Mountable() && !ds.Mounted {
			be.Mounted = false
		}
		be.SpaceUsed += ds.SpaceUsed
		be.Datasets = append(be.Datasets, ds)
	}
	be.Snapshots = e.snapshotSets(f, env)
	return be
}

func (e *Engine) describeDataset(f *forest, idx int, rel string) Dataset {
	n := &f.nodes[idx]
	ds := Dataset{
		Name:           n.ds.Name,
		Path:           rel,
		Mountpoint:     n.ds.Mountpoint,
		MountpointMode: mountpointMode(&n.ds),
		CanMount:       n.ds.CanMount,
		Mounted:        n.mountPath != "",
		MountPath:      n.mountPath,
		SpaceUsed:      n.ds.Usedbydataset + n.ds.Usedbysnapshots,
		Referenced:     n.ds.Referenced,
		Origin:         n.ds.Origin,
		Creation:       n.ds.Creation,
		Policy:         n.ds.ExtraProps[e.config.Properties.PolicyProperty()],
		Snapshots:      make([]Snapshot, 0, len(n.snapshots)),
	}
	for _, snap := range n.snapshots {
		ds.Snapshots = append(ds.Snapshots, Snapshot{
			Name:     snap.SnapshotName(),
			Dataset:  n.ds.Name,
			Creation: snap.Creation,
			Policy:   ownProperty(&snap, e.config.Properties.PolicyProperty()),
			Used:     snap.Used,
			Clones:   snap.Clones,
		})
	}
	return ds
}

// snapshotSets groups the snapshots of the environment by name
func (e *Engine) snapshotSets(f *forest, env *envTree) []SnapshotSet {
	policyProp := e.config.Properties.PolicyProperty()
	byName := make(map[string]int)
	sets := make([]SnapshotSet, 0, len(f.nodes[env.root].snapshots))
	for _, idx := range env.members {
		n := &f.nodes[idx]
		for _, snap := range n.snapshots {
			name := snap.SnapshotName()
			i, ok := byName[name]
			if !ok {
				byName[name] = len(sets)
				sets = append(sets, SnapshotSet{
					Name:     name,
					Creation: snap.Creation,
					Policy:   ownProperty(&snap, policyProp),
				})
				i = len(sets) - 1
			}
			set := &sets[i]
			if snap.Creation.Before(set.Creation) {
				set.Creation = snap.Creation
			}
			if set.Policy == "" {
				set.Policy = ownProperty(&snap, policyProp)
			}
			set.Used += snap.Used
			set.Datasets = append(set.Datasets, n.ds.Name)
		}
	}
	slices.SortStableFunc(sets, func(a, b SnapshotSet) int {
		if c := a.Creation.Compare(b.Creation); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return sets
}

func mountpointMode(ds *zfs.Dataset) MountpointMode {
	switch ds.Mountpoint {
	case zfs.PropertyLegacy:
		return MountpointLegacy
	case zfs.PropertyNone, "":
		return MountpointNone
	}
	switch ds.Source(zfs.PropertyMountPoint) {
	case zfs.PropertySourceLocal, zfs.PropertySourceReceived:
		return MountpointExplicit
	default:
		return MountpointInherited
	}
}
