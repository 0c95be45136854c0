package be

import (
	"context"
	"fmt"

	zfs "github.com/vansante/go-bootenv"
)

// CreateSnapshot snapshots every dataset of a boot environment with the same name and returns that name.
// When one of the snapshots fails, the ones already made are destroyed again.
func (e *Engine) CreateSnapshot(ctx context.Context, req CreateSnapshotRequest) (string, error) {
	err := req.Validate()
	if err != nil {
		return "", err
	}
	pool, err := e.resolvePool("snapshot", req.Pool)
	if err != nil {
		return "", err
	}

	f, env, err := e.open(ctx, "snapshot", pool, req.Name)
	if err != nil {
		return "", err
	}

	name := req.Snapshot
	if name == "" {
		name = e.uniqueSnapshotName(f, env)
	} else if f.envHasSnapshot(env, name) {
		return "", newError(Exists, "snapshot", req.Name+"@"+name, "snapshot already exists")
	}

	undo := e.newCompensation("snapshot")
	err = e.snapshotTree(ctx, f, env, name, req.Policy, undo)
	if err != nil {
		return "", e.fail(ctx, "snapshot", req.Name+"@"+name, err, undo)
	}

	e.logger.Info("be.Engine.CreateSnapshot: Created snapshot", "pool", pool, "name", req.Name, "snapshot", name)
	e.EmitEvent(CreatedSnapshotEvent, pool, req.Name, name)
	return name, nil
}

// snapshotTree snapshots every dataset of the environment, parents first
func (e *Engine) snapshotTree(ctx context.Context, f *forest, env *envTree, name, policy string, undo *compensation) error {
	var props map[string]string
	if policy != "" {
		props = map[string]string{e.config.Properties.PolicyProperty(): policy}
	}

	for _, idx := range env.members {
		dataset := f.nodes[idx].ds.Name
		err := checkDatasetLength("snapshot", dataset+"@"+name)
		if err != nil {
			return err
		}
		err = e.storage.Snapshot(ctx, dataset, name, props)
		if err != nil {
			return fmt.Errorf("error snapshotting %s: %w", dataset, err)
		}
		undo.destroyDataset(dataset+"@"+name, false)
	}
	return nil
}

// DestroySnapshot destroys a snapshot on every dataset of a boot environment that has it
func (e *Engine) DestroySnapshot(ctx context.Context, req DestroySnapshotRequest) error {
	err := req.Validate()
	if err != nil {
		return err
	}
	pool, err := e.resolvePool("destroy-snapshot", req.Pool)
	if err != nil {
		return err
	}

	f, env, err := e.open(ctx, "destroy-snapshot", pool, req.Name)
	if err != nil {
		return err
	}

	snaps := make([]*zfs.Dataset, 0, len(env.members))
	for _, idx := range env.members {
		snap := f.nodes[idx].snapshot(req.Snapshot)
		if snap == nil {
			continue
		}
		if len(snap.Clones) > 0 {
			return newError(Busy, "destroy-snapshot", snap.Name, "snapshot has clones: %v", snap.Clones)
		}
		snaps = append(snaps, snap)
	}
	if len(snaps) == 0 {
		return newError(NoEnt, "destroy-snapshot", req.Name+"@"+req.Snapshot, "snapshot not found")
	}

	for i := len(snaps) - 1; i >= 0; i-- {
		err = e.storage.Destroy(ctx, snaps[i].Name, false)
		if err != nil {
			return e.fail(ctx, "destroy-snapshot", snaps[i].Name, err, nil)
		}
	}

	e.logger.Info("be.Engine.DestroySnapshot: Destroyed snapshot", "pool", pool, "name", req.Name, "snapshot", req.Snapshot)
	e.EmitEvent(DestroyedSnapshotEvent, pool, req.Name, req.Snapshot)
	return nil
}

// Rollback rolls every dataset of a boot environment back to a snapshot, destroying newer snapshots.
// Every dataset must have the snapshot, this is checked before anything is changed.
func (e *Engine) Rollback(ctx context.Context, req RollbackRequest) error {
	err := req.Validate()
	if err != nil {
		return err
	}
	pool, err := e.resolvePool("rollback", req.Pool)
	if err != nil {
		return err
	}

	f, env, err := e.open(ctx, "rollback", pool, req.Name)
	if err != nil {
		return err
	}
	root := &f.nodes[env.root]
	switch {
	case root.ds.Name == f.activeNow && !req.Force:
		return newError(Busy, "rollback", req.Name, "boot environment is active now")
	case f.anyMounted(env) && !req.Force:
		return newError(Busy, "rollback", req.Name, "boot environment is mounted at %s", root.mountPath)
	}

	for _, idx := range env.members {
		n := &f.nodes[idx]
		found := false
		for _, snap := range n.snapshots {
			if snap.SnapshotName() == req.Snapshot {
				found = true
				continue
			}
			if found && len(snap.Clones) > 0 {
				return newError(Busy, "rollback", snap.Name, "newer snapshot has clones: %v", snap.Clones)
			}
		}
		if !found {
			return newError(NoEnt, "rollback", n.ds.Name+"@"+req.Snapshot, "snapshot not found")
		}
	}

	for _, idx := range env.members {
		snapshot := f.nodes[idx].ds.Name + "@" + req.Snapshot
		err = e.storage.Rollback(ctx, snapshot)
		if err != nil {
			return e.fail(ctx, "rollback", snapshot, err, nil)
		}
	}

	e.logger.Info("be.Engine.Rollback: Rolled back", "pool", pool, "name", req.Name, "snapshot", req.Snapshot)
	e.EmitEvent(RolledBackEvent, pool, req.Name, req.Snapshot)
	return nil
}
