package be

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	zfs "github.com/vansante/go-bootenv"
)

// Init creates a new boot environment with an empty root dataset and optionally a filesystem layout
func (e *Engine) Init(ctx context.Context, req InitRequest) (*BootEnvironment, error) {
	err := req.Validate()
	if err != nil {
		return nil, err
	}
	pool, err := e.resolvePool("init", req.Pool)
	if err != nil {
		return nil, err
	}

	f, err := e.discover(ctx, pool)
	if err != nil {
		return nil, err
	}
	root := path.Join(e.container(pool), req.Name)
	if _, ok := f.lookup(pool, e.config.RootContainer, req.Name); ok {
		return nil, newError(Exists, "init", req.Name, "boot environment already exists in pool %s", pool)
	}
	if _, ok := f.index[root]; ok {
		return nil, newError(Exists, "init", req.Name, "dataset %s already exists", root)
	}
	for _, fs := range req.Filesystems {
		err = checkDatasetLength("init", path.Join(root, fs))
		if err != nil {
			return nil, err
		}
	}

	undo := e.newCompensation("init")
	err = e.ensureContainer(ctx, f, pool, undo)
	if err != nil {
		return nil, e.fail(ctx, "init", req.Name, err, undo)
	}

	props := make(map[string]string, len(req.Properties)+5)
	for k, v := range req.Properties {
		props[k] = v
	}
	e.rootProperties(props, req.Policy, req.Description)

	e.logger.Info("be.Engine.Init: Creating boot environment", "pool", pool, "name", req.Name)
	err = e.storage.CreateFilesystem(ctx, root, props)
	if err != nil {
		return nil, e.fail(ctx, "init", req.Name, err, undo)
	}
	undo.destroyDataset(root, false)

	created := map[string]struct{}{root: {}}
	for _, fs := range sortByDepth(req.Filesystems) {
		err = e.createPath(ctx, root, fs, created, undo)
		if err != nil {
			return nil, e.fail(ctx, "init", req.Name, err, undo)
		}
	}

	for _, fs := range sortByDepth(req.SharedFilesystems) {
		err = e.ensureShared(ctx, f, pool, fs, created, undo)
		if err != nil {
			return nil, e.fail(ctx, "init", req.Name, err, undo)
		}
	}

	e.EmitEvent(CreatedEvent, pool, req.Name)
	return e.Get(ctx, pool, req.Name)
}

// rootProperties adds the properties every boot environment root has
func (e *Engine) rootProperties(props map[string]string, policy, description string) {
	props[zfs.PropertyCanMount] = zfs.CanMountNoAuto
	props[zfs.PropertyMountPoint] = "/"
	props[e.config.Properties.RootProperty()] = zfs.PropertyYes
	if policy != "" {
		props[e.config.Properties.PolicyProperty()] = policy
	}
	if description != "" {
		props[e.config.Properties.DescriptionProperty()] = description
	}
}

// ensureContainer creates the dataset holding the boot environments when it does not exist yet
func (e *Engine) ensureContainer(ctx context.Context, f *forest, pool string, undo *compensation) error {
	container := e.container(pool)
	if _, ok := f.index[container]; ok || container == pool {
		return nil
	}

	err := e.storage.CreateFilesystem(ctx, container, map[string]string{
		zfs.PropertyCanMount:   zfs.PropertyOff,
		zfs.PropertyMountPoint: zfs.PropertyNone,
	})
	if err != nil {
		return fmt.Errorf("error creating container %s: %w", container, err)
	}
	undo.destroyDataset(container, false)
	return nil
}

// createPath creates a filesystem below the root, including the missing parents
func (e *Engine) createPath(ctx context.Context, root, rel string, created map[string]struct{}, undo *compensation) error {
	name := root
	for _, part := range strings.Split(rel, "/") {
		name = name + "/" + part
		if _, ok := created[name]; ok {
			continue
		}
		err := e.storage.CreateFilesystem(ctx, name, map[string]string{
			zfs.PropertyCanMount: zfs.CanMountNoAuto,
		})
		if err != nil {
			return fmt.Errorf("error creating filesystem %s: %w", name, err)
		}
		undo.destroyDataset(name, false)
		created[name] = struct{}{}
	}
	return nil
}

// ensureShared creates or tags a filesystem that is shared by every boot environment of the pool
func (e *Engine) ensureShared(ctx context.Context, f *forest, pool, rel string, created map[string]struct{}, undo *compensation) error {
	sharedProp := e.config.Properties.SharedProperty()
	name := path.Join(pool, rel)
	if _, ok := created[name]; ok {
		return nil
	}

	idx, ok := f.index[name]
	switch {
	case name == e.container(pool):
		return newError(Invalid, "init", name, "the boot environment container cannot be shared")
	case ok && f.nodes[idx].env >= 0:
		return newError(Invalid, "init", name, "shared filesystem is part of boot environment %s", f.envs[f.nodes[idx].env].name)
	case ok && f.nodes[idx].shared:
		return nil
	case ok && f.holdsEnv(name):
		return newError(Invalid, "init", name, "shared filesystem holds boot environments")
	case ok:
		err := e.storage.SetProperty(ctx, name, sharedProp, zfs.PropertyYes)
		if err != nil {
			return fmt.Errorf("error tagging shared filesystem %s: %w", name, err)
		}
		undo.register("tag "+name, func(ctx context.Context) error {
			return e.storage.InheritProperty(ctx, name, sharedProp)
		})
		return nil
	}

	parent := path.Dir(name)
	_, inForest := f.index[parent]
	_, inCreated := created[parent]
	if !inForest && !inCreated && parent != pool {
		return newError(NoEnt, "init", name, "parent %s of shared filesystem does not exist", parent)
	}
	err := e.storage.CreateFilesystem(ctx, name, map[string]string{
		sharedProp:             zfs.PropertyYes,
		zfs.PropertyMountPoint: "/" + rel,
	})
	if err != nil {
		return fmt.Errorf("error creating shared filesystem %s: %w", name, err)
	}
	undo.destroyDataset(name, false)
	created[name] = struct{}{}
	return nil
}

// Destroy destroys a boot environment with all of its datasets and snapshots. Clones of its snapshots
// that belong to other boot environments are promoted first, so they survive.
func (e *Engine) Destroy(ctx context.Context, req DestroyRequest) error {
	err := req.Validate()
	if err != nil {
		return err
	}
	pool, err := e.resolvePool("destroy", req.Pool)
	if err != nil {
		return err
	}

	f, env, err := e.open(ctx, "destroy", pool, req.Name)
	if err != nil {
		return err
	}
	be := e.describe(f, env)
	switch {
	case be.ActiveNow:
		return newError(Invalid, "destroy", req.Name, "cannot destroy the boot environment that is active now")
	case be.ActiveOnBoot:
		return newError(Invalid, "destroy", req.Name, "cannot destroy the boot environment that is active on boot")
	case f.anyMounted(env) && !req.ForceUnmount:
		return newError(Busy, "destroy", req.Name, "boot environment is mounted at %s", be.MountPath)
	case f.anyMounted(env):
		err = e.unmountEnv(ctx, f, env, true)
		if err != nil {
			return e.fail(ctx, "destroy", req.Name, err, nil)
		}
	}

	rootName := f.nodes[env.root].ds.Name
	origin := f.nodes[env.root].ds.Origin
	promoted, err := e.promoteDependents(ctx, f, env)
	if err != nil {
		return e.fail(ctx, "destroy", req.Name, err, nil)
	}
	if promoted {
		// Promoting moved snapshots around, read the pool again
		f, env, err = e.open(ctx, "destroy", pool, req.Name)
		if err != nil {
			return err
		}
	}

	e.logger.Info("be.Engine.Destroy: Destroying boot environment", "pool", pool, "name", req.Name, "datasets", len(env.members))
	for i := len(env.members) - 1; i >= 0; i-- {
		n := &f.nodes[env.members[i]]
		for j := len(n.snapshots) - 1; j >= 0; j-- {
			err = e.storage.Destroy(ctx, n.snapshots[j].Name, false)
			if err != nil {
				return e.fail(ctx, "destroy", req.Name, fmt.Errorf("error destroying snapshot %s: %w", n.snapshots[j].Name, err), nil)
			}
		}
		err = e.storage.Destroy(ctx, n.ds.Name, false)
		if err != nil {
			return e.fail(ctx, "destroy", req.Name, fmt.Errorf("error destroying dataset %s: %w", n.ds.Name, err), nil)
		}
	}

	if req.DestroyOrigin && origin != "" {
		err = e.destroyOrigin(ctx, f, rootName, origin)
		if err != nil {
			return e.fail(ctx, "destroy", req.Name, err, nil)
		}
	}

	e.EmitEvent(DestroyedEvent, pool, req.Name)
	return nil
}

// promoteDependents promotes the clones of the snapshots of the environment that live outside of it
func (e *Engine) promoteDependents(ctx context.Context, f *forest, env *envTree) (bool, error) {
	promoted := false
	for _, idx := range env.members {
		snap, clone := f.newestDependent(env, &f.nodes[idx])
		if clone == "" {
			continue
		}
		// Promoting one clone moves the snapshot and every older one along, the other clones follow
		e.logger.Info("be.Engine.promoteDependents: Promoting clone", "clone", clone, "snapshot", snap)
		err := e.storage.Promote(ctx, clone)
		if err != nil {
			return promoted, fmt.Errorf("error promoting clone %s of %s: %w", clone, snap, err)
		}
		promoted = true
	}
	return promoted, nil
}

// newestDependent returns the newest snapshot of the dataset with a clone outside of the environment
func (f *forest) newestDependent(env *envTree, n *node) (snapshot, clone string) {
	for j := len(n.snapshots) - 1; j >= 0; j-- {
		for _, c := range n.snapshots[j].Clones {
			if !f.inEnv(env, c) {
				return n.snapshots[j].Name, c
			}
		}
	}
	return "", ""
}

// destroyOrigin destroys the snapshot the root was cloned from, unless other clones depend on it
func (e *Engine) destroyOrigin(ctx context.Context, f *forest, rootName, origin string) error {
	idx, ok := f.index[originDataset(origin)]
	if !ok {
		return nil
	}
	snap := f.nodes[idx].snapshot(originSnapshot(origin))
	if snap == nil {
		return nil
	}
	// The clone list was read before the root was destroyed
	if slices.ContainsFunc(snap.Clones, func(clone string) bool { return clone != rootName }) {
		return nil
	}
	err := e.storage.Destroy(ctx, origin, false)
	if err != nil {
		return fmt.Errorf("error destroying origin %s: %w", origin, err)
	}
	return nil
}

func originDataset(origin string) string {
	before, _, _ := strings.Cut(origin, "@")
	return before
}

func originSnapshot(origin string) string {
	_, after, _ := strings.Cut(origin, "@")
	return after
}

// Rename renames a boot environment. When it is the one active on boot, the boot selection follows it.
func (e *Engine) Rename(ctx context.Context, req RenameRequest) error {
	err := req.Validate()
	if err != nil {
		return err
	}
	pool, err := e.resolvePool("rename", req.Pool)
	if err != nil {
		return err
	}

	f, env, err := e.open(ctx, "rename", pool, req.Name)
	if err != nil {
		return err
	}
	root := f.nodes[env.root].ds.Name
	newRoot := path.Join(path.Dir(root), req.NewName)
	if _, ok := f.lookup(pool, e.config.RootContainer, req.NewName); ok {
		return newError(Exists, "rename", req.NewName, "boot environment already exists in pool %s", pool)
	}
	if _, ok := f.index[newRoot]; ok {
		return newError(Exists, "rename", req.NewName, "dataset %s already exists", newRoot)
	}
	for _, idx := range env.members {
		err = checkDatasetLength("rename", newRoot+strings.TrimPrefix(f.nodes[idx].ds.Name, root))
		if err != nil {
			return err
		}
	}

	be := e.describe(f, env)
	switch {
	case be.ActiveNow:
		return newError(Busy, "rename", req.Name, "cannot rename the boot environment that is active now")
	case f.anyMounted(env):
		return newError(Busy, "rename", req.Name, "boot environment is mounted at %s", be.MountPath)
	}

	undo := e.newCompensation("rename")
	err = e.storage.Rename(ctx, root, newRoot)
	if err != nil {
		return e.fail(ctx, "rename", req.Name, err, undo)
	}
	undo.register("rename "+root, func(ctx context.Context) error {
		return e.storage.Rename(ctx, newRoot, root)
	})

	if be.ActiveOnBoot {
		err = e.storage.SetPoolProperty(ctx, pool, zfs.PoolPropertyBootFS, newRoot)
		if err != nil {
			return e.fail(ctx, "rename", req.Name, fmt.Errorf("error updating %s: %w", zfs.PoolPropertyBootFS, err), undo)
		}
	}

	e.logger.Info("be.Engine.Rename: Renamed boot environment", "pool", pool, "name", req.Name, "newName", req.NewName)
	e.EmitEvent(RenamedEvent, pool, req.Name, req.NewName)
	return nil
}

// Activate selects the boot environment to boot next. Datasets that are clones are promoted,
// so the environment no longer depends on the one it was copied from.
func (e *Engine) Activate(ctx context.Context, req ActivateRequest) error {
	err := req.Validate()
	if err != nil {
		return err
	}
	pool, err := e.resolvePool("activate", req.Pool)
	if err != nil {
		return err
	}

	f, env, err := e.open(ctx, "activate", pool, req.Name)
	if err != nil {
		return err
	}

	for _, idx := range env.members {
		n := &f.nodes[idx]
		if n.ds.Origin == "" || f.inEnv(env, originDataset(n.ds.Origin)) {
			continue
		}
		e.logger.Info("be.Engine.Activate: Promoting dataset", "dataset", n.ds.Name, "origin", n.ds.Origin)
		err = e.storage.Promote(ctx, n.ds.Name)
		if err != nil {
			return e.fail(ctx, "activate", req.Name, fmt.Errorf("error promoting %s: %w", n.ds.Name, err), nil)
		}
	}

	root := f.nodes[env.root].ds.Name
	err = e.storage.SetPoolProperty(ctx, pool, zfs.PoolPropertyBootFS, root)
	if err != nil {
		return e.fail(ctx, "activate", req.Name, err, nil)
	}

	e.logger.Info("be.Engine.Activate: Activated boot environment", "pool", pool, "name", req.Name)
	e.EmitEvent(ActivatedEvent, pool, req.Name)
	return nil
}

// sortByDepth orders relative paths parents first
func sortByDepth(paths []string) []string {
	sorted := slices.Clone(paths)
	slices.SortStableFunc(sorted, func(a, b string) int {
		da, db := strings.Count(a, "/"), strings.Count(b, "/")
		if da != db {
			return da - db
		}
		return strings.Compare(a, b)
	})
	return sorted
}
