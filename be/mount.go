package be

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	zfs "github.com/vansante/go-bootenv"
)

// Mount mounts every dataset of a boot environment below the mountpoint, parents first. Either every
// dataset ends up mounted, or none.
func (e *Engine) Mount(ctx context.Context, req MountRequest) error {
	err := req.Validate()
	if err != nil {
		return err
	}
	pool, err := e.resolvePool("mount", req.Pool)
	if err != nil {
		return err
	}

	f, env, err := e.open(ctx, "mount", pool, req.Name)
	if err != nil {
		return err
	}
	root := &f.nodes[env.root]
	switch {
	case root.ds.Name == f.activeNow:
		return newError(Busy, "mount", req.Name, "boot environment is active now")
	case f.anyMounted(env):
		return newError(Busy, "mount", req.Name, "boot environment is already mounted at %s", root.mountPath)
	}

	mountRoot := path.Clean(req.Mountpoint)
	undo := e.newCompensation("mount")
	paths := make(map[int]string, len(env.members))
	for _, idx := range env.members {
		n := &f.nodes[idx]
		target := e.resolveMountpoint(f, env, idx, mountRoot, paths)
		paths[idx] = target

		if idx != env.root && (mountpointMode(&n.ds) == MountpointNone || n.ds.CanMount == zfs.PropertyOff) {
			continue
		}

		err = e.storage.MountAt(ctx, n.ds.Name, target, false)
		if err != nil {
			return e.fail(ctx, "mount", req.Name, fmt.Errorf("error mounting %s at %s: %w", n.ds.Name, target, err), undo)
		}
		undo.unmountPath(n.ds.Name, target)
	}

	if req.Flags.Has(MountSharedFilesystems) {
		readOnly := !req.Flags.Has(MountSharedReadWrite)
		for _, idx := range f.shared {
			n := &f.nodes[idx]
			mode := mountpointMode(&n.ds)
			if mode == MountpointNone || mode == MountpointLegacy || n.ds.CanMount == zfs.PropertyOff {
				continue
			}
			target := path.Join(mountRoot, n.ds.Mountpoint)
			err = e.storage.MountAt(ctx, n.ds.Name, target, readOnly)
			if err != nil {
				return e.fail(ctx, "mount", req.Name, fmt.Errorf("error mounting shared %s at %s: %w", n.ds.Name, target, err), undo)
			}
			undo.unmountPath(n.ds.Name, target)
		}
	}

	e.logger.Info("be.Engine.Mount: Mounted boot environment", "pool", pool, "name", req.Name, "mountpoint", mountRoot)
	e.EmitEvent(MountedEvent, pool, req.Name, mountRoot)
	return nil
}

// resolveMountpoint returns where a dataset is mounted when its environment is mounted at mountRoot.
// The paths of the parents must have been resolved already.
func (e *Engine) resolveMountpoint(f *forest, env *envTree, idx int, mountRoot string, paths map[int]string) string {
	if idx == env.root {
		return mountRoot
	}
	n := &f.nodes[idx]
	switch mountpointMode(&n.ds) {
	case MountpointExplicit:
		return path.Join(mountRoot, n.ds.Mountpoint)
	case MountpointInherited:
		if parentPath, ok := paths[n.parent]; ok {
			return path.Join(parentPath, path.Base(n.ds.Name))
		}
	}
	// Legacy and unmounted datasets follow the dataset hierarchy
	return path.Join(mountRoot, f.relPath(env, idx))
}

// Unmount unmounts every dataset of a boot environment, shared filesystems below it first and then
// children before parents. Unmounting an environment that is not mounted does nothing.
func (e *Engine) Unmount(ctx context.Context, req UnmountRequest) error {
	err := req.Validate()
	if err != nil {
		return err
	}
	pool, err := e.resolvePool("unmount", req.Pool)
	if err != nil {
		return err
	}

	f, env, err := e.open(ctx, "unmount", pool, req.Name)
	if err != nil {
		return err
	}
	if f.nodes[env.root].ds.Name == f.activeNow {
		return newError(Busy, "unmount", req.Name, "boot environment is active now")
	}
	if !f.anyMounted(env) {
		return nil
	}

	err = e.unmountEnv(ctx, f, env, req.Flags.Has(MountForce))
	if err != nil {
		return e.fail(ctx, "unmount", req.Name, err, nil)
	}

	e.logger.Info("be.Engine.Unmount: Unmounted boot environment", "pool", pool, "name", req.Name)
	e.EmitEvent(UnmountedEvent, pool, req.Name)
	return nil
}

func (e *Engine) unmountEnv(ctx context.Context, f *forest, env *envTree, force bool) error {
	rootPath := f.nodes[env.root].mountPath
	if rootPath != "" && rootPath != "/" {
		shared := make([]zfs.Mount, 0, len(f.shared))
		for _, m := range f.mounts {
			idx, ok := f.index[m.Dataset]
			if ok && f.nodes[idx].shared && strings.HasPrefix(m.Path, rootPath+"/") {
				shared = append(shared, m)
			}
		}
		// Deepest paths first
		slices.SortFunc(shared, func(a, b zfs.Mount) int {
			return strings.Compare(b.Path, a.Path)
		})
		for _, m := range shared {
			err := e.unmountPath(ctx, m.Dataset, m.Path, force)
			if err != nil {
				return err
			}
		}
	}

	for i := len(env.members) - 1; i >= 0; i-- {
		n := &f.nodes[env.members[i]]
		if n.mountPath == "" {
			continue
		}
		err := e.unmountPath(ctx, n.ds.Name, n.mountPath, force)
		if err != nil {
			return err
		}
	}
	return nil
}

// unmountPath unmounts a path, a path that is no longer mounted is skipped
func (e *Engine) unmountPath(ctx context.Context, dataset, target string, force bool) error {
	err := e.storage.Unmount(ctx, target, force)
	switch {
	case errors.Is(err, zfs.ErrNotMounted):
		e.logger.Debug("be.Engine.unmountPath: Already unmounted", "dataset", dataset, "path", target)
		return nil
	case err != nil:
		return fmt.Errorf("error unmounting %s from %s: %w", dataset, target, err)
	}
	return nil
}
