package be

import (
	"context"
	"fmt"
	"io"
	"path"

	zfs "github.com/vansante/go-bootenv"
)

// Copy creates a new boot environment from a snapshot of an existing one. Within a pool every dataset
// is cloned, to another pool the datasets are sent. A failed copy leaves nothing behind.
func (e *Engine) Copy(ctx context.Context, req CopyRequest) (*BootEnvironment, error) {
	err := req.Validate()
	if err != nil {
		return nil, err
	}
	srcPool, err := e.resolvePool("copy", req.SourcePool)
	if err != nil {
		return nil, err
	}
	dstPool := req.Pool
	if dstPool == "" {
		dstPool = srcPool
	}

	f, err := e.discover(ctx, srcPool)
	if err != nil {
		return nil, err
	}
	src, err := e.copySource(f, srcPool, req.SourceName)
	if err != nil {
		return nil, err
	}

	dst := f
	if dstPool != srcPool {
		dst, err = e.discover(ctx, dstPool)
		if err != nil {
			return nil, err
		}
	}

	name := req.Name
	if name == "" {
		name = e.autoEnvName(dst, dstPool, src.name)
	}
	dstRoot := path.Join(e.container(dstPool), name)
	if _, ok := dst.lookup(dstPool, e.config.RootContainer, name); ok {
		return nil, newError(Exists, "copy", name, "boot environment already exists in pool %s", dstPool)
	}
	if _, ok := dst.index[dstRoot]; ok {
		return nil, newError(Exists, "copy", name, "dataset %s already exists", dstRoot)
	}
	for _, idx := range src.members {
		err = checkDatasetLength("copy", path.Join(dstRoot, f.relPath(src, idx)))
		if err != nil {
			return nil, err
		}
	}

	undo := e.newCompensation("copy")
	snap := req.SourceSnapshot
	switch {
	case snap == "":
		snap = e.uniqueSnapshotName(f, src)
		err = e.snapshotTree(ctx, f, src, snap, "", undo)
		if err != nil {
			return nil, e.fail(ctx, "copy", name, err, undo)
		}
	case !f.nodes[src.root].hasSnapshot(snap):
		return nil, newError(NoEnt, "copy", name, "snapshot %s not found on %s", snap, src.name)
	}

	err = e.ensureContainer(ctx, dst, dstPool, undo)
	if err != nil {
		return nil, e.fail(ctx, "copy", name, err, undo)
	}

	e.logger.Info("be.Engine.Copy: Copying boot environment",
		"source", src.name, "snapshot", snap, "name", name, "pool", dstPool,
	)
	skipped := make(map[int]struct{})
	for _, idx := range src.members {
		n := &f.nodes[idx]
		if _, ok := skipped[n.parent]; ok || !n.hasSnapshot(snap) {
			// Datasets created after the snapshot have nothing to copy, and neither do their children
			skipped[idx] = struct{}{}
			continue
		}

		rel := f.relPath(src, idx)
		target := path.Join(dstRoot, rel)
		props := e.copyProperties(n, rel == "", req)

		if dstPool == srcPool {
			err = e.storage.Clone(ctx, n.ds.Name+"@"+snap, target, props)
		} else {
			err = e.replicate(ctx, n.ds.Name+"@"+snap, target, props)
		}
		if err != nil {
			return nil, e.fail(ctx, "copy", name, fmt.Errorf("error copying %s to %s: %w", n.ds.Name, target, err), undo)
		}
		undo.destroyDataset(target, dstPool != srcPool)
	}

	e.EmitEvent(CopiedEvent, dstPool, name, src.name, snap)
	return e.Get(ctx, dstPool, name)
}

// copySource returns the named environment, or the one active now, or the one active on boot
func (e *Engine) copySource(f *forest, pool, name string) (*envTree, error) {
	if name != "" {
		env, ok := f.lookup(pool, e.config.RootContainer, name)
		if !ok {
			return nil, newError(NoEnt, "copy", name, "boot environment not found in pool %s", pool)
		}
		return env, nil
	}

	for _, root := range []string{f.activeNow, f.bootfs[pool]} {
		idx, ok := f.index[root]
		if !ok || root == "" {
			continue
		}
		if env := f.nodes[idx].env; env >= 0 && f.envs[env].root == idx {
			return &f.envs[env], nil
		}
	}
	return nil, newError(NoEnt, "copy", pool, "no active boot environment to copy from")
}

// copyProperties returns the properties of a dataset copy. Clones do not take over the local properties
// of their origin, so the mountpoint is copied and the root gets its tags.
func (e *Engine) copyProperties(n *node, root bool, req CopyRequest) map[string]string {
	props := map[string]string{
		zfs.PropertyCanMount: zfs.CanMountNoAuto,
	}
	if mountpointMode(&n.ds) == MountpointExplicit || mountpointMode(&n.ds) == MountpointLegacy {
		props[zfs.PropertyMountPoint] = n.ds.Mountpoint
	}
	if !root {
		return props
	}

	for k, v := range req.Properties {
		props[k] = v
	}
	e.rootProperties(props, req.Policy, req.Description)
	return props
}

// replicate sends a snapshot into a new dataset
func (e *Engine) replicate(ctx context.Context, snapshot, target string, props map[string]string) error {
	reader, writer := io.Pipe()

	sendErr := make(chan error, 1)
	go func() {
		err := e.storage.Send(ctx, snapshot, writer, zfs.SendOptions{})
		_ = writer.CloseWithError(err)
		sendErr <- err
	}()

	err := e.storage.Receive(ctx, target, reader, zfs.ReceiveOptions{
		NoMount:    true,
		Properties: props,
	})
	// Unblocks the sender when receiving stopped early
	_ = reader.CloseWithError(io.ErrClosedPipe)

	serr := <-sendErr
	if err != nil {
		return fmt.Errorf("error receiving %s: %w", target, err)
	}
	if serr != nil {
		return fmt.Errorf("error sending %s: %w", snapshot, serr)
	}
	return nil
}
