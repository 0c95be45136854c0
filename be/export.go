package be

import (
	"context"
	"fmt"
	"io"
	"path"

	zfs "github.com/vansante/go-bootenv"
)

// Export writes a replication stream of a boot environment to w and returns the amount of bytes written.
// Without a snapshot a temporary one is made and destroyed afterwards.
func (e *Engine) Export(ctx context.Context, w io.Writer, req ExportRequest) (int64, error) {
	err := req.Validate()
	if err != nil {
		return 0, err
	}
	pool, err := e.resolvePool("export", req.Pool)
	if err != nil {
		return 0, err
	}

	f, env, err := e.open(ctx, "export", pool, req.Name)
	if err != nil {
		return 0, err
	}

	snap := req.Snapshot
	if snap == "" {
		snap = e.uniqueSnapshotName(f, env)
		undo := e.newCompensation("export")
		err = e.snapshotTree(ctx, f, env, snap, "", undo)
		if err != nil {
			return 0, e.fail(ctx, "export", req.Name, err, undo)
		}
		// The temporary snapshot goes whether the export succeeded or not
		defer func() {
			uerr := undo.unwind(ctx)
			if uerr != nil {
				e.logger.Error("be.Engine.Export: Error removing temporary snapshot", "snapshot", snap, "error", uerr)
			}
		}()
	} else {
		for _, idx := range env.members {
			if !f.nodes[idx].hasSnapshot(snap) {
				return 0, newError(NoEnt, "export", f.nodes[idx].ds.Name+"@"+snap, "snapshot not found")
			}
		}
	}

	counter := zfs.NewCountWriter(w)
	root := f.nodes[env.root].ds.Name
	err = e.storage.Send(ctx, root+"@"+snap, counter, zfs.SendOptions{
		Replicate:        true,
		CompressionLevel: req.CompressionLevel,
		BytesPerSecond:   req.BytesPerSecond,
	})
	if err != nil {
		return counter.Count(), e.fail(ctx, "export", req.Name, fmt.Errorf("error sending %s@%s: %w", root, snap, err), nil)
	}

	e.logger.Info("be.Engine.Export: Exported boot environment", "pool", pool, "name", req.Name, "bytes", counter.Count())
	e.EmitEvent(ExportedEvent, pool, req.Name, snap, counter.Count())
	return counter.Count(), nil
}

// Import creates a boot environment from a replication stream made by Export
func (e *Engine) Import(ctx context.Context, r io.Reader, req ImportRequest) (*BootEnvironment, error) {
	err := req.Validate()
	if err != nil {
		return nil, err
	}
	pool, err := e.resolvePool("import", req.Pool)
	if err != nil {
		return nil, err
	}

	f, err := e.discover(ctx, pool)
	if err != nil {
		return nil, err
	}
	root := path.Join(e.container(pool), req.Name)
	if _, ok := f.lookup(pool, e.config.RootContainer, req.Name); ok {
		return nil, newError(Exists, "import", req.Name, "boot environment already exists in pool %s", pool)
	}
	if _, ok := f.index[root]; ok {
		return nil, newError(Exists, "import", req.Name, "dataset %s already exists", root)
	}
	err = checkDatasetLength("import", root)
	if err != nil {
		return nil, err
	}

	undo := e.newCompensation("import")
	err = e.ensureContainer(ctx, f, pool, undo)
	if err != nil {
		return nil, e.fail(ctx, "import", req.Name, err, undo)
	}

	counter := zfs.NewCountReader(r)
	err = e.storage.Receive(ctx, root, counter, zfs.ReceiveOptions{
		NoMount:             true,
		EnableDecompression: req.EnableDecompression,
		BytesPerSecond:      req.BytesPerSecond,
		Properties: map[string]string{
			zfs.PropertyCanMount: zfs.CanMountNoAuto,
		},
	})
	if err != nil {
		// A receive that failed halfway may have left datasets behind
		derr := e.storage.Destroy(context.WithoutCancel(ctx), root, true)
		if derr != nil {
			e.logger.Debug("be.Engine.Import: Nothing to clean up", "dataset", root, "error", derr)
		}
		return nil, e.fail(ctx, "import", req.Name, fmt.Errorf("error receiving %s: %w", root, err), undo)
	}
	undo.destroyDataset(root, true)

	ds, err := e.storage.Dataset(ctx, root)
	if err != nil {
		return nil, e.fail(ctx, "import", req.Name, fmt.Errorf("error reading received %s: %w", root, err), undo)
	}
	if ds.Type != zfs.DatasetFilesystem {
		return nil, e.fail(ctx, "import", req.Name, newError(Invalid, "import", root, "stream holds a %s, not a filesystem", ds.Type), undo)
	}

	err = e.storage.SetProperty(ctx, root, e.config.Properties.RootProperty(), zfs.PropertyYes)
	if err != nil {
		return nil, e.fail(ctx, "import", req.Name, err, undo)
	}

	e.logger.Info("be.Engine.Import: Imported boot environment", "pool", pool, "name", req.Name, "bytes", counter.Count())
	e.EmitEvent(ImportedEvent, pool, req.Name)
	return e.Get(ctx, pool, req.Name)
}
