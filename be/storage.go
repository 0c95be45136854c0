package be

import (
	"context"
	"io"

	zfs "github.com/vansante/go-bootenv"
)

// Storage is the storage engine the boot environments live on. Errors should match the
// sentinel errors of the zfs package, so they can be translated into a Kind.
type Storage interface {
	// ListDatasets lists every filesystem and snapshot of the pool, or of every pool when it is empty
	ListDatasets(ctx context.Context, pool string, extraProperties []string) ([]zfs.Dataset, error)
	// Dataset describes a single filesystem or snapshot
	Dataset(ctx context.Context, name string) (zfs.Dataset, error)
	Mounts(ctx context.Context) ([]zfs.Mount, error)
	PoolProperty(ctx context.Context, pool, key string) (string, error)
	SetPoolProperty(ctx context.Context, pool, key, val string) error

	CreateFilesystem(ctx context.Context, name string, props map[string]string) error
	Snapshot(ctx context.Context, dataset, name string, props map[string]string) error
	Clone(ctx context.Context, snapshot, dest string, props map[string]string) error
	Promote(ctx context.Context, name string) error
	Rename(ctx context.Context, name, newName string) error
	// Rollback rolls the dataset back to the snapshot, destroying more recent snapshots
	Rollback(ctx context.Context, snapshot string) error
	Destroy(ctx context.Context, name string, recursive bool) error
	SetProperty(ctx context.Context, name, key, val string) error
	InheritProperty(ctx context.Context, name, key string) error

	MountAt(ctx context.Context, name, path string, readOnly bool) error
	Unmount(ctx context.Context, path string, force bool) error

	Send(ctx context.Context, snapshot string, w io.Writer, opts zfs.SendOptions) error
	Receive(ctx context.Context, name string, r io.Reader, opts zfs.ReceiveOptions) error
}

// ZFSStorage is the Storage backed by the zfs, zpool and mount commands
type ZFSStorage struct{}

// ListDatasets lists every filesystem and snapshot of the pool
func (ZFSStorage) ListDatasets(ctx context.Context, pool string, extraProperties []string) ([]zfs.Dataset, error) {
	return zfs.ListDatasets(ctx, zfs.ListOptions{
		ParentDataset:   pool,
		DatasetType:     zfs.DatasetFilesystem + "," + zfs.DatasetSnapshot,
		Recursive:       true,
		ExtraProperties: extraProperties,
	})
}

func (ZFSStorage) Dataset(ctx context.Context, name string) (zfs.Dataset, error) {
	ds, err := zfs.GetDataset(ctx, name)
	if err != nil {
		return zfs.Dataset{}, err
	}
	return *ds, nil
}

// Mounts reads the mount table
func (ZFSStorage) Mounts(_ context.Context) ([]zfs.Mount, error) {
	return zfs.ListMounts()
}

func (ZFSStorage) PoolProperty(ctx context.Context, pool, key string) (string, error) {
	return zfs.PoolProperty(ctx, pool, key)
}

func (ZFSStorage) SetPoolProperty(ctx context.Context, pool, key, val string) error {
	return zfs.SetPoolProperty(ctx, pool, key, val)
}

// CreateFilesystem creates a filesystem without mounting it
func (ZFSStorage) CreateFilesystem(ctx context.Context, name string, props map[string]string) error {
	return zfs.CreateFilesystem(ctx, name, zfs.CreateFilesystemOptions{
		Properties: props,
		NoMount:    true,
	})
}

func (ZFSStorage) Snapshot(ctx context.Context, dataset, name string, props map[string]string) error {
	return zfs.Snapshot(ctx, dataset, name, zfs.SnapshotOptions{Properties: props})
}

func (ZFSStorage) Clone(ctx context.Context, snapshot, dest string, props map[string]string) error {
	return zfs.Clone(ctx, snapshot, dest, zfs.CloneOptions{Properties: props})
}

func (ZFSStorage) Promote(ctx context.Context, name string) error {
	return zfs.Promote(ctx, name)
}

// Rename renames a dataset tree, mounted filesystems are left where they are
func (ZFSStorage) Rename(ctx context.Context, name, newName string) error {
	return zfs.Rename(ctx, name, newName, zfs.RenameOptions{NoMount: true})
}

func (ZFSStorage) Rollback(ctx context.Context, snapshot string) error {
	return zfs.Rollback(ctx, snapshot, zfs.RollbackOptions{DestroyMoreRecent: true})
}

func (ZFSStorage) Destroy(ctx context.Context, name string, recursive bool) error {
	return zfs.Destroy(ctx, name, zfs.DestroyOptions{Recursive: recursive})
}

func (ZFSStorage) SetProperty(ctx context.Context, name, key, val string) error {
	return zfs.SetProperty(ctx, name, key, val)
}

func (ZFSStorage) InheritProperty(ctx context.Context, name, key string) error {
	return zfs.InheritProperty(ctx, name, key)
}

func (ZFSStorage) MountAt(ctx context.Context, name, path string, readOnly bool) error {
	return zfs.MountAt(ctx, name, path, zfs.MountAtOptions{ReadOnly: readOnly})
}

func (ZFSStorage) Unmount(ctx context.Context, path string, force bool) error {
	return zfs.UnmountAt(ctx, path, zfs.UnmountOptions{Force: force})
}

func (ZFSStorage) Send(ctx context.Context, snapshot string, w io.Writer, opts zfs.SendOptions) error {
	return zfs.Send(ctx, snapshot, w, opts)
}

func (ZFSStorage) Receive(ctx context.Context, name string, r io.Reader, opts zfs.ReceiveOptions) error {
	return zfs.Receive(ctx, name, r, opts)
}
