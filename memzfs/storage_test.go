package memzfs

import (
	"bytes"
	"context"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	zfs "github.com/vansante/go-bootenv"
)

const testPool = "tank"

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s := New()
	s.AddPool(testPool)
	require.NoError(t, s.CreateFilesystem(context.Background(), testPool+"/ROOT", map[string]string{
		zfs.PropertyMountPoint: zfs.PropertyNone,
		zfs.PropertyCanMount:   zfs.PropertyOff,
	}))
	return s
}

func find(t *testing.T, list []zfs.Dataset, name string) zfs.Dataset {
	t.Helper()
	for _, ds := range list {
		if ds.Name == name {
			return ds
		}
	}
	require.Failf(t, "dataset not found", "dataset %s not in list", name)
	return zfs.Dataset{}
}

func TestPropertyInheritance(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/a", map[string]string{
		zfs.PropertyMountPoint: "/",
		"test:tag":             "yes",
	}))
	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/a/var", nil))
	require.NoError(t, s.CreateFilesystem(ctx, "tank/home", nil))
	require.NoError(t, s.Snapshot(ctx, "tank/ROOT/a", "snap", nil))

	list, err := s.ListDatasets(ctx, testPool, []string{"test:tag"})
	require.NoError(t, err)
	require.Len(t, list, 6)

	root := find(t, list, "tank/ROOT/a")
	require.Equal(t, "/", root.Mountpoint)
	require.Equal(t, zfs.PropertySourceLocal, root.Source(zfs.PropertyMountPoint))
	require.Equal(t, "yes", root.ExtraProps["test:tag"])
	require.Equal(t, zfs.PropertySourceLocal, root.Source("test:tag"))
	require.Equal(t, zfs.PropertyOn, root.CanMount)

	child := find(t, list, "tank/ROOT/a/var")
	require.Equal(t, "/var", child.Mountpoint)
	require.Equal(t, zfs.PropertySourceInherited, child.Source(zfs.PropertyMountPoint))
	require.Equal(t, "yes", child.ExtraProps["test:tag"])
	require.Equal(t, zfs.PropertySourceInherited, child.Source("test:tag"))

	home := find(t, list, "tank/home")
	require.Equal(t, "/tank/home", home.Mountpoint)
	require.Equal(t, zfs.PropertySourceDefault, home.Source(zfs.PropertyMountPoint))
	require.Equal(t, "", home.ExtraProps["test:tag"])
	require.Equal(t, zfs.PropertySourceNone, home.Source("test:tag"))

	container := find(t, list, "tank/ROOT")
	require.Equal(t, zfs.PropertyNone, container.Mountpoint)

	snap := find(t, list, "tank/ROOT/a@snap")
	require.Equal(t, zfs.DatasetSnapshot, snap.Type)
	require.Equal(t, "yes", snap.ExtraProps["test:tag"])
	require.Equal(t, zfs.PropertySourceInherited, snap.Source("test:tag"))

	_, err = s.ListDatasets(ctx, "nope", nil)
	require.ErrorIs(t, err, zfs.ErrDatasetNotFound)
}

func TestCreateErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.ErrorIs(t, s.CreateFilesystem(ctx, "tank/ROOT", nil), zfs.ErrDatasetExists)
	require.ErrorIs(t, s.CreateFilesystem(ctx, "tank/missing/child", nil), zfs.ErrDatasetNotFound)
	require.ErrorIs(t, s.CreateFilesystem(ctx, "other/fs", nil), zfs.ErrPoolNotFound)

	long := "tank/" + string(bytes.Repeat([]byte("x"), 300))
	require.ErrorIs(t, s.CreateFilesystem(ctx, long, nil), zfs.ErrNameTooLong)
}

func TestClonePromote(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/a", nil))
	require.NoError(t, s.Snapshot(ctx, "tank/ROOT/a", "one", nil))
	require.NoError(t, s.Snapshot(ctx, "tank/ROOT/a", "two", nil))
	require.NoError(t, s.Snapshot(ctx, "tank/ROOT/a", "three", nil))
	require.NoError(t, s.Clone(ctx, "tank/ROOT/a@two", "tank/ROOT/b", nil))

	list, err := s.ListDatasets(ctx, testPool, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"tank/ROOT/b"}, find(t, list, "tank/ROOT/a@two").Clones)
	require.Equal(t, "tank/ROOT/a@two", find(t, list, "tank/ROOT/b").Origin)

	require.ErrorIs(t, s.Destroy(ctx, "tank/ROOT/a@two", false), zfs.ErrHasClones)

	require.NoError(t, s.Promote(ctx, "tank/ROOT/b"))
	require.True(t, s.Exists("tank/ROOT/b@one"))
	require.True(t, s.Exists("tank/ROOT/b@two"))
	require.True(t, s.Exists("tank/ROOT/a@three"))
	require.False(t, s.Exists("tank/ROOT/a@two"))
	require.Equal(t, "", s.Origin("tank/ROOT/b"))
	require.Equal(t, "tank/ROOT/b@two", s.Origin("tank/ROOT/a"))

	require.Error(t, s.Promote(ctx, "tank/ROOT/b"))
}

func TestRenameRecursive(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/a", nil))
	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/a/var", nil))
	require.NoError(t, s.Snapshot(ctx, "tank/ROOT/a/var", "snap", nil))
	require.NoError(t, s.Clone(ctx, "tank/ROOT/a/var@snap", "tank/ROOT/clone", nil))
	require.NoError(t, s.MountAt(ctx, "tank/ROOT/a/var", "/mnt/var", false))

	require.ErrorIs(t, s.Rename(ctx, "tank/ROOT/a", "tank/ROOT/clone"), zfs.ErrDatasetExists)
	require.NoError(t, s.Rename(ctx, "tank/ROOT/a", "tank/ROOT/b"))

	require.False(t, s.Exists("tank/ROOT/a"))
	require.True(t, s.Exists("tank/ROOT/b/var@snap"))
	require.Equal(t, "tank/ROOT/b/var@snap", s.Origin("tank/ROOT/clone"))

	mounts, err := s.Mounts(ctx)
	require.NoError(t, err)
	require.Equal(t, []zfs.Mount{{Dataset: "tank/ROOT/b/var", Path: "/mnt/var", Options: "rw"}}, mounts)
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/a", nil))
	s.SetUsed("tank/ROOT/a", 100)
	require.NoError(t, s.Snapshot(ctx, "tank/ROOT/a", "one", nil))
	s.SetUsed("tank/ROOT/a", 500)
	require.NoError(t, s.Snapshot(ctx, "tank/ROOT/a", "two", nil))
	require.NoError(t, s.Snapshot(ctx, "tank/ROOT/a", "three", nil))
	require.NoError(t, s.Clone(ctx, "tank/ROOT/a@three", "tank/ROOT/b", nil))

	require.ErrorIs(t, s.Rollback(ctx, "tank/ROOT/a@one"), zfs.ErrHasClones)
	require.NoError(t, s.Destroy(ctx, "tank/ROOT/b", false))

	require.NoError(t, s.Rollback(ctx, "tank/ROOT/a@one"))
	require.True(t, s.Exists("tank/ROOT/a@one"))
	require.False(t, s.Exists("tank/ROOT/a@two"))
	require.False(t, s.Exists("tank/ROOT/a@three"))

	list, err := s.ListDatasets(ctx, testPool, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(100), find(t, list, "tank/ROOT/a").Usedbydataset)
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/a", nil))
	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/a/var", nil))
	require.NoError(t, s.Snapshot(ctx, "tank/ROOT/a", "snap", nil))

	require.ErrorIs(t, s.Destroy(ctx, "tank/ROOT/a", false), zfs.ErrHasChildren)
	require.ErrorIs(t, s.Destroy(ctx, "tank/ROOT/nope", false), zfs.ErrDatasetNotFound)

	require.NoError(t, s.MountAt(ctx, "tank/ROOT/a/var", "/mnt/var", false))
	require.ErrorIs(t, s.Destroy(ctx, "tank/ROOT/a", true), zfs.ErrDatasetBusy)
	require.NoError(t, s.Unmount(ctx, "/mnt/var", false))

	require.NoError(t, s.Destroy(ctx, "tank/ROOT/a", true))
	require.False(t, s.Exists("tank/ROOT/a"))
	require.False(t, s.Exists("tank/ROOT/a/var"))
	require.False(t, s.Exists("tank/ROOT/a@snap"))
	require.Equal(t, "destroy tank/ROOT/a", s.Calls()[len(s.Calls())-1])
}

func TestMounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/a", nil))
	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/a/var", nil))

	require.NoError(t, s.MountAt(ctx, "tank/ROOT/a", "/mnt/a/", false))
	require.ErrorIs(t, s.MountAt(ctx, "tank/ROOT/a", "/mnt/b", false), zfs.ErrDatasetBusy)
	require.ErrorIs(t, s.MountAt(ctx, "tank/ROOT/a/var", "/mnt/a", false), zfs.ErrDatasetBusy)
	require.NoError(t, s.MountAt(ctx, "tank/ROOT/a/var", "/mnt/a/var", true))

	list, err := s.ListDatasets(ctx, testPool, nil)
	require.NoError(t, err)
	require.True(t, find(t, list, "tank/ROOT/a").Mounted)

	require.ErrorIs(t, s.Unmount(ctx, "/mnt/a", false), zfs.ErrDatasetBusy)
	require.NoError(t, s.Unmount(ctx, "/mnt/a/var", false))
	require.NoError(t, s.Unmount(ctx, "/mnt/a", false))
	require.ErrorIs(t, s.Unmount(ctx, "/mnt/a", false), zfs.ErrNotMounted)
}

func TestBootFS(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	val, err := s.PoolProperty(ctx, testPool, zfs.PoolPropertyBootFS)
	require.NoError(t, err)
	require.Equal(t, "", val)

	require.ErrorIs(t, s.SetPoolProperty(ctx, testPool, zfs.PoolPropertyBootFS, "tank/ROOT/nope"), zfs.ErrDatasetNotFound)
	require.NoError(t, s.SetPoolProperty(ctx, testPool, zfs.PoolPropertyBootFS, "tank/ROOT"))

	val, err = s.PoolProperty(ctx, testPool, zfs.PoolPropertyBootFS)
	require.NoError(t, err)
	require.Equal(t, "tank/ROOT", val)

	_, err = s.PoolProperty(ctx, "nope", zfs.PoolPropertyBootFS)
	require.ErrorIs(t, err, zfs.ErrPoolNotFound)
}

func TestSendReceiveReplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/a", map[string]string{"test:tag": "yes"}))
	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/a/var", nil))
	require.NoError(t, s.Snapshot(ctx, "tank/ROOT/a", "one", nil))
	require.NoError(t, s.Snapshot(ctx, "tank/ROOT/a", "two", nil))
	require.NoError(t, s.Snapshot(ctx, "tank/ROOT/a/var", "two", nil))

	buf := &bytes.Buffer{}
	require.NoError(t, s.Send(ctx, "tank/ROOT/a@two", buf, zfs.SendOptions{
		Replicate:        true,
		CompressionLevel: zstd.SpeedDefault,
	}))

	require.NoError(t, s.Receive(ctx, "tank/ROOT/copy", buf, zfs.ReceiveOptions{
		EnableDecompression: true,
		Properties:          map[string]string{zfs.PropertyCanMount: zfs.CanMountNoAuto},
	}))

	require.True(t, s.Exists("tank/ROOT/copy@one"))
	require.True(t, s.Exists("tank/ROOT/copy@two"))
	require.True(t, s.Exists("tank/ROOT/copy/var@two"))

	val, src := s.Property("tank/ROOT/copy", "test:tag")
	require.Equal(t, "yes", val)
	require.Equal(t, zfs.PropertySourceReceived, src)

	val, src = s.Property("tank/ROOT/copy/var", zfs.PropertyCanMount)
	require.Equal(t, zfs.CanMountNoAuto, val)
	require.Equal(t, zfs.PropertySourceLocal, src)

	require.Error(t, s.Receive(ctx, "tank/ROOT/broken", bytes.NewBufferString("garbage"), zfs.ReceiveOptions{}))
	require.False(t, s.Exists("tank/ROOT/broken"))
}

func TestFailOn(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	s.FailOn("create", "tank/ROOT/a", zfs.ErrOutOfMemory)
	require.ErrorIs(t, s.CreateFilesystem(ctx, "tank/ROOT/a", nil), zfs.ErrOutOfMemory)
	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/b", nil))

	s.FailOn("snapshot", "", zfs.ErrPermissionDenied)
	require.ErrorIs(t, s.Snapshot(ctx, "tank/ROOT/b", "x", nil), zfs.ErrPermissionDenied)

	s.ClearFailures()
	require.NoError(t, s.CreateFilesystem(ctx, "tank/ROOT/a", nil))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, s.CreateFilesystem(cancelled, "tank/ROOT/c", nil), context.Canceled)
}
