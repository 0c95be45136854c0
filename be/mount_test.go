package be

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	zfs "github.com/vansante/go-bootenv"
)

func TestMountUnmount(t *testing.T) {
	ctx := context.Background()
	e, storage := newTestEngine(t)

	_, err := e.Init(ctx, InitRequest{
		Name:              "a",
		Filesystems:       []string{"usr", "var", "tmp"},
		SharedFilesystems: []string{"home"},
	})
	require.NoError(t, err)
	require.NoError(t, storage.SetProperty(ctx, "tank/ROOT/a/var", zfs.PropertyMountPoint, "/srv/var"))
	require.NoError(t, storage.SetProperty(ctx, "tank/ROOT/a/tmp", zfs.PropertyCanMount, zfs.PropertyOff))

	var mounted []string
	e.AddListener(MountedEvent, func(arguments ...interface{}) {
		mounted = append(mounted, arguments[2].(string))
	})

	err = e.Mount(ctx, MountRequest{Name: "a", Mountpoint: "/mnt/a/", Flags: MountSharedFilesystems})
	require.NoError(t, err)
	require.Equal(t, []string{"/mnt/a"}, mounted)

	mounts, err := storage.Mounts(ctx)
	require.NoError(t, err)
	require.Equal(t, []zfs.Mount{
		{Dataset: "tank/ROOT/a", Path: "/mnt/a", Options: "rw"},
		{Dataset: "tank/ROOT/a/usr", Path: "/mnt/a/usr", Options: "rw"},
		{Dataset: "tank/ROOT/a/var", Path: "/mnt/a/srv/var", Options: "rw"},
		{Dataset: "tank/home", Path: "/mnt/a/home", Options: "ro"},
	}, mounts)

	be, err := e.Get(ctx, "", "a")
	require.NoError(t, err)
	require.True(t, be.Mounted)
	require.Equal(t, "/mnt/a", be.MountPath)

	err = e.Mount(ctx, MountRequest{Name: "a", Mountpoint: "/mnt/other"})
	require.ErrorIs(t, err, Busy)

	require.NoError(t, e.Unmount(ctx, UnmountRequest{Name: "a"}))
	mounts, err = storage.Mounts(ctx)
	require.NoError(t, err)
	require.Empty(t, mounts)

	// Unmounting again does nothing
	require.NoError(t, e.Unmount(ctx, UnmountRequest{Name: "a"}))

	be, err = e.Get(ctx, "", "a")
	require.NoError(t, err)
	require.False(t, be.Mounted)
}

func TestMountSharedReadWrite(t *testing.T) {
	ctx := context.Background()
	e, storage := newTestEngine(t)

	_, err := e.Init(ctx, InitRequest{Name: "a", SharedFilesystems: []string{"home"}})
	require.NoError(t, err)

	err = e.Mount(ctx, MountRequest{Name: "a", Mountpoint: "/mnt/a", Flags: MountSharedFilesystems | MountSharedReadWrite})
	require.NoError(t, err)

	mounts, err := storage.Mounts(ctx)
	require.NoError(t, err)
	require.Len(t, mounts, 2)
	require.Equal(t, "rw", mounts[1].Options)

	require.NoError(t, e.Unmount(ctx, UnmountRequest{Name: "a", Flags: MountForce}))
}

func TestMountFailureUnwinds(t *testing.T) {
	ctx := context.Background()
	e, storage := newTestEngine(t)

	_, err := e.Init(ctx, InitRequest{Name: "a", Filesystems: []string{"var"}, SharedFilesystems: []string{"home"}})
	require.NoError(t, err)

	storage.FailOn("mount", "tank/home", zfs.ErrPermissionDenied)
	err = e.Mount(ctx, MountRequest{Name: "a", Mountpoint: "/mnt/a", Flags: MountSharedFilesystems})
	require.ErrorIs(t, err, Access)

	mounts, err := storage.Mounts(ctx)
	require.NoError(t, err)
	require.Empty(t, mounts)
}

func TestMountActive(t *testing.T) {
	ctx := context.Background()
	e, storage := newTestEngine(t)

	initEnv(t, e, "a")
	bootNow(t, storage, "a")

	require.ErrorIs(t, e.Mount(ctx, MountRequest{Name: "a", Mountpoint: "/mnt"}), Busy)
	require.ErrorIs(t, e.Unmount(ctx, UnmountRequest{Name: "a"}), Busy)
	require.ErrorIs(t, e.Mount(ctx, MountRequest{Name: "a", Mountpoint: "relative"}), Invalid)
	require.ErrorIs(t, e.Mount(ctx, MountRequest{Name: "missing", Mountpoint: "/mnt"}), NoEnt)
}

func TestUnmountFailureStops(t *testing.T) {
	ctx := context.Background()
	e, storage := newTestEngine(t)

	initEnv(t, e, "a", "usr", "var")
	require.NoError(t, e.Mount(ctx, MountRequest{Name: "a", Mountpoint: "/mnt/a"}))

	// Children go first, in reverse: var, then usr, then the root
	storage.FailOn("unmount", "/mnt/a/usr", zfs.ErrDatasetBusy)
	err := e.Unmount(ctx, UnmountRequest{Name: "a"})
	require.ErrorIs(t, err, Busy)

	mounts, err := storage.Mounts(ctx)
	require.NoError(t, err)
	require.Equal(t, []zfs.Mount{
		{Dataset: "tank/ROOT/a", Path: "/mnt/a", Options: "rw"},
		{Dataset: "tank/ROOT/a/usr", Path: "/mnt/a/usr", Options: "rw"},
	}, mounts)

	mountCalls := 0
	for _, call := range storage.Calls() {
		if call == "mount tank/ROOT/a/var /mnt/a/var" {
			mountCalls++
		}
	}
	require.Equal(t, 1, mountCalls, "var is not mounted again")

	storage.ClearFailures()
	require.NoError(t, e.Unmount(ctx, UnmountRequest{Name: "a"}))
	mounts, err = storage.Mounts(ctx)
	require.NoError(t, err)
	require.Empty(t, mounts)
}
