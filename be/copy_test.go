package be

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	zfs "github.com/vansante/go-bootenv"
)

func TestCopy(t *testing.T) {
	ctx := context.Background()
	e, storage := newTestEngine(t)

	initEnv(t, e, "default", "var")
	require.NoError(t, storage.SetProperty(ctx, "tank/ROOT/default/var", zfs.PropertyMountPoint, zfs.PropertyLegacy))

	var copied [][]interface{}
	e.AddListener(CopiedEvent, func(arguments ...interface{}) {
		copied = append(copied, arguments)
	})

	be, err := e.Copy(ctx, CopyRequest{SourceName: "default", Description: "upgrade", Policy: "volatile"})
	require.NoError(t, err)
	require.Equal(t, "default-1", be.Name)
	require.Equal(t, "upgrade", be.Description)
	require.Equal(t, "volatile", be.Policy)
	require.True(t, strings.HasPrefix(be.Origin, "tank/ROOT/default@"))
	require.Len(t, be.Datasets, 2)
	require.Equal(t, "/", be.Datasets[0].Mountpoint)
	require.Equal(t, zfs.CanMountNoAuto, be.Datasets[0].CanMount)
	require.Equal(t, MountpointLegacy, be.Datasets[1].MountpointMode)
	require.Equal(t, zfs.CanMountNoAuto, be.Datasets[1].CanMount)

	require.Len(t, copied, 1)
	require.Equal(t, []interface{}{testPool, "default-1", "default", strings.TrimPrefix(be.Origin, "tank/ROOT/default@")}, copied[0])

	next, err := e.Copy(ctx, CopyRequest{SourceName: "default"})
	require.NoError(t, err)
	require.Equal(t, "default-2", next.Name)

	_, err = e.Copy(ctx, CopyRequest{SourceName: "default", Name: "default-1"})
	require.ErrorIs(t, err, Exists)
	_, err = e.Copy(ctx, CopyRequest{SourceName: "missing"})
	require.ErrorIs(t, err, NoEnt)
	_, err = e.Copy(ctx, CopyRequest{SourceName: "other", SourceSnapshot: "default@snap"})
	require.ErrorIs(t, err, Invalid)
}

func TestCopyFromSnapshot(t *testing.T) {
	ctx := context.Background()
	e, storage := newTestEngine(t)

	initEnv(t, e, "default", "var")
	_, err := e.CreateSnapshot(ctx, CreateSnapshotRequest{Name: "default", Snapshot: "before"})
	require.NoError(t, err)
	// Created after the snapshot, so there is nothing to copy
	require.NoError(t, storage.CreateFilesystem(ctx, "tank/ROOT/default/opt", nil))

	be, err := e.Copy(ctx, CopyRequest{SourceSnapshot: "default@before", Name: "restored"})
	require.NoError(t, err)
	require.Equal(t, "tank/ROOT/default@before", be.Origin)
	require.Len(t, be.Datasets, 2)
	require.False(t, storage.Exists("tank/ROOT/restored/opt"))

	source, err := e.Get(ctx, "", "default")
	require.NoError(t, err)
	require.Len(t, source.Snapshots, 1)

	_, err = e.Copy(ctx, CopyRequest{SourceName: "default", SourceSnapshot: "nope", Name: "x"})
	require.ErrorIs(t, err, NoEnt)
	require.False(t, storage.Exists("tank/ROOT/x"))
}

func TestCopyActiveSource(t *testing.T) {
	ctx := context.Background()
	e, storage := newTestEngine(t)

	initEnv(t, e, "a")
	initEnv(t, e, "b")

	_, err := e.Copy(ctx, CopyRequest{})
	require.ErrorIs(t, err, NoEnt)

	require.NoError(t, e.Activate(ctx, ActivateRequest{Name: "b"}))
	be, err := e.Copy(ctx, CopyRequest{})
	require.NoError(t, err)
	require.Equal(t, "b-1", be.Name)

	// The boot environment running now takes precedence over the one selected for the next boot
	bootNow(t, storage, "a")
	be, err = e.Copy(ctx, CopyRequest{})
	require.NoError(t, err)
	require.Equal(t, "a-1", be.Name)
}

func TestCopyFailureUnwinds(t *testing.T) {
	ctx := context.Background()
	e, storage := newTestEngine(t)

	initEnv(t, e, "default", "var", "usr")

	var records []ErrorRecord
	e.AddListener(DiagnosticEvent, func(arguments ...interface{}) {
		records = append(records, arguments[0].(ErrorRecord))
	})

	storage.FailOn("clone", "tank/ROOT/new/var", zfs.ErrOutOfMemory)
	_, err := e.Copy(ctx, CopyRequest{SourceName: "default", Name: "new"})
	require.ErrorIs(t, err, NoMem)

	require.False(t, storage.Exists("tank/ROOT/new"))
	require.False(t, storage.Exists("tank/ROOT/new/usr"))
	source, err := e.Get(ctx, "", "default")
	require.NoError(t, err)
	require.Empty(t, source.Snapshots)

	require.NotEmpty(t, records)
	require.Equal(t, "copy", records[0].Origin)
	require.Equal(t, NoMem, records[0].Kind)
	require.Contains(t, records[0].Message, "tank/ROOT/new/var")
}

func TestCopyToOtherPool(t *testing.T) {
	ctx := context.Background()
	e, storage := newTestEngine(t)
	storage.AddPool("backup")

	initEnv(t, e, "default", "var")
	storage.SetUsed("tank/ROOT/default/var", 4096)

	be, err := e.Copy(ctx, CopyRequest{SourceName: "default", Pool: "backup", Name: "moved"})
	require.NoError(t, err)
	require.Equal(t, "backup", be.Pool)
	require.Equal(t, "backup/ROOT/moved", be.Root)
	require.Equal(t, "", be.Origin)
	require.Len(t, be.Datasets, 2)
	require.Equal(t, uint64(4096), be.Datasets[1].Referenced)
	require.Equal(t, MountpointInherited, be.Datasets[1].MountpointMode)

	val, _ := storage.Property("backup/ROOT", zfs.PropertyCanMount)
	require.Equal(t, zfs.PropertyOff, val)

	list, err := e.List(ctx, "backup")
	require.NoError(t, err)
	require.Equal(t, []string{"moved"}, names(list))

	storage.FailOn("receive", "backup/ROOT/again/var", zfs.ErrOutOfMemory)
	_, err = e.Copy(ctx, CopyRequest{SourceName: "default", Pool: "backup", Name: "again"})
	require.ErrorIs(t, err, NoMem)
	require.False(t, storage.Exists("backup/ROOT/again"))
}
