package be

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaxAvailable(t *testing.T) {
	ctx := context.Background()
	e, storage := newTestEngine(t)

	initEnv(t, e, "a")
	initEnv(t, e, "b")
	initEnv(t, e, "c", "var")
	bootNow(t, storage, "a")

	storage.SetUsed("tank/ROOT/a", 1000)
	storage.SetUsed("tank/ROOT/b", 200)
	storage.SetUsed("tank/ROOT/c", 300)
	storage.SetUsed("tank/ROOT/c/var", 20)

	_, err := e.CreateSnapshot(ctx, CreateSnapshotRequest{Name: "b", Snapshot: "x"})
	require.NoError(t, err)
	storage.SetUsed("tank/ROOT/b@x", 50)

	avail, err := e.MaxAvailable(ctx, "")
	require.NoError(t, err)
	require.Equal(t, uint64(200+50+300+20), avail)

	// The snapshot is kept alive by the clone, so destroying b does not free it
	_, err = e.Copy(ctx, CopyRequest{SourceSnapshot: "b@x", Name: "d"})
	require.NoError(t, err)

	avail, err = e.MaxAvailable(ctx, "")
	require.NoError(t, err)
	require.Equal(t, uint64(200+300+20), avail)
}

func TestMaxAvailableEmpty(t *testing.T) {
	e, _ := newTestEngine(t)

	avail, err := e.MaxAvailable(context.Background(), "")
	require.NoError(t, err)
	require.Zero(t, avail)
}
