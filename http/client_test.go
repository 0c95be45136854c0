package http

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	zfs "github.com/vansante/go-bootenv"
	"github.com/vansante/go-bootenv/be"
	"github.com/vansante/go-bootenv/memzfs"
)

func clientTest(t *testing.T, perms Permissions, fn func(client *Client, storage *memzfs.Storage)) {
	t.Helper()
	httpHandlerTest(t, perms, func(server *httptest.Server, storage *memzfs.Storage) {
		c := NewClient(server.URL, zfs.NewTestLogger(t))
		c.SetAuthenticationToken(testAuthToken)

		fn(c, storage)
	})
}

func TestClient_Lifecycle(t *testing.T) {
	clientTest(t, allPermissions, func(client *Client, storage *memzfs.Storage) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		env, err := client.Init(ctx, be.InitRequest{Pool: testPool, Name: "a", Filesystems: []string{"var"}})
		require.NoError(t, err)
		require.Equal(t, "tank/ROOT/a", env.Root)

		_, err = client.Init(ctx, be.InitRequest{Pool: testPool, Name: "a"})
		require.ErrorIs(t, err, be.Exists)

		cp, err := client.Copy(ctx, be.CopyRequest{SourcePool: testPool, SourceName: "a", Name: "b"})
		require.NoError(t, err)
		require.Equal(t, "b", cp.Name)
		require.NotEmpty(t, cp.Origin)

		err = client.Activate(ctx, testPool, "b")
		require.NoError(t, err)
		bootfs, err := storage.PoolProperty(ctx, testPool, zfs.PoolPropertyBootFS)
		require.NoError(t, err)
		require.Equal(t, "tank/ROOT/b", bootfs)

		renamed, err := client.Rename(ctx, be.RenameRequest{Pool: testPool, Name: "b", NewName: "c"})
		require.NoError(t, err)
		require.Equal(t, "c", renamed.Name)
		require.True(t, renamed.ActiveOnBoot)

		err = client.Mount(ctx, be.MountRequest{Pool: testPool, Name: "a", Mountpoint: "/mnt/a"})
		require.NoError(t, err)
		a, err := client.Get(ctx, testPool, "a")
		require.NoError(t, err)
		require.True(t, a.Mounted)
		require.Equal(t, "/mnt/a", a.MountPath)

		err = client.Unmount(ctx, be.UnmountRequest{Pool: testPool, Name: "a"})
		require.NoError(t, err)

		list, err := client.List(ctx, testPool)
		require.NoError(t, err)
		require.Len(t, list, 2)

		err = client.Destroy(ctx, be.DestroyRequest{Pool: testPool, Name: "c"})
		require.ErrorIs(t, err, be.Invalid)

		err = client.Destroy(ctx, be.DestroyRequest{Pool: testPool, Name: "nope"})
		require.ErrorIs(t, err, be.NoEnt)
		require.Equal(t, be.NoEnt, be.KindOf(err))
	})
}

func TestClient_Snapshots(t *testing.T) {
	clientTest(t, allPermissions, func(client *Client, storage *memzfs.Storage) {
		ctx := context.Background()

		_, err := client.Init(ctx, be.InitRequest{Pool: testPool, Name: "a"})
		require.NoError(t, err)

		name, err := client.CreateSnapshot(ctx, be.CreateSnapshotRequest{Pool: testPool, Name: "a", Snapshot: "one"})
		require.NoError(t, err)
		require.Equal(t, "one", name)

		snaps, err := client.Snapshots(ctx, testPool, "a")
		require.NoError(t, err)
		require.Len(t, snaps, 1)

		err = client.Rollback(ctx, be.RollbackRequest{Pool: testPool, Name: "a", Snapshot: "two"})
		require.ErrorIs(t, err, be.NoEnt)

		err = client.Rollback(ctx, be.RollbackRequest{Pool: testPool, Name: "a", Snapshot: "one"})
		require.NoError(t, err)

		err = client.DestroySnapshot(ctx, be.DestroySnapshotRequest{Pool: testPool, Name: "a", Snapshot: "one"})
		require.NoError(t, err)
		require.False(t, storage.Exists("tank/ROOT/a@one"))

		storage.SetUsed("tank/ROOT/a", 123)
		avail, err := client.MaxAvailable(ctx, testPool)
		require.NoError(t, err)
		require.Equal(t, uint64(123), avail)
	})
}

func TestClient_Unauthorized(t *testing.T) {
	clientTest(t, allPermissions, func(client *Client, _ *memzfs.Storage) {
		client.SetAuthenticationToken("wrong")
		_, err := client.List(context.Background(), testPool)
		require.ErrorIs(t, err, be.Access)
	})
}

func TestClient_Forbidden(t *testing.T) {
	clientTest(t, Permissions{}, func(client *Client, _ *memzfs.Storage) {
		ctx := context.Background()
		_, err := client.Init(ctx, be.InitRequest{Pool: testPool, Name: "a"})
		require.NoError(t, err)

		err = client.Destroy(ctx, be.DestroyRequest{Pool: testPool, Name: "a"})
		require.ErrorIs(t, err, be.Perm)

		_, err = client.Export(ctx, &bytes.Buffer{}, be.ExportRequest{Pool: testPool, Name: "a"})
		require.ErrorIs(t, err, be.Perm)
	})
}

func TestClient_ExportImport(t *testing.T) {
	clientTest(t, allPermissions, func(client *Client, storage *memzfs.Storage) {
		ctx := context.Background()
		_, err := client.Init(ctx, be.InitRequest{Pool: testPool, Name: "a", Filesystems: []string{"var"}})
		require.NoError(t, err)

		buf := &bytes.Buffer{}
		n, err := client.Export(ctx, buf, be.ExportRequest{Pool: testPool, Name: "a", CompressionLevel: zstd.SpeedDefault})
		require.NoError(t, err)
		require.Equal(t, int64(buf.Len()), n)

		env, err := client.Import(ctx, buf, be.ImportRequest{Pool: testPool, Name: "restored", EnableDecompression: true})
		require.NoError(t, err)
		require.Equal(t, "tank/ROOT/restored", env.Root)
		require.True(t, storage.Exists("tank/ROOT/restored/var"))
	})
}

func TestClient_Transfer(t *testing.T) {
	clientTest(t, allPermissions, func(source *Client, _ *memzfs.Storage) {
		TestHTTPServer(t, "backup", testAuthToken, allPermissions, func(server *httptest.Server, targetStorage *memzfs.Storage) {
			target := NewClient(server.URL, zfs.NewTestLogger(t))
			target.SetAuthenticationToken(testAuthToken)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
			defer cancel()

			_, err := source.Init(ctx, be.InitRequest{Pool: testPool, Name: "a", Filesystems: []string{"var", "usr/local"}})
			require.NoError(t, err)

			result, err := source.Transfer(ctx, target,
				be.ExportRequest{Pool: testPool, Name: "a", CompressionLevel: zstd.SpeedFastest},
				be.ImportRequest{Pool: "backup", Name: "a"},
			)
			require.NoError(t, err)
			require.Greater(t, result.BytesSent, int64(0))
			require.Equal(t, "backup/ROOT/a", result.Environment.Root)
			require.True(t, targetStorage.Exists("backup/ROOT/a/usr/local"))

			list, err := target.List(ctx, "backup")
			require.NoError(t, err)
			require.Len(t, list, 1)
		})
	})
}
