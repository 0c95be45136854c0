package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vansante/go-bootenv/be"
	"github.com/vansante/go-bootenv/memzfs"
)

const (
	testPool      = "tank"
	testAuthToken = "blaat"
)

var allPermissions = Permissions{
	AllowSpeedOverride: true,
	AllowDestroy:       true,
	AllowRollback:      true,
	AllowExport:        true,
	AllowImport:        true,
}

func httpHandlerTest(t *testing.T, perms Permissions, fn func(server *httptest.Server, storage *memzfs.Storage)) {
	t.Helper()
	TestHTTPServer(t, testPool, testAuthToken, perms, fn)
}

func doRequest(t *testing.T, server *httptest.Server, method, url string, payload any) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, fmt.Sprintf("%s/%s", server.URL, url), body)
	require.NoError(t, err)
	req.Header.Set(HeaderAuthenticationToken, testAuthToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	return errResp
}

func TestHTTP_authenticated(t *testing.T) {
	httpHandlerTest(t, allPermissions, func(server *httptest.Server, _ *memzfs.Storage) {
		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/pools/%s/boot-environments", server.URL, testPool), nil)
		require.NoError(t, err)
		req.Header.Set(HeaderAuthenticationToken, "wrong")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestHTTP_handleInitList(t *testing.T) {
	httpHandlerTest(t, allPermissions, func(server *httptest.Server, storage *memzfs.Storage) {
		resp := doRequest(t, server, http.MethodPost, "pools/tank/boot-environments", be.InitRequest{
			Name:        "default",
			Description: "first",
			Filesystems: []string{"var"},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var env be.BootEnvironment
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		require.Equal(t, "tank/ROOT/default", env.Root)
		require.Equal(t, "first", env.Description)
		require.True(t, storage.Exists("tank/ROOT/default/var"))

		resp = doRequest(t, server, http.MethodGet, "pools/tank/boot-environments", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var list []be.BootEnvironment
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		require.Len(t, list, 1)
		require.Equal(t, "default", list[0].Name)
		require.Len(t, list[0].Datasets, 2)

		resp = doRequest(t, server, http.MethodGet, "pools/tank/boot-environments/default", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestHTTP_errorStatus(t *testing.T) {
	httpHandlerTest(t, allPermissions, func(server *httptest.Server, _ *memzfs.Storage) {
		resp := doRequest(t, server, http.MethodGet, "pools/tank/boot-environments/nope", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		errResp := decodeError(t, resp)
		require.Equal(t, be.NoEnt, errResp.Kind)
		require.Equal(t, "nope", errResp.Name)

		resp = doRequest(t, server, http.MethodPost, "pools/tank/boot-environments", be.InitRequest{Name: "a"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = doRequest(t, server, http.MethodPost, "pools/tank/boot-environments", be.InitRequest{Name: "a"})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		require.Equal(t, be.Exists, decodeError(t, resp).Kind)

		resp = doRequest(t, server, http.MethodPost, "pools/tank/boot-environments", be.InitRequest{Name: "bad name"})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, be.Invalid, decodeError(t, resp).Kind)

		resp = doRequest(t, server, http.MethodPost, "pools/tank/boot-environments/a/mount", be.MountRequest{Mountpoint: "/mnt/a"})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doRequest(t, server, http.MethodDelete, "pools/tank/boot-environments/a", nil)
		require.Equal(t, http.StatusLocked, resp.StatusCode)
		require.Equal(t, be.Busy, decodeError(t, resp).Kind)

		resp = doRequest(t, server, http.MethodDelete, "pools/tank/boot-environments/a?force=true", nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/pools/tank/boot-environments", server.URL), bytes.NewBufferString("{"))
		require.NoError(t, err)
		req.Header.Set(HeaderAuthenticationToken, testAuthToken)
		badResp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer badResp.Body.Close()
		require.Equal(t, http.StatusBadRequest, badResp.StatusCode)
	})
}

func TestHTTP_permissions(t *testing.T) {
	httpHandlerTest(t, Permissions{}, func(server *httptest.Server, storage *memzfs.Storage) {
		resp := doRequest(t, server, http.MethodPost, "pools/tank/boot-environments", be.InitRequest{Name: "a"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp = doRequest(t, server, http.MethodPost, "pools/tank/boot-environments/a/snapshots", be.CreateSnapshotRequest{Snapshot: "one"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = doRequest(t, server, http.MethodDelete, "pools/tank/boot-environments/a", nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp = doRequest(t, server, http.MethodDelete, "pools/tank/boot-environments/a/snapshots/one", nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp = doRequest(t, server, http.MethodPost, "pools/tank/boot-environments/a/snapshots/one/rollback", nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp = doRequest(t, server, http.MethodGet, "pools/tank/boot-environments/a/export", nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp = doRequest(t, server, http.MethodPut, "pools/tank/boot-environments/b/import", nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)

		require.True(t, storage.Exists("tank/ROOT/a@one"))
	})
}

func TestHTTP_handleSnapshots(t *testing.T) {
	httpHandlerTest(t, allPermissions, func(server *httptest.Server, storage *memzfs.Storage) {
		resp := doRequest(t, server, http.MethodPost, "pools/tank/boot-environments", be.InitRequest{Name: "a", Filesystems: []string{"var"}})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = doRequest(t, server, http.MethodGet, "pools/tank/boot-environments/a/snapshots", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var snaps []be.SnapshotSet
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&snaps))
		require.Empty(t, snaps)

		resp = doRequest(t, server, http.MethodPost, "pools/tank/boot-environments/a/snapshots", be.CreateSnapshotRequest{Snapshot: "one"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var named NamedSnapshot
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&named))
		require.Equal(t, "one", named.Snapshot)
		require.True(t, storage.Exists("tank/ROOT/a/var@one"))

		resp = doRequest(t, server, http.MethodGet, "pools/tank/boot-environments/a/snapshots", nil)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&snaps))
		require.Len(t, snaps, 1)
		require.Equal(t, []string{"tank/ROOT/a", "tank/ROOT/a/var"}, snaps[0].Datasets)

		resp = doRequest(t, server, http.MethodPost, "pools/tank/boot-environments/a/snapshots/one/rollback", nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doRequest(t, server, http.MethodDelete, "pools/tank/boot-environments/a/snapshots/one", nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		require.False(t, storage.Exists("tank/ROOT/a@one"))

		resp = doRequest(t, server, http.MethodDelete, "pools/tank/boot-environments/a/snapshots/one", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHTTP_handleExportImport(t *testing.T) {
	httpHandlerTest(t, allPermissions, func(server *httptest.Server, storage *memzfs.Storage) {
		resp := doRequest(t, server, http.MethodPost, "pools/tank/boot-environments", be.InitRequest{Name: "a", Filesystems: []string{"var"}})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = doRequest(t, server, http.MethodGet, "pools/tank/boot-environments/nope/export", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp = doRequest(t, server, http.MethodGet, "pools/tank/boot-environments/a/export?compressionLevel=1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		stream, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NotEmpty(t, stream)

		req, err := http.NewRequest(http.MethodPut,
			fmt.Sprintf("%s/pools/tank/boot-environments/b/import?enableDecompression=true", server.URL),
			bytes.NewReader(stream),
		)
		require.NoError(t, err)
		req.Header.Set(HeaderAuthenticationToken, testAuthToken)
		importResp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer importResp.Body.Close()
		require.Equal(t, http.StatusCreated, importResp.StatusCode)

		var env be.BootEnvironment
		require.NoError(t, json.NewDecoder(importResp.Body).Decode(&env))
		require.Equal(t, "b", env.Name)
		require.True(t, storage.Exists("tank/ROOT/b/var"))
	})
}

func TestHTTP_handleMaxAvailable(t *testing.T) {
	httpHandlerTest(t, allPermissions, func(server *httptest.Server, storage *memzfs.Storage) {
		resp := doRequest(t, server, http.MethodPost, "pools/tank/boot-environments", be.InitRequest{Name: "a"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		storage.SetUsed("tank/ROOT/a", 1000)

		resp = doRequest(t, server, http.MethodGet, "pools/tank/max-available", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var maxAvail MaxAvailable
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&maxAvail))
		require.Equal(t, uint64(1000), maxAvail.Bytes)
	})
}
