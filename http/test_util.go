package http

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"

	zfs "github.com/vansante/go-bootenv"
	"github.com/vansante/go-bootenv/be"
	"github.com/vansante/go-bootenv/memzfs"
)

// TestHTTPServer runs fn against an HTTP server with an in memory storage holding the given pool
func TestHTTPServer(t testing.TB, pool, authToken string, perms Permissions, fn func(server *httptest.Server, storage *memzfs.Storage)) {
	t.Helper()

	storage := memzfs.New()
	storage.AddPool(pool)

	engineConf := be.Config{Pool: pool}
	engineConf.ApplyDefaults()
	logger := zfs.NewTestLogger(t)

	h := HTTP{
		router: httprouter.New(),
		engine: be.NewEngine(storage, engineConf, logger),
		config: Config{
			AuthenticationTokens: []string{authToken},
			Permissions:          perms,
		},
		logger: logger,
		ctx:    context.Background(),
	}
	h.registerRoutes()

	server := httptest.NewServer(h.router)
	defer server.Close()
	fn(server, storage)
}
