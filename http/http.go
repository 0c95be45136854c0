// Package http serves the boot environment operations over HTTP, and contains a matching Client.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/klauspost/compress/zstd"

	"github.com/vansante/go-bootenv/be"
)

const (
	HeaderAuthenticationToken = "X-BE-Auth-Token"
)

// HTTP is the main object for serving the boot environment HTTP server
type HTTP struct {
	router     *httprouter.Router
	engine     *be.Engine
	config     Config
	httpSocket net.Listener
	httpServer *http.Server
	logger     *slog.Logger
	ctx        context.Context
}

type handle func(http.ResponseWriter, *http.Request, httprouter.Params, *slog.Logger)

// NewHTTP creates a new HTTP server for the boot environments of the engine
func NewHTTP(ctx context.Context, engine *be.Engine, conf Config, logger *slog.Logger) (*HTTP, error) {
	h := &HTTP{
		router: httprouter.New(),
		engine: engine,
		config: conf,
		logger: logger,
		ctx:    ctx,
	}

	return h, h.init()
}

func (h *HTTP) init() error {
	h.registerRoutes()

	h.logger.Info("be.http.init: Opening socket", "port", h.config.Port)
	var err error
	h.httpSocket, err = net.Listen("tcp", fmt.Sprintf("%s:%d", h.config.Host, h.config.Port))
	if err != nil {
		h.logger.Error("be.http.init: Failed to open socket", "port", h.config.Port)
		return err
	}
	h.logger.Info("be.http.init: Serving", "host", h.config.Host, "port", h.config.Port)
	h.httpServer = &http.Server{
		Handler: h.router,
		BaseContext: func(_ net.Listener) context.Context {
			return h.ctx
		},
	}
	return nil
}

func (h *HTTP) registerRoutes() {
	h.router.GET("/pools/:pool/max-available", h.authenticated(h.handleMaxAvailable))

	h.router.GET("/pools/:pool/boot-environments", h.authenticated(h.handleList))
	h.router.POST("/pools/:pool/boot-environments", h.authenticated(h.handleInit))
	h.router.GET("/pools/:pool/boot-environments/:name", h.authenticated(h.handleGet))
	h.router.DELETE("/pools/:pool/boot-environments/:name", h.authenticated(h.handleDestroy))

	h.router.POST("/pools/:pool/boot-environments/:name/copy", h.authenticated(h.handleCopy))
	h.router.POST("/pools/:pool/boot-environments/:name/rename", h.authenticated(h.handleRename))
	h.router.POST("/pools/:pool/boot-environments/:name/activate", h.authenticated(h.handleActivate))
	h.router.POST("/pools/:pool/boot-environments/:name/mount", h.authenticated(h.handleMount))
	h.router.POST("/pools/:pool/boot-environments/:name/unmount", h.authenticated(h.handleUnmount))

	h.router.GET("/pools/:pool/boot-environments/:name/snapshots", h.authenticated(h.handleListSnapshots))
	h.router.POST("/pools/:pool/boot-environments/:name/snapshots", h.authenticated(h.handleCreateSnapshot))
	h.router.DELETE("/pools/:pool/boot-environments/:name/snapshots/:snapshot", h.authenticated(h.handleDestroySnapshot))
	h.router.POST("/pools/:pool/boot-environments/:name/snapshots/:snapshot/rollback", h.authenticated(h.handleRollback))

	h.router.GET("/pools/:pool/boot-environments/:name/export", h.authenticated(h.handleExport))
	h.router.PUT("/pools/:pool/boot-environments/:name/import", h.authenticated(h.handleImport))
}

// Serve starts the main HTTP server
func (h *HTTP) Serve() {
	err := h.httpServer.Serve(h.httpSocket)
	if !errors.Is(err, http.ErrServerClosed) && h.ctx.Err() == nil {
		h.logger.Error("be.http.Serve: HTTP server error", "error", err)
	} else {
		h.logger.Info("be.http.Serve: HTTP server closed")
	}
}

// Shutdown stops the server, waiting for running requests until the context expires
func (h *HTTP) Shutdown(ctx context.Context) error {
	return h.httpServer.Shutdown(ctx)
}

// authenticated is an HTTP handler wrapper that ensures a valid authentication is used for the request
func (h *HTTP) authenticated(handle handle) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		authToken := req.Header.Get(HeaderAuthenticationToken)

		found := false
		for _, tkn := range h.config.AuthenticationTokens {
			found = tkn == authToken
			if found {
				break
			}
		}
		if !found {
			h.logger.Info("be.http.authenticated: Invalid authentication",
				"URL", req.URL.String(),
				"method", req.Method,
			)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		logger := h.logger.With(slog.Group("req",
			"URL", req.URL.String(),
			"method", req.Method),
		)
		logger.Info("be.http.authenticated: Handling")

		handle(w, req, ps, logger)
	}
}

func (h *HTTP) getSpeed(req *http.Request) int64 {
	speed := h.config.SpeedBytesPerSecond
	if !h.config.Permissions.AllowSpeedOverride {
		return speed
	}
	speedStr := req.URL.Query().Get(GETParamBytesPerSecond)
	if speedStr == "" {
		return speed
	}
	customSpeed, err := strconv.ParseInt(speedStr, 10, 64)
	if err == nil {
		return customSpeed
	}
	return speed
}

// getCompressionLevel reads the zstd encoder level, where 0 disables compression
func (h *HTTP) getCompressionLevel(req *http.Request) zstd.EncoderLevel {
	level, err := strconv.Atoi(req.URL.Query().Get(GETParamCompressionLevel))
	if err != nil || level <= 0 {
		return 0
	}
	if level > int(zstd.SpeedBestCompression) {
		return zstd.SpeedBestCompression
	}
	return zstd.EncoderLevel(level)
}

func (h *HTTP) getEnableDecompression(req *http.Request) bool {
	enabled, _ := strconv.ParseBool(req.URL.Query().Get(GETParamEnableDecompression))
	return enabled
}

func getBool(req *http.Request, param string) bool {
	val, _ := strconv.ParseBool(req.URL.Query().Get(param))
	return val
}
