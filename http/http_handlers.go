package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/vansante/go-bootenv/be"
)

const (
	GETParamBytesPerSecond      = "bytesPerSecond"
	GETParamCompressionLevel    = "compressionLevel"
	GETParamEnableDecompression = "enableDecompression"
	GETParamSnapshot            = "snapshot"
	GETParamForce               = "force"
	GETParamDestroyOrigin       = "destroyOrigin"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Kind    be.Kind `json:"Kind"`
	Op      string  `json:"Op"`
	Name    string  `json:"Name"`
	Message string  `json:"Message"`
}

// NamedSnapshot is returned after creating a snapshot
type NamedSnapshot struct {
	Snapshot string `json:"Snapshot"`
}

// MaxAvailable is returned by the max available handler
type MaxAvailable struct {
	Bytes uint64 `json:"Bytes"`
}

func statusForKind(kind be.Kind) int {
	switch kind {
	case be.NoEnt:
		return http.StatusNotFound
	case be.Exists:
		return http.StatusConflict
	case be.Busy:
		return http.StatusLocked
	case be.Invalid, be.NameTooLong:
		return http.StatusBadRequest
	case be.Access, be.Perm:
		return http.StatusForbidden
	case be.NoMem:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		logger.Error("be.http.writeJSON: Error encoding json", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error, logger *slog.Logger) {
	resp := ErrorResponse{
		Kind:    be.KindOf(err),
		Message: err.Error(),
	}
	var beErr *be.Error
	if errors.As(err, &beErr) {
		resp.Op = beErr.Op
		resp.Name = beErr.Name
		if beErr.Err != nil {
			resp.Message = beErr.Err.Error()
		}
	}
	status := statusForKind(resp.Kind)
	if status == http.StatusInternalServerError {
		logger.Error("be.http.writeError: Operation failed", "error", err)
	} else {
		logger.Info("be.http.writeError: Operation failed", "error", err, "status", status)
	}
	writeJSON(w, status, resp, logger)
}

func readJSON(req *http.Request, dst any) error {
	err := json.NewDecoder(req.Body).Decode(dst)
	if err != nil {
		return &be.Error{Kind: be.Invalid, Op: "decode", Err: fmt.Errorf("error decoding request body: %w", err)}
	}
	return nil
}

func (h *HTTP) handleList(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	list, err := h.engine.List(req.Context(), ps.ByName("pool"))
	if err != nil {
		writeError(w, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, list, logger)
}

func (h *HTTP) handleGet(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	env, err := h.engine.Get(req.Context(), ps.ByName("pool"), ps.ByName("name"))
	if err != nil {
		writeError(w, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, env, logger)
}

func (h *HTTP) handleInit(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	var initReq be.InitRequest
	err := readJSON(req, &initReq)
	if err != nil {
		writeError(w, err, logger)
		return
	}
	initReq.Pool = ps.ByName("pool")

	env, err := h.engine.Init(req.Context(), initReq)
	if err != nil {
		writeError(w, err, logger)
		return
	}
	writeJSON(w, http.StatusCreated, env, logger)
}

func (h *HTTP) handleCopy(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	var copyReq be.CopyRequest
	err := readJSON(req, &copyReq)
	if err != nil {
		writeError(w, err, logger)
		return
	}
	copyReq.SourcePool = ps.ByName("pool")
	copyReq.SourceName = ps.ByName("name")
	if copyReq.Pool == "" {
		copyReq.Pool = copyReq.SourcePool
	}

	env, err := h.engine.Copy(req.Context(), copyReq)
	if err != nil {
		writeError(w, err, logger)
		return
	}
	writeJSON(w, http.StatusCreated, env, logger)
}

func (h *HTTP) handleDestroy(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	if !h.config.Permissions.AllowDestroy {
		logger.Info("be.http.handleDestroy: Destroy not allowed")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	err := h.engine.Destroy(req.Context(), be.DestroyRequest{
		Pool:          ps.ByName("pool"),
		Name:          ps.ByName("name"),
		ForceUnmount:  getBool(req, GETParamForce),
		DestroyOrigin: getBool(req, GETParamDestroyOrigin),
	})
	if err != nil {
		writeError(w, err, logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) handleRename(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	var renameReq be.RenameRequest
	err := readJSON(req, &renameReq)
	if err != nil {
		writeError(w, err, logger)
		return
	}
	renameReq.Pool = ps.ByName("pool")
	renameReq.Name = ps.ByName("name")

	err = h.engine.Rename(req.Context(), renameReq)
	if err != nil {
		writeError(w, err, logger)
		return
	}
	env, err := h.engine.Get(req.Context(), renameReq.Pool, renameReq.NewName)
	if err != nil {
		writeError(w, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, env, logger)
}

func (h *HTTP) handleActivate(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	err := h.engine.Activate(req.Context(), be.ActivateRequest{
		Pool: ps.ByName("pool"),
		Name: ps.ByName("name"),
	})
	if err != nil {
		writeError(w, err, logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) handleMount(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	var mountReq be.MountRequest
	err := readJSON(req, &mountReq)
	if err != nil {
		writeError(w, err, logger)
		return
	}
	mountReq.Pool = ps.ByName("pool")
	mountReq.Name = ps.ByName("name")

	err = h.engine.Mount(req.Context(), mountReq)
	if err != nil {
		writeError(w, err, logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) handleUnmount(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	var flags be.MountFlags
	if getBool(req, GETParamForce) {
		flags |= be.MountForce
	}
	err := h.engine.Unmount(req.Context(), be.UnmountRequest{
		Pool:  ps.ByName("pool"),
		Name:  ps.ByName("name"),
		Flags: flags,
	})
	if err != nil {
		writeError(w, err, logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) handleListSnapshots(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	env, err := h.engine.Get(req.Context(), ps.ByName("pool"), ps.ByName("name"))
	if err != nil {
		writeError(w, err, logger)
		return
	}
	snaps := env.Snapshots
	if snaps == nil {
		snaps = []be.SnapshotSet{}
	}
	writeJSON(w, http.StatusOK, snaps, logger)
}

func (h *HTTP) handleCreateSnapshot(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	var snapReq be.CreateSnapshotRequest
	err := readJSON(req, &snapReq)
	if err != nil {
		writeError(w, err, logger)
		return
	}
	snapReq.Pool = ps.ByName("pool")
	snapReq.Name = ps.ByName("name")

	name, err := h.engine.CreateSnapshot(req.Context(), snapReq)
	if err != nil {
		writeError(w, err, logger)
		return
	}
	writeJSON(w, http.StatusCreated, NamedSnapshot{Snapshot: name}, logger)
}

func (h *HTTP) handleDestroySnapshot(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	if !h.config.Permissions.AllowDestroy {
		logger.Info("be.http.handleDestroySnapshot: Destroy not allowed")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	err := h.engine.DestroySnapshot(req.Context(), be.DestroySnapshotRequest{
		Pool:     ps.ByName("pool"),
		Name:     ps.ByName("name"),
		Snapshot: ps.ByName("snapshot"),
	})
	if err != nil {
		writeError(w, err, logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) handleRollback(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	if !h.config.Permissions.AllowRollback {
		logger.Info("be.http.handleRollback: Rollback not allowed")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	err := h.engine.Rollback(req.Context(), be.RollbackRequest{
		Pool:     ps.ByName("pool"),
		Name:     ps.ByName("name"),
		Snapshot: ps.ByName("snapshot"),
		Force:    getBool(req, GETParamForce),
	})
	if err != nil {
		writeError(w, err, logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) handleExport(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	if !h.config.Permissions.AllowExport {
		logger.Info("be.http.handleExport: Export not allowed")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	exportReq := be.ExportRequest{
		Pool:             ps.ByName("pool"),
		Name:             ps.ByName("name"),
		Snapshot:         req.URL.Query().Get(GETParamSnapshot),
		CompressionLevel: h.getCompressionLevel(req),
		BytesPerSecond:   h.getSpeed(req),
	}
	err := exportReq.Validate()
	if err != nil {
		writeError(w, err, logger)
		return
	}
	// Make sure the boot environment exists before the status is written
	_, err = h.engine.Get(req.Context(), exportReq.Pool, exportReq.Name)
	if err != nil {
		writeError(w, err, logger)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	count, err := h.engine.Export(req.Context(), w, exportReq)
	if err != nil {
		// The headers are already sent, the client notices the truncated stream
		logger.Error("be.http.handleExport: Error exporting boot environment", "error", err, "bytesWritten", count)
		return
	}
	logger.Info("be.http.handleExport: Exported boot environment", "bytesWritten", count)
}

func (h *HTTP) handleImport(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	if !h.config.Permissions.AllowImport {
		logger.Info("be.http.handleImport: Import not allowed")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	env, err := h.engine.Import(req.Context(), req.Body, be.ImportRequest{
		Pool:                ps.ByName("pool"),
		Name:                ps.ByName("name"),
		EnableDecompression: h.getEnableDecompression(req),
		BytesPerSecond:      h.getSpeed(req),
	})
	if err != nil {
		writeError(w, err, logger)
		return
	}
	writeJSON(w, http.StatusCreated, env, logger)
}

func (h *HTTP) handleMaxAvailable(w http.ResponseWriter, req *http.Request, ps httprouter.Params, logger *slog.Logger) {
	bytes, err := h.engine.MaxAvailable(req.Context(), ps.ByName("pool"))
	if err != nil {
		writeError(w, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, MaxAvailable{Bytes: bytes}, logger)
}
