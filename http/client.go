package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	zfs "github.com/vansante/go-bootenv"
	"github.com/vansante/go-bootenv/be"
)

// Client is the struct used to send requests to a boot environment http server
type Client struct {
	server  string
	headers map[string]string
	logger  *slog.Logger
	client  *http.Client
}

// NewClient creates a new client for a boot environment http server
func NewClient(server string, logger *slog.Logger) *Client {
	return &Client{
		server:  server,
		headers: make(map[string]string, 8),
		logger:  logger,
		client:  http.DefaultClient,
	}
}

// SetClient configures a custom http client for doing requests
func (c *Client) SetClient(client *http.Client) {
	c.client = client
}

// SetHeader configures a header to be sent with all requests
func (c *Client) SetHeader(name, value string) {
	c.headers[name] = value
}

// SetAuthenticationToken sets the token header used by the server to authenticate requests
func (c *Client) SetAuthenticationToken(token string) {
	c.SetHeader(HeaderAuthenticationToken, token)
}

// Server returns the server
func (c *Client) Server() string {
	return c.server
}

func (c *Client) request(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s/%s", c.server, url), body)
	if err != nil {
		return nil, err
	}
	for hdr := range c.headers {
		req.Header.Set(hdr, c.headers[hdr])
	}
	return req, nil
}

func envURL(pool, name string, suffix ...string) string {
	u := fmt.Sprintf("pools/%s/boot-environments/%s", url.PathEscape(pool), url.PathEscape(name))
	for _, s := range suffix {
		u += "/" + url.PathEscape(s)
	}
	return u
}

// do sends the request with an optional payload, and decodes the json response into dst when it is not nil.
// A payload that is an io.Reader is sent as is, anything else is encoded as json.
func (c *Client) do(ctx context.Context, method, url string, payload, dst any, expect int) error {
	var body io.Reader
	if rdr, ok := payload.(io.Reader); ok {
		body = rdr
	} else if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("error encoding payload json: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.request(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expect {
		return responseError(resp)
	}
	if dst == nil {
		return nil
	}
	err = json.NewDecoder(resp.Body).Decode(dst)
	if err != nil {
		return fmt.Errorf("error decoding response json: %w", err)
	}
	return nil
}

// responseError converts a failed response back into a *be.Error, so errors.Is works on the client side as well
func responseError(resp *http.Response) error {
	var errResp ErrorResponse
	err := json.NewDecoder(resp.Body).Decode(&errResp)
	if err == nil {
		return &be.Error{
			Kind: errResp.Kind,
			Op:   errResp.Op,
			Name: errResp.Name,
			Err:  errors.New(errResp.Message),
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &be.Error{Kind: be.Access, Op: "request", Err: errors.New("invalid authentication token")}
	case http.StatusForbidden:
		return &be.Error{Kind: be.Perm, Op: "request", Err: errors.New("operation not allowed by server")}
	case http.StatusNotFound:
		return &be.Error{Kind: be.NoEnt, Op: "request", Err: errors.New("not found")}
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// List returns the boot environments of a remote pool
func (c *Client) List(ctx context.Context, pool string) ([]be.BootEnvironment, error) {
	var list []be.BootEnvironment
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("pools/%s/boot-environments", url.PathEscape(pool)), nil, &list, http.StatusOK)
	return list, err
}

// Get returns a single remote boot environment
func (c *Client) Get(ctx context.Context, pool, name string) (*be.BootEnvironment, error) {
	env := &be.BootEnvironment{}
	err := c.do(ctx, http.MethodGet, envURL(pool, name), nil, env, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Init creates a new empty boot environment
func (c *Client) Init(ctx context.Context, req be.InitRequest) (*be.BootEnvironment, error) {
	env := &be.BootEnvironment{}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("pools/%s/boot-environments", url.PathEscape(req.Pool)), req, env, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Copy clones the source boot environment of the request into a new one
func (c *Client) Copy(ctx context.Context, req be.CopyRequest) (*be.BootEnvironment, error) {
	env := &be.BootEnvironment{}
	err := c.do(ctx, http.MethodPost, envURL(req.SourcePool, req.SourceName, "copy"), req, env, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Destroy destroys a remote boot environment
func (c *Client) Destroy(ctx context.Context, req be.DestroyRequest) error {
	u := fmt.Sprintf("%s?%s=%s&%s=%s", envURL(req.Pool, req.Name),
		GETParamForce, strconv.FormatBool(req.ForceUnmount),
		GETParamDestroyOrigin, strconv.FormatBool(req.DestroyOrigin),
	)
	return c.do(ctx, http.MethodDelete, u, nil, nil, http.StatusNoContent)
}

// Rename renames a remote boot environment, returning it under its new name
func (c *Client) Rename(ctx context.Context, req be.RenameRequest) (*be.BootEnvironment, error) {
	env := &be.BootEnvironment{}
	err := c.do(ctx, http.MethodPost, envURL(req.Pool, req.Name, "rename"), req, env, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Activate makes the remote boot environment the one to boot next
func (c *Client) Activate(ctx context.Context, pool, name string) error {
	return c.do(ctx, http.MethodPost, envURL(pool, name, "activate"), nil, nil, http.StatusNoContent)
}

// Mount mounts a remote boot environment
func (c *Client) Mount(ctx context.Context, req be.MountRequest) error {
	return c.do(ctx, http.MethodPost, envURL(req.Pool, req.Name, "mount"), req, nil, http.StatusNoContent)
}

// Unmount unmounts a remote boot environment
func (c *Client) Unmount(ctx context.Context, req be.UnmountRequest) error {
	u := fmt.Sprintf("%s?%s=%s", envURL(req.Pool, req.Name, "unmount"),
		GETParamForce, strconv.FormatBool(req.Flags.Has(be.MountForce)),
	)
	return c.do(ctx, http.MethodPost, u, nil, nil, http.StatusNoContent)
}

// Snapshots lists the snapshot sets of a remote boot environment
func (c *Client) Snapshots(ctx context.Context, pool, name string) ([]be.SnapshotSet, error) {
	var snaps []be.SnapshotSet
	err := c.do(ctx, http.MethodGet, envURL(pool, name, "snapshots"), nil, &snaps, http.StatusOK)
	return snaps, err
}

// CreateSnapshot snapshots a remote boot environment and returns the snapshot name
func (c *Client) CreateSnapshot(ctx context.Context, req be.CreateSnapshotRequest) (string, error) {
	var snap NamedSnapshot
	err := c.do(ctx, http.MethodPost, envURL(req.Pool, req.Name, "snapshots"), req, &snap, http.StatusCreated)
	return snap.Snapshot, err
}

// DestroySnapshot destroys a snapshot set of a remote boot environment
func (c *Client) DestroySnapshot(ctx context.Context, req be.DestroySnapshotRequest) error {
	return c.do(ctx, http.MethodDelete, envURL(req.Pool, req.Name, "snapshots", req.Snapshot), nil, nil, http.StatusNoContent)
}

// Rollback rolls a remote boot environment back to a snapshot
func (c *Client) Rollback(ctx context.Context, req be.RollbackRequest) error {
	u := fmt.Sprintf("%s?%s=%s", envURL(req.Pool, req.Name, "snapshots", req.Snapshot, "rollback"),
		GETParamForce, strconv.FormatBool(req.Force),
	)
	return c.do(ctx, http.MethodPost, u, nil, nil, http.StatusNoContent)
}

// MaxAvailable returns the largest amount of space a destroy of a single remote boot environment could free
func (c *Client) MaxAvailable(ctx context.Context, pool string) (uint64, error) {
	var maxAvail MaxAvailable
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("pools/%s/max-available", url.PathEscape(pool)), nil, &maxAvail, http.StatusOK)
	return maxAvail.Bytes, err
}

// Export writes the replication stream of a remote boot environment to w
func (c *Client) Export(ctx context.Context, w io.Writer, req be.ExportRequest) (int64, error) {
	q := url.Values{}
	if req.Snapshot != "" {
		q.Set(GETParamSnapshot, req.Snapshot)
	}
	if req.CompressionLevel > 0 {
		q.Set(GETParamCompressionLevel, strconv.Itoa(int(req.CompressionLevel)))
	}
	if req.BytesPerSecond > 0 {
		q.Set(GETParamBytesPerSecond, strconv.FormatInt(req.BytesPerSecond, 10))
	}

	httpReq, err := c.request(ctx, http.MethodGet, fmt.Sprintf("%s?%s", envURL(req.Pool, req.Name, "export"), q.Encode()), nil)
	if err != nil {
		return 0, fmt.Errorf("error creating export request: %w", err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("error requesting export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, responseError(resp)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("error reading export stream: %w", err)
	}
	return n, nil
}

// Import sends a replication stream to the server, creating a new boot environment from it
func (c *Client) Import(ctx context.Context, r io.Reader, req be.ImportRequest) (*be.BootEnvironment, error) {
	q := url.Values{}
	q.Set(GETParamEnableDecompression, strconv.FormatBool(req.EnableDecompression))
	if req.BytesPerSecond > 0 {
		q.Set(GETParamBytesPerSecond, strconv.FormatInt(req.BytesPerSecond, 10))
	}

	env := &be.BootEnvironment{}
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("%s?%s", envURL(req.Pool, req.Name, "import"), q.Encode()),
		r, env, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// TransferResult contains some statistics from transferring a boot environment between servers
type TransferResult struct {
	Environment *be.BootEnvironment
	BytesSent   int64
	TimeTaken   time.Duration
}

// Transfer exports a boot environment from this server and imports it on the target server
func (c *Client) Transfer(ctx context.Context, target *Client, export be.ExportRequest, imp be.ImportRequest) (TransferResult, error) {
	pipeRdr, pipeWrtr := io.Pipe()

	exportCtx, cancelExport := context.WithCancel(ctx)
	defer cancelExport()
	go func() {
		_, err := c.Export(exportCtx, pipeWrtr, export)
		if err != nil {
			c.logger.Error("be.http.Client.Transfer: Error exporting boot environment",
				"error", err,
				"server", c.server,
				"name", export.Name,
			)
		}
		_ = pipeWrtr.CloseWithError(err)
	}()

	startTime := time.Now()
	imp.EnableDecompression = export.CompressionLevel > 0
	countReader := zfs.NewCountReader(pipeRdr)
	env, err := target.Import(ctx, countReader, imp)
	cancelExport()
	_ = pipeRdr.Close()

	return TransferResult{
		Environment: env,
		BytesSent:   countReader.Count(),
		TimeTaken:   time.Since(startTime),
	}, err
}
