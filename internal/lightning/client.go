// Package lightning talks to a Core Lightning node over its JSON-RPC unix
// socket.
package lightning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/snapshot"
)

// DefaultTimeout bounds one RPC call (dial, write and read).
const DefaultTimeout = 30 * time.Second

// RPCError is an error object returned by lightningd.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("lightning rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Client issues calls on the node's RPC socket. Calls are serialized and
// each one uses a fresh connection.
type Client struct {
	path    string
	timeout time.Duration

	mu     sync.Mutex
	nextID atomic.Uint64
}

// SocketPath joins the lightning-dir and rpc-file values handed to plugins.
func SocketPath(lightningDir, rpcFile string) string {
	if filepath.IsAbs(rpcFile) || lightningDir == "" {
		return rpcFile
	}
	return filepath.Join(lightningDir, rpcFile)
}

// New returns a client for the socket at path. timeout <= 0 selects
// DefaultTimeout.
func New(path string, timeout time.Duration) (*Client, error) {
	if path == "" {
		return nil, errors.New("lightning: rpc socket path is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{path: path, timeout: timeout}, nil
}

// Call invokes method with params and decodes the result into out (may be nil).
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	if params == nil {
		params = map[string]any{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return fmt.Errorf("lightning: dial %s: %w", c.path, err)
	}
	defer func() { _ = conn.Close() }()
	// Unblock pending i/o once ctx is done.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	id := c.nextID.Add(1)
	if err := json.NewEncoder(conn).Encode(request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("lightning: %s: write: %w", method, ctxErr(ctx, err))
	}

	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("lightning: %s: read: %w", method, ctxErr(ctx, err))
	}
	if resp.Error != nil {
		return resp.Error
	}
	if resp.ID != id {
		return fmt.Errorf("lightning: %s: response id %d, want %d", method, resp.ID, id)
	}
	log.Debug().Str("action", "lightning_rpc").Str("method", method).
		Dur("elapsed_ms", time.Since(start)).Msg("rpc OK")

	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("lightning: %s: decode result: %w", method, err)
	}
	return nil
}

// ctxErr prefers the context error over the i/o error it caused.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

// Capture calls staticbackup and returns the node's channel records.
func (c *Client) Capture(ctx context.Context) (snapshot.Snapshot, error) {
	var s snapshot.Snapshot
	if err := c.Call(ctx, "staticbackup", nil, &s); err != nil {
		return snapshot.Snapshot{}, err
	}
	return s, nil
}

var _ snapshot.Capturer = (*Client)(nil)
