// Package editorbridge is the narrow client interface onto the external 3D
// editor process. The editor speaks a simple newline-delimited JSON command
// protocol over a single TCP connection: one request object per line, one
// response object per line, in order. The wire protocol itself belongs to
// the editor process, not this module; this package only owns dialing,
// serialization, and the single-writer discipline the socket requires.
package editorbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/logger"
)

// Request is one command sent to the editor.
type Request struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// Response is the editor's reply to one Request.
type Response struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Client sends commands to the editor and waits for a reply. Implementations
// must serialize concurrent callers themselves; the editor's TCP stream is
// not safe to interleave requests on.
type Client interface {
	// Send dispatches one command and blocks for its response.
	Send(ctx context.Context, req Request) (Response, error)
	// Close releases the underlying connection, if any.
	Close() error
}

// Config addresses the editor's command listener.
type Config struct {
	Host string
	Port int
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// conn is a Client bound to one persistent TCP connection, used for the
// long-lived connection that serves ordinary scene/rendering commands. A
// mutex serializes send/recv pairs so concurrent dispatches never interleave
// on the wire.
type conn struct {
	log  *logger.Logger
	cfg  Config
	mu   sync.Mutex
	nc   net.Conn
	rd   *bufio.Reader
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// NewPersistent builds a Client that dials lazily on first use and keeps the
// connection open across calls, reconnecting once if a send fails.
func NewPersistent(log *logger.Logger, cfg Config) Client {
	return &conn{log: log.With("service", "editorbridge.Client"), cfg: cfg, dial: dialTCP}
}

// NewFresh dials a brand-new connection immediately and returns a Client
// bound only to it, closed by the caller after one use. The asset import
// step in the asset pipeline uses this instead of a shared persistent
// connection, since that connection may have aged out during a long
// download/convert wait.
func NewFresh(ctx context.Context, log *logger.Logger, cfg Config) (Client, error) {
	c := &conn{log: log.With("service", "editorbridge.Client"), cfg: cfg, dial: dialTCP}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

func (c *conn) ensureConnected(ctx context.Context) error {
	if c.nc != nil {
		return nil
	}
	nc, err := c.dial(ctx, c.cfg.addr())
	if err != nil {
		return apierr.New(apierr.CodeConnectionFailed, "connect to editor at "+c.cfg.addr(), err)
	}
	c.nc = nc
	c.rd = bufio.NewReader(nc)
	return nil
}

func (c *conn) reset() {
	if c.nc != nil {
		_ = c.nc.Close()
	}
	c.nc = nil
	c.rd = nil
}

// Send writes req as one JSON line and reads one JSON line back. On any I/O
// error the connection is dropped and a single reconnect-and-retry is
// attempted, since the editor process may have silently closed an idle
// socket.
func (c *conn) Send(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.sendLocked(ctx, req)
	if err == nil {
		return resp, nil
	}
	if apiErr, ok := err.(*apierr.Error); ok && apiErr.Code != apierr.CodeConnectionFailed {
		return resp, err
	}
	c.reset()
	if ctx.Err() != nil {
		return Response{}, apierr.New(apierr.CodeCommandTimeout, "editor command cancelled", ctx.Err())
	}
	return c.sendLocked(ctx, req)
}

func (c *conn) sendLocked(ctx context.Context, req Request) (Response, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return Response{}, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetDeadline(deadline)
	} else {
		_ = c.nc.SetDeadline(time.Now().Add(30 * time.Second))
	}
	defer c.nc.SetDeadline(time.Time{})

	line, err := json.Marshal(req)
	if err != nil {
		return Response{}, apierr.New(apierr.CodeCommandFailed, "encode editor command", err)
	}
	if _, err := c.nc.Write(append(line, '\n')); err != nil {
		return Response{}, apierr.New(apierr.CodeConnectionFailed, "write editor command", err)
	}

	raw, err := c.rd.ReadBytes('\n')
	if err != nil {
		return Response{}, apierr.New(apierr.CodeConnectionFailed, "read editor response", err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, apierr.New(apierr.CodeCommandFailed, "decode editor response", err)
	}
	if !resp.Success {
		return resp, apierr.New(apierr.CodeCommandFailed, resp.Error, nil)
	}
	return resp, nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return nil
	}
	err := c.nc.Close()
	c.nc = nil
	c.rd = nil
	return err
}
