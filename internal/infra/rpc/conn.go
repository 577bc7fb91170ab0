package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"langd/internal/domain"
	"langd/internal/infra/telemetry"
)

const maxFrameSize = 4 * 1024 * 1024

// NotificationHandler receives server-initiated notifications, e.g.
// published diagnostics.
type NotificationHandler func(method string, params json.RawMessage)

// Conn correlates newline-framed JSON-RPC traffic on one process's stdio
// streams. Requests may be issued concurrently; replies are matched purely
// by ID, so reply order is independent of send order. Each call's timeout
// is its own; a timed-out call retires its ID and never tears down the
// process.
type Conn struct {
	codec  *Codec
	logger *zap.Logger

	writeMu sync.Mutex
	writer  io.Writer

	mu      sync.Mutex
	pending map[int64]chan *Response

	notifyMu sync.RWMutex
	onNotify NotificationHandler

	closeOnce sync.Once
	closed    chan struct{}
}

type ConnOptions struct {
	Logger *zap.Logger
	// IDs is shared across a supervisor's restarts so IDs survive process
	// replacement. A nil value gets a fresh generator.
	IDs *IDGenerator
}

// NewConn wraps a live process's stdout/stdin pair and starts the reader.
func NewConn(reader io.Reader, writer io.Writer, opts ConnOptions) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Conn{
		codec:   NewCodec(opts.IDs),
		logger:  logger.Named("rpc"),
		writer:  writer,
		pending: make(map[int64]chan *Response),
		closed:  make(chan struct{}),
	}
	go c.readLoop(reader)
	return c
}

// OnNotification registers the handler for server-initiated notifications.
func (c *Conn) OnNotification(handler NotificationHandler) {
	c.notifyMu.Lock()
	c.onNotify = handler
	c.notifyMu.Unlock()
}

// Call issues a request and waits for its reply, the timeout, or
// cancellation, whichever comes first.
func (c *Conn) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if c.isClosed() {
		return nil, domain.ErrConnectionClosed
	}
	req, err := c.codec.NewRequest(method, params)
	if err != nil {
		return nil, err
	}

	resultCh := make(chan *Response, 1)
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, domain.ErrConnectionClosed
	}
	c.pending[req.ID] = resultCh
	c.mu.Unlock()

	if err := c.writeFrame(req); err != nil {
		c.removePending(req.ID)
		return nil, fmt.Errorf("write request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-resultCh:
		if resp == nil {
			return nil, domain.ErrConnectionClosed
		}
		if resp.IsError() {
			return nil, domain.E(domain.CodeProtocol, "rpc.call", resp.Error.Message, resp.Error)
		}
		return resp.Result, nil
	case <-timer.C:
		c.removePending(req.ID)
		return nil, fmt.Errorf("%w: %s after %s", domain.ErrRequestTimeout, method, timeout)
	case <-ctx.Done():
		c.removePending(req.ID)
		return nil, ctx.Err()
	case <-c.closed:
		c.removePending(req.ID)
		return nil, domain.ErrConnectionClosed
	}
}

// Notify sends a fire-and-forget notification.
func (c *Conn) Notify(_ context.Context, method string, params any) error {
	if c.isClosed() {
		return domain.ErrConnectionClosed
	}
	note, err := c.codec.NewNotification(method, params)
	if err != nil {
		return err
	}
	if err := c.writeFrame(note); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Close fails all pending calls and stops the reader on its next read.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.failPending()
	})
	return nil
}

func (c *Conn) writeFrame(msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.Write(raw); err != nil {
		return err
	}
	_, err = c.writer.Write([]byte{'\n'})
	return err
}

// wireFrame covers all three inbound shapes; Method without ID marks a
// server notification.
type wireFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *ResponseError  `json:"error"`
}

func (c *Conn) readLoop(reader io.Reader) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame wireFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			// One bad frame does not mark the process unhealthy.
			c.logger.Warn("drop malformed frame", zap.Error(err))
			continue
		}
		switch {
		case frame.ID != nil && frame.Method == "":
			c.dispatch(&Response{
				JSONRPC: frame.JSONRPC,
				ID:      *frame.ID,
				Result:  frame.Result,
				Error:   frame.Error,
			})
		case frame.Method != "":
			c.handleNotification(frame.Method, frame.Params)
		default:
			c.logger.Warn("drop frame with neither id nor method")
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug("read loop ended", zap.Error(err))
	}
	_ = c.Close()
}

func (c *Conn) dispatch(resp *Response) {
	c.mu.Lock()
	ch := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.mu.Unlock()
	if ch == nil {
		// Timed out or never ours; the ID is already retired.
		c.logger.Debug("drop response with no pending call", telemetry.RequestIDField(resp.ID))
		return
	}
	ch <- resp
}

func (c *Conn) handleNotification(method string, params json.RawMessage) {
	c.notifyMu.RLock()
	handler := c.onNotify
	c.notifyMu.RUnlock()
	if handler != nil {
		handler(method, params)
	}
}

func (c *Conn) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- nil
	}
}

func (c *Conn) removePending(id int64) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
