// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

package listener

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	beadserr "github.com/rubiruchi/BEADS/pkg/errors"
	"github.com/rubiruchi/BEADS/pkg/interceptor"
	"github.com/rubiruchi/BEADS/pkg/metrics"
	"github.com/rubiruchi/BEADS/pkg/openflow"
	"github.com/rubiruchi/BEADS/pkg/pool"
)

// closeWriter is satisfied by connections supporting half-close,
// *net.TCPConn in particular.
type closeWriter interface {
	CloseWrite() error
}

// ConnConfig holds everything a Connection needs. SwitchConn and
// ControllerConn must be established, open sockets; the Connection performs
// neither accept nor dial.
type ConnConfig struct {
	// SessionID identifies this session. Generated if empty.
	SessionID string

	// ListenerID names the owning listener for logs and metrics.
	ListenerID string

	// SwitchConn is the socket accepted from the SDN switch.
	SwitchConn net.Conn

	// ControllerConn is the socket dialed to the real controller.
	ControllerConn net.Conn

	// Interceptor is invoked per forwarded chunk. Defaults to a no-op.
	Interceptor interceptor.Interceptor

	// OpenFlowFraming makes the relay cut the stream into whole OpenFlow
	// messages before invoking the interceptor. When false the relay
	// forwards raw read chunks.
	OpenFlowFraming bool

	// Buffers supplies scratch buffers for raw-mode reads.
	Buffers *pool.BufferPool

	// Metrics for relay observability. Optional.
	Metrics *metrics.Metrics

	// Logger for session events.
	Logger *slog.Logger
}

// Connection owns one accepted switch socket and one dialed controller
// socket forming a single proxied session. It relays bytes in both
// directions until either side closes or fails, then closes both sockets
// and becomes terminal. A terminal Connection must never be reused.
type Connection struct {
	id     string
	sctx   *interceptor.Context
	swConn net.Conn
	ofConn net.Conn
	ic     interceptor.Interceptor
	framed bool
	bufs   *pool.BufferPool
	mtr    *metrics.Metrics
	logger *slog.Logger

	// per-direction counters, indexed by interceptor.Direction
	fwdBytes [2]atomic.Uint64
	fwdMsgs  [2]atomic.Uint64

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewConnection creates a Connection from two established sockets.
// Relaying does not begin until Run is called.
func NewConnection(cfg ConnConfig) *Connection {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	if cfg.Interceptor == nil {
		cfg.Interceptor = interceptor.Noop{}
	}
	if cfg.Buffers == nil {
		cfg.Buffers = pool.NewBufferPool(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Connection{
		id: cfg.SessionID,
		sctx: &interceptor.Context{
			SessionID:      cfg.SessionID,
			ListenerID:     cfg.ListenerID,
			SwitchAddr:     cfg.SwitchConn.RemoteAddr().String(),
			ControllerAddr: cfg.ControllerConn.RemoteAddr().String(),
		},
		swConn: cfg.SwitchConn,
		ofConn: cfg.ControllerConn,
		ic:     cfg.Interceptor,
		framed: cfg.OpenFlowFraming,
		bufs:   cfg.Buffers,
		mtr:    cfg.Metrics,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
}

// ID returns the session identifier.
func (c *Connection) ID() string {
	return c.id
}

// Done is closed once the Connection is terminal and both sockets are closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Terminal reports whether the Connection has reached terminal state.
func (c *Connection) Terminal() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// BytesForwarded returns the number of payload bytes forwarded in the
// given direction.
func (c *Connection) BytesForwarded(dir interceptor.Direction) uint64 {
	return c.fwdBytes[dir].Load()
}

// MessagesForwarded returns the number of chunks or OpenFlow messages
// forwarded in the given direction.
func (c *Connection) MessagesForwarded(dir interceptor.Direction) uint64 {
	return c.fwdMsgs[dir].Load()
}

// Run relays both directions until the session is terminal and returns the
// first abnormal relay error, or nil for a clean end-of-stream teardown.
// It blocks the caller; the Listener runs it on its own goroutine.
func (c *Connection) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		errCh <- c.relay(ctx, interceptor.SwitchToController, c.swConn, c.ofConn)
	}()
	go func() {
		errCh <- c.relay(ctx, interceptor.ControllerToSwitch, c.ofConn, c.swConn)
	}()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			if first == nil {
				first = err
			}
			// An abnormal failure in one direction aborts the whole
			// session: closing both sockets unblocks the peer relay.
			c.Close()
		}
	}

	// Both directions done: close fully and mark terminal.
	c.Close()

	if err := c.ic.OnDisconnect(context.Background(), c.sctx, first); err != nil {
		c.logger.Error("disconnect hook error",
			slog.String("session", c.id),
			slog.String("error", err.Error()))
	}

	return first
}

// relay forwards chunks from src to dst until end-of-stream, an I/O error,
// or cancellation via Close. End-of-stream is propagated to dst as a
// half-close and returns nil; cancellation returns nil; genuine I/O
// failures are returned wrapped.
func (c *Connection) relay(ctx context.Context, dir interceptor.Direction, src, dst net.Conn) error {
	var rd io.Reader = src
	if c.framed {
		rd = bufio.NewReaderSize(src, c.bufs.Size())
	}

	for {
		var (
			payload []byte
			buf     []byte
			rerr    error
		)
		if c.framed {
			payload, _, rerr = openflow.ReadMessage(rd)
		} else {
			buf = c.bufs.Get()
			var n int
			n, rerr = src.Read(buf)
			payload = buf[:n]
		}

		if len(payload) > 0 {
			if err := c.forward(ctx, dir, dst, payload); err != nil {
				c.putBuf(buf)
				return err
			}
		}
		c.putBuf(buf)

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				// Peer closed its write side: propagate as a
				// half-close so the opposite direction can
				// still drain.
				c.halfClose(dst)
				return nil
			}
			if errors.Is(rerr, net.ErrClosed) {
				// Cancelled by the owning listener.
				return nil
			}
			c.countRelayError(dir)
			return beadserr.New("relay_read "+dir.String(), c.sctx.ListenerID, c.id, c.sctx.SwitchAddr,
				fmt.Errorf("%w: %w", beadserr.ErrRelayIO, rerr))
		}
	}
}

// forward runs the interception hook on one chunk and writes whatever it
// returns to dst. A nil return from the hook drops the chunk.
func (c *Connection) forward(ctx context.Context, dir interceptor.Direction, dst net.Conn, payload []byte) error {
	out, err := c.ic.Intercept(ctx, c.sctx, dir, payload)
	if err != nil {
		return beadserr.New("intercept "+dir.String(), c.sctx.ListenerID, c.id, c.sctx.SwitchAddr, err)
	}
	if out == nil {
		c.countDrop(dir)
		return nil
	}

	if _, err := dst.Write(out); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		c.countRelayError(dir)
		return beadserr.New("relay_write "+dir.String(), c.sctx.ListenerID, c.id, c.sctx.SwitchAddr,
			fmt.Errorf("%w: %w", beadserr.ErrRelayIO, err))
	}

	c.fwdBytes[dir].Add(uint64(len(out)))
	c.fwdMsgs[dir].Add(1)
	if c.mtr != nil {
		c.mtr.RelayBytes.WithLabelValues(c.sctx.ListenerID, dir.String()).Add(float64(len(out)))
		c.mtr.RelayMessages.WithLabelValues(c.sctx.ListenerID, dir.String()).Inc()
	}
	return nil
}

// halfClose shuts down the write side of dst, falling back to a full close
// when the transport cannot half-close.
func (c *Connection) halfClose(dst net.Conn) {
	if cw, ok := dst.(closeWriter); ok {
		if err := cw.CloseWrite(); err == nil {
			return
		}
	}
	dst.Close()
}

// Close force-closes both sockets, unblocking any in-flight relay I/O, and
// marks the Connection terminal. Safe to call multiple times and from any
// goroutine; used by the owning Listener during shutdown.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		swErr := c.swConn.Close()
		ofErr := c.ofConn.Close()
		if err := errors.Join(ignoreClosed(swErr), ignoreClosed(ofErr)); err != nil {
			c.closeErr = fmt.Errorf("%w: %w", beadserr.ErrShutdown, err)
		}
		close(c.done)
	})
	return c.closeErr
}

func (c *Connection) putBuf(buf []byte) {
	if buf != nil {
		c.bufs.Put(buf)
	}
}

func (c *Connection) countDrop(dir interceptor.Direction) {
	if c.mtr != nil {
		c.mtr.DroppedChunks.WithLabelValues(c.sctx.ListenerID, dir.String()).Inc()
	}
}

func (c *Connection) countRelayError(dir interceptor.Direction) {
	if c.mtr != nil {
		c.mtr.RelayErrors.WithLabelValues(c.sctx.ListenerID, dir.String()).Inc()
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
