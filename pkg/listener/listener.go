// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rubiruchi/BEADS/pkg/breaker"
	beadserr "github.com/rubiruchi/BEADS/pkg/errors"
	"github.com/rubiruchi/BEADS/pkg/interceptor"
	"github.com/rubiruchi/BEADS/pkg/metrics"
	"github.com/rubiruchi/BEADS/pkg/pool"
	"github.com/rubiruchi/BEADS/pkg/ratelimit"
)

// Config holds the Listener configuration. One Listener fronts one switch
// port and pairs every accepted switch with its own controller connection.
type Config struct {
	// ID distinguishes listeners when one process fronts multiple switch
	// ports. Derived from the port when empty.
	ID string

	// Host is the local listen host. Empty means all interfaces.
	Host string

	// Port is the local listen port the switches connect to.
	Port int

	// ControllerHost is the network address of the real controller.
	ControllerHost string

	// ControllerPort is the port of the real controller.
	ControllerPort int

	// DialTimeout bounds each controller dial. Defaults to 10s.
	DialTimeout time.Duration

	// BufferSize sizes the relay scratch buffers.
	BufferSize int

	// OpenFlowFraming relays whole OpenFlow messages instead of raw
	// read chunks.
	OpenFlowFraming bool

	// Interceptor is invoked on every forwarded chunk. Defaults to a
	// no-op pass-through.
	Interceptor interceptor.Interceptor

	// RateLimit optionally limits accepted connections per switch
	// source address.
	RateLimit *ratelimit.Limiter

	// Breaker optionally short-circuits controller dials while the
	// controller is known unreachable.
	Breaker *breaker.Breaker

	// Metrics for session and relay observability. Optional.
	Metrics *metrics.Metrics

	// Logger for listener events.
	Logger *slog.Logger
}

// Listener owns the listening socket for one switch port, accepts inbound
// switch connections, dials the controller for each, and tracks the
// resulting set of live Connections.
type Listener struct {
	cfg            Config
	controllerAddr string
	ic             interceptor.Interceptor
	bufs           *pool.BufferPool
	logger         *slog.Logger

	mu         sync.Mutex
	ln         net.Listener
	conns      map[string]*Connection
	acceptDone chan struct{}
	started    bool
	stopped    bool

	wg sync.WaitGroup
}

// New creates a Listener from configuration only. No sockets are opened
// until Start.
func New(cfg Config) *Listener {
	if cfg.ID == "" {
		cfg.ID = "listener-" + strconv.Itoa(cfg.Port)
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Interceptor == nil {
		cfg.Interceptor = interceptor.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Listener{
		cfg:            cfg,
		controllerAddr: net.JoinHostPort(cfg.ControllerHost, strconv.Itoa(cfg.ControllerPort)),
		ic:             cfg.Interceptor,
		bufs:           pool.NewBufferPool(cfg.BufferSize),
		logger:         cfg.Logger.With(slog.String("listener", cfg.ID)),
		conns:          make(map[string]*Connection),
	}
}

// ID returns the listener identifier.
func (l *Listener) ID() string {
	return l.cfg.ID
}

// Lport returns the configured local port. Pure accessor, valid both
// before and after Start.
func (l *Listener) Lport() int {
	return l.cfg.Port
}

// Addr returns the bound listen address, or nil before Start. With a
// configured port of 0 this is how the kernel-chosen port is discovered.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Active returns the number of currently tracked sessions.
func (l *Listener) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Start binds the listening socket and begins the accept loop on its own
// goroutine, returning immediately. A bind failure is returned wrapped in
// ErrBind and no accept loop begins.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("listener %s already started", l.cfg.ID)
	}

	addr := net.JoinHostPort(l.cfg.Host, strconv.Itoa(l.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w on %s: %w", beadserr.ErrBind, addr, err)
	}

	l.ln = ln
	l.started = true
	l.acceptDone = make(chan struct{})
	go l.acceptLoop(ln)

	l.logger.Info("listener started",
		slog.String("address", ln.Addr().String()),
		slog.String("controller", l.controllerAddr))
	return nil
}

// acceptLoop accepts switch connections until the listening socket is
// closed. Transient accept errors are logged and do not terminate the loop.
func (l *Listener) acceptLoop(ln net.Listener) {
	defer close(l.acceptDone)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Error("accept failed", slog.String("error", err.Error()))
			continue
		}
		l.handleAccepted(conn)
	}
}

// handleAccepted pairs one accepted switch socket with a fresh controller
// connection and starts the session relay. Any failure here is local to
// this switch: the socket is closed and the accept loop is unaffected.
func (l *Listener) handleAccepted(sw net.Conn) {
	source := sw.RemoteAddr().String()

	if l.cfg.RateLimit != nil {
		key := source
		if host, _, err := net.SplitHostPort(source); err == nil {
			key = host
		}
		if !l.cfg.RateLimit.Allow(key) {
			l.logger.Warn("switch connection dropped",
				slog.String("switch", source),
				slog.String("error", beadserr.ErrRateLimited.Error()))
			if l.cfg.Metrics != nil {
				l.cfg.Metrics.RateLimitedAccepts.WithLabelValues(l.cfg.ID).Inc()
			}
			sw.Close()
			return
		}
	}

	ctrl, err := l.dialController()
	if err != nil {
		l.logger.Warn("controller dial failed, dropping switch",
			slog.String("switch", source),
			slog.String("error", err.Error()))
		if l.cfg.Metrics != nil {
			reason := "dial"
			if errors.Is(err, breaker.ErrOpen) {
				reason = "breaker_open"
			}
			l.cfg.Metrics.DialErrors.WithLabelValues(l.cfg.ID, reason).Inc()
		}
		sw.Close()
		return
	}

	c := NewConnection(ConnConfig{
		SessionID:       uuid.New().String(),
		ListenerID:      l.cfg.ID,
		SwitchConn:      sw,
		ControllerConn:  ctrl,
		Interceptor:     l.ic,
		OpenFlowFraming: l.cfg.OpenFlowFraming,
		Buffers:         l.bufs,
		Metrics:         l.cfg.Metrics,
		Logger:          l.logger,
	})

	if err := l.ic.OnConnect(context.Background(), c.sctx); err != nil {
		l.logger.Warn("session rejected",
			slog.String("session", c.ID()),
			slog.String("switch", source),
			slog.String("error", err.Error()))
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.RejectedSessions.WithLabelValues(l.cfg.ID).Inc()
		}
		c.Close()
		return
	}

	l.mu.Lock()
	if l.stopped {
		// Lost the race with Stop: do not leak a session the shutdown
		// sweep will never see.
		l.mu.Unlock()
		c.Close()
		return
	}
	l.conns[c.ID()] = c
	l.mu.Unlock()

	l.logger.Debug("session established",
		slog.String("session", c.ID()),
		slog.String("switch", source),
		slog.String("controller", l.controllerAddr))

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.runSession(c)
	}()
}

// runSession drives one Connection to terminal state and removes it from
// the tracked set.
func (l *Listener) runSession(c *Connection) {
	run := func() error {
		return c.Run(context.Background())
	}

	var err error
	if l.cfg.Metrics != nil {
		err = l.cfg.Metrics.ObserveSession(l.cfg.ID, run)
	} else {
		err = run()
	}
	if err != nil {
		l.logger.Warn("session terminated with error",
			slog.String("session", c.ID()),
			slog.String("error", err.Error()))
	} else {
		l.logger.Debug("session closed",
			slog.String("session", c.ID()),
			slog.Uint64("switch_to_controller_bytes", c.BytesForwarded(interceptor.SwitchToController)),
			slog.Uint64("controller_to_switch_bytes", c.BytesForwarded(interceptor.ControllerToSwitch)))
	}

	l.remove(c.ID())
}

// remove deletes a session from the tracked set. Idempotent: the shutdown
// sweep and a completing relay may both attempt it.
func (l *Listener) remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, id)
}

// dialController opens the controller-side socket for one accepted switch.
func (l *Listener) dialController() (net.Conn, error) {
	if l.cfg.Breaker != nil {
		if err := l.cfg.Breaker.Allow(); err != nil {
			return nil, fmt.Errorf("%w: %w", beadserr.ErrDial, err)
		}
	}

	conn, err := net.DialTimeout("tcp", l.controllerAddr, l.cfg.DialTimeout)
	if l.cfg.Breaker != nil {
		l.cfg.Breaker.Record(err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", beadserr.ErrDial, l.controllerAddr, err)
	}
	return conn, nil
}

// Join blocks until the accept loop has exited and every tracked session
// has reached terminal state. It does not request shutdown; pair it with
// Stop. Safe to call concurrently with ongoing relay activity, and a no-op
// if Start was never called.
func (l *Listener) Join() {
	l.mu.Lock()
	started := l.started
	done := l.acceptDone
	l.mu.Unlock()

	if !started {
		return
	}
	<-done
	l.wg.Wait()
}

// Stop closes the listening socket (unblocking the accept loop),
// force-closes every tracked session, and joins them all before returning.
// Teardown is best-effort: close failures are aggregated into the returned
// error but never abort the sweep. Idempotent, and a no-op if Start was
// never called.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil
	}
	if l.stopped {
		l.mu.Unlock()
		l.Join()
		return nil
	}
	l.stopped = true
	ln := l.ln
	conns := make([]*Connection, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	var errs []error
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("%w: close listening socket: %w", beadserr.ErrShutdown, err))
	}
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	l.Join()
	l.logger.Info("listener stopped")
	return errors.Join(errs...)
}
