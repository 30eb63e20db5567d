// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/rubiruchi/BEADS/pkg/breaker"
	beadserr "github.com/rubiruchi/BEADS/pkg/errors"
	"github.com/rubiruchi/BEADS/pkg/interceptor"
	"github.com/rubiruchi/BEADS/pkg/ratelimit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// echoController is a stand-in controller that echoes everything back.
type echoController struct {
	ln net.Listener
	wg sync.WaitGroup
}

func startEchoController(t *testing.T) *echoController {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("start echo controller: %v", err)
	}

	e := &echoController{ln: ln}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()

	return e
}

func (e *echoController) addr() (host string, port int) {
	h, p, _ := net.SplitHostPort(e.ln.Addr().String())
	n, _ := strconv.Atoi(p)
	return h, n
}

// Close stops accepting. Session goroutines exit once their sockets close.
func (e *echoController) Close() {
	e.ln.Close()
	e.wg.Wait()
}

func newTestListener(t *testing.T, e *echoController, mutate func(*Config)) *Listener {
	t.Helper()

	host, port := e.addr()
	cfg := Config{
		Host:           "127.0.0.1",
		Port:           0,
		ControllerHost: host,
		ControllerPort: port,
		DialTimeout:    2 * time.Second,
		Logger:         testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func dialProxy(t *testing.T, l *Listener) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readExactly(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed, read succeeded")
	} else if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		t.Fatal("expected connection to be closed, read timed out")
	}
}

func TestListenerEchoSession(t *testing.T) {
	e := startEchoController(t)
	defer e.Close()

	l := newTestListener(t, e, nil)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	client := dialProxy(t, l)
	defer client.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readExactly(t, client, 5); string(got) != "hello" {
		t.Fatalf("echo mismatch: got %q", got)
	}

	waitFor(t, "session tracked", func() bool { return l.Active() == 1 })

	// Closing the switch side must tear down the controller side and
	// remove the session from tracking.
	client.Close()
	waitFor(t, "session removed", func() bool { return l.Active() == 0 })
}

func TestListenerLport(t *testing.T) {
	// Reserve a concrete port so the configured and bound ports match.
	rsv, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(rsv.Addr().String())
	port, _ := strconv.Atoi(portStr)
	rsv.Close()

	e := startEchoController(t)
	defer e.Close()

	l := newTestListener(t, e, func(c *Config) { c.Port = port })

	if got := l.Lport(); got != port {
		t.Fatalf("Lport before start: got %d, want %d", got, port)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()
	if got := l.Lport(); got != port {
		t.Fatalf("Lport after start: got %d, want %d", got, port)
	}
}

func TestListenerBindError(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("occupy port: %v", err)
	}
	defer occupied.Close()
	_, portStr, _ := net.SplitHostPort(occupied.Addr().String())
	port, _ := strconv.Atoi(portStr)

	e := startEchoController(t)
	defer e.Close()

	l := newTestListener(t, e, func(c *Config) { c.Port = port })
	err = l.Start()
	if err == nil {
		l.Stop()
		t.Fatal("expected bind error")
	}
	if !errors.Is(err, beadserr.ErrBind) {
		t.Fatalf("expected ErrBind, got %v", err)
	}

	// A listener that never started must tolerate Stop and Join.
	if err := l.Stop(); err != nil {
		t.Fatalf("stop after failed start: %v", err)
	}
	l.Join()
}

func TestListenerStartTwice(t *testing.T) {
	e := startEchoController(t)
	defer e.Close()

	l := newTestListener(t, e, nil)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	if err := l.Start(); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestListenerConcurrentSessions(t *testing.T) {
	e := startEchoController(t)
	defer e.Close()

	l := newTestListener(t, e, nil)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	const n = 8
	clients := make([]net.Conn, n)
	for i := range clients {
		clients[i] = dialProxy(t, l)
		defer clients[i].Close()
	}

	// Every session must carry its own bytes with no cross-session leakage.
	for i, c := range clients {
		payload := []byte(fmt.Sprintf("session-%02d", i))
		if _, err := c.Write(payload); err != nil {
			t.Fatalf("client %d write: %v", i, err)
		}
	}
	for i, c := range clients {
		want := fmt.Sprintf("session-%02d", i)
		if got := readExactly(t, c, len(want)); string(got) != want {
			t.Fatalf("client %d: got %q, want %q", i, got, want)
		}
	}

	waitFor(t, "all sessions tracked", func() bool { return l.Active() == n })

	for _, c := range clients {
		c.Close()
	}
	waitFor(t, "all sessions removed", func() bool { return l.Active() == 0 })
}

func TestListenerDialFailureIsolation(t *testing.T) {
	e := startEchoController(t)

	l := newTestListener(t, e, nil)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	// Two sessions establish while the controller is up.
	c1 := dialProxy(t, l)
	defer c1.Close()
	c2 := dialProxy(t, l)
	defer c2.Close()

	c1.Write([]byte("one"))
	readExactly(t, c1, 3)
	c2.Write([]byte("two"))
	readExactly(t, c2, 3)
	waitFor(t, "two sessions", func() bool { return l.Active() == 2 })

	// Take the controller's accept socket down: the next switch gets its
	// socket closed, established sessions keep working.
	e.ln.Close()

	c3 := dialProxy(t, l)
	defer c3.Close()
	expectClosed(t, c3)

	if l.Active() != 2 {
		t.Fatalf("established sessions disturbed: active = %d", l.Active())
	}
	c1.Write([]byte("still"))
	if got := readExactly(t, c1, 5); string(got) != "still" {
		t.Fatalf("session 1 broken after failed dial: got %q", got)
	}

	c1.Close()
	c2.Close()
	waitFor(t, "sessions drained", func() bool { return l.Active() == 0 })
	e.Close()
}

func TestListenerStopWhileRelaying(t *testing.T) {
	e := startEchoController(t)
	defer e.Close()

	l := newTestListener(t, e, nil)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	const m = 4
	clients := make([]net.Conn, m)
	for i := range clients {
		clients[i] = dialProxy(t, l)
		defer clients[i].Close()
		clients[i].Write([]byte("ping"))
		readExactly(t, clients[i], 4)
	}
	waitFor(t, "sessions tracked", func() bool { return l.Active() == m })

	stopped := make(chan error, 1)
	go func() {
		stopped <- l.Stop()
	}()

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return in bounded time")
	}

	if l.Active() != 0 {
		t.Fatalf("sessions left after stop: %d", l.Active())
	}
	for _, c := range clients {
		expectClosed(t, c)
	}

	// Join after Stop returns immediately.
	l.Join()
}

func TestListenerStopIdempotent(t *testing.T) {
	e := startEchoController(t)
	defer e.Close()

	l := newTestListener(t, e, nil)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestListenerStopWithoutStart(t *testing.T) {
	e := startEchoController(t)
	defer e.Close()

	l := newTestListener(t, e, nil)
	if err := l.Stop(); err != nil {
		t.Fatalf("stop without start: %v", err)
	}
	l.Join()
}

// rewriteInterceptor uppercases switch→controller traffic and drops chunks
// starting with "drop".
type rewriteInterceptor struct {
	interceptor.Noop
}

func (rewriteInterceptor) Intercept(ctx context.Context, sctx *interceptor.Context, dir interceptor.Direction, payload []byte) ([]byte, error) {
	if dir != interceptor.SwitchToController {
		return payload, nil
	}
	if len(payload) >= 4 && string(payload[:4]) == "drop" {
		return nil, nil
	}
	out := make([]byte, len(payload))
	for i, b := range payload {
		if 'a' <= b && b <= 'z' {
			b -= 'a' - 'A'
		}
		out[i] = b
	}
	return out, nil
}

func TestListenerInterceptorMutateAndDrop(t *testing.T) {
	e := startEchoController(t)
	defer e.Close()

	l := newTestListener(t, e, func(c *Config) { c.Interceptor = rewriteInterceptor{} })
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	client := dialProxy(t, l)
	defer client.Close()

	// The dropped chunk must never reach the controller, so the echo of
	// the following chunk is the next thing the client sees.
	client.Write([]byte("drop-me"))
	time.Sleep(100 * time.Millisecond) // let the chunk traverse the relay alone
	client.Write([]byte("keep"))

	if got := readExactly(t, client, 4); string(got) != "KEEP" {
		t.Fatalf("got %q, want %q", got, "KEEP")
	}
}

// rejectInterceptor refuses every session.
type rejectInterceptor struct {
	interceptor.Noop
}

func (rejectInterceptor) OnConnect(ctx context.Context, sctx *interceptor.Context) error {
	return beadserr.ErrSessionRejected
}

func TestListenerInterceptorReject(t *testing.T) {
	e := startEchoController(t)
	defer e.Close()

	l := newTestListener(t, e, func(c *Config) { c.Interceptor = rejectInterceptor{} })
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	client := dialProxy(t, l)
	defer client.Close()

	expectClosed(t, client)
	if l.Active() != 0 {
		t.Fatalf("rejected session tracked: active = %d", l.Active())
	}
}

func TestListenerRateLimit(t *testing.T) {
	e := startEchoController(t)
	defer e.Close()

	l := newTestListener(t, e, func(c *Config) {
		c.RateLimit = ratelimit.NewLimiter(1, 1, 0)
	})
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	c1 := dialProxy(t, l)
	defer c1.Close()
	c1.Write([]byte("ok"))
	readExactly(t, c1, 2)

	// Bucket exhausted: the second connection from the same source is
	// dropped without disturbing the first.
	c2 := dialProxy(t, l)
	defer c2.Close()
	expectClosed(t, c2)

	c1.Write([]byte("ok"))
	readExactly(t, c1, 2)
}

func TestListenerBreakerFailsFast(t *testing.T) {
	// Dead controller address: listen then close to get a refused port.
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve dead addr: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(dead.Addr().String())
	port, _ := strconv.Atoi(portStr)
	dead.Close()

	br := breaker.New(breaker.Config{MaxFailures: 1, ResetTimeout: time.Minute})
	l := New(Config{
		Host:           "127.0.0.1",
		Port:           0,
		ControllerHost: host,
		ControllerPort: port,
		DialTimeout:    time.Second,
		Breaker:        br,
		Logger:         testLogger(),
	})
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	c1 := dialProxy(t, l)
	defer c1.Close()
	expectClosed(t, c1)

	waitFor(t, "breaker open", func() bool { return br.State() == breaker.StateOpen })

	// With the circuit open the next switch is dropped without a dial.
	c2 := dialProxy(t, l)
	defer c2.Close()
	expectClosed(t, c2)
}
