// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

// Package listener implements the connection-acceptance and relay engine of
// the BEADS switch/controller proxy.
//
// # Overview
//
// A Listener binds one local port, accepts inbound SDN switch connections,
// and pairs each with a dedicated outbound connection to the real
// controller. Every such pair is a Connection: a full-duplex relay that
// forwards opaque bytes in both directions, optionally passing each chunk
// through an interception hook, until either side closes or fails.
//
// # Architecture
//
//	┌─────────┐         ┌───────────┐         ┌────────────┐
//	│ Switch  │ ←─TCP─→ │ Listener  │ ←─TCP─→ │ Controller │
//	└─────────┘         │ Connection│         └────────────┘
//	                    └───────────┘
//	                         ↓
//	                   ┌─────────────┐
//	                   │ Interceptor │
//	                   └─────────────┘
//
// # Session Flow
//
//  1. Switch connects to the listener port
//  2. Accept loop accepts the socket
//  3. Listener dials the controller; a dial failure drops only this
//     switch and the loop keeps accepting
//  4. A Connection is built from the socket pair, tracked in the
//     listener's session set, and run:
//     - switch → controller relay goroutine
//     - controller → switch relay goroutine
//  5. End-of-stream in one direction is propagated as a half-close of the
//     opposite socket; the other direction keeps draining
//  6. Once both directions end, both sockets are closed, OnDisconnect
//     fires, and the session leaves the tracked set
//
// # Lifecycle
//
//	l := listener.New(cfg)   // no sockets opened
//	err := l.Start()         // bind + spawn accept loop, non-blocking
//	_ = l.Lport()            // configured port, valid before and after Start
//	...
//	err = l.Stop()           // close everything, then join
//	l.Join()                 // wait only, never initiates shutdown
//
// Cancellation is modeled as socket closure: Stop closes the listening
// socket, which unblocks the accept loop with net.ErrClosed, and
// force-closes every session's sockets, which unblocks their relay I/O.
// No polling or sleep-based cancellation is involved, so Stop completes in
// bounded time.
//
// # Synchronization
//
// The tracked session set is the only state shared between the accept loop
// and completing relays; it is a mutex-guarded map keyed by session UUID,
// and removal is idempotent so a session finishing concurrently with the
// shutdown sweep is not double-closed.
//
// # Error Handling
//
//   - Bind failures: returned from Start wrapped in errors.ErrBind
//   - Dial failures: logged, counted, switch socket closed, loop continues
//   - Relay I/O failures: terminate that session only, reported via the
//     interceptor's OnDisconnect cause and wrapped in errors.ErrRelayIO
//   - Teardown failures: aggregated into Stop's return, never abort the sweep
package listener
