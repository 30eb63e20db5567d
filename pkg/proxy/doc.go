// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy provides the top-level coordinator that runs one or more
// listeners as a single unit.
//
// # Overview
//
// A deployment that fronts several switch ports (each with its own
// controller target, interceptor, or framing mode) builds one Listener per
// port and hands them to a Proxy. The Proxy starts them together, blocks
// until its context is cancelled, and then stops and drains all of them in
// parallel.
//
// # Usage Pattern
//
//	l0 := listener.New(listener.Config{Port: 6633, ControllerHost: "10.0.0.1", ControllerPort: 6653})
//	l1 := listener.New(listener.Config{Port: 6634, ControllerHost: "10.0.0.2", ControllerPort: 6653})
//
//	p := proxy.New(logger, l0, l1)
//
//	ctx, cancel := context.WithCancel(context.Background())
//	go func() {
//		<-sigterm
//		cancel()
//	}()
//
//	if err := p.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Shutdown
//
// Cancellation of the Listen context triggers a parallel Stop of every
// listener; Listen returns once every accept loop has exited and every
// session has been joined, aggregating any teardown errors.
package proxy
