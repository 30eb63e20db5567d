// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"context"
)

// Direction indicates which side of the control channel a payload came from.
type Direction int

const (
	// SwitchToController represents traffic flowing from the SDN switch to
	// the real controller.
	SwitchToController Direction = iota

	// ControllerToSwitch represents traffic flowing from the real controller
	// back to the SDN switch.
	ControllerToSwitch
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case SwitchToController:
		return "switch_to_controller"
	case ControllerToSwitch:
		return "controller_to_switch"
	default:
		return "unknown"
	}
}

// Context contains the identity of a proxied session. It is passed to every
// Interceptor method so that hooks can correlate traffic across calls.
type Context struct {
	// SessionID is a unique identifier for this switch/controller pair
	SessionID string

	// ListenerID distinguishes listeners when one process fronts
	// multiple switch ports
	ListenerID string

	// SwitchAddr is the network address of the accepted switch socket
	SwitchAddr string

	// ControllerAddr is the network address of the dialed controller socket
	ControllerAddr string
}

// Interceptor observes and optionally rewrites the traffic of a proxied
// session. Hooks run inline on the relay path: a slow hook delays the
// direction it was invoked on, which is how deliberate delay injection
// is expressed.
//
// All payloads are opaque byte slices. Protocol interpretation, if any,
// belongs to the Interceptor implementation.
type Interceptor interface {
	// OnConnect is called once after both sockets of a new session are
	// established, before any bytes are relayed. Returning an error
	// rejects the session: both sockets are closed and nothing is
	// forwarded.
	OnConnect(ctx context.Context, sctx *Context) error

	// Intercept is called for every chunk (or, in framed mode, every
	// whole OpenFlow message) before it is forwarded. The returned slice
	// is what the relay writes to the opposite socket: return the input
	// unchanged to pass it through, return a different slice to rewrite
	// it, or return nil to drop the chunk entirely. Returning an error
	// terminates the session. The payload slice is reused by the relay
	// after the call returns; implementations that retain payload bytes
	// must copy them.
	Intercept(ctx context.Context, sctx *Context, dir Direction, payload []byte) ([]byte, error)

	// OnDisconnect is called once when the session reaches terminal
	// state. cause is nil for a clean end-of-stream teardown and carries
	// the relay error otherwise. Errors returned from OnDisconnect are
	// logged but do not affect teardown.
	OnDisconnect(ctx context.Context, sctx *Context, cause error) error
}

// Noop is an Interceptor that forwards all traffic untouched.
// Useful for testing or when no interception is needed.
type Noop struct{}

var _ Interceptor = (*Noop)(nil)

func (Noop) OnConnect(ctx context.Context, sctx *Context) error {
	return nil
}

func (Noop) Intercept(ctx context.Context, sctx *Context, dir Direction, payload []byte) ([]byte, error) {
	return payload, nil
}

func (Noop) OnDisconnect(ctx context.Context, sctx *Context, cause error) error {
	return nil
}
