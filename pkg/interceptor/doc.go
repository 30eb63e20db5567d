// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

// Package interceptor defines the hook interface that links the relay engine
// to traffic-manipulation logic.
//
// # Architecture Overview
//
// The Interceptor interface is the bridge between the connection/relay
// substrate and whatever a deployment wants to do with the intercepted
// control channel: observe it, fuzz it, rewrite it, or drop parts of it.
// The relay treats payloads as opaque bytes; the interceptor is the only
// component that may apply protocol-specific interpretation.
//
// # Data Flow
//
//	Switch → Listener → Connection → Intercept(SwitchToController) → Controller
//	Controller → Connection → Intercept(ControllerToSwitch) → Switch
//
// # Hook Semantics
//
// Intercept is invoked per forwarded chunk (or per whole OpenFlow message
// in framed mode) and its return value is authoritative:
//   - return the payload unchanged: forward as-is
//   - return a different slice: forward the rewritten bytes
//   - return nil: drop the chunk, relay continues with the next one
//   - return an error: terminate the session
//
// Because hooks run inline on the relay path, sleeping inside a hook is the
// supported way to inject delay into one direction without stalling the
// opposite direction.
//
// # Lifecycle Notifications
//
//   - OnConnect: both sockets established, nothing forwarded yet; an error
//     rejects the session
//   - OnDisconnect: session terminal; receives the terminal cause so relay
//     I/O failures are reported rather than swallowed
//
// # Implementation
//
// The Noop interceptor passes everything through and is the default when no
// hook is configured.
//
// # Example
//
//	type dropEcho struct{ interceptor.Noop }
//
//	func (dropEcho) Intercept(ctx context.Context, sctx *interceptor.Context, dir interceptor.Direction, payload []byte) ([]byte, error) {
//		if dir == interceptor.SwitchToController && isEchoRequest(payload) {
//			return nil, nil // drop
//		}
//		return payload, nil
//	}
package interceptor
