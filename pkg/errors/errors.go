// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for the BEADS proxy.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrBind indicates the listening socket could not be bound.
	// Fatal to Listener.Start; no accept loop begins.
	ErrBind = errors.New("cannot bind listening socket")

	// ErrDial indicates the controller could not be reached for one
	// accepted switch. Local to that accept attempt only.
	ErrDial = errors.New("cannot reach controller")

	// ErrRelayIO indicates a read or write failure on an established
	// session. Triggers that session's termination only.
	ErrRelayIO = errors.New("relay i/o failure")

	// ErrShutdown indicates a failure while closing a socket during
	// teardown. Teardown continues for all other resources regardless.
	ErrShutdown = errors.New("shutdown failure")

	// ErrSessionRejected indicates an interceptor refused a new session.
	ErrSessionRejected = errors.New("session rejected")

	// ErrRateLimited indicates an accept was dropped by the rate limiter.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// SessionError wraps an error with the identity of the session it occurred on.
type SessionError struct {
	Op         string // Operation that failed
	ListenerID string // Listener the session belongs to
	SessionID  string // Session identifier
	SwitchAddr string // Switch-side address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s %s [%s] %s: %v", e.ListenerID, e.Op, e.SessionID, e.SwitchAddr, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.ListenerID, e.Op, e.SwitchAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// New creates a new SessionError.
func New(op, listenerID, sessionID, switchAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &SessionError{
		Op:         op,
		ListenerID: listenerID,
		SessionID:  sessionID,
		SwitchAddr: switchAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
