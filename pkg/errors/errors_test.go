// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSessionErrorFormatting(t *testing.T) {
	base := errors.New("connection reset")
	err := New("relay_read", "listener-6633", "abc-123", "10.0.0.7:41234", base)

	msg := err.Error()
	for _, want := range []string{"listener-6633", "relay_read", "abc-123", "10.0.0.7:41234", "connection reset"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}

func TestSessionErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("%w: read tcp: reset", ErrRelayIO)
	err := New("relay_read", "l", "s", "addr", inner)

	if !errors.Is(err, ErrRelayIO) {
		t.Fatal("sentinel lost through SessionError")
	}
	var serr *SessionError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SessionError, got %T", err)
	}
	if serr.SessionID != "s" {
		t.Fatalf("session id: got %q", serr.SessionID)
	}
}

func TestNewNilError(t *testing.T) {
	if err := New("op", "l", "s", "addr", nil); err != nil {
		t.Fatalf("New with nil error should return nil, got %v", err)
	}
}

func TestWrap(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Fatalf("Wrap(nil) should return nil, got %v", err)
	}

	err := Wrap(ErrDial, "dial controller")
	if !errors.Is(err, ErrDial) {
		t.Fatal("sentinel lost through Wrap")
	}
	if !strings.Contains(err.Error(), "dial controller") {
		t.Fatalf("context lost: %q", err.Error())
	}
}
