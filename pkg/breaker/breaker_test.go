// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

package breaker

import (
	"errors"
	"testing"
	"time"
)

var errDial = errors.New("connection refused")

func TestBreakerOpensAfterFailures(t *testing.T) {
	b := New(Config{MaxFailures: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("attempt %d should be allowed", i)
		}
		b.Record(errDial)
	}

	if b.State() != StateOpen {
		t.Fatalf("state: got %s, want open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New(Config{MaxFailures: 2, ResetTimeout: time.Minute})

	b.Record(errDial)
	b.Record(nil)
	b.Record(errDial)

	if b.State() != StateClosed {
		t.Fatalf("interleaved success should keep circuit closed, got %s", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := New(Config{MaxFailures: 1, ResetTimeout: 20 * time.Millisecond, SuccessThreshold: 2})

	b.Record(errDial)
	if b.State() != StateOpen {
		t.Fatalf("state: got %s, want open", b.State())
	}

	time.Sleep(30 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe after reset timeout should be allowed: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state: got %s, want half_open", b.State())
	}

	b.Record(nil)
	b.Record(nil)
	if b.State() != StateClosed {
		t.Fatalf("state after probes: got %s, want closed", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{MaxFailures: 1, ResetTimeout: 20 * time.Millisecond})

	b.Record(errDial)
	time.Sleep(30 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}
	b.Record(errDial)

	if b.State() != StateOpen {
		t.Fatalf("state after failed probe: got %s, want open", b.State())
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateHalfOpen: "half_open",
		StateOpen:     "open",
		State(42):     "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String(): got %q, want %q", s, got, want)
		}
	}
}
