// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/rubiruchi/BEADS/pkg/listener"
)

// Proxy owns one or more Listeners, one per proxied switch port, and
// coordinates their shutdown as a unit.
type Proxy struct {
	listeners []*listener.Listener
	logger    *slog.Logger
}

// New creates a Proxy supervising the given listeners.
func New(logger *slog.Logger, listeners ...*listener.Listener) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		listeners: listeners,
		logger:    logger,
	}
}

// Listeners returns the supervised listeners.
func (p *Proxy) Listeners() []*listener.Listener {
	return p.listeners
}

// Listen starts every listener and blocks until the context is cancelled,
// then stops them all and waits for every session to drain. If any listener
// fails to start, the ones already started are stopped before returning.
func (p *Proxy) Listen(ctx context.Context) error {
	for i, l := range p.listeners {
		if err := l.Start(); err != nil {
			for _, started := range p.listeners[:i] {
				if serr := started.Stop(); serr != nil {
					p.logger.Error("stop after failed start",
						slog.String("listener", started.ID()),
						slog.String("error", serr.Error()))
				}
			}
			return fmt.Errorf("start %s: %w", l.ID(), err)
		}
	}

	p.logger.Info("proxy started", slog.Int("listeners", len(p.listeners)))

	<-ctx.Done()
	p.logger.Info("shutdown signal received, stopping listeners")

	g := new(errgroup.Group)
	for _, l := range p.listeners {
		l := l
		g.Go(func() error {
			return l.Stop()
		})
	}
	err := g.Wait()
	p.logger.Info("proxy stopped")
	return err
}

// Active returns the total number of live sessions across all listeners.
func (p *Proxy) Active() int {
	total := 0
	for _, l := range p.listeners {
		total += l.Active()
	}
	return total
}
