package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/xerrors"
)

var errNotProbed = errors.New("engine availability has not been checked")

// Probe periodically re-resolves the browser binary so readiness reflects
// whether a capture could launch an engine right now.
type Probe struct {
	locator  Locator
	schedule string
	logger   *slog.Logger

	mu      sync.RWMutex
	checked bool
	err     error
}

func NewProbe(locator Locator, schedule string, logger *slog.Logger) *Probe {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		locator:  locator,
		schedule: schedule,
		logger:   logger,
	}
}

func (p *Probe) Check(ctx context.Context) error {
	_, err := p.locator.Locate(ctx)

	p.mu.Lock()
	changed := !p.checked || (p.err == nil) != (err == nil)
	p.checked = true
	p.err = err
	p.mu.Unlock()

	if changed {
		if err != nil {
			p.logger.Warn("engine unavailable", "error", err)
		} else {
			p.logger.Info("engine available")
		}
	}
	return err
}

func (p *Probe) Ready() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.checked {
		return errNotProbed
	}
	return p.err
}

// Start runs an initial check and schedules the following ones. The returned
// function stops the schedule and waits for a running check to finish.
func (p *Probe) Start(ctx context.Context) (func(), error) {
	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() {
		_ = p.Check(ctx)
	}); err != nil {
		return nil, xerrors.Errorf("invalid probe schedule %q: %w", p.schedule, err)
	}

	_ = p.Check(ctx)
	c.Start()

	return func() {
		<-c.Stop().Done()
	}, nil
}
