package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// Handle is the exclusively owned reference to a running engine. It is not
// safe to share between requests.
type Handle struct {
	browser    Browser
	supervisor *Supervisor
	logger     *slog.Logger

	mu        sync.Mutex
	state     State
	closeOnce sync.Once
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) transition(next State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.canTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, h.state, next)
	}
	h.state = next
	return nil
}

// Navigate loads url and waits according to policy.
func (h *Handle) Navigate(ctx context.Context, url string, policy WaitPolicy) error {
	if err := h.transition(StateNavigating); err != nil {
		return err
	}

	ctx, span := h.supervisor.tracer.Start(ctx, "engine.Navigate")
	defer span.End()

	navigateCtx := ctx
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		navigateCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := h.browser.Navigate(navigateCtx, url, policy)
	switch {
	case err == nil:
		_ = h.transition(StateReady)
		h.logger.Debug("navigation complete", "latency_ms", time.Since(start).Milliseconds())
		return nil
	case errors.Is(err, ErrNavigationTimedOut),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(navigateCtx.Err(), context.DeadlineExceeded):
		_ = h.transition(StateNavigationTimedOut)
		err = wrap(ErrNavigationTimedOut, err)
	default:
		_ = h.transition(StateNavigationFailed)
		err = wrap(ErrNavigationFailed, err)
	}

	span.SetStatus(codes.Error, err.Error())
	return err
}

// CaptureFullPage renders the whole document, not only the viewport, as PNG.
func (h *Handle) CaptureFullPage(ctx context.Context) ([]byte, error) {
	if state := h.State(); state != StateReady {
		return nil, fmt.Errorf("%w: capture requested in state %s", ErrInvalidState, state)
	}

	ctx, span := h.supervisor.tracer.Start(ctx, "engine.CaptureFullPage")
	defer span.End()

	data, err := h.browser.CaptureFullPage(ctx)
	if err == nil && len(data) == 0 {
		err = errors.New("engine returned an empty image")
	}
	if err != nil {
		_ = h.transition(StateCaptureFailed)
		err = wrap(ErrCaptureFailed, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	_ = h.transition(StateCaptured)
	span.SetAttributes(attribute.Int("capture.bytes", len(data)))
	return data, nil
}

// Close terminates the engine. It runs at most once, waits no longer than the
// supervisor's teardown timeout and only logs teardown failures. The engine
// slot stays taken until the browser has actually exited.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		previous := h.state
		h.state = StateClosed
		h.mu.Unlock()

		done := make(chan error, 1)
		go func() {
			var err error
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrEngineCrashed, r)
				}
				h.supervisor.release()
				done <- err
			}()
			err = h.browser.Close()
		}()

		timer := time.NewTimer(h.supervisor.teardownTimeout)
		defer timer.Stop()

		select {
		case err := <-done:
			if err != nil {
				h.logger.Warn("engine teardown failed", "state", previous.String(), "error", err)
			}
		case <-timer.C:
			h.logger.Error("engine teardown timed out", "state", previous.String(), "timeout", h.supervisor.teardownTimeout.String())
		}

		h.supervisor.closes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("state", previous.String())))
	})
}
