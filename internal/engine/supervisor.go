package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const instrumentationName = "page-capture/engine"

type SupervisorConfig struct {
	// MaxEngines bounds the number of engine processes alive at once.
	// Zero means unbounded.
	MaxEngines      int64
	TeardownTimeout time.Duration
	Logger          *slog.Logger
}

// Supervisor launches one engine process per Launch call and guarantees its
// teardown.
type Supervisor struct {
	locator         Locator
	driver          Driver
	logger          *slog.Logger
	slots           *semaphore.Weighted
	teardownTimeout time.Duration

	tracer   trace.Tracer
	launches metric.Int64Counter
	closes   metric.Int64Counter
}

func NewSupervisor(locator Locator, driver Driver, c SupervisorConfig) *Supervisor {
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	s := &Supervisor{
		locator:         locator,
		driver:          driver,
		logger:          c.Logger.With("driver", driver.Name()),
		teardownTimeout: c.TeardownTimeout,
		tracer:          otel.Tracer(instrumentationName),
	}
	if c.MaxEngines > 0 {
		s.slots = semaphore.NewWeighted(c.MaxEngines)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if s.launches, err = meter.Int64Counter("engine_launches_total"); err != nil {
		s.launches = noop.Int64Counter{}
	}
	if s.closes, err = meter.Int64Counter("engine_closes_total"); err != nil {
		s.closes = noop.Int64Counter{}
	}

	return s
}

// Launch resolves the browser binary and starts an engine. The returned
// Handle must be closed by the caller.
func (s *Supervisor) Launch(ctx context.Context, options LaunchOptions) (*Handle, error) {
	ctx, span := s.tracer.Start(ctx, "engine.Launch")
	defer span.End()

	binary, err := s.locator.Locate(ctx)
	if err != nil {
		err = wrap(ErrEngineUnavailable, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("engine.binary", binary.Path))

	if s.slots != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%w: waiting for an engine slot: %w", ErrEngineUnavailable, err)
		}
	}

	launchCtx := ctx
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		launchCtx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	start := time.Now()
	browser, err := s.launch(launchCtx, binary, options)
	if err != nil {
		s.release()
		if !errors.Is(err, ErrEngineCrashed) {
			err = fmt.Errorf("%w: failed to launch %s: %w", ErrEngineUnavailable, binary.Path, err)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.launches.Add(ctx, 1, metric.WithAttributes(attribute.String("driver", s.driver.Name())))
	s.logger.Debug("engine launched", "binary", binary.Path, "latency_ms", time.Since(start).Milliseconds())

	return &Handle{
		browser:    browser,
		supervisor: s,
		logger:     s.logger,
		state:      StateLaunched,
	}, nil
}

// With launches an engine, passes it to fn and closes it on every exit path,
// including a panic inside fn which is reported as ErrEngineCrashed.
func (s *Supervisor) With(ctx context.Context, options LaunchOptions, fn func(*Handle) error) (err error) {
	h, err := s.Launch(ctx, options)
	if err != nil {
		return err
	}
	defer h.Close()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("engine panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrEngineCrashed, r)
		}
	}()

	return fn(h)
}

// launch turns a panic inside the driver into ErrEngineCrashed so the caller
// still releases its slot.
func (s *Supervisor) launch(ctx context.Context, binary *Binary, options LaunchOptions) (browser Browser, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("engine panic during launch", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			browser = nil
			err = fmt.Errorf("%w: launching %s: %v", ErrEngineCrashed, binary.Path, r)
		}
	}()

	return s.driver.Launch(ctx, binary, options)
}

func (s *Supervisor) release() {
	if s.slots != nil {
		s.slots.Release(1)
	}
}

func wrap(sentinel error, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
