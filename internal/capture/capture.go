package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"page-capture/internal/engine"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/xerrors"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrMissingURL       = fmt.Errorf("%w: missing url", ErrInvalidRequest)
	ErrInvalidURL       = fmt.Errorf("%w: url must be absolute", ErrInvalidRequest)
	ErrTargetNotAllowed = fmt.Errorf("%w: target not allowed", ErrInvalidRequest)
)

const ContentTypePNG = "image/png"

type Request struct {
	TargetURL string
}

// Image is a full-page capture held in memory for a single response.
type Image struct {
	Data        []byte
	ContentType string
}

func (i *Image) Len() int {
	return len(i.Data)
}

type Capturer interface {
	Capture(ctx context.Context, request Request) (*Image, error)
}

// Launcher scopes an engine to fn and tears it down afterwards.
type Launcher interface {
	With(ctx context.Context, options engine.LaunchOptions, fn func(*engine.Handle) error) error
}

type Config struct {
	Launch         engine.LaunchOptions
	Wait           engine.WaitPolicy
	CaptureTimeout time.Duration
	// Policy restricts which targets may be rendered. Nil allows any absolute URL.
	Policy *TargetPolicy
	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Launch:         engine.DefaultLaunchOptions(),
		Wait:           engine.DefaultWaitPolicy(),
		CaptureTimeout: 30 * time.Second,
		Policy:         DefaultTargetPolicy(),
	}
}

type Service struct {
	launcher Launcher
	config   Config
	logger   *slog.Logger
	duration metric.Int64Histogram
}

func NewService(launcher Launcher, c Config) *Service {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	duration, err := otel.Meter("page-capture/capture").Int64Histogram("capture_duration_micro_seconds")
	if err != nil {
		duration = noop.Int64Histogram{}
	}

	return &Service{
		launcher: launcher,
		config:   c,
		logger:   c.Logger,
		duration: duration,
	}
}

// Capture renders request.TargetURL in a fresh engine and returns a full-page
// PNG. Invalid requests fail before any engine is launched.
func (s *Service) Capture(ctx context.Context, request Request) (*Image, error) {
	target, err := s.validate(ctx, request)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var data []byte
	err = s.launcher.With(ctx, s.config.Launch, func(h *engine.Handle) error {
		if err := h.Navigate(ctx, target.String(), s.config.Wait); err != nil {
			return err
		}

		captureCtx := ctx
		if s.config.CaptureTimeout > 0 {
			var cancel context.CancelFunc
			captureCtx, cancel = context.WithTimeout(ctx, s.config.CaptureTimeout)
			defer cancel()
		}

		var err error
		data, err = h.CaptureFullPage(captureCtx)
		return err
	})
	s.duration.Record(ctx, time.Since(start).Microseconds(), metric.WithAttributes(
		attribute.String("outcome", outcome(err)),
	))
	if err != nil {
		return nil, xerrors.Errorf("failed to capture %s: %w", target.Redacted(), err)
	}

	s.logger.Debug("capture complete", "url", target.Redacted(), "bytes", len(data), "latency_ms", time.Since(start).Milliseconds())
	return &Image{
		Data:        data,
		ContentType: ContentTypePNG,
	}, nil
}

func (s *Service) validate(ctx context.Context, request Request) (*url.URL, error) {
	raw := strings.TrimSpace(request.TargetURL)
	if raw == "" {
		return nil, ErrMissingURL
	}

	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if !target.IsAbs() || target.Host == "" {
		return nil, ErrInvalidURL
	}

	if s.config.Policy != nil {
		if err := s.config.Policy.Check(ctx, target); err != nil {
			return nil, err
		}
	}
	return target, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, engine.ErrEngineUnavailable):
		return "engine_unavailable"
	case errors.Is(err, engine.ErrNavigationTimedOut):
		return "navigation_timed_out"
	case errors.Is(err, engine.ErrNavigationFailed):
		return "navigation_failed"
	case errors.Is(err, engine.ErrCaptureFailed):
		return "capture_failed"
	case errors.Is(err, engine.ErrEngineCrashed):
		return "engine_crashed"
	}
	return "error"
}
