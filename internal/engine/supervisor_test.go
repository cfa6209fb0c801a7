package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestSupervisor(locator Locator, driver Driver, maxEngines int64) *Supervisor {
	return NewSupervisor(locator, driver, SupervisorConfig{
		MaxEngines:      maxEngines,
		TeardownTimeout: 200 * time.Millisecond,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func captureWith(ctx context.Context, s *Supervisor, policy WaitPolicy) ([]byte, error) {
	var data []byte
	err := s.With(ctx, DefaultLaunchOptions(), func(h *Handle) error {
		if err := h.Navigate(ctx, "https://example.com", policy); err != nil {
			return err
		}
		var err error
		data, err = h.CaptureFullPage(ctx)
		return err
	})
	return data, err
}

func TestSupervisorWith(t *testing.T) {
	tests := []struct {
		name       string
		locator    *fakeLocator
		driver     *fakeDriver
		maxEngines int64
		policy     WaitPolicy
		wantErr    error
		launches   int32
	}{
		{
			name:     "Success",
			locator:  &fakeLocator{},
			driver:   &fakeDriver{},
			policy:   DefaultWaitPolicy(),
			launches: 1,
		},
		{
			name:     "EngineUnavailable",
			locator:  &fakeLocator{err: errors.New("no chromium")},
			driver:   &fakeDriver{},
			policy:   DefaultWaitPolicy(),
			wantErr:  ErrEngineUnavailable,
			launches: 0,
		},
		{
			name:     "LaunchFailed",
			locator:  &fakeLocator{},
			driver:   &fakeDriver{launchErr: errors.New("exec format error")},
			policy:   DefaultWaitPolicy(),
			wantErr:  ErrEngineUnavailable,
			launches: 0,
		},
		{
			name:    "NavigationFailed",
			locator: &fakeLocator{},
			driver: &fakeDriver{navigate: func(ctx context.Context, url string, policy WaitPolicy) error {
				return errors.New("net::ERR_NAME_NOT_RESOLVED")
			}},
			policy:   DefaultWaitPolicy(),
			wantErr:  ErrNavigationFailed,
			launches: 1,
		},
		{
			name:    "NavigationTimedOut",
			locator: &fakeLocator{},
			driver: &fakeDriver{navigate: func(ctx context.Context, url string, policy WaitPolicy) error {
				<-ctx.Done()
				return ctx.Err()
			}},
			policy:   WaitPolicy{Timeout: 50 * time.Millisecond},
			wantErr:  ErrNavigationTimedOut,
			launches: 1,
		},
		{
			name:    "CaptureFailed",
			locator: &fakeLocator{},
			driver: &fakeDriver{capture: func(ctx context.Context) ([]byte, error) {
				return nil, errors.New("encode error")
			}},
			policy:   DefaultWaitPolicy(),
			wantErr:  ErrCaptureFailed,
			launches: 1,
		},
		{
			name:    "EmptyImage",
			locator: &fakeLocator{},
			driver: &fakeDriver{capture: func(ctx context.Context) ([]byte, error) {
				return []byte{}, nil
			}},
			policy:   DefaultWaitPolicy(),
			wantErr:  ErrCaptureFailed,
			launches: 1,
		},
		{
			name:       "LaunchPanic",
			locator:    &fakeLocator{},
			driver:     &fakeDriver{launchPanics: 1},
			maxEngines: 1,
			policy:     DefaultWaitPolicy(),
			wantErr:    ErrEngineCrashed,
			launches:   0,
		},
		{
			name:       "NavigationFailedBounded",
			locator:    &fakeLocator{},
			maxEngines: 1,
			driver: &fakeDriver{navigate: func(ctx context.Context, url string, policy WaitPolicy) error {
				return errors.New("net::ERR_CONNECTION_REFUSED")
			}},
			policy:   DefaultWaitPolicy(),
			wantErr:  ErrNavigationFailed,
			launches: 1,
		},
		{
			name:    "Panic",
			locator: &fakeLocator{},
			driver: &fakeDriver{navigate: func(ctx context.Context, url string, policy WaitPolicy) error {
				panic("renderer crashed")
			}},
			policy:   DefaultWaitPolicy(),
			wantErr:  ErrEngineCrashed,
			launches: 1,
		},
		{
			name:     "TeardownErrorDoesNotMask",
			locator:  &fakeLocator{},
			driver:   &fakeDriver{closeErr: errors.New("browser already gone")},
			policy:   DefaultWaitPolicy(),
			launches: 1,
		},
		{
			name:     "TeardownPanicDoesNotMask",
			locator:  &fakeLocator{},
			driver:   &fakeDriver{closePanic: true},
			policy:   DefaultWaitPolicy(),
			launches: 1,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestSupervisor(tt.locator, tt.driver, tt.maxEngines)

			var data []byte
			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("panic escaped With: %v", r)
					}
				}()
				data, err = captureWith(context.Background(), s, tt.policy)
			}()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(data) == 0 {
					t.Error("expected image bytes")
				}
			}

			if diff := cmp.Diff(tt.launches, tt.driver.launches.Load()); diff != "" {
				t.Errorf("launches (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.driver.launches.Load(), tt.driver.closes.Load()); diff != "" {
				t.Errorf("closes must equal launches (-want +got):\n%s", diff)
			}

			if tt.maxEngines > 0 {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				h, err := s.Launch(ctx, DefaultLaunchOptions())
				if err != nil {
					t.Fatalf("engine slot was not released: %v", err)
				}
				h.Close()
			}
		})
	}
}

func TestHandleStateMachine(t *testing.T) {
	driver := &fakeDriver{}
	s := newTestSupervisor(&fakeLocator{}, driver, 0)
	ctx := context.Background()

	h, err := s.Launch(ctx, DefaultLaunchOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(StateLaunched, h.State()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if _, err := h.CaptureFullPage(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState before navigation, got %v", err)
	}

	if err := h.Navigate(ctx, "https://example.com", DefaultWaitPolicy()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(StateReady, h.State()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if err := h.Navigate(ctx, "https://example.com", DefaultWaitPolicy()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second navigation, got %v", err)
	}

	if _, err := h.CaptureFullPage(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(StateCaptured, h.State()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	h.Close()
	h.Close()
	if diff := cmp.Diff(StateClosed, h.State()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(1), driver.closes.Load()); diff != "" {
		t.Errorf("close must run once (-want +got):\n%s", diff)
	}
}

func TestSupervisorTimeoutIsBounded(t *testing.T) {
	driver := &fakeDriver{navigate: func(ctx context.Context, url string, policy WaitPolicy) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	s := newTestSupervisor(&fakeLocator{}, driver, 0)

	deadline := 100 * time.Millisecond
	start := time.Now()
	_, err := captureWith(context.Background(), s, WaitPolicy{Timeout: deadline})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrNavigationTimedOut) {
		t.Fatalf("expected ErrNavigationTimedOut, got %v", err)
	}
	if elapsed > deadline+500*time.Millisecond {
		t.Errorf("teardown not bounded: took %s", elapsed)
	}
	if driver.closes.Load() != 1 {
		t.Errorf("expected engine closed once, got %d", driver.closes.Load())
	}
}

func TestSupervisorMaxEngines(t *testing.T) {
	driver := &fakeDriver{}
	s := newTestSupervisor(&fakeLocator{}, driver, 1)

	first, err := s.Launch(context.Background(), DefaultLaunchOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.Launch(ctx, DefaultLaunchOptions()); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("expected ErrEngineUnavailable while slot is taken, got %v", err)
	}

	first.Close()

	second, err := s.Launch(context.Background(), DefaultLaunchOptions())
	if err != nil {
		t.Fatalf("expected slot to be released after close: %v", err)
	}
	second.Close()

	if diff := cmp.Diff(int32(2), driver.launches.Load()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSupervisorSlotHeldUntilTeardownFinishes(t *testing.T) {
	block := make(chan struct{})
	driver := &fakeDriver{closeBlock: block}
	s := newTestSupervisor(&fakeLocator{}, driver, 1)

	h, err := s.Launch(context.Background(), DefaultLaunchOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	h.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("close must return after the teardown timeout, took %s", elapsed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.Launch(ctx, DefaultLaunchOptions()); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("expected ErrEngineUnavailable while the browser is still exiting, got %v", err)
	}

	close(block)

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	next, err := s.Launch(ctx, DefaultLaunchOptions())
	if err != nil {
		t.Fatalf("expected slot to be released once the browser exited: %v", err)
	}
	next.Close()
}
