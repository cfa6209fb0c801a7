package capture_test

import (
	"context"
	"io"
	"log/slog"
	"page-capture/internal/engine"
	"sync/atomic"
	"time"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

type fakeLocator struct {
	err error
}

func (l *fakeLocator) Locate(ctx context.Context) (*engine.Binary, error) {
	if l.err != nil {
		return nil, l.err
	}
	return &engine.Binary{Path: "/usr/bin/chromium"}, nil
}

type fakeDriver struct {
	navigate func(ctx context.Context, url string) error
	capture  func(ctx context.Context) ([]byte, error)

	launches atomic.Int32
	closes   atomic.Int32
	visited  atomic.Value
}

func (d *fakeDriver) Name() string {
	return "fake"
}

func (d *fakeDriver) Launch(ctx context.Context, binary *engine.Binary, options engine.LaunchOptions) (engine.Browser, error) {
	d.launches.Add(1)
	return &fakeBrowser{driver: d, id: d.launches.Load()}, nil
}

type fakeBrowser struct {
	driver *fakeDriver
	id     int32
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string, policy engine.WaitPolicy) error {
	b.driver.visited.Store(url)
	if b.driver.navigate != nil {
		return b.driver.navigate(ctx, url)
	}
	return nil
}

func (b *fakeBrowser) CaptureFullPage(ctx context.Context) ([]byte, error) {
	if b.driver.capture != nil {
		return b.driver.capture(ctx)
	}
	return append(append([]byte{}, pngHeader...), byte(b.id)), nil
}

func (b *fakeBrowser) Close() error {
	b.driver.closes.Add(1)
	return nil
}

func newSupervisor(locator engine.Locator, driver engine.Driver) *engine.Supervisor {
	return engine.NewSupervisor(locator, driver, engine.SupervisorConfig{
		TeardownTimeout: 200 * time.Millisecond,
		Logger:          discard(),
	})
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
