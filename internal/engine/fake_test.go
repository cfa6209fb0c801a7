package engine

import (
	"context"
	"sync/atomic"
)

type fakeLocator struct {
	binary *Binary
	err    error
	calls  atomic.Int32
}

func (l *fakeLocator) Locate(ctx context.Context) (*Binary, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	if l.binary != nil {
		return l.binary, nil
	}
	return &Binary{Path: "/usr/bin/chromium", Args: baseArgs}, nil
}

type fakeDriver struct {
	launchErr  error
	navigate   func(ctx context.Context, url string, policy WaitPolicy) error
	capture    func(ctx context.Context) ([]byte, error)
	closeErr   error
	closePanic bool
	closeBlock chan struct{}
	// the first launchPanics calls to Launch panic
	launchPanics int32

	launchCalls atomic.Int32
	launches    atomic.Int32
	closes      atomic.Int32
}

func (d *fakeDriver) Name() string {
	return "fake"
}

func (d *fakeDriver) Launch(ctx context.Context, binary *Binary, options LaunchOptions) (Browser, error) {
	if d.launchCalls.Add(1) <= d.launchPanics {
		panic("launch exploded")
	}
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	d.launches.Add(1)
	return &fakeBrowser{driver: d}, nil
}

type fakeBrowser struct {
	driver *fakeDriver
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string, policy WaitPolicy) error {
	if b.driver.navigate != nil {
		return b.driver.navigate(ctx, url, policy)
	}
	return nil
}

func (b *fakeBrowser) CaptureFullPage(ctx context.Context) ([]byte, error) {
	if b.driver.capture != nil {
		return b.driver.capture(ctx)
	}
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (b *fakeBrowser) Close() error {
	b.driver.closes.Add(1)
	if b.driver.closeBlock != nil {
		<-b.driver.closeBlock
	}
	if b.driver.closePanic {
		panic("close exploded")
	}
	return b.driver.closeErr
}
