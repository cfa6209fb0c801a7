package engine

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEngineUnavailable  = errors.New("engine unavailable")
	ErrNavigationTimedOut = errors.New("navigation timed out")
	ErrNavigationFailed   = errors.New("navigation failed")
	ErrCaptureFailed      = errors.New("capture failed")
	ErrEngineCrashed      = errors.New("engine crashed")
	ErrInvalidState       = errors.New("invalid engine state")
)

// Binary is a resolved browser executable and the flags its environment needs.
type Binary struct {
	Path string
	Args []string
}

type LaunchOptions struct {
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	Timeout        time.Duration
}

func DefaultLaunchOptions() LaunchOptions {
	return LaunchOptions{
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Timeout:        30 * time.Second,
	}
}

// WaitPolicy bounds navigation. Navigation completes once no more than
// MaxInflight requests have been pending for QuietPeriod, or fails with
// ErrNavigationTimedOut after Timeout.
type WaitPolicy struct {
	Timeout     time.Duration
	QuietPeriod time.Duration
	MaxInflight int
}

func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{
		Timeout:     30 * time.Second,
		QuietPeriod: 500 * time.Millisecond,
		MaxInflight: 0,
	}
}

// Browser is one running engine process with a single page.
type Browser interface {
	Navigate(ctx context.Context, url string, policy WaitPolicy) error
	CaptureFullPage(ctx context.Context) ([]byte, error)
	Close() error
}

// Driver starts a Browser from a resolved binary.
type Driver interface {
	Name() string
	Launch(ctx context.Context, binary *Binary, options LaunchOptions) (Browser, error)
}

func NewDriver(name string) (Driver, error) {
	switch name {
	case "", "playwright":
		return NewPlaywrightDriver(), nil
	case "chromedp":
		return NewChromedpDriver(), nil
	}
	return nil, errors.New("unknown engine driver: " + name)
}
