package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromedpDriver drives Chromium over the DevTools protocol directly, without
// the playwright node driver.
type ChromedpDriver struct{}

func NewChromedpDriver() *ChromedpDriver {
	return &ChromedpDriver{}
}

func (d *ChromedpDriver) Name() string {
	return "chromedp"
}

func (d *ChromedpDriver) Launch(ctx context.Context, binary *Binary, options LaunchOptions) (Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.ExecPath(binary.Path))
	for _, arg := range binary.Args {
		name, value := splitArg(arg)
		if value == "" {
			opts = append(opts, chromedp.Flag(name, true))
		} else {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}
	if options.ViewportWidth > 0 && options.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(options.ViewportWidth, options.ViewportHeight))
	}
	if options.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(options.UserAgent))
	}

	// The process outlives ctx; it is torn down by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	launched := false
	defer func() {
		if !launched {
			browserCancel()
			allocCancel()
		}
	}()

	tracker := newIdleTracker()
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			tracker.started(string(e.RequestID))
		case *network.EventLoadingFinished:
			tracker.finished(string(e.RequestID))
		case *network.EventLoadingFailed:
			tracker.finished(string(e.RequestID))
		}
	})

	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx, network.Enable())
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	launched = true
	return &chromedpBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		tracker:     tracker,
	}, nil
}

type chromedpBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	tracker     *idleTracker
}

// run derives a context from the browser that also ends with ctx.
func (b *chromedpBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (b *chromedpBrowser) Navigate(ctx context.Context, url string, policy WaitPolicy) error {
	b.tracker.reset()

	wait := chromedp.ActionFunc(func(ctx context.Context) error {
		return b.tracker.wait(ctx, policy.QuietPeriod, policy.MaxInflight)
	})
	if err := b.run(ctx, chromedp.Navigate(url), wait); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: %w", ErrNavigationTimedOut, url, err)
		}
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (b *chromedpBrowser) CaptureFullPage(ctx context.Context) ([]byte, error) {
	var data []byte
	// quality 100 makes chromedp encode PNG
	if err := b.run(ctx, chromedp.FullScreenshot(&data, 100)); err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return data, nil
}

func (b *chromedpBrowser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}
