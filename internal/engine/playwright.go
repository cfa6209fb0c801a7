package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver starts a playwright driver and a Chromium process per
// launch. Browsers are never downloaded at runtime; the resolved binary is
// always used.
type PlaywrightDriver struct {
	run func() (*playwright.Playwright, error)
}

func NewPlaywrightDriver() *PlaywrightDriver {
	return &PlaywrightDriver{
		run: func() (*playwright.Playwright, error) {
			return playwright.Run(&playwright.RunOptions{
				SkipInstallBrowsers: true,
			})
		},
	}
}

func (d *PlaywrightDriver) Name() string {
	return "playwright"
}

func (d *PlaywrightDriver) Launch(ctx context.Context, binary *Binary, options LaunchOptions) (Browser, error) {
	pw, err := d.run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOptions := playwright.BrowserTypeLaunchOptions{
		ExecutablePath: playwright.String(binary.Path),
		Args:           binary.Args,
		Headless:       playwright.Bool(true),
	}
	if timeout, ok := remaining(ctx); ok {
		launchOptions.Timeout = playwright.Float(milliseconds(timeout))
	}

	// released unless the launch completes, panics included
	launched := false
	defer func() {
		if !launched {
			_ = pw.Stop()
		}
	}()

	browser, err := pw.Chromium.Launch(launchOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if !launched {
			_ = browser.Close()
		}
	}()

	pageOptions := playwright.BrowserNewPageOptions{}
	if options.ViewportWidth > 0 && options.ViewportHeight > 0 {
		pageOptions.Viewport = &playwright.Size{
			Width:  options.ViewportWidth,
			Height: options.ViewportHeight,
		}
	}
	if options.UserAgent != "" {
		pageOptions.UserAgent = playwright.String(options.UserAgent)
	}

	page, err := browser.NewPage(pageOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	launched = true
	return &playwrightBrowser{
		pw:      pw,
		browser: browser,
		page:    page,
	}, nil
}

type playwrightBrowser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

// Navigate uses playwright's networkidle state: no network connections for
// at least 500ms. The policy's quiet period and in-flight allowance are fixed
// by playwright.
func (b *playwrightBrowser) Navigate(ctx context.Context, url string, policy WaitPolicy) error {
	stop := context.AfterFunc(ctx, func() {
		_ = b.page.Close()
	})
	defer stop()

	gotoOptions := playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}
	if timeout, ok := remaining(ctx); ok {
		gotoOptions.Timeout = playwright.Float(milliseconds(timeout))
	}

	if _, err := b.page.Goto(url, gotoOptions); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: %w", ErrNavigationTimedOut, err)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: %w", ErrNavigationTimedOut, url, ctx.Err())
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("failed to navigate to %s: %w", url, ctxErr)
		}
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (b *playwrightBrowser) CaptureFullPage(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = b.page.Close()
	})
	defer stop()

	options := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
	}
	if timeout, ok := remaining(ctx); ok {
		options.Timeout = playwright.Float(milliseconds(timeout))
	}

	data, err := b.page.Screenshot(options)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("failed to take screenshot: %w", ctxErr)
		}
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return data, nil
}

func (b *playwrightBrowser) Close() error {
	var errs []error
	if err := b.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
	}
	if err := b.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
	}
	return errors.Join(errs...)
}

func remaining(ctx context.Context) (time.Duration, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	d := time.Until(deadline)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d, true
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
