package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"page-capture/internal/capture"
	"page-capture/internal/config"
	"page-capture/internal/engine"
	"page-capture/internal/runnable"
	"syscall"
	"time"
)

func main() {
	if err := config.LoadDotenv(config.EnvOrDefault("DOTENV_FILES", []string{".env"})...); err != nil {
		slog.Error("unable to load dotenv", "error", err)
		os.Exit(1)
	}

	var locatorKind string
	var executablePath string
	var driverName string
	var maxEngines int64
	var launchTimeout time.Duration
	var teardownTimeout time.Duration
	var probeSchedule string

	var navigationTimeout time.Duration
	var quietPeriod time.Duration
	var maxInflight int
	var captureTimeout time.Duration
	var viewportWidth int
	var viewportHeight int
	var userAgent string
	var allowPrivateTargets bool
	var allowedSchemes string

	flag.BoolVar(&runnable.Debug, "debug", config.EnvOrDefault("DEBUG", false), "Enable text logs and /debug/pprof")
	flag.StringVar(&locatorKind, "engine-locator", config.EnvOrDefault("ENGINE_LOCATOR", "host"), "How to find the browser binary: host or packaged")
	flag.StringVar(&executablePath, "chromium-executable-path", config.EnvOrDefault("CHROMIUM_EXECUTABLE_PATH", ""), "Browser binary, overrides the locator search")
	flag.StringVar(&driverName, "engine-driver", config.EnvOrDefault("ENGINE_DRIVER", "playwright"), "Browser automation driver: playwright or chromedp")
	flag.Int64Var(&maxEngines, "max-concurrent-engines", config.EnvOrDefault("MAX_CONCURRENT_ENGINES", int64(0)), "Upper bound of engine processes alive at once, 0 for unbounded")
	flag.DurationVar(&launchTimeout, "launch-timeout", config.EnvOrDefault("LAUNCH_TIMEOUT", 30*time.Second), "Deadline for starting an engine")
	flag.DurationVar(&teardownTimeout, "teardown-timeout", config.EnvOrDefault("TEARDOWN_TIMEOUT", 10*time.Second), "Upper bound for closing an engine")
	flag.StringVar(&probeSchedule, "probe-schedule", config.EnvOrDefault("PROBE_SCHEDULE", "@every 1m"), "Cron schedule of the engine availability probe")

	flag.DurationVar(&navigationTimeout, "navigation-timeout", config.EnvOrDefault("NAVIGATION_TIMEOUT", 30*time.Second), "Deadline for a page to reach network idle")
	flag.DurationVar(&quietPeriod, "quiet-period", config.EnvOrDefault("QUIET_PERIOD", 500*time.Millisecond), "How long the network must stay idle")
	flag.IntVar(&maxInflight, "max-inflight", config.EnvOrDefault("MAX_INFLIGHT", 0), "In-flight requests still considered idle")
	flag.DurationVar(&captureTimeout, "capture-timeout", config.EnvOrDefault("CAPTURE_TIMEOUT", 30*time.Second), "Deadline for taking the screenshot")
	flag.IntVar(&viewportWidth, "viewport-width", config.EnvOrDefault("VIEWPORT_WIDTH", 1920), "Viewport width")
	flag.IntVar(&viewportHeight, "viewport-height", config.EnvOrDefault("VIEWPORT_HEIGHT", 1080), "Viewport height")
	flag.StringVar(&userAgent, "user-agent", config.EnvOrDefault("USER_AGENT", ""), "User agent override")
	flag.BoolVar(&allowPrivateTargets, "allow-private-targets", config.EnvOrDefault("ALLOW_PRIVATE_TARGETS", false), "Allow rendering loopback and private addresses")
	flag.StringVar(&allowedSchemes, "allowed-schemes", config.EnvOrDefault("ALLOWED_SCHEMES", "http,https"), "Comma separated target URL schemes")
	flag.Parse()

	logger, err := runnable.NewLogger(os.Stderr)
	if err != nil {
		slog.Error("unable to create logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	locator, err := engine.NewLocator(locatorKind, executablePath)
	if err != nil {
		logger.Error("unable to create engine locator", "error", err)
		os.Exit(1)
	}
	driver, err := engine.NewDriver(driverName)
	if err != nil {
		logger.Error("unable to create engine driver", "error", err)
		os.Exit(1)
	}

	supervisor := engine.NewSupervisor(locator, driver, engine.SupervisorConfig{
		MaxEngines:      maxEngines,
		TeardownTimeout: teardownTimeout,
		Logger:          logger,
	})

	c := capture.DefaultConfig()
	c.Launch.ViewportWidth = viewportWidth
	c.Launch.ViewportHeight = viewportHeight
	c.Launch.UserAgent = userAgent
	c.Launch.Timeout = launchTimeout
	c.Wait.Timeout = navigationTimeout
	c.Wait.QuietPeriod = quietPeriod
	c.Wait.MaxInflight = maxInflight
	c.CaptureTimeout = captureTimeout
	c.Policy.AllowPrivate = allowPrivateTargets
	if schemes := config.SplitList(allowedSchemes); len(schemes) > 0 {
		c.Policy.AllowedSchemes = schemes
	}
	c.Logger = logger
	service := capture.NewService(supervisor, c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probe := engine.NewProbe(locator, probeSchedule, logger)
	stopProbe, err := probe.Start(ctx)
	if err != nil {
		logger.Error("unable to start engine probe", "error", err)
		os.Exit(1)
	}
	defer stopProbe()

	logger.Info("starting server", "driver", driver.Name(), "locator", locatorKind, "maxEngines", maxEngines)
	if err := runnable.NewServer(service, probe, logger).Start(ctx); err != nil {
		logger.Error("problem running server", "error", err)
		os.Exit(1)
	}
}
