package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"page-capture/internal/capture"
	"page-capture/internal/client"
	"page-capture/internal/config"
	"page-capture/internal/engine"
	"page-capture/internal/runnable"
	"page-capture/internal/storage"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

type Result struct {
	URL        string `json:"url"`
	Location   string `json:"location,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

func main() {
	var server string
	var parallelism int
	var backend string
	var directory string
	var bucket string
	var locatorKind string
	var executablePath string
	var driverName string
	var navigationTimeout time.Duration
	var viewportWidth int
	var viewportHeight int
	var userAgent string
	var allowPrivateTargets bool

	flag.StringVar(&server, "server", config.EnvOrDefault("CAPTURE_SERVER", ""), "Base URL of a running capture server, captures locally when empty")
	flag.IntVar(&parallelism, "parallelism", config.EnvOrDefault("PARALLELISM", 2), "Number of captures running at once")
	flag.StringVar(&backend, "storage", config.EnvOrDefault("STORAGE_BACKEND", "file"), "Where to store captures: file or s3")
	flag.StringVar(&directory, "directory", config.EnvOrDefault("DIRECTORY", "/tmp"), "Output directory for the file backend")
	flag.StringVar(&bucket, "bucket", config.EnvOrDefault("S3_BUCKET", ""), "Bucket for the s3 backend")
	flag.StringVar(&locatorKind, "engine-locator", config.EnvOrDefault("ENGINE_LOCATOR", "host"), "How to find the browser binary: host or packaged")
	flag.StringVar(&executablePath, "chromium-executable-path", config.EnvOrDefault("CHROMIUM_EXECUTABLE_PATH", ""), "Browser binary, overrides the locator search")
	flag.StringVar(&driverName, "engine-driver", config.EnvOrDefault("ENGINE_DRIVER", "playwright"), "Browser automation driver: playwright or chromedp")
	flag.DurationVar(&navigationTimeout, "navigation-timeout", config.EnvOrDefault("NAVIGATION_TIMEOUT", 30*time.Second), "Deadline for a page to reach network idle")
	flag.IntVar(&viewportWidth, "viewport-width", config.EnvOrDefault("VIEWPORT_WIDTH", 1920), "Viewport width in pixels")
	flag.IntVar(&viewportHeight, "viewport-height", config.EnvOrDefault("VIEWPORT_HEIGHT", 1080), "Viewport height in pixels")
	flag.StringVar(&userAgent, "user-agent", config.EnvOrDefault("USER_AGENT", ""), "User-Agent string to use for requests")
	flag.BoolVar(&allowPrivateTargets, "allow-private-targets", config.EnvOrDefault("ALLOW_PRIVATE_TARGETS", true), "Allow rendering loopback and private addresses")
	flag.Parse()

	logger, err := runnable.NewLogger(os.Stderr)
	if err != nil {
		slog.Error("unable to create logger", "error", err)
		os.Exit(1)
	}

	targets := flag.Args()
	if len(targets) == 0 {
		logger.Error("url not specified")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := storage.New(ctx, backend, directory, bucket)
	if err != nil {
		logger.Error("failed to create storage backend", "error", err)
		os.Exit(1)
	}

	var capturer capture.Capturer
	if server != "" {
		c, err := client.New(server, client.WithUserAgent("page-capture-cli"))
		if err != nil {
			logger.Error("failed to create client", "error", err)
			os.Exit(1)
		}
		capturer = remote{c}
	} else {
		locator, err := engine.NewLocator(locatorKind, executablePath)
		if err != nil {
			logger.Error("failed to create engine locator", "error", err)
			os.Exit(1)
		}
		driver, err := engine.NewDriver(driverName)
		if err != nil {
			logger.Error("failed to create engine driver", "error", err)
			os.Exit(1)
		}
		supervisor := engine.NewSupervisor(locator, driver, engine.SupervisorConfig{
			MaxEngines: int64(parallelism),
			Logger:     logger,
		})

		c := capture.DefaultConfig()
		c.Launch.ViewportWidth = viewportWidth
		c.Launch.ViewportHeight = viewportHeight
		c.Launch.UserAgent = userAgent
		c.Wait.Timeout = navigationTimeout
		c.Policy.AllowPrivate = allowPrivateTargets
		c.Logger = logger
		capturer = capture.NewService(supervisor, c)
	}

	results := make([]Result, len(targets))
	var mu sync.Mutex
	failed := false

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(parallelism, 1))
	for i, target := range targets {
		eg.Go(func() error {
			result := run(ctx, capturer, s, target)
			if result.Error != "" {
				logger.Error("capture failed", "url", target, "error", result.Error)
				mu.Lock()
				failed = true
				mu.Unlock()
			}
			results[i] = result
			return nil
		})
	}
	_ = eg.Wait()

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		logger.Error("failed to write summary", "error", err)
		os.Exit(1)
	}
	if failed {
		os.Exit(1)
	}
}

func run(ctx context.Context, capturer capture.Capturer, s storage.Storage, target string) Result {
	start := time.Now()
	result := Result{URL: target}

	image, err := capturer.Capture(ctx, capture.Request{TargetURL: target})
	if err != nil {
		result.Error = err.Error()
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}

	location, err := s.Put(ctx, storage.CaptureKey(target, start, "png"), image.ContentType, image.Data)
	if err != nil {
		result.Error = err.Error()
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}
	result.Location = location
	result.Bytes = image.Len()
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

type remote struct {
	client *client.Client
}

func (r remote) Capture(ctx context.Context, request capture.Request) (*capture.Image, error) {
	data, err := r.client.Capture(ctx, request.TargetURL)
	if err != nil {
		return nil, err
	}
	return &capture.Image{Data: data, ContentType: capture.ContentTypePNG}, nil
}
