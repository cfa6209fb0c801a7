package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/go-rod/rod/lib/launcher"
)

// Locator resolves the browser binary for the current execution environment.
type Locator interface {
	Locate(ctx context.Context) (*Binary, error)
}

// HostLocator finds a system installed Chrome or Chromium. An explicit path
// takes precedence over the well-known install locations.
type HostLocator struct {
	Path string

	lookPath func() (string, bool)
}

func NewHostLocator(path string) *HostLocator {
	return &HostLocator{
		Path:     path,
		lookPath: launcher.LookPath,
	}
}

func (l *HostLocator) Locate(ctx context.Context) (*Binary, error) {
	if l.Path != "" {
		if err := checkExecutable(l.Path); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
		}
		return &Binary{Path: l.Path, Args: mergeArgs(baseArgs)}, nil
	}

	lookPath := l.lookPath
	if lookPath == nil {
		lookPath = launcher.LookPath
	}
	path, found := lookPath()
	if !found {
		return nil, fmt.Errorf("%w: no chrome or chromium installation found", ErrEngineUnavailable)
	}
	return &Binary{Path: path, Args: mergeArgs(baseArgs)}, nil
}

// PackagedLocator uses a specially packaged binary such as a serverless layer.
type PackagedLocator struct {
	Path string
}

const DefaultPackagedPath = "/opt/chromium/chromium"

func NewPackagedLocator(path string) *PackagedLocator {
	if path == "" {
		path = DefaultPackagedPath
	}
	return &PackagedLocator{Path: path}
}

func (l *PackagedLocator) Locate(ctx context.Context) (*Binary, error) {
	if err := checkExecutable(l.Path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	return &Binary{Path: l.Path, Args: mergeArgs(baseArgs, constrainedArgs)}, nil
}

func NewLocator(kind string, path string) (Locator, error) {
	switch kind {
	case "", "host":
		return NewHostLocator(path), nil
	case "packaged":
		return NewPackagedLocator(path), nil
	}
	return nil, fmt.Errorf("unknown engine locator: %s", kind)
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
