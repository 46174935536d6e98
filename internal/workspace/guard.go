// Package workspace provides scoped ownership of filesystem paths.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
)

// Guard owns a file or directory and removes it on Release unless kept.
//
// Typical use:
//
//	g := workspace.Acquire(path)
//	defer g.Release()
//	... build path ...
//	g.Keep()
type Guard struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	keep     bool
	released bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithoutCleanup keeps the path on release.
func WithoutCleanup() Option {
	return func(g *Guard) { g.keep = true }
}

// WithLogger sets the logger used to report removal failures.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// Acquire takes ownership of path.
func Acquire(path string, opts ...Option) *Guard {
	g := &Guard{path: path, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Path returns the guarded path.
func (g *Guard) Path() string {
	return g.path
}

// Keep cancels removal.
func (g *Guard) Keep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keep = true
}

// Release removes the path unless Keep was called. It is safe to call more than once.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return nil
	}
	g.released = true
	if g.keep || g.path == "" {
		return nil
	}

	if err := os.RemoveAll(g.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		g.logger.Warn("failed to clean up", "path", g.path, "error", err)
		return fmt.Errorf("failed to remove %s: %w", g.path, err)
	}
	g.logger.Debug("cleaned up", "path", g.path)
	return nil
}
