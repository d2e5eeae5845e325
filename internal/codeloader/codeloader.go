// Package codeloader makes user code available to the resolver. It accepts
// a list of paths, each of which may be:
//
//   - a module file: a Go plugin (.so) or a shell module (.sh), loaded
//     immediately and registered under its file stem
//   - an archive (.zip, .tar.gz, .tgz, .tar) whose content matches its
//     suffix, expanded into the sibling directory named after it, which
//     then joins the search path
//   - a directory, which joins the search path as is
//   - an s3:// object, fetched into the local cache first when an object
//     store is configured
//
// Anything else is logged and skipped. The search path and the module table
// are process-wide and only grow.
package codeloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/metrics"
	"github.com/oriys/fnbridge/internal/observability"
	"github.com/oriys/fnbridge/internal/pkg/crypto"
)

// Fetcher downloads a remote code bundle into dir and returns the local path.
type Fetcher interface {
	Fetch(ctx context.Context, uri, dir string) (string, error)
}

// Loader runs path lists against a search path and a module table.
type Loader struct {
	path     *SearchPath
	modules  *Modules
	fetcher  Fetcher
	fetchDir string

	expand singleflight.Group
}

type Option func(*Loader)

// WithSearchPath replaces the process-wide search path, for tests.
func WithSearchPath(p *SearchPath) Option {
	return func(l *Loader) { l.path = p }
}

// WithModules replaces the process-wide module table, for tests.
func WithModules(m *Modules) Option {
	return func(l *Loader) { l.modules = m }
}

// WithFetcher enables remote paths. Fetched bundles are stored under dir.
func WithFetcher(f Fetcher, dir string) Option {
	return func(l *Loader) {
		l.fetcher = f
		l.fetchDir = dir
	}
}

func New(opts ...Option) *Loader {
	l := &Loader{
		path:    DefaultSearchPath(),
		modules: DefaultModules(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.fetchDir == "" {
		l.fetchDir = filepath.Join(os.TempDir(), "fnbridge-fetch")
	}
	return l
}

var defaultLoader = New()

// Default returns the loader bound to the process-wide state.
func Default() *Loader {
	return defaultLoader
}

// SetDefault replaces the process-wide loader, typically to install a
// fetcher at startup.
func SetDefault(l *Loader) {
	defaultLoader = l
}

func (l *Loader) SearchPath() *SearchPath { return l.path }

func (l *Loader) Modules() *Modules { return l.modules }

// MakeImportable processes paths in order and returns the candidate
// directories it derived from them. Candidates that exist are appended to
// the search path. Unusable entries are skipped; only failures of a
// supported entry are returned.
func (l *Loader) MakeImportable(ctx context.Context, paths []string) ([]string, error) {
	ctx, span := observability.StartSpan(ctx, "codeloader.make_importable",
		observability.AttrPathCount.Int(len(paths)))
	defer span.End()

	log := logging.Op()
	if cwd, err := os.Getwd(); err == nil {
		log.Debug("locating code", "cwd", cwd, "paths", paths)
	}

	var candidates []string
	for _, raw := range paths {
		p, err := l.localize(ctx, raw)
		if err != nil {
			observability.SetSpanError(span, err)
			return candidates, err
		}
		if p == "" {
			continue
		}

		fi, err := os.Stat(p)
		switch {
		case err != nil:
			// Not there yet; it only joins the search path if it appears.
			candidates = append(candidates, p)
			log.Debug("path does not exist", "path", p)
		case fi.IsDir():
			candidates = append(candidates, p)
			log.Debug("add dir to search path", "path", p)
		case IsModuleFile(p):
			if _, err := l.modules.Load(ctx, p); err != nil {
				observability.SetSpanError(span, err)
				return candidates, fmt.Errorf("load module %s: %w", p, err)
			}
			log.Info("imported module file", "path", p)
		default:
			typ, dir, ok := DetectArchive(p)
			if !ok {
				log.Warn("path not supported, skipped", "path", p)
				continue
			}
			if err := l.expandOnce(p, dir, typ); err != nil {
				observability.SetSpanError(span, err)
				return candidates, err
			}
			candidates = append(candidates, dir)
			log.Debug("add dir to search path", "path", dir, "archive", p)
		}
	}

	log.Debug("search path before", "entries", l.path.Entries())
	var existing []string
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			existing = append(existing, c)
		}
	}
	l.path.Append(existing...)
	log.Debug("search path after", "entries", l.path.Entries())
	observability.SetSpanOK(span)
	return candidates, nil
}

// localize cleans a path and downloads remote ones. An empty result means
// the entry is skipped.
func (l *Loader) localize(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	if !strings.Contains(raw, "://") {
		return filepath.Clean(raw), nil
	}
	if l.fetcher == nil {
		logging.Op().Warn("remote path skipped, no object store configured", "path", raw)
		return "", nil
	}
	local, err := l.fetcher.Fetch(ctx, raw, l.fetchDir)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", raw, err)
	}
	logging.Op().Info("fetched remote code", "uri", raw, "path", local)
	return filepath.Clean(local), nil
}

// expandOnce extracts an archive into dir. Concurrent requests for the same
// dir share one extraction, and other processes are kept out by a lock file
// kept under the fetch directory.
func (l *Loader) expandOnce(src, dir string, typ ArchiveType) error {
	_, err, _ := l.expand.Do(dir, func() (any, error) {
		lock, err := l.lockPath(dir)
		if err != nil {
			return nil, err
		}
		unlock, err := lockFile(lock)
		if err != nil {
			return nil, err
		}
		defer unlock()

		n, err := ExtractArchive(src, dir, typ)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", src, err)
		}
		metrics.RecordArchiveExpanded()
		logging.Op().Info("archive expanded", "archive", src, "dir", dir, "files", n)
		return nil, nil
	})
	return err
}

func (l *Loader) lockPath(dir string) (string, error) {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	locks := filepath.Join(l.fetchDir, "locks")
	if err := os.MkdirAll(locks, 0o755); err != nil {
		return "", fmt.Errorf("create lock dir: %w", err)
	}
	return filepath.Join(locks, crypto.HashString(dir)+".lock"), nil
}

// MakeImportable runs paths through the process-wide loader.
func MakeImportable(ctx context.Context, paths []string) ([]string, error) {
	return Default().MakeImportable(ctx, paths)
}
