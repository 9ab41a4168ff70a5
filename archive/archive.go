// Package archive reads Badger optimization runs from the filesystem
// archive Badger maintains. Each run is one YAML file named
// BadgerOpt-<timestamp>.yaml, nested at any depth under the archive
// root. The archive is otter's badger_archive data source.
package archive

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/als-computing/otter/contexts"
)

// runPattern matches Badger run files at any depth under the root.
const runPattern = "**/BadgerOpt-*.yaml"

// DefaultQueryLimit bounds query results when the caller does not set a
// limit.
const DefaultQueryLimit = 20

// Archive is the Badger runs data source. Runs are loaded lazily on the
// first query and cached; Watch invalidates the cache when the archive
// changes on disk.
type Archive struct {
	root   string
	logger *slog.Logger

	queryLimit int

	mu     sync.Mutex
	runs   []*contexts.BadgerRun
	loaded bool
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the archive's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) { a.logger = logger }
}

// WithQueryLimit overrides the default result cap for queries that set
// no limit.
func WithQueryLimit(n int) Option {
	return func(a *Archive) {
		if n > 0 {
			a.queryLimit = n
		}
	}
}

// New creates an archive rooted at dir.
func New(dir string, opts ...Option) *Archive {
	a := &Archive{
		root:       dir,
		logger:     slog.Default(),
		queryLimit: DefaultQueryLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements capability.DataSource.
func (a *Archive) Name() string { return "badger_archive" }

// Description implements capability.DataSource.
func (a *Archive) Description() string {
	return "Badger optimization runs archive with health monitoring"
}

// Root returns the archive root directory.
func (a *Archive) Root() string { return a.root }

// HealthCheck verifies the archive root is a readable directory holding
// at least one run file. An archive with nothing to query cannot serve
// the pipeline.
func (a *Archive) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(a.root)
	if err != nil {
		return fmt.Errorf("archive root %s: %w", a.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive root %s is not a directory", a.root)
	}
	paths, err := doublestar.Glob(os.DirFS(a.root), runPattern)
	if err != nil {
		return fmt.Errorf("scanning archive root %s: %w", a.root, err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("archive root %s has no run files", a.root)
	}
	return nil
}

// Query returns runs matching the filters, newest first unless the
// filters request oldest-first.
func (a *Archive) Query(ctx context.Context, filters contexts.RunQueryFilters) (*contexts.BadgerRuns, error) {
	runs, err := a.load(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*contexts.BadgerRun, 0, len(runs))
	for _, run := range runs {
		if matches(run, filters) {
			matched = append(matched, run)
		}
	}

	oldest := filters.Sort == contexts.SortOldestFirst
	sort.SliceStable(matched, func(i, j int) bool {
		if oldest {
			return matched[i].StartedAt.Before(matched[j].StartedAt)
		}
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	limit := filters.Limit
	if limit <= 0 {
		limit = a.queryLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	f := filters
	return &contexts.BadgerRuns{
		Runs:        matched,
		Query:       &f,
		RetrievedAt: time.Now().UTC(),
	}, nil
}

// Run returns a single run by name.
func (a *Archive) Run(ctx context.Context, name string) (*contexts.BadgerRun, error) {
	runs, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if run.RunName == name {
			return run, nil
		}
	}
	return nil, fmt.Errorf("run %q not found in archive", name)
}

// Beamlines returns the distinct beamlines present in the archive,
// sorted.
func (a *Archive) Beamlines(ctx context.Context) ([]string, error) {
	runs, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, run := range runs {
		if run.Beamline != "" {
			seen[run.Beamline] = true
		}
	}
	out := make([]string, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Strings(out)
	return out, nil
}

// RunCount returns how many runs the archive currently holds.
func (a *Archive) RunCount(ctx context.Context) (int, error) {
	runs, err := a.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(runs), nil
}

// Invalidate drops the cached runs so the next query rereads the disk.
func (a *Archive) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loaded = false
	a.runs = nil
}

func (a *Archive) load(ctx context.Context) ([]*contexts.BadgerRun, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return a.runs, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paths, err := doublestar.Glob(os.DirFS(a.root), runPattern)
	if err != nil {
		return nil, fmt.Errorf("scanning archive: %w", err)
	}

	runs := make([]*contexts.BadgerRun, 0, len(paths))
	for _, rel := range paths {
		path := filepath.Join(a.root, filepath.FromSlash(rel))
		run, err := loadRunFile(a.root, path)
		if err != nil {
			// A single corrupt file must not take down the archive.
			a.logger.Warn("skipping unreadable run file", "path", rel, "error", err)
			continue
		}
		runs = append(runs, run)
	}

	a.runs = runs
	a.loaded = true
	a.logger.Debug("archive loaded", "root", a.root, "runs", len(runs))
	return runs, nil
}

// Watch invalidates the cache whenever run files change under the root.
// It watches the root and all nested directories, picking up directories
// created after the watch starts. Blocks until ctx is done.
func (a *Archive) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating archive watcher: %w", err)
	}
	defer watcher.Close()

	if err := addDirsRecursive(watcher, a.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addDirsRecursive(watcher, event.Name); err != nil {
						a.logger.Warn("watching new archive directory", "path", event.Name, "error", err)
					}
				}
			}
			if isRunFile(event.Name) || event.Op.Has(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				a.logger.Debug("archive changed", "path", event.Name, "op", event.Op.String())
				a.Invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("archive watcher error", "error", err)
		}
	}
}

func addDirsRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func isRunFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "BadgerOpt-") && strings.HasSuffix(base, ".yaml")
}

func matches(run *contexts.BadgerRun, f contexts.RunQueryFilters) bool {
	if f.Beamline != "" && !strings.EqualFold(run.Beamline, f.Beamline) {
		return false
	}
	if f.Algorithm != "" && !strings.EqualFold(run.Algorithm, f.Algorithm) {
		return false
	}
	if f.Objective != "" {
		found := false
		for _, obj := range run.Objectives {
			if strings.Contains(strings.ToLower(obj.Name), strings.ToLower(f.Objective)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && run.StartedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && run.StartedAt.After(*f.Until) {
		return false
	}
	return true
}
