// Package watch regenerates scenarios when story files change.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// OutputSuffix marks generated scenario files, which are never treated as
// stories.
const OutputSuffix = ".scenarios"

// Config controls which files are watched and how changes are batched.
type Config struct {
	// Debounce is the quiet period after the last change before handling.
	Debounce time.Duration `yaml:"debounce"`
	// Extensions lists story file extensions.
	Extensions []string `yaml:"extensions"`
	// ExcludeDirs lists directory names that are never watched.
	ExcludeDirs []string `yaml:"exclude_dirs"`
	// Initial handles every existing story file once at startup.
	Initial bool `yaml:"initial"`
}

// DefaultConfig returns the default watch configuration.
func DefaultConfig() Config {
	return Config{
		Debounce:    500 * time.Millisecond,
		Extensions:  []string{".md", ".txt", ".story"},
		ExcludeDirs: []string{".git", "node_modules", "vendor"},
	}
}

// Handler processes one changed story file.
type Handler func(ctx context.Context, path string) error

// Watcher watches a story file or a directory tree. Changes are debounced,
// filtered by content hash, and handed to the handler one at a time.
type Watcher struct {
	root       string
	single     string
	config     Config
	handler    Handler
	logger     *slog.Logger
	extensions map[string]bool
	excludes   map[string]bool
	hashes     map[string]string
	pending    map[string]bool
}

// New creates a watcher for root, which may be a file or a directory.
func New(root string, cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultConfig().Extensions
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	w := &Watcher{
		root:       root,
		config:     cfg,
		handler:    handler,
		logger:     logger,
		extensions: make(map[string]bool),
		excludes:   make(map[string]bool),
		hashes:     make(map[string]string),
		pending:    make(map[string]bool),
	}
	if !info.IsDir() {
		w.single = filepath.Clean(root)
		w.root = filepath.Dir(root)
	}
	for _, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		w.extensions[strings.ToLower(ext)] = true
	}
	for _, dir := range cfg.ExcludeDirs {
		w.excludes[dir] = true
	}
	return w, nil
}

// Run watches until ctx is cancelled. Handler errors are logged and do not
// stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}
	w.logger.Info("Watching stories", "root", w.root, "debounce", w.config.Debounce)

	if w.config.Initial {
		if err := w.seed(); err != nil {
			return err
		}
		w.flush(ctx)
	}

	timer := time.NewTimer(w.config.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.observe(fsw, ev) {
				timer.Reset(w.config.Debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", "error", err)

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// observe records ev and reports whether it is a story change.
func (w *Watcher) observe(fsw *fsnotify.Watcher, ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Create) && w.single == "" {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(fsw, ev.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", ev.Name, "error", err)
			}
			return false
		}
	}
	if !w.isStory(ev.Name) {
		return false
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		delete(w.hashes, ev.Name)
		delete(w.pending, ev.Name)
		w.logger.Debug("Story removed", "path", ev.Name)
		return false
	}
	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
		w.pending[ev.Name] = true
		return true
	}
	return false
}

// flush hands every pending path whose content changed to the handler.
func (w *Watcher) flush(ctx context.Context) {
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	clear(w.pending)

	for _, path := range paths {
		if ctx.Err() != nil {
			return
		}
		content, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			w.logger.Warn("Failed to read story", "path", path, "error", err)
			continue
		}
		sum := sha256.Sum256(content)
		hash := hex.EncodeToString(sum[:])
		if w.hashes[path] == hash {
			continue
		}
		w.hashes[path] = hash

		if err := w.handler(ctx, path); err != nil {
			w.logger.Warn("Failed to regenerate scenarios", "path", path, "error", err)
		}
	}
}

func (w *Watcher) seed() error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.root && w.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.isStory(path) {
			w.pending[path] = true
		}
		return nil
	})
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	if w.single != "" {
		return fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) skipDir(name string) bool {
	return w.excludes[name] || strings.HasPrefix(name, ".")
}

func (w *Watcher) isStory(path string) bool {
	if w.single != "" {
		return filepath.Clean(path) == w.single
	}
	ext := filepath.Ext(path)
	if strings.HasSuffix(strings.TrimSuffix(path, ext), OutputSuffix) {
		return false
	}
	return w.extensions[strings.ToLower(ext)]
}
