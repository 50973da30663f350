// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/soothill/plant-feed/pkg/logger"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 250 * time.Millisecond

// Reload is the outcome of one reload attempt.
type Reload struct {
	Config *Config
	Error  error
}

// Watcher handles hot reloading of the configuration file. It reloads when
// the file changes on disk and when the process receives SIGHUP.
type Watcher struct {
	// Reloaded receives every reload attempt, successful or not.
	Reloaded chan Reload

	path     string
	debounce time.Duration
	fs       *fsnotify.Watcher
	sighup   chan os.Signal
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewWatcher creates a watcher for path and starts it.
func NewWatcher(path string) (*Watcher, error) {
	return newWatcher(path, DefaultDebounce)
}

func newWatcher(path string, debounce time.Duration) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors often replace the file rather than write it
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		Reloaded: make(chan Reload, 1),
		path:     absPath,
		debounce: debounce,
		fs:       fsw,
		sighup:   make(chan os.Signal, 1),
		done:     make(chan struct{}),
	}
	signal.Notify(w.sighup, syscall.SIGHUP)

	w.wg.Add(1)
	go w.watch()
	return w, nil
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() {
	w.once.Do(func() {
		signal.Stop(w.sighup)
		close(w.done)
		_ = w.fs.Close()
		w.wg.Wait()
	})
}

func (w *Watcher) watch() {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("Config file watcher error")

		case <-timer.C:
			logger.Info().Str("path", w.path).Msg("Config file changed, reloading configuration")
			w.reload()

		case <-w.sighup:
			logger.Info().Msg("SIGHUP received, reloading configuration")
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reload configuration")
	} else {
		logger.Info().Msg("Configuration reloaded successfully")
	}

	select {
	case w.Reloaded <- Reload{Config: cfg, Error: err}:
	case <-w.done:
	}
}
