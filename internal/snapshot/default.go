package snapshot

import (
	"sync"

	"github.com/creasty/defaults"

	"github.com/wonny/hedgefund/pkg/config"
	"github.com/wonny/hedgefund/pkg/logger"
)

// Options configures the process writer
type Options struct {
	Enabled bool
	Path    string `default:"data/snapshots"`
	Mode    Mode   `default:"sync"`
}

// OptionsFrom maps config onto Options, filling defaults for empty fields
func OptionsFrom(cfg config.SnapshotConfig) Options {
	opts := Options{Enabled: cfg.Enabled, Path: cfg.Path, Mode: Mode(cfg.Mode)}
	_ = defaults.Set(&opts)
	return opts
}

var (
	mu       sync.Mutex
	instance *Writer
)

// Init creates the process writer. It returns nil when snapshots are disabled.
func Init(cfg *config.Config, log *logger.Logger) *Writer {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return instance
	}
	opts := OptionsFrom(cfg.Snapshot)
	if !opts.Enabled {
		return nil
	}
	instance = NewWriter(opts.Path, opts.Mode, log)
	log.WithFields(map[string]interface{}{
		"path": opts.Path,
		"mode": opts.Mode,
	}).Info("Snapshot writer enabled")
	return instance
}

// Default returns the process writer or nil when none was initialized
func Default() *Writer {
	mu.Lock()
	defer mu.Unlock()
	return instance
}

// Close flushes and forgets the process writer
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if instance != nil {
		instance.Close()
		instance = nil
	}
}

// Reset forgets the process writer without flushing, for tests
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
}
