package config

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of fsnotify events an editor or
// configmap update produces into a single reload.
const reloadDebounce = 500 * time.Millisecond

// Manager owns the live configuration. Readers get lock-free access through
// an atomic pointer; reloads swap the whole Config at once so a handler never
// observes a half-applied file.
type Manager struct {
	config   atomic.Pointer[Config]
	checksum atomic.Pointer[[sha256.Size]byte]
	path     string
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	logger   *slog.Logger
}

// NewManager loads the configuration file and returns a manager for it.
// A file that fails to load or validate is fatal here; once running, reload
// failures only log.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		path:   path,
		logger: logger,
	}
	m.config.Store(cfg)
	m.storeChecksum()

	return m, nil
}

// Get returns the current configuration.
// This is safe to call concurrently from multiple goroutines.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Path returns the watched configuration file path.
func (m *Manager) Path() string {
	return m.path
}

// OnChange registers a callback invoked after a successful reload.
// Not safe to call once Watch has started.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Watch starts watching for configuration changes until ctx is done.
// The parent directory is watched rather than the file itself: editors and
// orchestrators typically replace config files by rename, which would
// silently detach a watch on the old inode.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, m.reload)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

func (m *Manager) reload() {
	// Touches without content changes (chmod, idempotent rewrites) are
	// common; skip them so OnChange callbacks only fire on real edits.
	if !m.storeChecksum() {
		return
	}

	newCfg, err := LoadFromFile(m.path)
	if err != nil {
		m.logger.Error("failed to reload config, keeping current", "error", err)
		return
	}

	m.config.Store(newCfg)
	m.logger.Info("configuration reloaded", "path", m.path)

	for _, fn := range m.onChange {
		fn(newCfg)
	}
}

// storeChecksum records the current file checksum and reports whether it
// differs from the previous one. Read errors count as changed so the reload
// path surfaces them.
func (m *Manager) storeChecksum() bool {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return true
	}
	sum := sha256.Sum256(data)

	prev := m.checksum.Swap(&sum)
	return prev == nil || *prev != sum
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
