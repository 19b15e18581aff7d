package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"msixvcdl/internal/logger"
)

// Manager holds the loaded configuration and watches the config file for
// changes. Only cache settings are applied at runtime; everything else
// (ports, endpoints, credentials) requires a restart.
type Manager struct {
	cfg        *GlobalConfig
	mu         sync.RWMutex
	configPath string
	watcher    *fsnotify.Watcher
	watcherMu  sync.Mutex
	onChange   func(CacheSettings)
}

// NewManager creates a Manager around an already loaded and validated config.
func NewManager(configPath string, cfg *GlobalConfig) *Manager {
	return &Manager{
		cfg:        cfg,
		configPath: configPath,
	}
}

// Config returns the current configuration.
func (m *Manager) Config() *GlobalConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// CacheSettings returns the current cache settings.
func (m *Manager) CacheSettings() CacheSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Cache
}

// SetOnChange sets a callback invoked with the new cache settings after a
// successful reload.
func (m *Manager) SetOnChange(callback func(CacheSettings)) {
	m.onChange = callback
}

// Reload re-reads the configuration file and applies the cache settings.
// An invalid file leaves the current configuration untouched.
func (m *Manager) Reload() error {
	cfg, err := LoadGlobalConfig(m.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config on reload: %w", err)
	}

	m.mu.Lock()
	m.cfg.Cache = cfg.Cache
	m.cfg.Debug = cfg.Debug
	settings := m.cfg.Cache
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(settings)
	}
	return nil
}

// Watch starts watching the configuration file for changes.
// When changes are detected, it automatically reloads the cache settings.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	m.watcherMu.Lock()
	m.watcher = watcher
	m.watcherMu.Unlock()

	if err := watcher.Add(m.configPath); err != nil {
		m.closeWatcher()
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	go func() {
		defer m.closeWatcher()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write ||
					event.Op&fsnotify.Create == fsnotify.Create {
					// Small delay to ensure file write is complete
					time.Sleep(100 * time.Millisecond)
					if err := m.Reload(); err != nil {
						logger.Warn("Config reload error: %v", err)
					} else {
						logger.Info("Config reloaded: cache settings applied")
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Config watcher error: %v", err)
			}
		}
	}()

	return nil
}

// StopWatch stops watching the configuration file.
func (m *Manager) StopWatch() {
	m.closeWatcher()
}

func (m *Manager) closeWatcher() {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()
	if m.watcher != nil {
		m.watcher.Close()
		m.watcher = nil
	}
}
