package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Provider reloads configuration when the backing file changes.
type Provider struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current *Config
}

// NewProvider creates a file-backed config provider.
func NewProvider(path string) *Provider {
	return &Provider{
		path:   path,
		logger: slog.Default(),
	}
}

// Load loads (or reloads) the configuration.
func (p *Provider) Load() (*Config, error) {
	cfg, err := Load(p.path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.current = cfg
	p.mu.Unlock()

	return cfg, nil
}

// Current returns the most recently loaded configuration.
func (p *Provider) Current() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Watch watches the config file and calls onChange with each successfully
// reloaded configuration. It blocks until ctx is cancelled.
func (p *Provider) Watch(ctx context.Context, onChange func(*Config)) error {
	// Load tolerates a missing file; the watch does too. There is nothing
	// to observe, so hot-reload is simply off for this run.
	if _, err := os.Stat(p.path); os.IsNotExist(err) {
		p.logger.Info("config file absent, hot-reload disabled", slog.String("path", p.path))
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(p.path); err != nil {
		return fmt.Errorf("watch %s: %w", p.path, err)
	}

	p.logger.Info("watching config file for changes", slog.String("path", p.path))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}

			p.logger.Info("config file changed, reloading", slog.String("path", event.Name))
			cfg, err := p.Load()
			if err != nil {
				p.logger.Error("failed to reload config",
					slog.String("path", p.path),
					slog.String("error", err.Error()))
				continue
			}
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Error("config watch error", slog.String("error", err.Error()))
		}
	}
}
