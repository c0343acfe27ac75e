package runtime

import (
	"fmt"
	"log/slog"

	"github.com/modalmux/modalmux/internal/config"
	"github.com/modalmux/modalmux/internal/domain"
	"github.com/modalmux/modalmux/internal/storage"
	"github.com/modalmux/modalmux/internal/storage/memory"
	"github.com/modalmux/modalmux/internal/storage/sqlite"
)

// Option is a functional option for configuring an App.
type Option func(*App) error

// WithFileConfig loads configuration from the given YAML file and watches
// it for changes.
func WithFileConfig(path string) Option {
	return func(a *App) error {
		a.cfgProvider = config.NewProvider(path)
		return nil
	}
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithMemoryStore keeps conversations in process memory. History is lost on
// restart.
func WithMemoryStore() Option {
	return func(a *App) error {
		a.store = memory.New()
		return nil
	}
}

// WithSQLite persists conversations to a SQLite database at path,
// overriding the storage section of the config file.
func WithSQLite(path string) Option {
	return func(a *App) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.store = store
		return nil
	}
}

// WithStore injects a custom conversation store.
func WithStore(store storage.ConversationStore) Option {
	return func(a *App) error {
		a.store = store
		return nil
	}
}

// WithTextProvider injects a custom text chat provider, bypassing the
// config-built llama.cpp client.
func WithTextProvider(p domain.TextChatProvider) Option {
	return func(a *App) error {
		a.text = p
		return nil
	}
}

// WithVisionProvider injects a custom vision provider.
func WithVisionProvider(p domain.VisionProvider) Option {
	return func(a *App) error {
		a.vision = p
		return nil
	}
}

// WithImageGenProvider injects a custom image generation provider.
func WithImageGenProvider(p domain.ImageGenProvider) Option {
	return func(a *App) error {
		a.imageGen = p
		return nil
	}
}
