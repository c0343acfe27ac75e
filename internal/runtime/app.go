// Package runtime assembles the chat service: configuration, storage,
// capability providers, orchestrator, and HTTP server, with lifecycle
// management for embedding or standalone use.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modalmux/modalmux/internal/config"
	"github.com/modalmux/modalmux/internal/domain"
	"github.com/modalmux/modalmux/internal/intent"
	"github.com/modalmux/modalmux/internal/orchestrator"
	"github.com/modalmux/modalmux/internal/provider/diffusion"
	"github.com/modalmux/modalmux/internal/provider/llamacpp"
	"github.com/modalmux/modalmux/internal/provider/vision"
	"github.com/modalmux/modalmux/internal/server"
	"github.com/modalmux/modalmux/internal/storage"
	"github.com/modalmux/modalmux/internal/storage/memory"
	"github.com/modalmux/modalmux/internal/storage/sqlite"
)

// App is the assembled chat service. Construct it with New, then Start it.
// Dependencies left unset by options are built from config at Start.
type App struct {
	cfgProvider *config.Provider
	store       storage.ConversationStore
	text        domain.TextChatProvider
	vision      domain.VisionProvider
	imageGen    domain.ImageGenProvider
	logger      *slog.Logger

	orch   *orchestrator.Orchestrator
	server *server.Server

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates an App with the given options. Without WithFileConfig the
// default "config.yaml" is used; a missing file falls back to defaults.
func New(opts ...Option) (*App, error) {
	app := &App{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if app.cfgProvider == nil {
		app.cfgProvider = config.NewProvider("config.yaml")
	}
	return app, nil
}

// Start loads config, builds the missing pieces, and starts serving.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ctx, a.cancel = context.WithCancel(ctx)

	cfg, err := a.cfgProvider.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := a.buildStore(cfg); err != nil {
		return err
	}
	if err := a.buildProviders(cfg); err != nil {
		return err
	}

	a.orch = orchestrator.New(orchestrator.Config{
		Store:          a.store,
		Text:           a.text,
		Vision:         a.vision,
		ImageGen:       a.imageGen,
		Classifier:     intent.New(cfg.Triggers()),
		Logger:         a.logger,
		EnableThinking: cfg.Chat.EnableThinking,
		ImageDefaults: orchestrator.ImageDefaults{
			Width:          cfg.Image.Width,
			Height:         cfg.Image.Height,
			Steps:          cfg.Image.Steps,
			NegativePrompt: cfg.Image.NegativePrompt,
		},
	})

	a.server = server.New(cfg.Server.Port, a.logger)
	handler := server.NewHandler(a.orch, a.vision, cfg.Image.OutputDir, a.logger)
	handler.Routes(a.server.Router)

	go func() {
		if err := a.server.Start(); err != nil {
			a.logger.Error("server failed", slog.String("error", err.Error()))
			a.cancel()
		}
	}()
	go a.watchConfig()

	a.logger.Info("service started",
		slog.Int("port", cfg.Server.Port),
		slog.String("storage", cfg.Storage.Type))
	return nil
}

// Shutdown stops the server and releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shut down server", slog.String("error", err.Error()))
			return err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("failed to close store", slog.String("error", err.Error()))
		}
	}
	a.logger.Info("shutdown complete")
	return nil
}

// Orchestrator exposes the turn engine for in-process callers such as the
// CLI. Valid after Start.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orch
}

// Done is closed when the app stops, including server failure.
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return a.ctx.Done()
}

func (a *App) buildStore(cfg *config.Config) error {
	if a.store != nil {
		return nil
	}
	switch cfg.Storage.Type {
	case "", "memory":
		a.store = memory.New()
	case "sqlite":
		store, err := sqlite.New(cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.store = store
	default:
		return fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
	return nil
}

func (a *App) buildProviders(cfg *config.Config) error {
	if a.text == nil {
		text, err := llamacpp.New(llamacpp.Config{
			BaseURL:       cfg.Chat.BaseURL,
			Model:         cfg.Chat.Model,
			MaxTokens:     cfg.Chat.MaxTokens,
			ContextTokens: cfg.Chat.ContextTokens,
			Logger:        a.logger,
		})
		if err != nil {
			return fmt.Errorf("create text provider: %w", err)
		}
		a.text = text
	}
	if a.vision == nil {
		vis, err := vision.New(vision.Config{
			BaseURL:   cfg.Vision.BaseURL,
			Model:     cfg.Vision.Model,
			UploadDir: cfg.Vision.UploadDir,
			Logger:    a.logger,
		})
		if err != nil {
			return fmt.Errorf("create vision provider: %w", err)
		}
		a.vision = vis
	}
	if a.imageGen == nil {
		gen, err := diffusion.New(diffusion.Config{
			BaseURL:   cfg.Image.BaseURL,
			OutputDir: cfg.Image.OutputDir,
			Logger:    a.logger,
		})
		if err != nil {
			return fmt.Errorf("create diffusion provider: %w", err)
		}
		a.imageGen = gen
	}
	return nil
}

// watchConfig reloads the file on change. Provider endpoints are bound at
// Start; a changed file is logged so operators know a restart is needed for
// anything beyond the reloadable settings.
func (a *App) watchConfig() {
	onChange := func(cfg *config.Config) {
		a.logger.Info("config file changed",
			slog.Int("port", cfg.Server.Port),
			slog.String("storage", cfg.Storage.Type))
		a.logger.Warn("provider and server settings apply on restart")
	}
	if err := a.cfgProvider.Watch(a.ctx, onChange); err != nil && err != context.Canceled {
		a.logger.Error("config watch failed", slog.String("error", err.Error()))
	}
}
