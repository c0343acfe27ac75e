package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Storage.Type = %q, want memory", cfg.Storage.Type)
	}
	if !cfg.Chat.EnableThinking {
		t.Error("Chat.EnableThinking = false, want true by default")
	}
	if cfg.Image.Steps != 6 {
		t.Errorf("Image.Steps = %d, want 6", cfg.Image.Steps)
	}
	if len(cfg.Triggers()) == 0 {
		t.Error("Triggers() is empty, want the default lexicon")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9000
storage:
  type: sqlite
  sqlite:
    path: /tmp/test.db
intent:
  triggers:
    - prefix: "sketch "
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.SQLite.Path != "/tmp/test.db" {
		t.Errorf("Storage = %+v, want sqlite at /tmp/test.db", cfg.Storage)
	}
	triggers := cfg.Triggers()
	if len(triggers) != 1 || triggers[0].Prefix != "sketch " {
		t.Errorf("Triggers() = %+v, want the configured lexicon only", triggers)
	}
	// Untouched sections keep defaults.
	if cfg.Chat.MaxTokens != 2048 {
		t.Errorf("Chat.MaxTokens = %d, want default 2048", cfg.Chat.MaxTokens)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MODALMUX_SERVER_PORT", "9100")
	t.Setenv("MODALMUX_CHAT_MODEL", "qwen3-14b")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Chat.Model != "qwen3-14b" {
		t.Errorf("Chat.Model = %q, want qwen3-14b", cfg.Chat.Model)
	}
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want default 8000", cfg.Server.Port)
	}
}

func TestWatch_MissingFileDisablesReload(t *testing.T) {
	p := NewProvider(filepath.Join(t.TempDir(), "nope.yaml"))

	// With no file there is nothing to watch; Watch must return cleanly
	// instead of failing or blocking until the context ends.
	err := p.Watch(context.Background(), func(*Config) {
		t.Error("onChange fired without a config file")
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
}
