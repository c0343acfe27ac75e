// Package config loads the orchestrator configuration from a YAML file and
// MODALMUX_-prefixed environment variables, with env taking precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/modalmux/modalmux/internal/intent"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Chat    ChatConfig    `koanf:"chat"`
	Vision  VisionConfig  `koanf:"vision"`
	Image   ImageConfig   `koanf:"image"`
	Intent  IntentConfig  `koanf:"intent"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// ChatConfig points at the OpenAI-compatible endpoint serving the chat
// model (a llama.cpp server in the default deployment).
type ChatConfig struct {
	BaseURL        string `koanf:"base_url"`
	Model          string `koanf:"model"`
	MaxTokens      int    `koanf:"max_tokens"`
	ContextTokens  int    `koanf:"context_tokens"`
	EnableThinking bool   `koanf:"enable_thinking"`
}

type VisionConfig struct {
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	UploadDir string `koanf:"upload_dir"`
}

type ImageConfig struct {
	BaseURL        string `koanf:"base_url"`
	OutputDir      string `koanf:"output_dir"`
	Width          int    `koanf:"width"`
	Height         int    `koanf:"height"`
	Steps          int    `koanf:"steps"`
	NegativePrompt string `koanf:"negative_prompt"`
}

type IntentConfig struct {
	// Triggers replaces the built-in generation-trigger lexicon when set.
	Triggers []intent.Trigger `koanf:"triggers"`
}

// Triggers returns the configured lexicon, falling back to the default.
func (c *Config) Triggers() []intent.Trigger {
	if len(c.Intent.Triggers) > 0 {
		return c.Intent.Triggers
	}
	return intent.DefaultTriggers()
}

// Load reads configuration. An empty path or a missing file is not an
// error; defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	setDefaults(k)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("MODALMUX_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "MODALMUX_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	k.Set("server.port", 8000)
	k.Set("storage.type", "memory")
	k.Set("storage.sqlite.path", "./data/modalmux.db")
	k.Set("chat.base_url", "http://127.0.0.1:8080/v1")
	k.Set("chat.model", "qwen3")
	k.Set("chat.max_tokens", 2048)
	k.Set("chat.context_tokens", 4096)
	k.Set("chat.enable_thinking", true)
	k.Set("vision.base_url", "http://127.0.0.1:8081/v1")
	k.Set("vision.model", "qwen2.5-vl")
	k.Set("vision.upload_dir", "./uploads")
	k.Set("image.base_url", "http://127.0.0.1:7860")
	k.Set("image.output_dir", "./outputs")
	k.Set("image.width", 512)
	k.Set("image.height", 512)
	k.Set("image.steps", 6)
}
