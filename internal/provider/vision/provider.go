// Package vision implements visual question answering on top of a served
// vision-language model's OpenAI-compatible API. It also owns the uploaded
// image files that questions refer to.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/modalmux/modalmux/internal/domain"
	"github.com/modalmux/modalmux/internal/provider/openaichat"
)

const systemPrompt = "你是一个图像理解助手。仔细观察图片，用用户提问的语言准确回答关于图片的问题。"

// Provider answers questions about uploaded images.
type Provider struct {
	client    *openaichat.Client
	model     string
	uploadDir string
	logger    *slog.Logger

	mu     sync.Mutex
	images map[string]storedImage
}

type storedImage struct {
	path     string
	filename string
}

// Config configures the vision provider.
type Config struct {
	BaseURL   string
	Model     string
	UploadDir string
	Logger    *slog.Logger
}

// New creates a vision provider, creating the upload directory if needed.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vision: base URL is required")
	}
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("vision: upload dir is required")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("vision: creating upload dir: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client:    openaichat.NewClient(cfg.BaseURL),
		model:     cfg.Model,
		uploadDir: cfg.UploadDir,
		logger:    logger,
		images:    make(map[string]storedImage),
	}, nil
}

// Name identifies the provider in logs and errors.
func (p *Provider) Name() string { return "vision" }

// StoreImage writes uploaded bytes under the upload dir and returns an
// opaque ref for later questions.
func (p *Provider) StoreImage(ctx context.Context, data []byte, filename string) (*domain.ImageInfo, error) {
	if len(data) == 0 {
		return nil, domain.ErrInvalidRequest("empty image upload")
	}

	ref := "img_" + uuid.New().String()
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".png"
	}
	path := filepath.Join(p.uploadDir, ref+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("vision: writing upload: %w", err)
	}

	p.mu.Lock()
	p.images[ref] = storedImage{path: path, filename: filename}
	p.mu.Unlock()

	p.logger.Debug("stored uploaded image", "ref", ref, "bytes", len(data))
	return &domain.ImageInfo{Ref: ref, Filename: filename}, nil
}

// Release deletes a stored image. Releasing an unknown ref is a stale ref
// error so callers can distinguish double release from success.
func (p *Provider) Release(ctx context.Context, imageRef string) error {
	p.mu.Lock()
	img, ok := p.images[imageRef]
	if ok {
		delete(p.images, imageRef)
	}
	p.mu.Unlock()

	if !ok {
		return domain.ErrStaleImageRef(imageRef)
	}
	if err := os.Remove(img.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vision: removing %s: %w", img.path, err)
	}
	return nil
}

// Ask streams the model's answer to a question about a stored image.
func (p *Provider) Ask(ctx context.Context, imageRef string, history []domain.Message, question string) (<-chan domain.ChatChunk, error) {
	p.mu.Lock()
	img, ok := p.images[imageRef]
	p.mu.Unlock()
	if !ok {
		return nil, domain.ErrStaleImageRef(imageRef)
	}

	dataURL, err := p.encodeImage(img)
	if err != nil {
		return nil, err
	}

	messages := []openaichat.ChatMessage{{Role: "system", Content: systemPrompt}}
	for _, msg := range history {
		// Prior image turns are replayed as text only. Re-sending pixels for
		// every turn would blow the context window.
		if msg.Text != "" {
			messages = append(messages, openaichat.ChatMessage{Role: msg.Role(), Content: msg.Text})
		}
	}
	messages = append(messages, openaichat.ChatMessage{
		Role: "user",
		Content: []openaichat.ContentPart{
			{Type: "image_url", ImageURL: &openaichat.ImageURL{URL: dataURL}},
			{Type: "text", Text: question},
		},
	})

	results, err := p.client.StreamChatCompletion(ctx, openaichat.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan domain.ChatChunk)
	go func() {
		defer close(chunks)
		for res := range results {
			if res.Err != nil {
				select {
				case chunks <- domain.ChatChunk{Err: res.Err}:
				case <-ctx.Done():
				}
				return
			}
			for _, choice := range res.Chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case chunks <- domain.ChatChunk{ResponseDelta: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return chunks, nil
}

func (p *Provider) encodeImage(img storedImage) (string, error) {
	data, err := os.ReadFile(img.path)
	if err != nil {
		return "", fmt.Errorf("vision: reading %s: %w", img.path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(img.path))
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
