// Package diffusion implements text-to-image generation against a Stable
// Diffusion WebUI compatible HTTP API, streaming sampling progress while the
// render is in flight.
package diffusion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modalmux/modalmux/internal/domain"
)

const (
	defaultWidth        = 512
	defaultHeight       = 512
	defaultSteps        = 6
	defaultPollInterval = 500 * time.Millisecond
)

// Provider renders images through an A1111-style API.
type Provider struct {
	baseURL      string
	httpClient   *http.Client
	outputDir    string
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	generated map[string]string // ref -> file path
}

// Config configures the diffusion provider.
type Config struct {
	BaseURL   string
	OutputDir string

	// PollInterval controls how often sampling progress is sampled.
	PollInterval time.Duration

	Logger *slog.Logger
}

// New creates a diffusion provider, creating the output directory if needed.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("diffusion: base URL is required")
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("diffusion: output dir is required")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("diffusion: creating output dir: %w", err)
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: 10 * time.Minute},
		outputDir:    cfg.OutputDir,
		pollInterval: poll,
		logger:       logger,
		now:          time.Now,
		generated:    make(map[string]string),
	}, nil
}

// Name identifies the provider in logs and errors.
func (p *Provider) Name() string { return "diffusion" }

type txt2imgRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
	Seed           int64  `json:"seed"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

type progressResponse struct {
	Progress float64 `json:"progress"`
	State    struct {
		SamplingStep  int `json:"sampling_step"`
		SamplingSteps int `json:"sampling_steps"`
	} `json:"state"`
	CurrentImage string `json:"current_image"`
}

type renderResult struct {
	data []byte
	err  error
}

// Generate streams progress ticks while the upstream renders, then the final
// image written under the output dir.
func (p *Provider) Generate(ctx context.Context, req domain.GenerateRequest) (<-chan domain.GenChunk, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, domain.ErrInvalidRequest("empty generation prompt")
	}
	if req.Width <= 0 {
		req.Width = defaultWidth
	}
	if req.Height <= 0 {
		req.Height = defaultHeight
	}
	if req.Steps <= 0 {
		req.Steps = defaultSteps
	}

	var seed int64
	if req.Seed != nil {
		seed = *req.Seed
	} else {
		seed = p.now().UnixMilli() % (1 << 32)
	}

	chunks := make(chan domain.GenChunk)
	go p.run(ctx, req, seed, chunks)
	return chunks, nil
}

func (p *Provider) run(ctx context.Context, req domain.GenerateRequest, seed int64, chunks chan<- domain.GenChunk) {
	defer close(chunks)

	resultCh := make(chan renderResult, 1)
	go func() {
		data, err := p.txt2img(ctx, req, seed)
		resultCh <- renderResult{data: data, err: err}
	}()

	if !p.send(ctx, chunks, domain.GenChunk{Step: 0, Total: req.Steps}) {
		return
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	lastStep := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prog, err := p.pollProgress(ctx)
			if err != nil {
				// The final result is authoritative. A failed poll only
				// costs a progress tick.
				continue
			}
			if prog.State.SamplingStep > lastStep {
				lastStep = prog.State.SamplingStep
				chunk := domain.GenChunk{Step: lastStep, Total: req.Steps}
				if prog.CurrentImage != "" {
					chunk.Preview = "data:image/png;base64," + prog.CurrentImage
				}
				if !p.send(ctx, chunks, chunk) {
					return
				}
			}
		case res := <-resultCh:
			if res.err != nil {
				p.send(ctx, chunks, domain.GenChunk{Err: res.err})
				return
			}
			image, err := p.saveImage(res.data, seed)
			if err != nil {
				p.send(ctx, chunks, domain.GenChunk{Err: err})
				return
			}
			p.send(ctx, chunks, domain.GenChunk{Step: req.Steps, Total: req.Steps, Image: image})
			return
		}
	}
}

func (p *Provider) txt2img(ctx context.Context, req domain.GenerateRequest, seed int64) ([]byte, error) {
	body, err := json.Marshal(txt2imgRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		Seed:           seed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/sdapi/v1/txt2img", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out txt2imgResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Images) == 0 {
		return nil, fmt.Errorf("upstream returned no images")
	}
	data, err := base64.StdEncoding.DecodeString(out.Images[0])
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return data, nil
}

func (p *Provider) pollProgress(ctx context.Context) (*progressResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/sdapi/v1/progress", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("progress returned %d", resp.StatusCode)
	}
	var prog progressResponse
	if err := json.NewDecoder(resp.Body).Decode(&prog); err != nil {
		return nil, err
	}
	return &prog, nil
}

func (p *Provider) saveImage(data []byte, seed int64) (*domain.GeneratedImage, error) {
	filename := fmt.Sprintf("gen_%d_%d.png", p.now().Unix(), seed)
	path := filepath.Join(p.outputDir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing image: %w", err)
	}

	ref := "gen_" + uuid.New().String()
	p.mu.Lock()
	p.generated[ref] = path
	p.mu.Unlock()

	p.logger.Debug("saved generated image", "ref", ref, "file", filename, "seed", seed)
	return &domain.GeneratedImage{Ref: ref, Seed: seed, Filename: filename}, nil
}

// Release deletes a generated image file. Unknown refs are stale.
func (p *Provider) Release(ctx context.Context, imageRef string) error {
	p.mu.Lock()
	path, ok := p.generated[imageRef]
	if ok {
		delete(p.generated, imageRef)
	}
	p.mu.Unlock()

	if !ok {
		return domain.ErrStaleImageRef(imageRef)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("diffusion: removing %s: %w", path, err)
	}
	return nil
}

// ImagePath resolves a ref to its file on disk, for transports that serve
// generated images over HTTP.
func (p *Provider) ImagePath(imageRef string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, ok := p.generated[imageRef]
	return path, ok
}

func (p *Provider) send(ctx context.Context, ch chan<- domain.GenChunk, chunk domain.GenChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
