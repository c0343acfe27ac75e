// Package llamacpp implements the text chat capability on top of a
// llama.cpp server's OpenAI-compatible API.
package llamacpp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tiktoken-go/tokenizer"

	"github.com/modalmux/modalmux/internal/domain"
	"github.com/modalmux/modalmux/internal/provider/openaichat"
)

const systemPrompt = "你是一个友好的中文助手，回答要简洁自然。用户使用什么语言提问，就用什么语言回答。"

// Per-message overhead used when budgeting history, matching the chat
// template framing tokens.
const tokensPerMessage = 4

// Provider streams chat completions from a llama.cpp server.
type Provider struct {
	client        *openaichat.Client
	model         string
	maxTokens     int
	contextTokens int
	codec         tokenizer.Codec
	logger        *slog.Logger
}

// Config configures the text provider.
type Config struct {
	BaseURL       string
	Model         string
	MaxTokens     int
	ContextTokens int
	Logger        *slog.Logger
}

// New creates a text provider. ContextTokens bounds how much conversation
// history is replayed to the model each turn.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llamacpp: base URL is required")
	}
	// The local models served here are not in tiktoken's registry, so a
	// fixed encoding is used for budgeting. Counts are approximate but
	// consistent, which is all truncation needs.
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("llamacpp: loading tokenizer: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client:        openaichat.NewClient(cfg.BaseURL),
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		contextTokens: cfg.ContextTokens,
		codec:         codec,
		logger:        logger,
	}, nil
}

// Name identifies the provider in logs and errors.
func (p *Provider) Name() string { return "llamacpp" }

// Respond streams the model's reply to text. Thinking segments are parsed
// out of the raw stream and surfaced as separate deltas.
func (p *Provider) Respond(ctx context.Context, history []domain.Message, text string, opts domain.ChatOptions) (<-chan domain.ChatChunk, error) {
	messages := p.buildMessages(history, text, opts)

	results, err := p.client.StreamChatCompletion(ctx, openaichat.ChatCompletionRequest{
		Model:     p.model,
		Messages:  messages,
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan domain.ChatChunk)
	go func() {
		defer close(chunks)
		splitter := newThinkSplitter()

		emit := func(thinking, response string) bool {
			if thinking != "" {
				if !send(ctx, chunks, domain.ChatChunk{ThinkingDelta: thinking}) {
					return false
				}
			}
			if response != "" {
				if !send(ctx, chunks, domain.ChatChunk{ResponseDelta: response}) {
					return false
				}
			}
			return true
		}

		for res := range results {
			if res.Err != nil {
				send(ctx, chunks, domain.ChatChunk{Err: res.Err})
				return
			}
			for _, choice := range res.Chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !emit(splitter.feed(choice.Delta.Content)) {
					return
				}
			}
		}
		emit(splitter.flush())
	}()
	return chunks, nil
}

func send(ctx context.Context, ch chan<- domain.ChatChunk, chunk domain.ChatChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Provider) buildMessages(history []domain.Message, text string, opts domain.ChatOptions) []openaichat.ChatMessage {
	system := systemPrompt
	if !opts.EnableThinking {
		// Qwen-style models skip the reasoning block when told to.
		system += " /no_think"
	}

	messages := []openaichat.ChatMessage{{Role: "system", Content: system}}
	for _, msg := range p.truncateHistory(history, text) {
		messages = append(messages, openaichat.ChatMessage{Role: msg.Role(), Content: historyText(msg)})
	}
	return append(messages, openaichat.ChatMessage{Role: "user", Content: text})
}

// truncateHistory drops the oldest messages until what remains, plus the new
// user text, fits the context token budget. Whole messages are dropped so a
// turn never enters the prompt half-paired.
func (p *Provider) truncateHistory(history []domain.Message, text string) []domain.Message {
	if p.contextTokens <= 0 {
		return history
	}
	budget := p.contextTokens - p.countTokens(systemPrompt) - p.countTokens(text) - 2*tokensPerMessage

	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := p.countTokens(historyText(history[i])) + tokensPerMessage
		if total+cost > budget {
			break
		}
		total += cost
		start = i
	}
	if start > 0 {
		p.logger.Debug("truncated chat history",
			"dropped", start,
			"kept", len(history)-start)
	}
	return history[start:]
}

func (p *Provider) countTokens(text string) int {
	ids, _, err := p.codec.Encode(text)
	if err != nil {
		// Rough fallback keeps budgeting usable if encoding ever fails.
		return len(text) / 4
	}
	return len(ids)
}

// historyText renders a stored message as plain prompt text. Image turns are
// replayed as their captions so the model keeps conversational context
// without re-seeing pixels.
func historyText(msg domain.Message) string {
	switch msg.Kind {
	case domain.MessageAssistantImage:
		if msg.Text != "" {
			return msg.Text
		}
		return "[生成了一张图片]"
	default:
		return msg.Text
	}
}
