package domain

import (
	"context"
)

// ChatChunk is one increment of a text or vision provider's output. Exactly
// one field is set per chunk. A chunk carrying Err terminates the stream.
type ChatChunk struct {
	ThinkingDelta string
	ResponseDelta string
	Err           error
}

// ChatOptions carries per-turn options for text chat.
type ChatOptions struct {
	// EnableThinking asks the model for a visible reasoning phase before
	// the reply. Providers that cannot reason simply emit no thinking.
	EnableThinking bool
}

// TextChatProvider is the conversational text capability.
type TextChatProvider interface {
	Name() string

	// Respond streams the reply to text given the committed history.
	// The channel MUST be closed by the provider when done. Cancelling ctx
	// stops generation promptly.
	Respond(ctx context.Context, history []Message, text string, opts ChatOptions) (<-chan ChatChunk, error)
}

// ImageInfo describes a stored upload.
type ImageInfo struct {
	Ref      string `json:"image_ref"`
	Filename string `json:"filename"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// VisionProvider is the visual question answering capability. It also owns
// the uploaded image bytes; the orchestrator only holds opaque refs.
type VisionProvider interface {
	Name() string

	// Ask streams the answer to a question about a stored image.
	// Same channel contract as TextChatProvider.Respond.
	Ask(ctx context.Context, imageRef string, history []Message, question string) (<-chan ChatChunk, error)

	// StoreImage persists uploaded bytes and returns an opaque handle.
	StoreImage(ctx context.Context, data []byte, filename string) (*ImageInfo, error)

	// Release discards a stored image. Operating on a released ref
	// afterwards fails with a stale ref error rather than silently no-oping.
	Release(ctx context.Context, imageRef string) error
}

// GenerateRequest describes one image generation.
type GenerateRequest struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int

	// Seed pins the noise seed. Nil lets the provider pick one.
	Seed *int64
}

// GeneratedImage is the final product of a generation stream.
type GeneratedImage struct {
	Ref      string `json:"image_ref"`
	Seed     int64  `json:"seed"`
	Filename string `json:"filename"`
}

// GenChunk is one increment of an image generation stream: a progress tick
// or the final image. A chunk carrying Err terminates the stream.
type GenChunk struct {
	Step    int
	Total   int
	Preview string
	Image   *GeneratedImage
	Err     error
}

// ImageGenProvider is the text-to-image capability.
type ImageGenProvider interface {
	Name() string

	// Generate streams progress ticks followed by the final image.
	// The channel MUST be closed by the provider when done.
	Generate(ctx context.Context, req GenerateRequest) (<-chan GenChunk, error)
}
