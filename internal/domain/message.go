package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind identifies the shape of a conversation message.
type MessageKind string

const (
	// MessageUserText is a plain text message from the user.
	MessageUserText MessageKind = "user_text"

	// MessageUserImageQuery is a user question about an uploaded image.
	MessageUserImageQuery MessageKind = "user_image_query"

	// MessageAssistantText is a plain text assistant reply, optionally with
	// the thinking content that preceded it.
	MessageAssistantText MessageKind = "assistant_text"

	// MessageAssistantImage is an assistant reply that produced a generated
	// image alongside its caption text.
	MessageAssistantImage MessageKind = "assistant_generated_image"
)

// Message is a single entry in a conversation. Exactly one kind applies;
// fields not used by that kind are zero.
type Message struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text"`
	Thinking  string      `json:"thinking,omitempty"`
	ImageRef  string      `json:"image_ref,omitempty"`
	Seed      int64       `json:"seed,omitempty"`
	Filename  string      `json:"filename,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewUserText builds a user text message.
func NewUserText(text string) Message {
	return Message{
		ID:   "msg_" + uuid.New().String(),
		Kind: MessageUserText,
		Text: text,
	}
}

// NewUserImageQuery builds a user message asking about an uploaded image.
// The image bytes are owned by the vision provider; only the opaque ref is
// recorded here.
func NewUserImageQuery(text, imageRef string) Message {
	return Message{
		ID:       "msg_" + uuid.New().String(),
		Kind:     MessageUserImageQuery,
		Text:     text,
		ImageRef: imageRef,
	}
}

// NewAssistantText builds an assistant text reply.
func NewAssistantText(text, thinking string) Message {
	return Message{
		ID:       "msg_" + uuid.New().String(),
		Kind:     MessageAssistantText,
		Text:     text,
		Thinking: thinking,
	}
}

// NewAssistantImage builds an assistant reply carrying a generated image.
// Caption is the conversational text that accompanies the image so image
// turns never render as a bare picture.
func NewAssistantImage(caption, imageRef string, seed int64, filename string) Message {
	return Message{
		ID:       "msg_" + uuid.New().String(),
		Kind:     MessageAssistantImage,
		Text:     caption,
		ImageRef: imageRef,
		Seed:     seed,
		Filename: filename,
	}
}

// IsUser reports whether the message originated from the user.
func (m Message) IsUser() bool {
	return m.Kind == MessageUserText || m.Kind == MessageUserImageQuery
}

// Role returns the chat role for provider prompts.
func (m Message) Role() string {
	if m.IsUser() {
		return "user"
	}
	return "assistant"
}

// Conversation is an ordered message history owned by the store.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
