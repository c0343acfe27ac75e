package domain

// EventType identifies a streaming event kind. The string values double as
// SSE event names on the wire.
type EventType string

const (
	// EventThinking carries a complete thinking block, emitted once the
	// provider finishes its reasoning phase.
	EventThinking EventType = "thinking"

	// EventThinkingDelta carries an incremental fragment of thinking text.
	EventThinkingDelta EventType = "thinking_stream"

	// EventResponseDelta carries an incremental fragment of the reply.
	EventResponseDelta EventType = "response"

	// EventProgress reports image generation progress.
	EventProgress EventType = "progress"

	// EventImageGenerated announces the finished image.
	EventImageGenerated EventType = "image_generated"

	// EventDone terminates a successful turn.
	EventDone EventType = "done"

	// EventError terminates a failed turn.
	EventError EventType = "error"
)

// StreamEvent is one element of the ordered event stream a turn produces.
// Within a turn, thinking events precede response deltas, progress events
// precede the generated image, and exactly one terminal event (done or
// error) closes the stream.
type StreamEvent struct {
	Type EventType `json:"type"`

	// Text is the payload for thinking and response events.
	Text string `json:"text,omitempty"`

	// Step/Total describe image generation progress. Preview, when present,
	// is a data URL of an intermediate decode.
	Step    int    `json:"step,omitempty"`
	Total   int    `json:"total,omitempty"`
	Preview string `json:"preview,omitempty"`

	// Image generation result.
	ImageRef string `json:"image_ref,omitempty"`
	Seed     int64  `json:"seed,omitempty"`
	Filename string `json:"filename,omitempty"`

	// ConversationID accompanies the done event so callers that did not
	// supply an id learn the one the turn was recorded under.
	ConversationID string `json:"conversation_id,omitempty"`

	// Err is set on error events. Not serialized; transports render it.
	Err error `json:"-"`
}

// Terminal reports whether the event closes its turn.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
