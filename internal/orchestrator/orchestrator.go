// Package orchestrator executes conversation turns end to end: it routes a
// user message to one capability provider, merges the provider's output into
// a single ordered event stream, and records the completed turn atomically.
//
// The central property is commit-on-success, rollback-on-failure: history
// never contains a user message without its paired assistant reply, and
// never a partial reply. Streaming to the caller is fully decoupled from
// committing to the store.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/modalmux/modalmux/internal/domain"
	"github.com/modalmux/modalmux/internal/intent"
	"github.com/modalmux/modalmux/internal/storage"
)

// ImageDefaults are the generation parameters applied when a turn routes to
// image generation; the user message only supplies the prompt.
type ImageDefaults struct {
	Width          int
	Height         int
	Steps          int
	NegativePrompt string
}

// Config assembles an Orchestrator.
type Config struct {
	Store      storage.ConversationStore
	Text       domain.TextChatProvider
	Vision     domain.VisionProvider
	ImageGen   domain.ImageGenProvider
	Classifier *intent.Classifier
	Logger     *slog.Logger

	// EnableThinking is the default for turns that do not set it.
	EnableThinking bool

	ImageDefaults ImageDefaults
}

// Orchestrator drives turns. At most one turn is in flight per conversation
// id; a second ProcessTurn for the same id is rejected while the first has
// not finished. Turns on distinct ids run concurrently.
type Orchestrator struct {
	store      storage.ConversationStore
	text       domain.TextChatProvider
	vision     domain.VisionProvider
	imageGen   domain.ImageGenProvider
	classifier *intent.Classifier
	logger     *slog.Logger

	enableThinking bool
	imageDefaults  ImageDefaults

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defaults := cfg.ImageDefaults
	if defaults.Width == 0 {
		defaults.Width = 512
	}
	if defaults.Height == 0 {
		defaults.Height = 512
	}
	if defaults.Steps == 0 {
		defaults.Steps = 6
	}

	return &Orchestrator{
		store:          cfg.Store,
		text:           cfg.Text,
		vision:         cfg.Vision,
		imageGen:       cfg.ImageGen,
		classifier:     cfg.Classifier,
		logger:         logger,
		enableThinking: cfg.EnableThinking,
		imageDefaults:  defaults,
	}
}

// TurnRequest describes one incoming user turn.
type TurnRequest struct {
	// ConversationID may be empty; a fresh id is generated and reported on
	// the done event.
	ConversationID string

	Text string

	// ImageRef is a handle previously returned by the vision provider's
	// StoreImage. Non-empty forces vision routing.
	ImageRef string

	// EnableThinking overrides the orchestrator default when non-nil.
	EnableThinking *bool
}

// ProcessTurn runs one turn and returns its event stream. The returned
// channel is unbuffered: the orchestrator produces no further work until
// the caller consumes the pending event, so a slow consumer stalls the
// provider instead of growing a buffer. The channel is closed after the
// terminal event.
//
// A synchronous error means the turn never started: either another turn is
// in flight for the conversation, or the committed history could not be
// read. In both cases the stream was never created and history is
// untouched.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) (<-chan domain.StreamEvent, error) {
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}

	if !o.acquire(req.ConversationID) {
		return nil, domain.ErrTurnBusy(req.ConversationID)
	}

	history, err := o.store.Get(ctx, req.ConversationID)
	if err != nil {
		o.release(req.ConversationID)
		return nil, domain.ErrCommitFailure(err)
	}

	decision := o.classifier.Classify(req.ImageRef != "", req.Text)

	o.logger.Info("turn routed",
		slog.String("conversation_id", req.ConversationID),
		slog.String("kind", string(decision.Kind)),
		slog.Int("history_len", len(history)))

	events := make(chan domain.StreamEvent)
	go func() {
		defer o.release(req.ConversationID)
		defer close(events)
		o.runTurn(ctx, req, decision, history, events)
	}()

	return events, nil
}

// History returns the committed history for a conversation.
func (o *Orchestrator) History(ctx context.Context, id string) ([]domain.Message, error) {
	return o.store.Get(ctx, id)
}

// List returns conversation summaries.
func (o *Orchestrator) List(ctx context.Context, opts storage.ListOptions) ([]storage.ConversationInfo, error) {
	return o.store.List(ctx, opts)
}

// Clear removes a conversation's history and releases the image handles the
// providers retained for it. Clearing an unseen id succeeds; release
// failures on already-gone handles are logged, not surfaced, so clear stays
// idempotent.
func (o *Orchestrator) Clear(ctx context.Context, id string) error {
	if !o.acquire(id) {
		return domain.ErrTurnBusy(id)
	}
	defer o.release(id)

	history, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}

	for _, msg := range history {
		if msg.ImageRef == "" {
			continue
		}
		switch msg.Kind {
		case domain.MessageUserImageQuery:
			if err := o.vision.Release(ctx, msg.ImageRef); err != nil {
				o.logger.Warn("failed to release uploaded image",
					slog.String("conversation_id", id),
					slog.String("image_ref", msg.ImageRef),
					slog.String("error", err.Error()))
			}
		case domain.MessageAssistantImage:
			o.releaseGenerated(ctx, id, msg.ImageRef)
		}
	}

	return o.store.Clear(ctx, id)
}

// releaseGenerated forwards a release to the image generation provider when
// it retains per-image state. The capability is optional.
func (o *Orchestrator) releaseGenerated(ctx context.Context, convID, ref string) {
	releaser, ok := o.imageGen.(interface {
		Release(ctx context.Context, ref string) error
	})
	if !ok {
		return
	}
	if err := releaser.Release(ctx, ref); err != nil {
		o.logger.Warn("failed to release generated image",
			slog.String("conversation_id", convID),
			slog.String("image_ref", ref),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) acquire(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight == nil {
		o.inflight = make(map[string]struct{})
	}
	if _, busy := o.inflight[id]; busy {
		return false
	}
	o.inflight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, id)
}

// send delivers one event, honoring caller cancellation. A false return
// means the caller abandoned the stream; the turn must stop without
// committing.
func send(ctx context.Context, events chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
