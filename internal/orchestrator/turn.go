package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modalmux/modalmux/internal/domain"
	"github.com/modalmux/modalmux/internal/intent"
)

func (o *Orchestrator) runTurn(ctx context.Context, req TurnRequest, decision intent.Decision, history []domain.Message, events chan<- domain.StreamEvent) {
	switch decision.Kind {
	case intent.KindVision:
		o.runVisionTurn(ctx, req, history, events)
	case intent.KindImageGen:
		o.runImageGenTurn(ctx, req, decision.Prompt, events)
	default:
		o.runTextTurn(ctx, req, history, events)
	}
}

func (o *Orchestrator) runTextTurn(ctx context.Context, req TurnRequest, history []domain.Message, events chan<- domain.StreamEvent) {
	opts := domain.ChatOptions{EnableThinking: o.enableThinking}
	if req.EnableThinking != nil {
		opts.EnableThinking = *req.EnableThinking
	}

	chunks, err := o.text.Respond(ctx, history, req.Text, opts)
	if err != nil {
		o.fail(ctx, events, o.text.Name(), err)
		return
	}

	thinking, response, completed := o.drainChat(ctx, chunks, events, o.text.Name())
	if !completed {
		return
	}

	user := domain.NewUserText(req.Text)
	assistant := domain.NewAssistantText(response, thinking)
	o.commitAndFinish(ctx, req.ConversationID, user, assistant, events)
}

func (o *Orchestrator) runVisionTurn(ctx context.Context, req TurnRequest, history []domain.Message, events chan<- domain.StreamEvent) {
	chunks, err := o.vision.Ask(ctx, req.ImageRef, history, req.Text)
	if err != nil {
		o.fail(ctx, events, o.vision.Name(), err)
		o.releaseAcquired(ctx, req.ConversationID, req.ImageRef)
		return
	}

	thinking, response, completed := o.drainChat(ctx, chunks, events, o.vision.Name())
	if !completed {
		o.releaseAcquired(ctx, req.ConversationID, req.ImageRef)
		return
	}

	user := domain.NewUserImageQuery(req.Text, req.ImageRef)
	assistant := domain.NewAssistantText(response, thinking)
	if !o.commitAndFinish(ctx, req.ConversationID, user, assistant, events) {
		o.releaseAcquired(ctx, req.ConversationID, req.ImageRef)
		return
	}

	// The committed image supersedes earlier uploads in this conversation;
	// their bytes are no longer needed.
	for _, msg := range history {
		if msg.Kind == domain.MessageUserImageQuery && msg.ImageRef != "" && msg.ImageRef != req.ImageRef {
			if err := o.vision.Release(ctx, msg.ImageRef); err != nil {
				o.logger.Warn("failed to release superseded image",
					slog.String("conversation_id", req.ConversationID),
					slog.String("image_ref", msg.ImageRef),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (o *Orchestrator) runImageGenTurn(ctx context.Context, req TurnRequest, prompt string, events chan<- domain.StreamEvent) {
	// The conversational wrapper is synthesized here, not by the provider,
	// so image turns always carry assistant text.
	opening := captionDrawing(prompt)
	if !send(ctx, events, domain.StreamEvent{Type: domain.EventResponseDelta, Text: opening}) {
		return
	}

	genReq := domain.GenerateRequest{
		Prompt:         prompt,
		NegativePrompt: o.imageDefaults.NegativePrompt,
		Width:          o.imageDefaults.Width,
		Height:         o.imageDefaults.Height,
		Steps:          o.imageDefaults.Steps,
	}

	chunks, err := o.imageGen.Generate(ctx, genReq)
	if err != nil {
		o.fail(ctx, events, o.imageGen.Name(), err)
		return
	}

	var img *domain.GeneratedImage
	for chunk := range chunks {
		if chunk.Err != nil {
			o.fail(ctx, events, o.imageGen.Name(), chunk.Err)
			return
		}
		if chunk.Image != nil {
			img = chunk.Image
			ev := domain.StreamEvent{
				Type:     domain.EventImageGenerated,
				ImageRef: img.Ref,
				Seed:     img.Seed,
				Filename: img.Filename,
			}
			if !send(ctx, events, ev) {
				return
			}
			continue
		}
		ev := domain.StreamEvent{
			Type:    domain.EventProgress,
			Step:    chunk.Step,
			Total:   chunk.Total,
			Preview: chunk.Preview,
		}
		if !send(ctx, events, ev) {
			return
		}
	}

	if img == nil {
		o.fail(ctx, events, o.imageGen.Name(), errors.New("stream ended without a final image"))
		return
	}

	closing := captionDone()
	if !send(ctx, events, domain.StreamEvent{Type: domain.EventResponseDelta, Text: closing}) {
		return
	}

	user := domain.NewUserText(req.Text)
	assistant := domain.NewAssistantImage(opening+"\n"+closing, img.Ref, img.Seed, img.Filename)
	o.commitAndFinish(ctx, req.ConversationID, user, assistant, events)
}

// drainChat consumes a text/vision chunk stream, forwarding deltas as
// events while accumulating the full thinking and response text. All
// thinking events are emitted before the first response delta; the
// accumulated thinking is repeated once as a complete block at the
// transition. Returns completed=false when the stream failed or the caller
// cancelled; a failure has already produced the terminal error event.
func (o *Orchestrator) drainChat(ctx context.Context, chunks <-chan domain.ChatChunk, events chan<- domain.StreamEvent, providerName string) (thinking, response string, completed bool) {
	thinkingClosed := false

	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			o.fail(ctx, events, providerName, chunk.Err)
			return "", "", false

		case chunk.ThinkingDelta != "":
			thinking += chunk.ThinkingDelta
			if !send(ctx, events, domain.StreamEvent{Type: domain.EventThinkingDelta, Text: chunk.ThinkingDelta}) {
				return "", "", false
			}

		case chunk.ResponseDelta != "":
			if !thinkingClosed && thinking != "" {
				thinkingClosed = true
				if !send(ctx, events, domain.StreamEvent{Type: domain.EventThinking, Text: thinking}) {
					return "", "", false
				}
			}
			response += chunk.ResponseDelta
			if !send(ctx, events, domain.StreamEvent{Type: domain.EventResponseDelta, Text: chunk.ResponseDelta}) {
				return "", "", false
			}
		}
	}

	// Thinking that was never followed by a reply (the model ran out of
	// tokens mid-thought) is still surfaced as a complete block.
	if !thinkingClosed && thinking != "" {
		if !send(ctx, events, domain.StreamEvent{Type: domain.EventThinking, Text: thinking}) {
			return "", "", false
		}
	}

	return thinking, response, true
}

// commitAndFinish records the turn and emits the terminal event. The
// assistant content does not count as delivered unless the commit
// succeeded, so a storage failure terminates the turn with an error even
// though the provider finished cleanly.
func (o *Orchestrator) commitAndFinish(ctx context.Context, convID string, user, assistant domain.Message, events chan<- domain.StreamEvent) bool {
	// A cancelled caller is indistinguishable from a failed one for commit
	// purposes: the provider stream may have ended early, so the turn must
	// leave no trace.
	if ctx.Err() != nil {
		return false
	}

	if err := o.store.Commit(ctx, convID, user, assistant); err != nil {
		o.logger.Error("turn commit failed",
			slog.String("conversation_id", convID),
			slog.String("error", err.Error()))
		apiErr := domain.ErrCommitFailure(err)
		send(ctx, events, domain.StreamEvent{Type: domain.EventError, Text: apiErr.Message, Err: apiErr})
		return false
	}

	return send(ctx, events, domain.StreamEvent{Type: domain.EventDone, ConversationID: convID})
}

// releaseAcquired discards the image handle acquired for a turn that did
// not commit. The handle would otherwise be orphaned: it lands in no
// history, so Clear could never find it. Cleanup proceeds even when the
// caller has already gone away.
func (o *Orchestrator) releaseAcquired(ctx context.Context, convID, ref string) {
	if ref == "" {
		return
	}
	if err := o.vision.Release(context.WithoutCancel(ctx), ref); err != nil {
		o.logger.Warn("failed to release image of uncommitted turn",
			slog.String("conversation_id", convID),
			slog.String("image_ref", ref),
			slog.String("error", err.Error()))
	}
}

// fail emits the terminal error event for a provider failure. The error is
// never converted into a fallback reply; hiding a capability outage behind
// generic text would mask real failures.
func (o *Orchestrator) fail(ctx context.Context, events chan<- domain.StreamEvent, providerName string, err error) {
	o.logger.Error("provider failure",
		slog.String("provider", providerName),
		slog.String("error", err.Error()))
	apiErr := domain.ErrProviderFailure(providerName, err)
	send(ctx, events, domain.StreamEvent{Type: domain.EventError, Text: apiErr.Message, Err: apiErr})
}
