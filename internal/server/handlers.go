package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/modalmux/modalmux/internal/domain"
	"github.com/modalmux/modalmux/internal/orchestrator"
	"github.com/modalmux/modalmux/internal/storage"
)

const maxUploadBytes = 20 << 20 // 20 MiB

// Handler exposes the orchestrator over HTTP.
type Handler struct {
	orch   *orchestrator.Orchestrator
	vision domain.VisionProvider
	logger *slog.Logger

	// outputDir, when set, is served under /outputs/ so clients can fetch
	// generated images announced on the stream.
	outputDir string
}

// NewHandler creates the HTTP handler set.
func NewHandler(orch *orchestrator.Orchestrator, vision domain.VisionProvider, outputDir string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, vision: vision, outputDir: outputDir, logger: logger}
}

// Routes mounts all endpoints on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api/multimodal", func(r chi.Router) {
		r.Post("/chat", h.handleChat)
		r.Post("/chat-with-image", h.handleChatWithImage)

		// Conversation management is quick; streaming routes manage their
		// own lifetimes.
		r.Group(func(r chi.Router) {
			r.Use(TimeoutMiddleware(30 * time.Second))
			r.Get("/conversations", h.handleListConversations)
			r.Get("/conversation/{id}", h.handleGetConversation)
			r.Delete("/conversation/{id}", h.handleClearConversation)
		})
	})

	if h.outputDir != "" {
		fs := http.StripPrefix("/outputs/", http.FileServer(http.Dir(h.outputDir)))
		r.Get("/outputs/*", fs.ServeHTTP)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	EnableThinking *bool  `json:"enable_thinking,omitempty"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrInvalidRequest("invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(w, r, domain.ErrInvalidRequest("message is required"))
		return
	}

	h.streamTurn(w, r, orchestrator.TurnRequest{
		ConversationID: req.ConversationID,
		Text:           req.Message,
		EnableThinking: req.EnableThinking,
	})
}

func (h *Handler) handleChatWithImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, r, domain.ErrInvalidRequest("invalid multipart form"))
		return
	}

	message := strings.TrimSpace(r.FormValue("message"))
	if message == "" {
		h.writeError(w, r, domain.ErrInvalidRequest("message is required"))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.writeError(w, r, domain.ErrInvalidRequest("image file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		h.writeError(w, r, domain.ErrInvalidRequest("reading image upload"))
		return
	}
	if len(data) > maxUploadBytes {
		h.writeError(w, r, domain.ErrInvalidRequest("image exceeds upload limit"))
		return
	}

	info, err := h.vision.StoreImage(r.Context(), data, header.Filename)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "image_ref", info.Ref)

	started := h.streamTurn(w, r, orchestrator.TurnRequest{
		ConversationID: r.FormValue("conversation_id"),
		Text:           message,
		ImageRef:       info.Ref,
	})
	if !started {
		// The turn never ran, so no history owns this upload; drop it
		// rather than leaking the file and registry entry.
		if err := h.vision.Release(context.WithoutCancel(r.Context()), info.Ref); err != nil {
			h.logger.Warn("failed to release upload of rejected turn",
				slog.String("image_ref", info.Ref),
				slog.String("error", err.Error()))
		}
	}
}

// streamTurn runs a turn and relays its events as SSE. Errors before the
// first event map to an HTTP status; after that the stream itself carries
// the terminal error event. Returns false when the turn was never started.
func (h *Handler) streamTurn(w http.ResponseWriter, r *http.Request, req orchestrator.TurnRequest) bool {
	events, err := h.orch.ProcessTurn(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return false
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		h.writeError(w, r, err)
		return true
	}

	for ev := range events {
		if ev.Type == domain.EventError {
			AddError(r.Context(), ev.Err)
		}
		if err := sse.WriteEvent(ev); err != nil {
			// Client went away. The orchestrator notices via the request
			// context and rolls the turn back.
			h.logger.Debug("client disconnected mid-stream",
				slog.String("request_id", GetRequestID(r.Context())))
			return true
		}
	}
	return true
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messages, err := h.orch.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        messages,
	})
}

func (h *Handler) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orch.Clear(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	opts := storage.ListOptions{Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}

	infos, err := h.orch.List(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": infos})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		apiErr = domain.NewAPIError(domain.ErrorTypeServer, "internal server error")
	}
	writeJSON(w, apiErr.HTTPStatusCode(), map[string]any{"error": apiErr})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
