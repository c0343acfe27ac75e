package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/modalmux/modalmux/internal/domain"
	"github.com/modalmux/modalmux/internal/provider/openaichat"
)

func newTestProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()
	if baseURL == "" {
		baseURL = "http://127.0.0.1:1"
	}
	p, err := New(Config{BaseURL: baseURL, Model: "qwen2.5-vl", UploadDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestStoreAndReleaseImage(t *testing.T) {
	p := newTestProvider(t, "")

	info, err := p.StoreImage(context.Background(), []byte("fake-png-bytes"), "cat.png")
	if err != nil {
		t.Fatalf("StoreImage() error = %v", err)
	}
	if info.Ref == "" {
		t.Fatal("StoreImage() returned empty ref")
	}
	if info.Filename != "cat.png" {
		t.Errorf("filename = %q, want %q", info.Filename, "cat.png")
	}

	p.mu.Lock()
	stored, ok := p.images[info.Ref]
	p.mu.Unlock()
	if !ok {
		t.Fatal("ref not registered")
	}
	if _, err := os.Stat(stored.path); err != nil {
		t.Fatalf("stored file missing: %v", err)
	}

	if err := p.Release(context.Background(), info.Ref); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(stored.path); !os.IsNotExist(err) {
		t.Error("stored file still exists after release")
	}

	err = p.Release(context.Background(), info.Ref)
	if !domain.IsErrorType(err, domain.ErrorTypeStaleImageRef) {
		t.Errorf("double Release() error = %v, want stale image ref", err)
	}
}

func TestStoreImageEmpty(t *testing.T) {
	p := newTestProvider(t, "")
	_, err := p.StoreImage(context.Background(), nil, "x.png")
	if !domain.IsErrorType(err, domain.ErrorTypeInvalidRequest) {
		t.Errorf("StoreImage() error = %v, want invalid request", err)
	}
}

func TestAskStaleRef(t *testing.T) {
	p := newTestProvider(t, "")
	_, err := p.Ask(context.Background(), "img_missing", nil, "what is this")
	if !domain.IsErrorType(err, domain.ErrorTypeStaleImageRef) {
		t.Errorf("Ask() error = %v, want stale image ref", err)
	}
}

func TestAskSendsImageAndQuestion(t *testing.T) {
	var gotReq openaichat.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"一只猫\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL+"/v1")
	info, err := p.StoreImage(context.Background(), []byte("fake-png-bytes"), "cat.png")
	if err != nil {
		t.Fatalf("StoreImage() error = %v", err)
	}

	history := []domain.Message{
		domain.NewUserText("earlier question"),
		domain.NewAssistantText("earlier answer", ""),
	}
	chunks, err := p.Ask(context.Background(), info.Ref, history, "图里是什么？")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	var answer string
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("chunk error = %v", chunk.Err)
		}
		answer += chunk.ResponseDelta
	}
	if answer != "一只猫" {
		t.Errorf("answer = %q, want %q", answer, "一只猫")
	}

	// system + 2 history + multimodal user message
	if len(gotReq.Messages) != 4 {
		t.Fatalf("request messages = %d, want 4", len(gotReq.Messages))
	}
	last := gotReq.Messages[len(gotReq.Messages)-1]
	parts, ok := last.Content.([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("last message content = %T, want two content parts", last.Content)
	}
	imagePart, _ := parts[0].(map[string]any)
	if imagePart["type"] != "image_url" {
		t.Errorf("first part type = %v, want image_url", imagePart["type"])
	}
	urlField, _ := imagePart["image_url"].(map[string]any)
	url, _ := urlField["url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("image url = %.40q, want base64 data URL", url)
	}
	textPart, _ := parts[1].(map[string]any)
	if textPart["text"] != "图里是什么？" {
		t.Errorf("question = %v, want original text", textPart["text"])
	}
}
