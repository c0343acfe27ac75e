package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/modalmux/modalmux/internal/domain"
	"github.com/modalmux/modalmux/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CommitAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := domain.NewUserText("你好")
	assistant := domain.NewAssistantText("你好！有什么可以帮你的吗？", "用户在打招呼")

	if err := store.Commit(ctx, "conv-1", user, assistant); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	msgs, err := store.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Get() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].Kind != domain.MessageUserText || msgs[0].Text != "你好" {
		t.Errorf("first message = %+v, want the user message", msgs[0])
	}
	if msgs[1].Kind != domain.MessageAssistantText || msgs[1].Thinking == "" {
		t.Errorf("second message = %+v, want the assistant message with thinking", msgs[1])
	}
}

func TestSQLiteStore_GetUnseen(t *testing.T) {
	store := newTestStore(t)

	msgs, err := store.Get(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Get() on unseen id returned %d messages, want 0", len(msgs))
	}
}

func TestSQLiteStore_OrderingAcrossTurns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	texts := []string{"first", "second", "third"}
	for _, txt := range texts {
		if err := store.Commit(ctx, "conv-1", domain.NewUserText(txt), domain.NewAssistantText("re: "+txt, "")); err != nil {
			t.Fatalf("Commit(%q) error = %v", txt, err)
		}
	}

	msgs, err := store.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(msgs) != 6 {
		t.Fatalf("Get() returned %d messages, want 6", len(msgs))
	}
	for i, txt := range texts {
		if msgs[i*2].Text != txt {
			t.Errorf("message %d text = %q, want %q", i*2, msgs[i*2].Text, txt)
		}
		if msgs[i*2+1].Text != "re: "+txt {
			t.Errorf("message %d text = %q, want %q", i*2+1, msgs[i*2+1].Text, "re: "+txt)
		}
	}
}

func TestSQLiteStore_ImageTurnFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := domain.NewUserText("画一只猫")
	assistant := domain.NewAssistantImage("正在为你绘制: 只猫", "img-ref-1", 42, "gen_123_42.png")

	if err := store.Commit(ctx, "conv-1", user, assistant); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	msgs, err := store.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got := msgs[1]
	if got.Kind != domain.MessageAssistantImage {
		t.Errorf("Kind = %v, want %v", got.Kind, domain.MessageAssistantImage)
	}
	if got.ImageRef != "img-ref-1" || got.Seed != 42 || got.Filename != "gen_123_42.png" {
		t.Errorf("image fields not round-tripped: %+v", got)
	}
}

func TestSQLiteStore_ClearIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Commit(ctx, "conv-1", domain.NewUserText("hi"), domain.NewAssistantText("hello", "")); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.Clear(ctx, "conv-1"); err != nil {
			t.Fatalf("Clear() #%d error = %v", i+1, err)
		}
	}

	msgs, err := store.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Get() after clear returned %d messages, want 0", len(msgs))
	}
}

func TestSQLiteStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Commit(ctx, id, domain.NewUserText("hi"), domain.NewAssistantText("hello", "")); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}

	infos, err := store.List(ctx, storage.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 2 {
		t.Errorf("List() count = %d, want 2", len(infos))
	}
	for _, info := range infos {
		if info.MessageCount != 2 {
			t.Errorf("MessageCount = %d, want 2", info.MessageCount)
		}
	}
}
