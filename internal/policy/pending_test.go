package policy

import (
	"testing"
	"time"
)

func TestPendingPutConsume(t *testing.T) {
	t.Parallel()

	p := NewPendingDrafts(time.Minute)
	p.Put("chat_1", Draft{Name: "a"})
	p.Put("chat_1", Draft{Name: "b"}) // last write wins

	draft, ok := p.Consume("chat_1")
	if !ok || draft.Name != "b" {
		t.Fatalf("consume=%v %v, want draft b", draft, ok)
	}
	if _, ok := p.Consume("chat_1"); ok {
		t.Fatal("draft survived consumption")
	}
}

func TestPendingExpiry(t *testing.T) {
	t.Parallel()

	p := NewPendingDrafts(time.Minute)
	base := time.Now()
	p.now = func() time.Time { return base }
	p.Put("chat_1", Draft{Name: "stale"})

	p.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := p.Consume("chat_1"); ok {
		t.Fatal("expired draft returned")
	}
}

func TestPendingIgnoresEmptyChatID(t *testing.T) {
	t.Parallel()

	p := NewPendingDrafts(0)
	p.Put("  ", Draft{Name: "x"})
	if _, ok := p.Consume("  "); ok {
		t.Fatal("blank chat id stored a draft")
	}
}
