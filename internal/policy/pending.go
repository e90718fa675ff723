package policy

import (
	"strings"
	"sync"
	"time"
)

const defaultPendingTTL = 15 * time.Minute

// PendingDrafts holds at most one unconfirmed draft per chat. Last write
// wins; a draft is destroyed when consumed or when its TTL passes. This is
// advisory state, not a system of record: a lost draft just means the user
// gets asked to restate the policy.
type PendingDrafts struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]pendingEntry
	now     func() time.Time
}

type pendingEntry struct {
	draft     Draft
	expiresAt time.Time
}

func NewPendingDrafts(ttl time.Duration) *PendingDrafts {
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return &PendingDrafts{
		ttl:     ttl,
		entries: make(map[string]pendingEntry),
		now:     time.Now,
	}
}

func (p *PendingDrafts) Put(chatID string, draft Draft) {
	chatID = strings.TrimSpace(chatID)
	if p == nil || chatID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictExpiredLocked()
	p.entries[chatID] = pendingEntry{draft: draft, expiresAt: p.now().Add(p.ttl)}
}

// Consume removes and returns the pending draft for a chat, if one is live.
func (p *PendingDrafts) Consume(chatID string) (Draft, bool) {
	chatID = strings.TrimSpace(chatID)
	if p == nil || chatID == "" {
		return Draft{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[chatID]
	if !ok {
		return Draft{}, false
	}
	delete(p.entries, chatID)
	if p.now().After(entry.expiresAt) {
		return Draft{}, false
	}
	return entry.draft, true
}

func (p *PendingDrafts) evictExpiredLocked() {
	now := p.now()
	for id, entry := range p.entries {
		if now.After(entry.expiresAt) {
			delete(p.entries, id)
		}
	}
}
