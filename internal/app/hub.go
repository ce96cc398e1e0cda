package app

import (
	"context"
	"sync"
)

type hubEntry struct {
	session *Session
	refs    int
}

// Hub shares one Session per user between all of that user's connections
// and requests. The last Release unmounts it.
type Hub struct {
	cfg Config
	ctx context.Context

	mu      sync.Mutex
	entries map[string]*hubEntry
}

// NewHub creates a Hub. Sessions live at most as long as ctx.
func NewHub(ctx context.Context, cfg Config) *Hub {
	return &Hub{cfg: cfg, ctx: ctx, entries: make(map[string]*hubEntry)}
}

// Acquire returns the user's Session, mounting it on first use. Every
// Acquire must be paired with a Release.
func (h *Hub) Acquire(userID string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[userID]
	if !ok {
		e = &hubEntry{session: newSession(h.ctx, h.cfg, userID)}
		h.entries[userID] = e
		e.session.start()
	}
	e.refs++
	return e.session
}

// Release drops one reference to the user's Session.
func (h *Hub) Release(userID string) {
	h.mu.Lock()
	e, ok := h.entries[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.entries, userID)
	h.mu.Unlock()
	e.session.stop()
}

// Do runs fn with the user's Session once it has loaded.
func (h *Hub) Do(ctx context.Context, userID string, fn func(*Session) error) error {
	s := h.Acquire(userID)
	defer h.Release(userID)
	if err := s.WaitReady(ctx); err != nil {
		return err
	}
	return fn(s)
}

// Active reports how many users currently have mounted sessions.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Close unmounts every session.
func (h *Hub) Close() {
	h.mu.Lock()
	entries := h.entries
	h.entries = make(map[string]*hubEntry)
	h.mu.Unlock()
	for _, e := range entries {
		e.session.stop()
	}
}
