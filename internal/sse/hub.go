package sse

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Hub fans framed events out to subscribers keyed by mailbox address.
// Slow subscribers miss events rather than block the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{})}
}

func (h *Hub) Subscribe(email string) (chan []byte, func()) {
	email = normalizeEmail(email)
	ch := make(chan []byte, 8)
	h.mu.Lock()
	if _, ok := h.subs[email]; !ok {
		h.subs[email] = make(map[chan []byte]struct{})
	}
	h.subs[email][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subscribers, ok := h.subs[email]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subs, email)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Broadcast(emails []string, payload []byte) {
	if len(emails) == 0 {
		return
	}
	unique := map[string]struct{}{}
	for _, email := range emails {
		email = normalizeEmail(email)
		if email == "" {
			continue
		}
		unique[email] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for email := range unique {
		for ch := range h.subs[email] {
			select {
			case ch <- payload:
			default:
			}
		}
	}
}

// Subscribers reports how many streams are open for email.
func (h *Hub) Subscribers(email string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[normalizeEmail(email)])
}

// Event frames data as a server-sent event named name.
func Event(name string, data any) ([]byte, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", name, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", name, encoded)), nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
