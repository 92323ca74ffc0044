// Package notify fans out per-app change messages to live subscribers.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	KindFileChanged = "file_changed"
	KindBuildState  = "build_state"
	KindDeployed    = "deployed"
)

type Message struct {
	Kind      string    `json:"kind"`
	AppID     string    `json:"appId"`
	Path      string    `json:"path,omitempty"`
	Content   string    `json:"content,omitempty"`
	State     string    `json:"state,omitempty"`
	URL       string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const subscriberBuffer = 16

type subscriber struct {
	ch chan Message
}

// Hub is safe for concurrent use. Slow subscribers lose their oldest
// pending message rather than blocking Broadcast.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
	now  func() time.Time
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{}), now: time.Now}
}

// Subscribe registers a channel for appID. It is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, appID string) (<-chan Message, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, fmt.Errorf("app_id is required")
	}
	sub := &subscriber{ch: make(chan Message, subscriberBuffer)}

	h.mu.Lock()
	set, ok := h.subs[appID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[appID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	context.AfterFunc(ctx, func() { h.unsubscribe(appID, sub) })
	return sub.ch, nil
}

func (h *Hub) unsubscribe(appID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[appID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, appID)
	}
	close(sub.ch)
}

// Broadcast delivers msg to every subscriber of appID and returns how many
// received it.
func (h *Hub) Broadcast(appID string, msg Message) int {
	appID = strings.TrimSpace(appID)
	msg.AppID = appID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for sub := range h.subs[appID] {
		push(sub.ch, msg)
		n++
	}
	return n
}

// Subscribers reports the live subscriber count for appID.
func (h *Hub) Subscribers(appID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[strings.TrimSpace(appID)])
}

func push(ch chan Message, msg Message) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}
