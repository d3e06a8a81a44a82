package broadcast

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
	"github.com/capitalize-ai/realtime-messaging/pkg/metrics"
)

// Hub is the in-process Bus.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[Subscriber]struct{}
	logger *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[Subscriber]struct{}),
		logger: log.Component("broadcast"),
	}
}

// Join adds sub to group.
func (h *Hub) Join(group string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		members = make(map[Subscriber]struct{})
		h.groups[group] = members
	}
	members[sub] = struct{}{}
}

// Leave removes sub from group.
func (h *Hub) Leave(group string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, sub)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Members returns the number of subscribers in group.
func (h *Hub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Publish delivers ev to every current member of group. It never blocks on
// a slow subscriber and a failing subscriber does not affect the others.
func (h *Hub) Publish(ctx context.Context, group string, ev Event) error {
	h.mu.RLock()
	members := make([]Subscriber, 0, len(h.groups[group]))
	for sub := range h.groups[group] {
		members = append(members, sub)
	}
	h.mu.RUnlock()

	for _, sub := range members {
		delivered := h.deliver(sub, ev)
		metrics.RecordDelivery(ev.Name, delivered)
		if !delivered {
			h.logger.Warn("event dropped",
				zap.String("group", group),
				zap.String("event", ev.Name),
			)
		}
	}
	return nil
}

func (h *Hub) deliver(sub Subscriber, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("subscriber panicked",
				zap.String("event", ev.Name),
				zap.String("panic", fmt.Sprint(r)),
			)
			ok = false
		}
	}()
	return sub.Deliver(ev)
}
