package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
)

// Memory is an in-process Store.
type Memory struct {
	mu    sync.Mutex
	users map[string]*model.Presence
	now   func() time.Time
}

// NewMemory creates an empty presence store.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]*model.Presence),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) update(userID string, fn func(*model.Presence, time.Time)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.users[userID]
	if !ok {
		p = &model.Presence{UserID: userID}
		m.users[userID] = p
	}
	fn(p, m.now())
}

func (m *Memory) Connect(ctx context.Context, userID string) error {
	m.update(userID, applyConnect)
	return nil
}

func (m *Memory) Disconnect(ctx context.Context, userID string) error {
	m.update(userID, applyDisconnect)
	return nil
}

func (m *Memory) Login(ctx context.Context, userID string) error {
	m.update(userID, applyLogin)
	return nil
}

func (m *Memory) Logout(ctx context.Context, userID string) error {
	m.update(userID, applyLogout)
	return nil
}

func (m *Memory) Touch(ctx context.Context, userID string) error {
	m.update(userID, applyTouch)
	return nil
}

func (m *Memory) Get(ctx context.Context, userID string) (model.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.users[userID]; ok {
		return *p, nil
	}
	return model.Presence{UserID: userID}, nil
}

func (m *Memory) IsOnline(ctx context.Context, userID string) (bool, error) {
	p, err := m.Get(ctx, userID)
	return p.Online, err
}

func (m *Memory) ExpireInactive(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, p := range m.users {
		if applyExpire(p, cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
