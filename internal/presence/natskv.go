package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
)

const maxCASAttempts = 8

// KeyValue is a Store kept in a NATS JetStream KeyValue bucket. Updates use
// revision compare-and-swap so concurrent nodes never lose a transition.
type KeyValue struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

// NewKeyValue creates a presence store over an existing bucket.
func NewKeyValue(kv jetstream.KeyValue) *KeyValue {
	return &KeyValue{
		kv:  kv,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *KeyValue) load(ctx context.Context, userID string) (model.Presence, uint64, error) {
	entry, err := s.kv.Get(ctx, userID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return model.Presence{UserID: userID}, 0, nil
	}
	if err != nil {
		return model.Presence{}, 0, err
	}

	var p model.Presence
	if err := json.Unmarshal(entry.Value(), &p); err != nil {
		return model.Presence{}, 0, fmt.Errorf("decode presence %s: %w", userID, err)
	}
	p.UserID = userID
	return p, entry.Revision(), nil
}

func (s *KeyValue) update(ctx context.Context, userID string, fn func(*model.Presence, time.Time)) (bool, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		p, rev, err := s.load(ctx, userID)
		if err != nil {
			return false, err
		}

		before := p
		fn(&p, s.now())
		if p == before {
			return false, nil
		}

		data, err := json.Marshal(p)
		if err != nil {
			return false, err
		}

		if rev == 0 {
			_, err = s.kv.Create(ctx, userID, data)
		} else {
			_, err = s.kv.Update(ctx, userID, data, rev)
		}
		if err == nil {
			return true, nil
		}
		if !isConflict(err) {
			return false, err
		}
	}
	return false, fmt.Errorf("presence %s: too many concurrent updates", userID)
}

func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (s *KeyValue) Connect(ctx context.Context, userID string) error {
	_, err := s.update(ctx, userID, applyConnect)
	return wrap("connect", err)
}

func (s *KeyValue) Disconnect(ctx context.Context, userID string) error {
	_, err := s.update(ctx, userID, applyDisconnect)
	return wrap("disconnect", err)
}

func (s *KeyValue) Login(ctx context.Context, userID string) error {
	_, err := s.update(ctx, userID, applyLogin)
	return wrap("login", err)
}

func (s *KeyValue) Logout(ctx context.Context, userID string) error {
	_, err := s.update(ctx, userID, applyLogout)
	return wrap("logout", err)
}

func (s *KeyValue) Touch(ctx context.Context, userID string) error {
	_, err := s.update(ctx, userID, applyTouch)
	return wrap("touch", err)
}

func (s *KeyValue) Get(ctx context.Context, userID string) (model.Presence, error) {
	p, _, err := s.load(ctx, userID)
	return p, wrap("get", err)
}

func (s *KeyValue) IsOnline(ctx context.Context, userID string) (bool, error) {
	p, err := s.Get(ctx, userID)
	return p.Online, err
}

func (s *KeyValue) ExpireInactive(ctx context.Context, cutoff time.Time) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("list keys", err)
	}

	var ids []string
	for _, key := range keys {
		changed, err := s.update(ctx, key, func(p *model.Presence, _ time.Time) {
			applyExpire(p, cutoff)
		})
		if err != nil {
			return ids, wrap("expire", err)
		}
		if changed {
			ids = append(ids, key)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("presence %s: %w", op, err)
}
