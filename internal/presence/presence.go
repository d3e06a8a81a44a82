// Package presence tracks which users are online and when they were last seen.
package presence

import (
	"context"
	"time"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
)

// Store holds per-user presence. Every operation is atomic per user.
//
// A user stays online while at least one live channel is open or after an
// explicit Login. Closing the last channel or an explicit Logout sets the
// user offline.
type Store interface {
	// Connect records a newly opened live channel.
	Connect(ctx context.Context, userID string) error
	// Disconnect records a closed live channel.
	Disconnect(ctx context.Context, userID string) error
	Login(ctx context.Context, userID string) error
	Logout(ctx context.Context, userID string) error
	// Touch refreshes last-seen. A user with open channels is set back
	// online if expiry had marked them offline.
	Touch(ctx context.Context, userID string) error
	// Get returns the user's presence. Unknown users are offline.
	Get(ctx context.Context, userID string) (model.Presence, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	// ExpireInactive sets offline every online user last seen before cutoff
	// and returns their ids. The open channel count is kept so a later
	// Disconnect still balances the earlier Connect.
	ExpireInactive(ctx context.Context, cutoff time.Time) ([]string, error)
}

func applyConnect(p *model.Presence, now time.Time) {
	p.Connections++
	p.Online = true
	p.LastSeen = now
}

func applyDisconnect(p *model.Presence, now time.Time) {
	if p.Connections > 0 {
		p.Connections--
	}
	if p.Connections == 0 {
		p.Online = false
	}
	p.LastSeen = now
}

func applyLogin(p *model.Presence, now time.Time) {
	p.Online = true
	p.LastSeen = now
}

func applyLogout(p *model.Presence, now time.Time) {
	p.Online = false
	p.Connections = 0
	p.LastSeen = now
}

func applyTouch(p *model.Presence, now time.Time) {
	p.LastSeen = now
	if p.Connections > 0 {
		p.Online = true
	}
}

func applyExpire(p *model.Presence, cutoff time.Time) bool {
	if !expired(p, cutoff) {
		return false
	}
	p.Online = false
	return true
}

func expired(p *model.Presence, cutoff time.Time) bool {
	return p.Online && p.LastSeen.Before(cutoff)
}
