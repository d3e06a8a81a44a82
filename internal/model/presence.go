package model

import "time"

// Presence is the online/last-seen state of a user.
type Presence struct {
	UserID      string    `json:"user_id"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
	Connections int       `json:"connections"`
}
