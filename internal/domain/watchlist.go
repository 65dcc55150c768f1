package domain

import "time"

// TrackedItem is one identifier on a user's watchlist.
type TrackedItem struct {
	ID          int64
	UserID      int64
	Identifier  string
	DisplayName string
	AddedAt     time.Time
}

// Recipient is a user with at least one tracked item, as seen by fan-out.
type Recipient struct {
	UserID      int64
	Handle      string
	Identifiers []string
}
