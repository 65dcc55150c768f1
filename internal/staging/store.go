// Package staging holds extraction results awaiting user confirmation.
//
// The store keeps at most one pending entry per user. A new Stage for the
// same user supersedes the previous entry, and Take consumes it. Entries
// live only in process memory; a restart drops them and the user must
// extract again.
package staging

import (
	"sync"
	"time"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
)

// Store is a last-writer-wins map from user to pending extraction.
type Store struct {
	mu      sync.Mutex
	pending map[int64]domain.PendingExtraction
	maxAge  time.Duration
	now     func() time.Time
}

var _ ports.PendingStore = (*Store)(nil)

// New builds an empty store. A zero maxAge keeps entries until consumed or
// superseded.
func New(maxAge time.Duration) *Store {
	return &Store{
		pending: make(map[int64]domain.PendingExtraction),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Stage replaces any pending entry for userID.
func (s *Store) Stage(userID int64, pending domain.PendingExtraction) {
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = s.now()
	}
	s.mu.Lock()
	s.pending[userID] = pending
	s.mu.Unlock()
}

// Take removes and returns the pending entry for userID. Expired entries
// are dropped and reported as absent.
func (s *Store) Take(userID int64) (domain.PendingExtraction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pending[userID]
	if !ok {
		return domain.PendingExtraction{}, false
	}
	delete(s.pending, userID)
	if s.expired(pending, s.now()) {
		return domain.PendingExtraction{}, false
	}
	return pending, true
}

// Sweep drops expired entries and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, pending := range s.pending {
		if s.expired(pending, now) {
			delete(s.pending, userID)
			removed++
		}
	}
	return removed
}

// Len reports the number of pending entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) expired(pending domain.PendingExtraction, now time.Time) bool {
	return s.maxAge > 0 && now.Sub(pending.CreatedAt) > s.maxAge
}
