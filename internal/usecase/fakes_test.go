package usecase

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	entries map[string][]domain.ContentEntry
	errs    map[string]error
	calls   atomic.Int32
	// started and release, when set, hold Fetch open until the test lets go.
	started chan struct{}
	release chan struct{}
}

func (f *fakeSource) Fetch(_ context.Context, identifier string) ([]domain.ContentEntry, error) {
	f.calls.Add(1)
	if f.release != nil {
		f.started <- struct{}{}
		<-f.release
	}
	if err := f.errs[identifier]; err != nil {
		return nil, err
	}
	return f.entries[identifier], nil
}

// memRepo enforces the same uniqueness rules as the SQL schema.
type memRepo struct {
	mu         sync.Mutex
	records    []domain.ContentRecord
	byFP       map[string]struct{}
	tracked    map[int64]map[string]string
	handles    map[int64]string
	saveErr    error
	addErr     map[string]error
	listErr    error
	recentErrs map[string]error
}

func newMemRepo() *memRepo {
	return &memRepo{
		byFP:    map[string]struct{}{},
		tracked: map[int64]map[string]string{},
		handles: map[int64]string{},
	}
}

func (r *memRepo) SaveContent(_ context.Context, record domain.ContentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if _, ok := r.byFP[record.Fingerprint]; ok {
		return domain.ErrDuplicate
	}
	r.byFP[record.Fingerprint] = struct{}{}
	record.ID = int64(len(r.records) + 1)
	r.records = append(r.records, record)
	return nil
}

func (r *memRepo) RecentContent(_ context.Context, identifiers []string, since time.Time, limit int) ([]domain.ContentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range identifiers {
		if err := r.recentErrs[id]; err != nil {
			return nil, err
		}
		wanted[id] = true
	}
	var out []domain.ContentRecord
	for _, rec := range r.records {
		if wanted[rec.Identifier] && rec.PublishedAt.After(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) RecentForUser(ctx context.Context, userID int64, since time.Time, limit int) ([]domain.ContentRecord, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.tracked[userID]))
	for id := range r.tracked[userID] {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	return r.RecentContent(ctx, ids, since, limit)
}

func (r *memRepo) AddTrackedItem(_ context.Context, item domain.TrackedItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.addErr[item.Identifier]; err != nil {
		return err
	}
	if r.tracked[item.UserID] == nil {
		r.tracked[item.UserID] = map[string]string{}
	}
	if _, ok := r.tracked[item.UserID][item.Identifier]; ok {
		return domain.ErrDuplicate
	}
	r.tracked[item.UserID][item.Identifier] = item.DisplayName
	return nil
}

func (r *memRepo) ListTrackedIdentifiers(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	seen := map[string]struct{}{}
	var out []string
	for _, items := range r.tracked {
		for id := range items {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memRepo) ListRecipients(context.Context) ([]domain.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []domain.Recipient
	for userID, items := range r.tracked {
		if len(items) == 0 {
			continue
		}
		rec := domain.Recipient{UserID: userID, Handle: r.handles[userID]}
		for id := range items {
			rec.Identifiers = append(rec.Identifiers, id)
		}
		sort.Strings(rec.Identifiers)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *memRepo) track(userID int64, handle string, identifiers ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[userID] = handle
	if r.tracked[userID] == nil {
		r.tracked[userID] = map[string]string{}
	}
	for _, id := range identifiers {
		r.tracked[userID][id] = ""
	}
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []domain.PushMessage
	errs map[string]error
}

func (f *fakeSender) Send(_ context.Context, msg domain.PushMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[msg.Recipient]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, msg := range f.sent {
		out = append(out, msg.Recipient)
	}
	sort.Strings(out)
	return out
}
