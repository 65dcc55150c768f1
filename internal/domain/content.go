package domain

import (
	"sort"
	"time"
)

// ContentEntry is one item returned by an external content source before
// it is fingerprinted.
type ContentEntry struct {
	Title       string
	Body        string
	PublishedAt time.Time
}

// ContentRecord is a persisted, deduplicated piece of external content.
type ContentRecord struct {
	ID          int64
	Identifier  string
	Title       string
	Fingerprint string
	PublishedAt time.Time
	IngestedAt  time.Time
}

// ItemResult captures the ingestion outcome for a single identifier.
type ItemResult struct {
	Inserted   int
	Duplicates int
	Skipped    int
	Err        error
}

// IngestReport maps every requested identifier to its outcome.
type IngestReport struct {
	PerItem map[string]ItemResult
}

// Inserted sums the new records across identifiers.
func (r IngestReport) Inserted() int {
	total := 0
	for _, item := range r.PerItem {
		total += item.Inserted
	}
	return total
}

// Failed lists identifiers whose fetch or persistence failed.
func (r IngestReport) Failed() []string {
	var failed []string
	for id, item := range r.PerItem {
		if item.Err != nil {
			failed = append(failed, id)
		}
	}
	sort.Strings(failed)
	return failed
}

// NotificationBatch is the transient per-user selection for one fan-out cycle.
type NotificationBatch struct {
	Recipient Recipient
	Records   []ContentRecord
}

// NotifyReport summarises one fan-out cycle.
type NotifyReport struct {
	Users  int
	Sent   int
	Empty  int
	Failed map[int64]error
}

// PushMessage is one templated push delivery.
type PushMessage struct {
	Recipient  string
	TemplateID string
	Data       map[string]string
}
