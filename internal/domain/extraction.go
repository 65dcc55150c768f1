package domain

import "time"

// Rejection reasons reported for extraction output that fails validation.
const (
	ReasonInvalidIdentifier = "invalid identifier format"
	ReasonMalformedLine     = "malformed line"
	ReasonBatchLimit        = "batch limit exceeded"
	ReasonAlreadyTracked    = "already tracked"
)

// Candidate is a syntactically valid name/identifier pair.
type Candidate struct {
	Name       string `json:"name"`
	Identifier string `json:"code"`
}

// RejectedItem keeps a raw line together with the reason it was dropped.
type RejectedItem struct {
	Line   string `json:"item"`
	Reason string `json:"reason"`
}

// ExtractionResult is the adapter's output: accepted candidates in reply
// order and everything that was rejected.
type ExtractionResult struct {
	Candidates []Candidate    `json:"stocks"`
	Rejected   []RejectedItem `json:"rejected,omitempty"`
}

// PendingExtraction is a staged result awaiting user confirmation.
type PendingExtraction struct {
	Result    ExtractionResult
	CreatedAt time.Time
}

// CommitFailure reports a candidate that could not become a tracked item.
type CommitFailure struct {
	Identifier string `json:"code"`
	Reason     string `json:"reason"`
}

// CommitReport is returned by a confirm operation.
type CommitReport struct {
	Added  []Candidate     `json:"added"`
	Errors []CommitFailure `json:"errors"`
}
