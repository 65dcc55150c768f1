package domain

import "errors"

var (
	// ErrDuplicate signals a content fingerprint (or tracked pair) that is
	// already stored. Callers treat it as a successful no-op.
	ErrDuplicate = errors.New("duplicate record")

	// ErrNothingToConfirm is returned when a confirm arrives without a
	// pending extraction for the user.
	ErrNothingToConfirm = errors.New("nothing to confirm, re-extract")
)
