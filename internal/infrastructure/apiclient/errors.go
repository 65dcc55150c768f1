package apiclient

import (
	"errors"
	"fmt"
)

// TransportError is a network-level failure or per-attempt timeout.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError means the service answered but reported a failure, either
// through its status code or its body.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream http %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream http %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// CallError is returned once every attempt has failed.
type CallError struct {
	Name      string
	Attempts  int
	LastCause error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Name, e.Attempts, e.LastCause)
}

func (e *CallError) Unwrap() error { return e.LastCause }

// IsUpstream reports whether err was ultimately caused by an upstream error.
func IsUpstream(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream)
}

// IsTransport reports whether err was ultimately caused by a transport error.
func IsTransport(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}
