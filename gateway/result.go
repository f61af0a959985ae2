package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jrsteele09/elearn-session/internal/errors"
)

// ErrorKind classifies a failed Send.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindSessionExpired means refresh was exhausted; the session has been told to log out.
	KindSessionExpired
	// KindNetworkUnavailable means the backend could not be reached or timed out.
	KindNetworkUnavailable
	// KindHTTPError is any non-2xx response passed through unmodified.
	KindHTTPError
	// KindInvalidRequest means the request could not be built.
	KindInvalidRequest
	// KindCancelled means the caller's context ended first. The session is
	// left as it was.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindSessionExpired:
		return "session_expired"
	case KindNetworkUnavailable:
		return "network_unavailable"
	case KindHTTPError:
		return "http_error"
	case KindInvalidRequest:
		return "invalid_request"
	case KindCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// StatusError carries a non-2xx backend response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d %s", e.Status, http.StatusText(e.Status))
}

// Result is the outcome of Send. Expected failures are reported through
// Kind, never as a panic or a hidden retry.
type Result struct {
	Status    int
	Header    http.Header
	Body      []byte
	Kind      ErrorKind
	Err       error
	RequestID string
	Retried   bool
}

// OK is true for a 2xx response.
func (r Result) OK() bool {
	return r.Kind == KindNone
}

// Error returns the failure, or nil for a successful result.
func (r Result) Error() error {
	if r.OK() {
		return nil
	}
	return r.Err
}

// DecodeJSON decodes a successful body into v. A body that does not match
// the expected shape yields errors.ErrMalformedResponse.
func (r Result) DecodeJSON(v any) error {
	if !r.OK() {
		return r.Err
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.Wrapf(errors.ErrMalformedResponse, "request %s: %v", r.RequestID, err)
	}
	return nil
}
