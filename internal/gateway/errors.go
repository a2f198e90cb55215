package gateway

import "fmt"

// Kind classifies a gateway failure
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindAuthFailure       Kind = "auth_failure"
	KindRateLimited       Kind = "rate_limited"
	KindUpstreamError     Kind = "upstream_error"
	KindMalformedResponse Kind = "malformed_response"
)

// Error is a classified gateway failure
type Error struct {
	Kind Kind
	Role Role
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s (role %s): %v", e.Kind, e.Role, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying with backoff.
// AuthFailure and MalformedResponse propagate immediately.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimited, KindUpstreamError:
		return true
	}
	return false
}
