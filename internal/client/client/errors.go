package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation reports malformed caller input. Such input is never sent.
	ErrValidation = errors.New("validation failed")
	// ErrConflict reports a duplicate identity on registration.
	ErrConflict = errors.New("identity already exists")
	// ErrAccountLocked reports a temporary lockout (HTTP 423).
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrHardDeny reports a risk-engine refusal of a login (HTTP 403).
	ErrHardDeny = errors.New("login denied by risk policy")
	// ErrUnauthenticated reports a call made without a committed session, or
	// a bearer token the backend rejected.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrAuth reports any other login failure.
	ErrAuth = errors.New("authentication failed")
	// ErrRemote is the kind of a RemoteError without a more specific one.
	ErrRemote = errors.New("remote error")
	// ErrTimeout reports a call that got no response within its bound.
	ErrTimeout = errors.New("request timed out")
	// ErrUnavailable reports a backend that could not be reached.
	ErrUnavailable = errors.New("server unavailable")
	// ErrResponseTooLarge reports a response body over the client's limit.
	ErrResponseTooLarge = errors.New("response body too large")
)

const maxErrorBody = 512

// RemoteError is a non-success backend response.
type RemoteError struct {
	Op     string
	Status int
	Body   []byte
	Kind   error
}

func (e *RemoteError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return fmt.Sprintf("%s: %v (status %d): %s", e.Op, e.kind(), e.Status, body)
}

func (e *RemoteError) Unwrap() error {
	return e.kind()
}

func (e *RemoteError) kind() error {
	if e.Kind == nil {
		return ErrRemote
	}
	return e.Kind
}

// Detail returns the "detail" message of a JSON error body, or "" when the
// body has none. Raw bodies are diagnostics and should not be shown to users.
func (e *RemoteError) Detail() string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(e.Body, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}
	return string(payload.Detail)
}

// KindFunc picks the sentinel kind for a status.
type KindFunc func(status int) error

// DefaultKind maps the statuses common to every endpoint.
func DefaultKind(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return ErrValidation
	case http.StatusLocked:
		return ErrAccountLocked
	default:
		return ErrRemote
	}
}

// LoginKind classifies login responses: 423 locked, 403 hard deny,
// everything else an auth failure.
func LoginKind(status int) error {
	switch status {
	case http.StatusLocked:
		return ErrAccountLocked
	case http.StatusForbidden:
		return ErrHardDeny
	default:
		return ErrAuth
	}
}

// Expect returns nil when resp has one of the accepted statuses and a
// *RemoteError otherwise. A nil kind uses DefaultKind.
func Expect(op string, resp *Response, kind KindFunc, accepted ...int) error {
	for _, s := range accepted {
		if resp.Status == s {
			return nil
		}
	}
	if kind == nil {
		kind = DefaultKind
	}
	return &RemoteError{Op: op, Status: resp.Status, Body: resp.Body, Kind: kind(resp.Status)}
}

// IsSuccess reports a 2xx status.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// ExpectSuccess is Expect accepting any 2xx status.
func ExpectSuccess(op string, resp *Response, kind KindFunc) error {
	if IsSuccess(resp.Status) {
		return nil
	}
	return Expect(op, resp, kind)
}
