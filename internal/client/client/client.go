package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Client sends one request to the backend. It returns a Response for every
// HTTP status; only transport failures are errors.
type Client interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Request describes one backend call.
type Request struct {
	// Op names the operation in errors and logs.
	Op     string
	Method string
	Path   string
	Query  url.Values
	// Body is JSON-encoded when non-nil. Ignored when File is set.
	Body any
	// File is sent as a multipart/form-data upload.
	File *FilePart
	// Token is the bearer token; empty sends no Authorization header.
	Token  string
	Header http.Header
}

// FilePart is a single multipart file field.
type FilePart struct {
	Field       string
	Filename    string
	ContentType string
	Content     io.Reader
}

// Response is a fully read backend response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// DecodeJSON unmarshals the body into v. An empty body leaves v untouched.
func (r *Response) DecodeJSON(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response (status %d): %w", r.Status, err)
	}
	return nil
}
