package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/trustkeeper/internal/common"
	"github.com/dmitrijs2005/trustkeeper/internal/logging"
	"github.com/google/uuid"
)

const (
	DefaultTimeout         = 15 * time.Second
	DefaultMaxResponseBody = 32 << 20
)

type HTTPClient struct {
	baseURL    *url.URL
	http       *http.Client
	timeout    time.Duration
	clientName string
	maxBody    int64
	logger     logging.Logger
}

type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.http = c }
}

func WithTimeout(d time.Duration) Option {
	return func(h *HTTPClient) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithMaxResponseBody bounds how many bytes of a response body are read.
// Larger bodies fail with ErrResponseTooLarge.
func WithMaxResponseBody(n int64) Option {
	return func(h *HTTPClient) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(h *HTTPClient) { h.logger = logging.OrNop(l) }
}

// NewHTTPClient builds a client for the backend rooted at baseURL.
// clientName is sent in the X-Client header.
func NewHTTPClient(baseURL, clientName string, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}

	c := &HTTPClient{
		baseURL:    u,
		http:       &http.Client{},
		timeout:    DefaultTimeout,
		clientName: clientName,
		maxBody:    DefaultMaxResponseBody,
		logger:     logging.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *HTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	// A dispatched call is not aborted by the caller going away; the timeout
	// is the only bound.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	requestID := httpReq.Header.Get(common.RequestIDHeaderName)
	start := time.Now()

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		mapped := mapTransportError(err)
		c.logger.Warn(ctx, "request failed",
			"op", req.Op, "method", httpReq.Method, "path", httpReq.URL.Path,
			"request_id", requestID, "error", mapped)
		return nil, fmt.Errorf("%s: %w", req.Op, mapped)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", req.Op, mapTransportError(err))
	}
	if int64(len(body)) > c.maxBody {
		c.logger.Warn(ctx, "response body over limit",
			"op", req.Op, "status", httpResp.StatusCode, "request_id", requestID, "limit", c.maxBody)
		return nil, fmt.Errorf("%s: %w: more than %d bytes", req.Op, ErrResponseTooLarge, c.maxBody)
	}

	c.logger.Debug(ctx, "request done",
		"op", req.Op, "method", httpReq.Method, "path", httpReq.URL.Path,
		"status", httpResp.StatusCode, "request_id", requestID,
		"elapsed", time.Since(start))

	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: body}, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, req *Request) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.File != nil:
		buf, ct, err := encodeMultipart(req.File)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", req.Op, err)
		}
		body, contentType = buf, ct
	case req.Body != nil:
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", req.Op, err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Op, err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.clientName != "" {
		httpReq.Header.Set(common.ClientHeaderName, c.clientName)
		httpReq.Header.Set("User-Agent", c.clientName)
	}
	httpReq.Header.Set(common.RequestIDHeaderName, uuid.NewString())
	if req.Token != "" {
		httpReq.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+req.Token)
	}

	return httpReq, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeMultipart(f *FilePart) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	field := f.Field
	if field == "" {
		field = "file"
	}
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(f.Filename)))
	h.Set("Content-Type", ct)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := io.Copy(part, f.Content); err != nil {
		return nil, "", fmt.Errorf("write multipart content: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
