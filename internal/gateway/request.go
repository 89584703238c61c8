package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"
)

// Options tune how the gateway handles single request
type Options struct {
	// Send request as is: no bearer attached, 401 is an ordinary error
	SkipAuth bool

	// Do not notify about failed request. Forbidden is notified anyway
	SkipErrorHandler bool
}

// Request to the API. It is a value: derive new requests with With* methods
type Request struct {
	Method  string
	Path    string
	Header  http.Header
	Body    []byte
	Options Options

	// set on the replay after token renewal
	retried bool
}

func NewRequest(method, path string, body []byte, opts Options) Request {
	return Request{
		Method:  method,
		Path:    path,
		Header:  make(http.Header),
		Body:    body,
		Options: opts,
	}
}

// NewJSONRequest encodes payload as request body. Nil payload means no body
func NewJSONRequest(method, path string, payload any, opts Options) (Request, error) {
	if payload == nil {
		return NewRequest(method, path, nil, opts), nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("encode request body: %w", err)
	}

	return NewRequest(method, path, body, opts).WithHeader("Content-Type", "application/json"), nil
}

func (r Request) WithHeader(key, value string) Request {
	r.Header = r.Header.Clone()
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set(key, value)
	return r
}

func (r Request) WithBearer(token string) Request {
	return r.WithHeader(HeaderAuthorization, "Bearer "+token)
}

// Retried reports whether the request is a replay after token renewal
func (r Request) Retried() bool {
	return r.retried
}

func (r Request) withRetried() Request {
	r.retried = true
	return r
}

// Bearer token attached to the request, if any
func (r Request) bearer() string {
	token, ok := strings.CutPrefix(r.Header.Get(HeaderAuthorization), "Bearer ")
	if !ok {
		return ""
	}
	return token
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON decodes response body into v
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}
