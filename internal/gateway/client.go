package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authgateway/internal/apperrors"
	"github.com/nkiryanov/authgateway/internal/logger"
)

const DefaultRequestTimeout = 10 * time.Second

// Client sends requests to the API on behalf of the current session
// Bearer is attached and renewed transparently, rejected request is replayed once after renewal
type Client struct {
	BaseURL string

	client      *http.Client
	coordinator *Coordinator
	notifier    Notifier
	logger      logger.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

func WithNotifier(n Notifier) ClientOption {
	return func(c *Client) { c.notifier = n }
}

func WithLogger(l logger.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, coordinator *Coordinator, opts ...ClientOption) *Client {
	c := &Client{
		BaseURL:     baseURL,
		client:      &http.Client{Timeout: DefaultRequestTimeout},
		coordinator: coordinator,
		notifier:    NopNotifier{},
		logger:      logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends the request and returns successful (status < 400) response
// Failed responses are returned as errors: *apperrors.APIError, apperrors.ErrForbidden or session errors
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Header.Get(HeaderRequestID) == "" {
		req = req.WithHeader(HeaderRequestID, uuid.NewString())
	}

	req, err := c.authorize(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, c.fail(req, err)
	}

	switch {
	case resp.StatusCode < http.StatusBadRequest:
		return resp, nil
	case resp.StatusCode == http.StatusUnauthorized && !req.Options.SkipAuth:
		return c.unauthorized(ctx, req, resp)
	default:
		return nil, c.reject(req, resp)
	}
}

// authorize attaches bearer token if there is a session
func (c *Client) authorize(ctx context.Context, req Request) (Request, error) {
	if req.Options.SkipAuth || req.retried {
		return req, nil
	}

	token, err := c.coordinator.EnsureFresh(ctx)
	if err != nil {
		return req, err
	}
	if token == "" {
		return req, nil
	}

	return req.WithBearer(token), nil
}

// unauthorized renews the token and replays the request once
func (c *Client) unauthorized(ctx context.Context, req Request, resp *Response) (*Response, error) {
	rejected := req.bearer()

	if req.retried {
		apiErr := &apperrors.APIError{StatusCode: resp.StatusCode, Message: StatusMessage(resp.StatusCode, resp.Body)}
		c.coordinator.Invalidate(ctx, rejected, apperrors.ErrAuthRetryExhausted)
		return nil, errors.Join(apperrors.ErrAuthRetryExhausted, apiErr)
	}

	c.logger.Debug("Access token rejected, renewing", "method", req.Method, "path", req.Path, "request_id", req.Header.Get(HeaderRequestID))

	token, err := c.coordinator.Refresh(ctx, rejected)
	if err != nil {
		return nil, err
	}

	return c.Do(ctx, req.withRetried().WithBearer(token))
}

// reject turns error response into error and notifies about it
func (c *Client) reject(req Request, resp *Response) error {
	apiErr := &apperrors.APIError{StatusCode: resp.StatusCode, Message: StatusMessage(resp.StatusCode, resp.Body)}

	if resp.StatusCode == http.StatusForbidden {
		c.notifier.Forbidden(req)
		return fmt.Errorf("%w: %w", apperrors.ErrForbidden, apiErr)
	}

	if !req.Options.SkipErrorHandler {
		c.notifier.Error(apiErr.Message)
	}
	return apiErr
}

// fail reports network error
func (c *Client) fail(req Request, err error) error {
	apiErr := &apperrors.APIError{Message: networkErrorMessage, Err: err}

	if !req.Options.SkipErrorHandler {
		c.notifier.Error(apiErr.Message)
	}
	return apiErr
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.BaseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close() // nolint:errcheck

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (c *Client) Get(ctx context.Context, path string, opts Options) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodGet, path, nil, opts))
}

func (c *Client) Delete(ctx context.Context, path string, opts Options) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodDelete, path, nil, opts))
}

func (c *Client) Post(ctx context.Context, path string, payload any, opts Options) (*Response, error) {
	return c.doJSON(ctx, http.MethodPost, path, payload, opts)
}

func (c *Client) Put(ctx context.Context, path string, payload any, opts Options) (*Response, error) {
	return c.doJSON(ctx, http.MethodPut, path, payload, opts)
}

func (c *Client) Patch(ctx context.Context, path string, payload any, opts Options) (*Response, error) {
	return c.doJSON(ctx, http.MethodPatch, path, payload, opts)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, opts Options) (*Response, error) {
	req, err := NewJSONRequest(method, path, payload, opts)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}
