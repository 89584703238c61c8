package gateway

import (
	"net/http"
	"time"
)

type infoLogger interface {
	Info(msg string, args ...any)
}

// LoggingTransport logs every round trip to the API
// Authorization header is never logged
type LoggingTransport struct {
	Base   http.RoundTripper
	Logger infoLogger
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	t.Logger.Info(
		"sent HTTP request",
		"method", req.Method,
		"uri", req.URL.RequestURI(),
		"duration", time.Since(start),
		"status", status,
		"request_id", req.Header.Get(HeaderRequestID),
	)

	return resp, err
}
