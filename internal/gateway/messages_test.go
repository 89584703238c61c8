package gateway

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusMessage(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"400 with server text", http.StatusBadRequest, `{"error":"title is required"}`, "title is required"},
		{"400 without body", http.StatusBadRequest, ``, "invalid request parameters"},
		{"401 ignores server text", http.StatusUnauthorized, `{"error":"token expired"}`, "unauthorized access"},
		{"403", http.StatusForbidden, ``, "no permission to access this resource"},
		{"404", http.StatusNotFound, `{"error":"no rows"}`, "requested resource does not exist"},
		{"422 with server text", http.StatusUnprocessableEntity, `{"error":"slug is taken"}`, "slug is taken"},
		{"422 not json", http.StatusUnprocessableEntity, `oops`, "data validation failed"},
		{"500", http.StatusInternalServerError, `{"error":"pq: deadlock"}`, "internal server error"},
		{"other with server text", http.StatusConflict, `{"error":"already exists"}`, "already exists"},
		{"other without text", http.StatusBadGateway, ``, "request failed (502)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, StatusMessage(tt.status, []byte(tt.body)))
		})
	}
}
