package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const networkErrorMessage = "network request failed, please check your connection"

// Error body of the blog API
type errorBody struct {
	Error string `json:"error"`
}

// StatusMessage returns short user-facing message for the failed response
// Server provided text is used for 400, 422 and unknown statuses when present
func StatusMessage(status int, body []byte) string {
	serverText := func(fallback string) string {
		var e errorBody
		if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
			return e.Error
		}
		return fallback
	}

	switch status {
	case http.StatusBadRequest:
		return serverText("invalid request parameters")
	case http.StatusUnauthorized:
		return "unauthorized access"
	case http.StatusForbidden:
		return "no permission to access this resource"
	case http.StatusNotFound:
		return "requested resource does not exist"
	case http.StatusUnprocessableEntity:
		return serverText("data validation failed")
	case http.StatusInternalServerError:
		return "internal server error"
	default:
		return serverText(fmt.Sprintf("request failed (%d)", status))
	}
}
