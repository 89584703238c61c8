package gateway

import (
	"github.com/nkiryanov/authgateway/internal/logger"
)

// Notifier tells the presentation layer what happened to the session and requests
type Notifier interface {
	// Session is lost, the user has to log in again. Cause is nil on logout
	SignedOut(cause error)

	// Access to the resource denied
	Forbidden(req Request)

	// Request failed, message is user-facing
	Error(message string)
}

type NopNotifier struct{}

func (NopNotifier) SignedOut(error)   {}
func (NopNotifier) Forbidden(Request) {}
func (NopNotifier) Error(string)      {}

// LogNotifier writes notifications to the logger
type LogNotifier struct {
	Logger logger.Logger
}

func (n LogNotifier) SignedOut(cause error) {
	if cause == nil {
		n.Logger.Info("Signed out")
		return
	}
	n.Logger.Warn("Signed out, login required", "cause", cause)
}

func (n LogNotifier) Forbidden(req Request) {
	n.Logger.Warn("Access denied", "method", req.Method, "path", req.Path)
}

func (n LogNotifier) Error(message string) {
	n.Logger.Error("Request failed", "message", message)
}
