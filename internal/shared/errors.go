package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrSessionExpired   = fmt.Errorf("session expired")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// API and transport errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrNotConnected       = fmt.Errorf("event channel not connected")
	ErrUnknownEvent       = fmt.Errorf("unknown event")

	// Intercom errors
	ErrPrivateTalkActive = fmt.Errorf("private talk session active")
	ErrTalkActive        = fmt.Errorf("talk session already active")
	ErrUnknownTarget     = fmt.Errorf("talk target not present")
	ErrNoActiveAlert     = fmt.Errorf("no active alert")
	ErrInvalidAckKind    = fmt.Errorf("invalid acknowledgment kind")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
