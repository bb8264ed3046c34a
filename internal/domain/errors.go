package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrSecondFactorRequired = errors.New("second factor required")
	ErrSecondFactorRejected = errors.New("second factor rejected")
	ErrDuplicateAccount     = errors.New("email already registered")
	ErrNoSession            = errors.New("no active session")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrNetworkUnavailable   = errors.New("network unavailable")
	ErrStateUnavailable     = errors.New("view state unavailable")
	ErrSuperseded           = errors.New("superseded by a newer request")
)

// ValidationError is detected client-side and never reaches the network.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// RemoteRejectedError carries a structured failure reason returned by the
// server. It is terminal for the submission that caused it and is never
// retried automatically.
type RemoteRejectedError struct {
	Status int
	Reason string
}

func (e *RemoteRejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("request rejected with status %d", e.Status)
	}
	return e.Reason
}
