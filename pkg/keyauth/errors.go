package keyauth

import (
	"errors"
	"fmt"

	api "keyauthcli/pkg/contracts/api/v1"
)

// Network-originating errors
var (
	ErrTransport         = errors.New("request failed")
	ErrNonSuccessStatus  = errors.New("unexpected HTTP status")
	ErrTampered          = errors.New("response signature mismatch")
	ErrMalformedResponse = errors.New("malformed response")
	ErrUpdateRequired    = errors.New("application version is out of date")
)

// Local precondition errors; these never reach the network
var (
	ErrNotInitialized  = errors.New("not initialized")
	ErrAlreadyLoggedIn = errors.New("already logged in")
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrMachineName     = errors.New("couldn't get machine name")
	ErrHardwareID      = errors.New("couldn't get hardware id")
	ErrBusy            = errors.New("another operation is in flight")
)

// ErrInvalidIdentity is returned by New when a required identity field is empty
var ErrInvalidIdentity = errors.New("invalid client identity")

// ServerError is a well-formed response denying the operation.
// Message is whatever the server said.
type ServerError struct {
	Op      api.RequestType
	Message string
}

// Error implements the error interface
func (e *ServerError) Error() string {
	return fmt.Sprintf("keyauth %s: %s", e.Op, e.Message)
}
