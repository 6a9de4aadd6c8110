package keyauth

import (
	"fmt"

	api "keyauthcli/pkg/contracts/api/v1"
)

// Kind classifies an Outcome
type Kind int

const (
	// KindCompleted is a success with nothing further to report
	KindCompleted Kind = iota + 1
	// KindSuccess is a success carrying a server message or payload
	KindSuccess
	// KindLogicalFailure is a signed response with success=false
	KindLogicalFailure
	// KindTransportFailure is a connection, timeout or read error
	KindTransportFailure
	// KindNonSuccessStatus is an HTTP status other than 200
	KindNonSuccessStatus
	// KindTampered is a response whose signature did not verify
	KindTampered
	// KindMalformedResponse is a verified body that is not the expected JSON
	KindMalformedResponse
	// KindPrecondition is a local state check that failed before any request
	KindPrecondition
	// KindUpdateRequired is an init rejected for an outdated version
	KindUpdateRequired
)

var kindNames = map[Kind]string{
	KindCompleted:         "completed",
	KindSuccess:           "success",
	KindLogicalFailure:    "logical_failure",
	KindTransportFailure:  "transport_failure",
	KindNonSuccessStatus:  "non_success_status",
	KindTampered:          "tampered",
	KindMalformedResponse: "malformed_response",
	KindPrecondition:      "precondition",
	KindUpdateRequired:    "update_required",
}

// String returns the kind name used in logs and metrics
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the result of one client operation
type Outcome struct {
	Kind Kind
	Op   api.RequestType

	// Message is the server message, or a local description for
	// precondition, transport, status and signature failures
	Message string

	// Payload is set when a verified body was parsed
	Payload *Payload

	// StatusCode is set for KindNonSuccessStatus
	StatusCode int

	// DownloadURL is set for KindUpdateRequired
	DownloadURL string

	// Revalidation is the session check run after a successful login or register
	Revalidation *Outcome

	// Cause is the underlying error for transport, malformed and precondition outcomes
	Cause error
}

// OK reports whether the operation succeeded
func (o Outcome) OK() bool {
	return o.Kind == KindCompleted || o.Kind == KindSuccess
}

// Err returns nil for successful outcomes and an error matching one of the
// package sentinels (or a *ServerError) otherwise
func (o Outcome) Err() error {
	switch o.Kind {
	case KindCompleted, KindSuccess:
		return nil
	case KindLogicalFailure:
		return &ServerError{Op: o.Op, Message: o.Message}
	case KindTransportFailure:
		if o.Cause != nil {
			return fmt.Errorf("keyauth %s: %w: %w", o.Op, ErrTransport, o.Cause)
		}
		return fmt.Errorf("keyauth %s: %w", o.Op, ErrTransport)
	case KindNonSuccessStatus:
		return fmt.Errorf("keyauth %s: %w %d", o.Op, ErrNonSuccessStatus, o.StatusCode)
	case KindTampered:
		return fmt.Errorf("keyauth %s: %w", o.Op, ErrTampered)
	case KindMalformedResponse:
		if o.Cause != nil {
			return fmt.Errorf("keyauth %s: %w", o.Op, o.Cause)
		}
		return fmt.Errorf("keyauth %s: %w", o.Op, ErrMalformedResponse)
	case KindPrecondition:
		return fmt.Errorf("keyauth %s: %w", o.Op, o.Cause)
	case KindUpdateRequired:
		return fmt.Errorf("keyauth %s: %w (download %s)", o.Op, ErrUpdateRequired, o.DownloadURL)
	default:
		return fmt.Errorf("keyauth %s: unknown outcome %s", o.Op, o.Kind)
	}
}

func completed(op api.RequestType) Outcome {
	return Outcome{Kind: KindCompleted, Op: op}
}

func logicalFailure(op api.RequestType, message string, payload *Payload) Outcome {
	return Outcome{Kind: KindLogicalFailure, Op: op, Message: message, Payload: payload}
}

func precondition(op api.RequestType, cause error) Outcome {
	return Outcome{Kind: KindPrecondition, Op: op, Message: cause.Error(), Cause: cause}
}

// lookupFailed is a precondition caused by a local lookup such as the hardware id
func lookupFailed(op api.RequestType, sentinel, err error) Outcome {
	return Outcome{Kind: KindPrecondition, Op: op, Message: sentinel.Error(), Cause: fmt.Errorf("%w: %w", sentinel, err)}
}

func malformed(op api.RequestType, cause error, payload *Payload) Outcome {
	return Outcome{Kind: KindMalformedResponse, Op: op, Message: cause.Error(), Cause: cause, Payload: payload}
}
