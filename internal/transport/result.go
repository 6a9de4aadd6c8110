package transport

import "fmt"

// Kind classifies the outcome of one exchange
type Kind int

// Result kinds
const (
	TransportFailure Kind = iota + 1
	NonSuccessStatus
	TamperedSignature
	ValidPayload
)

// String returns the kind name used in logs and metrics
func (k Kind) String() string {
	switch k {
	case TransportFailure:
		return "transport_failure"
	case NonSuccessStatus:
		return "non_success_status"
	case TamperedSignature:
		return "tampered_signature"
	case ValidPayload:
		return "valid_payload"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the classified outcome of Execute. Only the fields relevant to Kind are set.
type Result struct {
	Kind Kind

	// Body is the raw response body of a ValidPayload, possibly empty
	Body []byte

	// StatusCode is set for NonSuccessStatus
	StatusCode int

	// Received and Expected are the signatures of a TamperedSignature
	Received string
	Expected string

	// Err is the underlying error of a TransportFailure
	Err error
}

// Valid reports whether the result carries a verified payload
func (r Result) Valid() bool {
	return r.Kind == ValidPayload
}
