// Package keyauth is a client for the KeyAuth license and authentication API.
//
// A Client owns one session with the backend. Its lifecycle is
//
//	Uninitialized --Initialize--> Initialized --Login/Register + check--> Authenticated
//
// Initialize performs the handshake and stores the session id. Login and
// Register only mark the client authenticated after an extra session check
// round-trip succeeds. There is no logout; discard the Client instead.
//
// # Outcomes
//
// Every operation returns one Outcome. Switch on its Kind, or call Err and use
// errors.Is / errors.As:
//
//	out := client.Login(ctx, "alice", "hunter2")
//	switch out.Kind {
//	case keyauth.KindSuccess:
//	    if out.Revalidation.Kind != keyauth.KindCompleted {
//	        // login accepted but the session check failed
//	    }
//	case keyauth.KindLogicalFailure:
//	    fmt.Println("denied:", out.Message)
//	case keyauth.KindTampered:
//	    // treat as an active man-in-the-middle
//	}
//
// KindTampered means the response signature did not match. It is a security
// event and is never retried. KindUpdateRequired carries the download URL the
// server sent with an out-of-date version; acting on it (opening a browser,
// exiting) is left to the application.
//
// # Concurrency
//
// A Client runs one operation at a time. A call made while another is in
// flight returns KindPrecondition with ErrBusy without touching the network.
// Nothing is retried.
//
// # Logging and telemetry
//
// The client logs only through the logger passed with WithLogger and emits
// OpenTelemetry metrics and spans through the global providers unless
// WithMeterProvider / WithTracerProvider are given.
package keyauth
