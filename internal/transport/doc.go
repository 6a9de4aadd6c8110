// Package transport implements the signed request/response exchange with the
// KeyAuth backend.
//
// Every call is a single form-encoded POST to a fixed endpoint. A 200 response
// carries a JSON body and a "signature" header holding HMAC-SHA256(key, body)
// in hex. The key depends on the phase of the session:
//
//	PhaseHandshake  key = secret               (the init call)
//	PhaseSession    key = nonce + "-" + secret (everything after init)
//
// Execute classifies the exchange into exactly one Result kind. An empty body
// is never signature-checked and always comes back as ValidPayload.
//
// The package performs no retries and does not interpret the JSON body.
package transport
