package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// MaxNonceLength bounds the session nonce sent as the init encryption key.
const MaxNonceLength = 35

// Sign returns the lowercase hex HMAC-SHA256 of body under key.
func Sign(key string, body []byte) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// SignatureMatches reports whether received equals the signature of body under key.
// The comparison is exact on the hex strings.
func SignatureMatches(key string, body []byte, received string) bool {
	return hmac.Equal([]byte(Sign(key, body)), []byte(received))
}

// HandshakeKey is the key the server signs the init response with.
func HandshakeKey(secret string) string {
	return secret
}

// SessionKey is the key the server signs every post-handshake response with.
// Both sides derive it once the server has seen the nonce in the init request.
func SessionKey(nonce, secret string) string {
	return nonce + "-" + secret
}

// NewNonce returns a fresh random session nonce of at most MaxNonceLength characters.
func NewNonce() string {
	nonce := uuid.New().String()
	if len(nonce) > MaxNonceLength {
		nonce = nonce[:MaxNonceLength]
	}
	return nonce
}
