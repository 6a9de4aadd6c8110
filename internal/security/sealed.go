package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// SealedPrefix marks a config value that holds an encrypted app secret.
const SealedPrefix = "sealed:"

// SealConfig defines the key derivation and AES-GCM parameters for sealed secrets
type SealConfig struct {
	SCryptN      int // CPU/memory cost parameter
	SCryptR      int // Block size parameter
	SCryptP      int // Parallelization parameter
	SCryptKeyLen int // 32 for AES-256
	SaltSize     int
}

// sealedPayload is the JSON document behind the base64 part of a sealed value
type sealedPayload struct {
	Version    uint8  `json:"v"`
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ct"`
}

// Errors returned by OpenSecret
var (
	ErrNotSealed       = errors.New("value is not a sealed secret")
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")
	ErrSealedCorrupted = errors.New("sealed secret is corrupted")
	ErrWrongPassphrase = errors.New("sealed secret could not be opened with this passphrase")
)

// DefaultSealConfig returns OWASP-minimum scrypt parameters
func DefaultSealConfig() *SealConfig {
	return &SealConfig{
		SCryptN:      32768,
		SCryptR:      8,
		SCryptP:      1,
		SCryptKeyLen: 32,
		SaltSize:     32,
	}
}

// IsSealed reports whether value carries the sealed prefix
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// SealSecret encrypts secret under passphrase and returns "sealed:<base64>".
func SealSecret(secret, passphrase string, cfg *SealConfig) (string, error) {
	if secret == "" {
		return "", errors.New("secret cannot be empty")
	}
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}
	if cfg == nil {
		cfg = DefaultSealConfig()
	}

	salt := make([]byte, cfg.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := sealCipher(passphrase, salt, cfg.SCryptN, cfg.SCryptR, cfg.SCryptP, cfg.SCryptKeyLen)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	payload := sealedPayload{
		Version:    1,
		N:          cfg.SCryptN,
		R:          cfg.SCryptR,
		P:          cfg.SCryptP,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, []byte(secret), []byte(SealedPrefix)),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sealed secret: %w", err)
	}

	return SealedPrefix + base64.StdEncoding.EncodeToString(data), nil
}

// OpenSecret reverses SealSecret. The scrypt parameters travel with the value.
func OpenSecret(value, passphrase string) (string, error) {
	if !IsSealed(value) {
		return "", ErrNotSealed
	}
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedCorrupted, err)
	}

	var payload sealedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedCorrupted, err)
	}
	if payload.Version != 1 {
		return "", fmt.Errorf("%w: unsupported version %d", ErrSealedCorrupted, payload.Version)
	}

	gcm, err := sealCipher(passphrase, payload.Salt, payload.N, payload.R, payload.P, 32)
	if err != nil {
		return "", err
	}
	if len(payload.Nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("%w: bad nonce size", ErrSealedCorrupted)
	}

	plaintext, err := gcm.Open(nil, payload.Nonce, payload.Ciphertext, []byte(SealedPrefix))
	if err != nil {
		return "", ErrWrongPassphrase
	}

	return string(plaintext), nil
}

func sealCipher(passphrase string, salt []byte, n, r, p, keyLen int) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, n, r, p, keyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
