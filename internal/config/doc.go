// Package config loads the keyauth CLI configuration.
//
// # Configuration Sources
//
// Configuration is assembled from the following sources, later ones winning:
//
//	1. Default values
//	2. A YAML file (--config, or keyauth.yaml / configs/keyauth.yaml)
//	3. Environment variables
//
// # Environment Variables
//
// All environment variables follow the pattern KEYAUTH_<SECTION>_<FIELD>:
//
//	KEYAUTH_CLIENT_OWNER_ID=Xk2pQ9aZ1b
//	KEYAUTH_CLIENT_APP_NAME=demo-app
//	KEYAUTH_CLIENT_SECRET=sealed:eyJ2IjoxLC...
//	KEYAUTH_CLIENT_SECRET_PASSPHRASE=...
//	KEYAUTH_CLIENT_VERSION=1.0
//	KEYAUTH_HTTP_TIMEOUT=10s
//	KEYAUTH_LOGGING_LEVEL=debug
//
// # Sealed Secrets
//
// The application secret signs every response, so a config file should not
// carry it in clear. "keyauth seal-secret" prints a sealed: value that Load
// opens with KEYAUTH_CLIENT_SECRET_PASSPHRASE.
//
// # Validation
//
// Load validates with go-playground/validator: the four identity fields are
// required, the endpoint must be a URL, timeouts must be positive and pins
// must be 64 hex characters.
package config
