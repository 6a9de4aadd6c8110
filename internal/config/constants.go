package config

import "time"

const (
	// EnvPrefix namespaces every environment variable, e.g. KEYAUTH_CLIENT_OWNER_ID
	EnvPrefix = "KEYAUTH"

	// DefaultHTTPTimeout bounds one request/response exchange
	DefaultHTTPTimeout = 10 * time.Second

	// DefaultMetricsAddr is where the watch command serves /metrics
	DefaultMetricsAddr = "127.0.0.1:9464"

	// DefaultServiceName is the OpenTelemetry service.name of the CLI
	DefaultServiceName = "keyauth-cli"

	// DefaultLogFile is used when logging output includes a file
	DefaultLogFile = "logs/keyauth.log"
)

// configFileLocations are searched in order when no config path is given
var configFileLocations = []string{
	"keyauth.yaml",
	"configs/keyauth.yaml",
	"../configs/keyauth.yaml",
}
