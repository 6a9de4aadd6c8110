// Package contracts holds the identifiers shared by the client library, the
// CLI and the fake backend.
package contracts

import (
	"fmt"
	"runtime"
)

const (
	// Version is the client library release
	Version = "0.3.0"

	// APIVersion is the KeyAuth API version the client speaks
	APIVersion = "1.2"
)

// Set at build time with -ldflags "-X keyauthcli/pkg/contracts.GitCommit=..."
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// VersionInfo describes the running build
type VersionInfo struct {
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	BuildTime  string `json:"build_time"`
	GitCommit  string `json:"git_commit"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// GetVersionInfo returns the build description
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:    Version,
		APIVersion: APIVersion,
		BuildTime:  BuildTime,
		GitCommit:  GitCommit,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// UserAgent returns the User-Agent the client sends by default
func UserAgent() string {
	return fmt.Sprintf("keyauth-go/%s (api %s; %s/%s)", Version, APIVersion, runtime.GOOS, runtime.GOARCH)
}

// String renders the build for --version output
func (v VersionInfo) String() string {
	return fmt.Sprintf("%s (api %s, commit %s, built %s, %s %s)",
		v.Version, v.APIVersion, v.GitCommit, v.BuildTime, v.GoVersion, v.Platform)
}
