package security

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
)

// MachineName returns "<hostname>-<os user>", the identifier KeyAuth stores with log lines.
func MachineName() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", errors.New("hostname is empty")
	}

	name, err := currentUserName()
	if err != nil {
		return "", err
	}

	return host + "-" + name, nil
}

// currentUserName prefers the account database and falls back to the environment,
// which is all that is available in some minimal containers.
func currentUserName() (string, error) {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username, nil
	}
	for _, key := range []string{"USER", "USERNAME", "LOGNAME"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v, nil
		}
	}
	return "", errors.New("failed to get current user name")
}
