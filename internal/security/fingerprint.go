package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// DeviceFingerprint holds the hardware id sent as "hwid" and the factors behind it
type DeviceFingerprint struct {
	HWID        string    `json:"hwid"`
	Hostname    string    `json:"hostname"`
	MACAddress  string    `json:"mac_address"`
	CPUID       string    `json:"cpu_id"`
	OS          string    `json:"os"`
	Platform    string    `json:"platform"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintSources are the lookups a fingerprint is built from
type FingerprintSources struct {
	Interfaces func() ([]net.Interface, error)
	Hostname   func() (string, error)
	ReadFile   func(name string) ([]byte, error)
	Getenv     func(key string) string
}

// FingerprintManager computes a stable per-machine id and caches it
type FingerprintManager struct {
	sources       FingerprintSources
	logger        *slog.Logger
	cache         *DeviceFingerprint
	cacheMutex    sync.RWMutex
	cacheExpiry   time.Time
	cacheDuration time.Duration
	now           func() time.Time
}

// NewFingerprintManager creates a fingerprint manager reading the real machine
func NewFingerprintManager(logger *slog.Logger) *FingerprintManager {
	return NewFingerprintManagerWithSources(FingerprintSources{
		Interfaces: net.Interfaces,
		Hostname:   os.Hostname,
		ReadFile:   os.ReadFile,
		Getenv:     os.Getenv,
	}, logger)
}

// NewFingerprintManagerWithSources creates a fingerprint manager over custom lookups
func NewFingerprintManagerWithSources(sources FingerprintSources, logger *slog.Logger) *FingerprintManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &FingerprintManager{
		sources:       sources,
		logger:        logger.With(slog.String("component", "fingerprint")),
		cacheDuration: 1 * time.Hour,
		now:           time.Now,
	}
}

// HWID returns the hardware id, computing it on first use
func (fm *FingerprintManager) HWID() (string, error) {
	fp, err := fm.GenerateFingerprint()
	if err != nil {
		return "", err
	}
	return fp.HWID, nil
}

// GenerateFingerprint combines hardware factors into a device fingerprint.
// Missing factors degrade to fixed placeholders so the id stays stable on that machine.
func (fm *FingerprintManager) GenerateFingerprint() (*DeviceFingerprint, error) {
	fm.cacheMutex.RLock()
	if fm.cache != nil && fm.now().Before(fm.cacheExpiry) {
		cached := *fm.cache
		fm.cacheMutex.RUnlock()
		return &cached, nil
	}
	fm.cacheMutex.RUnlock()

	macAddr, err := fm.GetMACAddress()
	if err != nil {
		macAddr = "unknown-mac"
		fm.logger.Warn("Failed to get MAC address, using fallback", slog.String("error", err.Error()))
	}

	hostname, err := fm.GetHostname()
	if err != nil {
		hostname = "unknown-host"
		fm.logger.Warn("Failed to get hostname, using fallback", slog.String("error", err.Error()))
	}

	cpuID := fm.GetCPUID()

	factors := []string{macAddr, hostname, cpuID, runtime.GOOS, runtime.GOARCH}
	sum := sha256.Sum256([]byte(strings.Join(factors, "|")))

	fp := &DeviceFingerprint{
		HWID:        hex.EncodeToString(sum[:]),
		Hostname:    hostname,
		MACAddress:  macAddr,
		CPUID:       cpuID,
		OS:          runtime.GOOS,
		Platform:    runtime.GOARCH,
		GeneratedAt: fm.now(),
	}

	fm.cacheMutex.Lock()
	fm.cache = fp
	fm.cacheExpiry = fp.GeneratedAt.Add(fm.cacheDuration)
	fm.cacheMutex.Unlock()

	fm.logger.Debug("Device fingerprint generated", slog.String("os", fp.OS), slog.String("platform", fp.Platform))

	out := *fp
	return &out, nil
}

// GetMACAddress returns the first usable hardware address, preferring interfaces that are up
func (fm *FingerprintManager) GetMACAddress() (string, error) {
	interfaces, err := fm.sources.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	for _, preferUp := range []bool{true, false} {
		for _, iface := range interfaces {
			if preferUp && (iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0) {
				continue
			}
			if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
				return mac, nil
			}
		}
	}

	return "", fmt.Errorf("no valid MAC address found")
}

// GetHostname returns the normalized machine hostname
func (fm *FingerprintManager) GetHostname() (string, error) {
	hostname, err := fm.sources.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}

	return hostname, nil
}

// GetCPUID returns a short hash of whatever CPU description the OS exposes
func (fm *FingerprintManager) GetCPUID() string {
	raw := fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)

	switch runtime.GOOS {
	case "windows":
		if id := fm.sources.Getenv("PROCESSOR_IDENTIFIER"); id != "" {
			raw = id
		}
	case "linux":
		if data, err := fm.sources.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") {
					raw = line
					break
				}
			}
		}
	case "darwin":
		if procType := fm.sources.Getenv("HOSTTYPE"); procType != "" {
			raw = fmt.Sprintf("darwin-%s-%s", runtime.GOARCH, procType)
		}
	}

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

// ClearCache drops the cached fingerprint
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()

	fm.cache = nil
	fm.cacheExpiry = time.Time{}
}
