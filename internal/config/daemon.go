package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DaemonConfig holds the host daemon's own settings, generalized from the
// teacher's Config/DefaultConfig/EnsureDirs pattern (internal/config/config.go).
type DaemonConfig struct {
	// SocketPath is the host control socket (spec §6.1 default
	// /run/vasum/host.sock).
	SocketPath string `json:"socketPath"`
	// ZoneSocketPath is the zone-facing control socket default
	// (/run/vasum/zone.sock), dialed by the in-zone agent.
	ZoneSocketPath string `json:"zoneSocketPath"`

	DataDir  string `json:"dataDir"`
	StateDir string `json:"stateDir"`
	ZonesDir string `json:"zonesConfDir"`
	DBPath   string `json:"dbPath"`

	// DefaultCGroupRoot is where a missing controller is mounted if no
	// per-subsystem MountPoint is configured (spec §4.8).
	DefaultCGroupRoot string `json:"defaultCgroupRoot"`

	LogLevel string `json:"logLevel"`
}

// DefaultConfig returns vasum's stock daemon configuration.
func DefaultConfig() *DaemonConfig {
	return &DaemonConfig{
		SocketPath:        "/run/vasum/host.sock",
		ZoneSocketPath:    "/run/vasum/zone.sock",
		DataDir:           "/var/lib/vasum",
		StateDir:          "/var/lib/vasum/state",
		ZonesDir:          "/etc/vasum/zones",
		DBPath:            "/var/lib/vasum/vasum.db",
		DefaultCGroupRoot: "/sys/fs/cgroup",
		LogLevel:          "info",
	}
}

// EnsureDirs creates every directory the daemon needs with restrictive
// permissions, matching the teacher's EnsureDirs.
func (c *DaemonConfig) EnsureDirs() error {
	for _, dir := range []string{
		c.DataDir,
		c.StateDir,
		filepath.Dir(c.SocketPath),
		filepath.Dir(c.ZoneSocketPath),
	} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("config: mkdir %s: %w", dir, err)
		}
	}
	return nil
}
