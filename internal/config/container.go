// Package config holds the daemon's and a container's configuration, per
// spec §6.3, generalized from the teacher's config.Config/DefaultConfig
// pattern (internal/config/config.go in xfeldman-aegisvm).
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Namespace is one of the kinds a container can request (spec §3.1).
type Namespace string

const (
	NamespaceUser   Namespace = "USER"
	NamespacePID    Namespace = "PID"
	NamespaceMount  Namespace = "MOUNT"
	NamespaceNet    Namespace = "NET"
	NamespaceUTS    Namespace = "UTS"
	NamespaceIPC    Namespace = "IPC"
	NamespaceCgroup Namespace = "CGROUP"
)

// IDMapping is one (inside_id, outside_id, count) triple (spec §3.1).
type IDMapping struct {
	InsideID  uint32 `json:"insideId"`
	OutsideID uint32 `json:"outsideId"`
	Count     uint32 `json:"count"`
}

// MountDeclaration is one mount applied after root switch (spec §4.10.3).
type MountDeclaration struct {
	Source string `json:"source"`
	Target string `json:"target"`
	FSType string `json:"fsType"`
	Flags  uint64 `json:"flags"`
	Data   string `json:"data"`
	Mode   uint32 `json:"mode"`
}

// LinkDeclaration is a hard link created inside the new root (spec §4.10.4).
type LinkDeclaration struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// FileKind enumerates the kinds of declared file objects (spec §4.10.5).
type FileKind string

const (
	FileKindDir  FileKind = "DIR"
	FileKindReg  FileKind = "REG"
	FileKindFifo FileKind = "FIFO"
	FileKindSock FileKind = "SOCK"
	FileKindDev  FileKind = "DEV"
)

// FileDeclaration is a declared file-system object (spec §4.10.5).
type FileDeclaration struct {
	Kind  FileKind `json:"kind"`
	Path  string   `json:"path"`
	Mode  uint32   `json:"mode"`
	Major uint32   `json:"major,omitempty"`
	Minor uint32   `json:"minor,omitempty"`
}

// ProvisionKind tags which of Mounts/Links/Files a Provision entry is.
type ProvisionKind string

const (
	ProvisionMount ProvisionKind = "mount"
	ProvisionLink  ProvisionKind = "link"
	ProvisionFile  ProvisionKind = "file"
)

// Provision is one ordered provisioning step (spec §4.10); exactly one of
// Mount/Link/File is populated, selected by Kind.
type Provision struct {
	Kind  ProvisionKind     `json:"kind"`
	Mount *MountDeclaration `json:"mount,omitempty"`
	Link  *LinkDeclaration  `json:"link,omitempty"`
	File  *FileDeclaration  `json:"file,omitempty"`
}

// ContainerConfig is the JSON configuration for one container, per spec
// §6.3; each nested object mirrors the corresponding §3 data model entry.
type ContainerConfig struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	RootPath string `json:"rootPath"`
	WorkPath string `json:"workPath"`
	Init     []string `json:"init"`

	UIDMap []IDMapping `json:"uidMap"`
	GIDMap []IDMapping `json:"gidMap"`

	Namespaces    []Namespace `json:"namespaces"`
	TerminalCount int         `json:"terminalCount"`

	Mounts []MountDeclaration `json:"mounts"`

	CGroups CGroupsConfig `json:"cgroups"`
	Network NetworkConfig `json:"network"`

	Provisions []Provision `json:"provisions"`

	ShutdownTimeoutMs int `json:"shutdownTimeoutMs"`
}

// CGroupsConfig mirrors spec §6.3's `cgroups{ subsystems[], cgroups[] }`.
type CGroupsConfig struct {
	Subsystems []SubsystemMount `json:"subsystems"`
	CGroups    []CGroupEntry    `json:"cgroups"`
}

// SubsystemMount names a controller and the path it should be mounted at
// if not already mounted (spec §4.8 "the caller may mount it at a
// configured path").
type SubsystemMount struct {
	Subsystem  string `json:"subsystem"`
	MountPoint string `json:"mountPoint"`
}

// CGroupEntry is one cgroup descriptor to create and populate (spec §3.4).
type CGroupEntry struct {
	Subsystem string            `json:"subsystem"`
	Name      string            `json:"name"`
	Params    map[string]string `json:"params"`
	Common    map[string]string `json:"common"`
}

// NetworkConfig mirrors spec §6.3's `network{ interfaces[] }`.
type NetworkConfig struct {
	Interfaces []InterfaceConfig `json:"interfaces"`
}

// InterfaceKind is one of {VETH, BRIDGE, MACVLAN} (spec §3.5).
type InterfaceKind string

const (
	InterfaceVeth    InterfaceKind = "VETH"
	InterfaceBridge  InterfaceKind = "BRIDGE"
	InterfaceMacvlan InterfaceKind = "MACVLAN"
)

// MacvlanMode is one of {PRIVATE, VEPA, BRIDGE, PASSTHRU} (spec §3.5).
type MacvlanMode string

const (
	MacvlanPrivate  MacvlanMode = "PRIVATE"
	MacvlanVEPA     MacvlanMode = "VEPA"
	MacvlanBridge   MacvlanMode = "BRIDGE"
	MacvlanPassthru MacvlanMode = "PASSTHRU"
)

// AddrConfig is one (family, address, prefix, flags) tuple (spec §3.5).
type AddrConfig struct {
	Family  string `json:"family"` // "inet" or "inet6"
	Address string `json:"address"`
	Prefix  int    `json:"prefix"`
	Flags   uint32 `json:"flags"`
}

// RouteConfig is one (dst, src?, metric, table) tuple (spec §3.5).
type RouteConfig struct {
	Dst    string `json:"dst"`
	Src    string `json:"src,omitempty"`
	Metric int    `json:"metric"`
	Table  string `json:"table"`
}

// InterfaceConfig is one network interface declaration (spec §3.5).
type InterfaceConfig struct {
	Name      string        `json:"name"`
	Kind      InterfaceKind `json:"kind"`
	Peer      string        `json:"peer,omitempty"`
	MAC       string        `json:"mac,omitempty"`
	MTU       int           `json:"mtu,omitempty"`
	TxQueueLen int          `json:"txqlen,omitempty"`
	Mode      MacvlanMode   `json:"mode,omitempty"`
	Addresses []AddrConfig  `json:"addresses"`
	Routes    []RouteConfig `json:"routes"`
}

// LoadContainerConfig reads and parses a container config file.
func LoadContainerConfig(path string) (*ContainerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg ContainerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants of spec §3.1 that are cheap to check
// before attempting a start.
func (c *ContainerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: name must not be empty")
	}
	if c.RootPath == "" {
		return fmt.Errorf("config: rootPath must not be empty")
	}
	if len(c.Init) == 0 {
		return fmt.Errorf("config: init must not be empty")
	}
	if c.Hostname == "" {
		c.Hostname = c.Name
	}
	if c.TerminalCount <= 0 {
		c.TerminalCount = 1
	}
	hasUser := false
	for _, ns := range c.Namespaces {
		if ns == NamespaceUser {
			hasUser = true
		}
	}
	if hasUser && len(c.UIDMap) == 0 {
		return fmt.Errorf("config: uidMap must not be empty when USER namespace is requested")
	}
	if hasUser && len(c.GIDMap) == 0 {
		return fmt.Errorf("config: gidMap must not be empty when USER namespace is requested")
	}
	if err := validateMappings(c.UIDMap); err != nil {
		return fmt.Errorf("config: uidMap: %w", err)
	}
	if err := validateMappings(c.GIDMap); err != nil {
		return fmt.Errorf("config: gidMap: %w", err)
	}
	if c.ShutdownTimeoutMs <= 0 {
		c.ShutdownTimeoutMs = 5000
	}
	return nil
}

func validateMappings(maps []IDMapping) error {
	type span struct{ lo, hi uint64 }
	var spans []span
	for _, m := range maps {
		if m.Count < 1 {
			return fmt.Errorf("mapping count must be >= 1")
		}
		s := span{uint64(m.InsideID), uint64(m.InsideID) + uint64(m.Count)}
		for _, o := range spans {
			if s.lo < o.hi && o.lo < s.hi {
				return fmt.Errorf("overlapping inside-id ranges")
			}
		}
		spans = append(spans, s)
	}
	return nil
}
