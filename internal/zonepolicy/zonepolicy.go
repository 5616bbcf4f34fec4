// Package zonepolicy implements the server-side policy layer named in
// spec.md §1 (provisioning declarations, hostname rules, foreground-switch
// policy): validation the host daemon applies before handing a request
// down to lxcpp, grounded on original_source/server/common-definitions.hpp's
// error vocabulary (ERROR_FORBIDDEN, ERROR_INVALID_ID, ERROR_ZONE_NOT_RUNNING)
// and original_source/container-daemon/daemon-dbus-definitions.hpp's
// GainFocus/LoseFocus pair, which is the origin of the "exactly one
// foreground zone" rule below.
package zonepolicy

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/ipc"
)

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// ValidateHostname enforces RFC-1123-style single-label hostnames, the rule
// implied by every zone config needing a legal UTS hostname.
func ValidateHostname(name string) error {
	if name == "" || len(name) > 63 || !hostnamePattern.MatchString(name) {
		return ipc.New(ipc.KindInvalidArgument, fmt.Errorf("zonepolicy: %q is not a valid hostname", name))
	}
	return nil
}

// ValidateProvisionPaths rejects any mount/link/file target that would
// escape the zone root via ".." traversal once joined against rootPath,
// the policy check a host daemon must apply before a zone config's
// provisioning declarations ever reach the guard (the guard itself has no
// occasion to second-guess declarations it was handed — that check belongs
// to whoever accepts the config from an untrusted caller).
func ValidateProvisionPaths(rootPath string, provisions []config.Provision) error {
	for _, p := range provisions {
		var target string
		switch p.Kind {
		case config.ProvisionMount:
			if p.Mount != nil {
				target = p.Mount.Target
			}
		case config.ProvisionLink:
			if p.Link != nil {
				target = p.Link.Target
			}
		case config.ProvisionFile:
			if p.File != nil {
				target = p.File.Path
			}
		}
		if target == "" {
			continue
		}
		if err := withinRoot(rootPath, target); err != nil {
			return err
		}
	}
	return nil
}

func withinRoot(rootPath, target string) error {
	joined := target
	if !filepath.IsAbs(target) {
		joined = filepath.Join(rootPath, target)
	}
	cleanRoot := filepath.Clean(rootPath)
	cleanTarget := filepath.Clean(joined)
	if cleanTarget != cleanRoot && !strings.HasPrefix(cleanTarget, cleanRoot+string(filepath.Separator)) {
		return ipc.New(ipc.KindPermissionDenied, fmt.Errorf("zonepolicy: provision target %q escapes root %q", target, rootPath))
	}
	return nil
}

// Foreground enforces "exactly one zone may hold input/display focus at a
// time", mirroring GainFocus/LoseFocus from the C++ daemon-dbus API: gaining
// focus for one zone silently loses it for whichever zone held it before.
type Foreground struct {
	mu      sync.Mutex
	current string
}

// NewForeground creates an empty focus tracker (no zone foregrounded).
func NewForeground() *Foreground {
	return &Foreground{}
}

// GainFocus makes name the foreground zone, returning the zone that lost
// focus as a result (empty if none did).
func (f *Foreground) GainFocus(name string) (lost string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lost = f.current
	f.current = name
	if lost == name {
		return ""
	}
	return lost
}

// LoseFocus clears focus if name currently holds it. No-op otherwise —
// losing focus you don't hold is not an error, matching LoseFocus's
// unconditional, argument-less shape in the original API.
func (f *Foreground) LoseFocus(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == name {
		f.current = ""
	}
}

// Current returns the foreground zone's name, or "" if none.
func (f *Foreground) Current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}
