package zonepolicy

import (
	"testing"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/ipc"
)

func TestValidateHostname(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"web", true},
		{"web-01", true},
		{"a", true},
		{"", false},
		{"-web", false},
		{"web-", false},
		{"web_01", false},
		{"has a space", false},
		{string(make([]byte, 64)), false},
	}
	for _, c := range cases {
		err := ValidateHostname(c.name)
		if c.ok && err != nil {
			t.Errorf("ValidateHostname(%q) = %v, want nil", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("ValidateHostname(%q) = nil, want error", c.name)
		}
		if err != nil && !ipc.Is(err, ipc.KindInvalidArgument) {
			t.Errorf("ValidateHostname(%q) error kind = %v, want KindInvalidArgument", c.name, err)
		}
	}
}

func TestValidateProvisionPaths_WithinRoot(t *testing.T) {
	provisions := []config.Provision{
		{Kind: config.ProvisionMount, Mount: &config.MountDeclaration{Target: "/mnt/data"}},
		{Kind: config.ProvisionLink, Link: &config.LinkDeclaration{Target: "etc/resolv.conf"}},
		{Kind: config.ProvisionFile, File: &config.FileDeclaration{Path: "/var/run/zone.sock"}},
	}
	if err := ValidateProvisionPaths("/var/lib/vasum/roots/web", provisions); err != nil {
		t.Errorf("ValidateProvisionPaths() = %v, want nil", err)
	}
}

func TestValidateProvisionPaths_EscapesRoot(t *testing.T) {
	cases := []config.Provision{
		{Kind: config.ProvisionMount, Mount: &config.MountDeclaration{Target: "../../etc/passwd"}},
		{Kind: config.ProvisionLink, Link: &config.LinkDeclaration{Target: "/etc/passwd"}},
		{Kind: config.ProvisionFile, File: &config.FileDeclaration{Path: "/var/lib/vasum/roots/web-evil/x"}},
	}
	for _, p := range cases {
		err := ValidateProvisionPaths("/var/lib/vasum/roots/web", []config.Provision{p})
		if err == nil {
			t.Errorf("ValidateProvisionPaths(%+v) = nil, want error", p)
			continue
		}
		if !ipc.Is(err, ipc.KindPermissionDenied) {
			t.Errorf("ValidateProvisionPaths(%+v) error kind = %v, want KindPermissionDenied", p, err)
		}
	}
}

func TestValidateProvisionPaths_EmptyTargetSkipped(t *testing.T) {
	provisions := []config.Provision{
		{Kind: config.ProvisionMount, Mount: &config.MountDeclaration{}},
	}
	if err := ValidateProvisionPaths("/var/lib/vasum/roots/web", provisions); err != nil {
		t.Errorf("ValidateProvisionPaths() = %v, want nil for empty target", err)
	}
}

func TestForeground_GainFocus(t *testing.T) {
	f := NewForeground()

	if got := f.Current(); got != "" {
		t.Fatalf("Current() = %q, want empty before any GainFocus", got)
	}

	if lost := f.GainFocus("web"); lost != "" {
		t.Errorf("GainFocus(web) lost = %q, want empty", lost)
	}
	if got := f.Current(); got != "web" {
		t.Errorf("Current() = %q, want web", got)
	}

	if lost := f.GainFocus("db"); lost != "web" {
		t.Errorf("GainFocus(db) lost = %q, want web", lost)
	}
	if got := f.Current(); got != "db" {
		t.Errorf("Current() = %q, want db", got)
	}

	if lost := f.GainFocus("db"); lost != "" {
		t.Errorf("GainFocus(db) again lost = %q, want empty (same zone regaining focus)", lost)
	}
}

func TestForeground_LoseFocus(t *testing.T) {
	f := NewForeground()
	f.GainFocus("web")

	f.LoseFocus("db")
	if got := f.Current(); got != "web" {
		t.Errorf("LoseFocus(db) affected unrelated foreground zone: Current() = %q, want web", got)
	}

	f.LoseFocus("web")
	if got := f.Current(); got != "" {
		t.Errorf("Current() = %q, want empty after LoseFocus(web)", got)
	}
}
