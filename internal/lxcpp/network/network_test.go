package network

import (
	"net"
	"testing"

	"github.com/vishvananda/netlink"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/ipc"
)

func TestTable_ToLinux(t *testing.T) {
	cases := []struct {
		table Table
		want  int
	}{
		{TableCompat, 252},
		{TableDefault, 253},
		{TableMain, 254},
		{TableLocal, 255},
		{TableUnspec, 0},
		{TableUser, 0},
	}
	for _, c := range cases {
		if got := c.table.toLinux(); got != c.want {
			t.Errorf("Table(%v).toLinux() = %d, want %d", c.table, got, c.want)
		}
	}
}

func TestMacvlanModeToNetlink(t *testing.T) {
	cases := []struct {
		mode config.MacvlanMode
		want netlink.MacvlanMode
	}{
		{config.MacvlanVEPA, netlink.MACVLAN_MODE_VEPA},
		{config.MacvlanBridge, netlink.MACVLAN_MODE_BRIDGE},
		{config.MacvlanPassthru, netlink.MACVLAN_MODE_PASSTHRU},
		{config.MacvlanMode("bogus"), netlink.MACVLAN_MODE_PRIVATE},
	}
	for _, c := range cases {
		if got := macvlanModeToNetlink(c.mode); got != c.want {
			t.Errorf("macvlanModeToNetlink(%v) = %v, want %v", c.mode, got, c.want)
		}
	}
}

func TestAddrBits(t *testing.T) {
	if got := addrBits(net.ParseIP("192.168.1.1")); got != 32 {
		t.Errorf("addrBits(v4) = %d, want 32", got)
	}
	if got := addrBits(net.ParseIP("::1")); got != 128 {
		t.Errorf("addrBits(v6) = %d, want 128", got)
	}
}

func TestInetAddr_StringAndFamily(t *testing.T) {
	v4 := InetAddr{IP: net.ParseIP("10.0.0.5"), Prefix: 24}
	if v4.String() != "10.0.0.5/24" {
		t.Errorf("String() = %q, want 10.0.0.5/24", v4.String())
	}
	if v4.Family() != "inet" {
		t.Errorf("Family() = %q, want inet", v4.Family())
	}

	v6 := InetAddr{IP: net.ParseIP("fe80::1"), Prefix: 64}
	if v6.Family() != "inet6" {
		t.Errorf("Family() = %q, want inet6", v6.Family())
	}
}

func TestParseAddr(t *testing.T) {
	addr, err := ParseAddr(config.AddrConfig{Address: "10.0.0.5", Prefix: 24, Flags: 1})
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}
	if !addr.IP.Equal(net.ParseIP("10.0.0.5")) {
		t.Errorf("IP = %v, want 10.0.0.5", addr.IP)
	}
	if addr.Prefix != 24 {
		t.Errorf("Prefix = %d, want 24", addr.Prefix)
	}
	if addr.Flags != 1 {
		t.Errorf("Flags = %d, want 1", addr.Flags)
	}
}

func TestParseAddr_Invalid(t *testing.T) {
	_, err := ParseAddr(config.AddrConfig{Address: "not-an-ip"})
	if err == nil {
		t.Fatal("expected an error for a malformed address")
	}
	if !ipc.Is(err, ipc.KindInvalidArgument) {
		t.Errorf("error kind = %v, want KindInvalidArgument", err)
	}
}
