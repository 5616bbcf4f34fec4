package network

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/ipc"
)

// InetAddr is the tagged union of spec §3.6: an IPv4 or IPv6 holder with
// prefix and flags. Equality is family + bits + prefix.
type InetAddr struct {
	IP     net.IP
	Prefix int
	Flags  uint32
}

func (a InetAddr) String() string {
	return fmt.Sprintf("%s/%d", a.IP, a.Prefix)
}

// Family reports "inet" or "inet6".
func (a InetAddr) Family() string {
	if a.IP.To4() != nil {
		return "inet"
	}
	return "inet6"
}

// AddInetAddr performs RTM_NEWADDR.
func (i *Interface) AddInetAddr(addr InetAddr) error {
	return withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		nlAddr := &netlink.Addr{IPNet: &net.IPNet{IP: addr.IP, Mask: net.CIDRMask(addr.Prefix, addrBits(addr.IP))}}
		if err := h.AddrAdd(link, nlAddr); err != nil {
			return classifyLinkErr(err)
		}
		return nil
	})
}

// DelInetAddr performs RTM_DELADDR.
func (i *Interface) DelInetAddr(addr InetAddr) error {
	return withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		nlAddr := &netlink.Addr{IPNet: &net.IPNet{IP: addr.IP, Mask: net.CIDRMask(addr.Prefix, addrBits(addr.IP))}}
		if err := h.AddrDel(link, nlAddr); err != nil {
			return classifyLinkErr(err)
		}
		return nil
	})
}

// InetAddresses enumerates via RTM_GETADDR.
func (i *Interface) InetAddresses() ([]InetAddr, error) {
	var out []InetAddr
	err := withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		addrs, err := h.AddrList(link, netlink.FAMILY_ALL)
		if err != nil {
			return classifyLinkErr(err)
		}
		for _, a := range addrs {
			prefix, _ := a.Mask.Size()
			out = append(out, InetAddr{IP: a.IP, Prefix: prefix, Flags: uint32(a.Flags)})
		}
		return nil
	})
	return out, err
}

func addrBits(ip net.IP) int {
	if ip.To4() != nil {
		return 32
	}
	return 128
}

// Route mirrors spec §3.5's (dst, src?, metric, table) route tuple.
type Route struct {
	Dst    *net.IPNet
	Src    net.IP
	Metric int
	Table  Table
}

// AddRoute performs a route add in the given table.
func (i *Interface) AddRoute(r Route) error {
	return withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		nlRoute := &netlink.Route{
			LinkIndex: link.Attrs().Index,
			Dst:       r.Dst,
			Src:       r.Src,
			Priority:  r.Metric,
			Table:     r.Table.toLinux(),
		}
		if err := h.RouteAdd(nlRoute); err != nil {
			return classifyLinkErr(err)
		}
		return nil
	})
}

// DelRoute removes a matching route from the given table.
func (i *Interface) DelRoute(r Route) error {
	return withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		nlRoute := &netlink.Route{
			LinkIndex: link.Attrs().Index,
			Dst:       r.Dst,
			Src:       r.Src,
			Priority:  r.Metric,
			Table:     r.Table.toLinux(),
		}
		if err := h.RouteDel(nlRoute); err != nil {
			return classifyLinkErr(err)
		}
		return nil
	})
}

// Routes lists every route in table visible on this interface's owning pid.
func (i *Interface) Routes(table Table) ([]Route, error) {
	var out []Route
	err := withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		routes, err := h.RouteList(link, netlink.FAMILY_ALL)
		if err != nil {
			return classifyLinkErr(err)
		}
		for _, r := range routes {
			if table != TableUnspec && r.Table != table.toLinux() && !(table == TableMain && r.Table == 0) {
				continue
			}
			out = append(out, Route{Dst: r.Dst, Src: r.Src, Metric: r.Priority, Table: table})
		}
		return nil
	})
	return out, err
}

// ParseAddr parses a CIDR string into an InetAddr, matching config.AddrConfig.
func ParseAddr(a config.AddrConfig) (InetAddr, error) {
	ip := net.ParseIP(a.Address)
	if ip == nil {
		return InetAddr{}, ipc.New(ipc.KindInvalidArgument, fmt.Errorf("network: bad address %q", a.Address))
	}
	return InetAddr{IP: ip, Prefix: a.Prefix, Flags: a.Flags}, nil
}
