package network

import (
	"encoding/binary"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/samsung/vasum/internal/ipc"
)

// Minimal raw-netlink eth0 bring-up, adapted from the teacher's
// internal/harness/netlink_linux.go: used by the zone agent (cmd/vasum-agent)
// for its own single-interface setup, where pulling in vishvananda/netlink
// just to set one address/route/link-up is unnecessary weight in the
// zone-side binary — the host side (network.go/addr.go) uses the full
// library for its much larger link/bridge/macvlan/route surface.

// SetLinkUp brings ifIndex up via RTM_NEWLINK.
func SetLinkUp(ifIndex int) error {
	s, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_ROUTE)
	if err != nil {
		return ipc.Wrap(fmt.Errorf("rawnetlink: socket: %w", err))
	}
	defer unix.Close(s)

	msg := ifInfoMsg{Family: unix.AF_UNSPEC, Index: int32(ifIndex), Flags: unix.IFF_UP, Change: unix.IFF_UP}
	return rawRequest(s, unix.RTM_NEWLINK, unix.NLM_F_REQUEST|unix.NLM_F_ACK, structBytes(&msg))
}

// AddAddr adds cidr (e.g. "10.0.0.2/24") to ifIndex via RTM_NEWADDR.
func AddAddr(ifIndex int, cidr string) error {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return ipc.New(ipc.KindInvalidArgument, err)
	}
	ones, _ := ipnet.Mask.Size()
	ip4 := ip.To4()
	if ip4 == nil {
		return ipc.New(ipc.KindNotSupported, fmt.Errorf("rawnetlink: only IPv4 supported"))
	}

	s, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_ROUTE)
	if err != nil {
		return ipc.Wrap(fmt.Errorf("rawnetlink: socket: %w", err))
	}
	defer unix.Close(s)

	msg := ifAddrMsg{Family: unix.AF_INET, PrefixLen: uint8(ones), Index: uint32(ifIndex)}
	payload := append(structBytes(&msg), rtaBytes(unix.IFA_LOCAL, ip4)...)
	payload = append(payload, rtaBytes(unix.IFA_ADDRESS, ip4)...)
	return rawRequest(s, unix.RTM_NEWADDR, unix.NLM_F_REQUEST|unix.NLM_F_ACK|unix.NLM_F_CREATE, payload)
}

// AddDefaultRoute adds a default route via gw through ifIndex.
func AddDefaultRoute(ifIndex int, gw string) error {
	gwIP := net.ParseIP(gw).To4()
	if gwIP == nil {
		return ipc.New(ipc.KindInvalidArgument, fmt.Errorf("rawnetlink: bad gateway %q", gw))
	}

	s, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_ROUTE)
	if err != nil {
		return ipc.Wrap(fmt.Errorf("rawnetlink: socket: %w", err))
	}
	defer unix.Close(s)

	msg := rtMsg{Family: unix.AF_INET, Table: unix.RT_TABLE_MAIN, Protocol: unix.RTPROT_BOOT, Scope: unix.RT_SCOPE_UNIVERSE, Type: unix.RTN_UNICAST}
	payload := append(structBytes(&msg), rtaBytes(unix.RTA_GATEWAY, gwIP)...)
	oif := make([]byte, 4)
	binary.LittleEndian.PutUint32(oif, uint32(ifIndex))
	payload = append(payload, rtaBytes(unix.RTA_OIF, oif)...)
	return rawRequest(s, unix.RTM_NEWROUTE, unix.NLM_F_REQUEST|unix.NLM_F_ACK|unix.NLM_F_CREATE, payload)
}

type ifInfoMsg struct {
	Family uint8
	_      uint8
	Type   uint16
	Index  int32
	Flags  uint32
	Change uint32
}

type ifAddrMsg struct {
	Family    uint8
	PrefixLen uint8
	Flags     uint8
	Scope     uint8
	Index     uint32
}

type rtMsg struct {
	Family   uint8
	DstLen   uint8
	SrcLen   uint8
	TOS      uint8
	Table    uint8
	Protocol uint8
	Scope    uint8
	Type     uint8
	Flags    uint32
}

func structBytes(v interface{}) []byte {
	switch p := v.(type) {
	case *ifInfoMsg:
		buf := make([]byte, 16)
		buf[0] = p.Family
		binary.LittleEndian.PutUint16(buf[2:4], p.Type)
		binary.LittleEndian.PutUint32(buf[4:8], uint32(p.Index))
		binary.LittleEndian.PutUint32(buf[8:12], p.Flags)
		binary.LittleEndian.PutUint32(buf[12:16], p.Change)
		return buf
	case *ifAddrMsg:
		buf := make([]byte, 8)
		buf[0] = p.Family
		buf[1] = p.PrefixLen
		buf[2] = p.Flags
		buf[3] = p.Scope
		binary.LittleEndian.PutUint32(buf[4:8], p.Index)
		return buf
	case *rtMsg:
		buf := make([]byte, 12)
		buf[0] = p.Family
		buf[1] = p.DstLen
		buf[2] = p.SrcLen
		buf[3] = p.TOS
		buf[4] = p.Table
		buf[5] = p.Protocol
		buf[6] = p.Scope
		buf[7] = p.Type
		binary.LittleEndian.PutUint32(buf[8:12], p.Flags)
		return buf
	default:
		return nil
	}
}

func rtaBytes(attrType int, data []byte) []byte {
	l := 4 + len(data)
	aligned := (l + 3) &^ 3
	buf := make([]byte, aligned)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(l))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(attrType))
	copy(buf[4:], data)
	return buf
}

// rawRequest builds an nlmsghdr around payload, sends it, and checks the
// NLMSG_ERROR ack.
func rawRequest(s int, msgType uint16, flags uint16, payload []byte) error {
	hdrLen := 16
	total := hdrLen + len(payload)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint16(buf[4:6], msgType)
	binary.LittleEndian.PutUint16(buf[6:8], flags)
	binary.LittleEndian.PutUint32(buf[8:12], 1) // sequence
	binary.LittleEndian.PutUint32(buf[12:16], 0) // pid: kernel assigns
	copy(buf[hdrLen:], payload)

	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK}
	if err := unix.Sendto(s, buf, 0, sa); err != nil {
		return ipc.Wrap(fmt.Errorf("rawnetlink: sendto: %w", err))
	}

	resp := make([]byte, 4096)
	n, _, err := unix.Recvfrom(s, resp, 0)
	if err != nil {
		return ipc.Wrap(fmt.Errorf("rawnetlink: recvfrom: %w", err))
	}
	return parseAck(resp[:n])
}

func parseAck(buf []byte) error {
	if len(buf) < 16 {
		return ipc.New(ipc.KindInvalidFrame, fmt.Errorf("rawnetlink: short response"))
	}
	msgType := binary.LittleEndian.Uint16(buf[4:6])
	if msgType != unix.NLMSG_ERROR {
		return nil
	}
	errno := int32(binary.LittleEndian.Uint32(buf[16:20]))
	if errno == 0 {
		return nil
	}
	return ipc.Kernel(int(-errno), syscall.Errno(-errno))
}
