// Package network implements C9: the NetworkInterface handle contract of
// spec §4.9, backed by github.com/vishvananda/netlink for the full host-side
// surface (link/bridge/macvlan create-destroy-move-rename, address and
// route CRUD). Every operation runs inside the network namespace identified
// by owning_pid via a temporary per-call namespace switch, restored on all
// exit paths including error.
package network

import (
	"fmt"
	"net"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/ipc"
)

// Kind mirrors config.InterfaceKind for the subset netlink can create.
type Kind = config.InterfaceKind

// Table is a cgroup-style routing table enum (spec §4.9's "routing table
// enum").
type Table int

const (
	TableUnspec Table = iota
	TableCompat
	TableDefault
	TableMain
	TableLocal
	TableUser
)

func (t Table) toLinux() int {
	switch t {
	case TableCompat:
		return 252
	case TableDefault:
		return 253
	case TableMain:
		return 254
	case TableLocal:
		return 255
	default:
		return 0 // RT_TABLE_UNSPEC; TableUser is caller-assigned via attrs elsewhere
	}
}

// Interface is a handle {name, owning_pid} per spec §4.9.
type Interface struct {
	Name      string
	OwningPID int // 0 = host
}

// withNetNS runs fn with the current OS thread switched into the network
// namespace of pid (0 = host namespace), restoring the original namespace
// on every exit path including error or panic.
func withNetNS(pid int, fn func(netlink.Handle) error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	if err != nil {
		return ipc.Wrap(fmt.Errorf("network: get current netns: %w", err))
	}
	defer orig.Close()

	target := orig
	if pid != 0 {
		target, err = netns.GetFromPid(pid)
		if err != nil {
			return ipc.New(ipc.KindNotFound, fmt.Errorf("network: netns of pid %d: %w", pid, err))
		}
		defer target.Close()
	}

	if err := netns.Set(target); err != nil {
		return ipc.Wrap(fmt.Errorf("network: setns: %w", err))
	}
	defer netns.Set(orig)

	handle, err := netlink.NewHandle()
	if err != nil {
		return ipc.Wrap(fmt.Errorf("network: new netlink handle: %w", err))
	}
	defer handle.Close()

	return fn(handle)
}

// Create performs RTM_NEWLINK for kind, with peer (VETH host end / MACVLAN
// master) and mode (MACVLAN only).
func (i *Interface) Create(kind Kind, peer string, mode config.MacvlanMode) error {
	return withNetNS(i.OwningPID, func(h netlink.Handle) error {
		base := netlink.NewLinkAttrs()
		base.Name = i.Name

		var link netlink.Link
		switch kind {
		case config.InterfaceVeth:
			link = &netlink.Veth{LinkAttrs: base, PeerName: peer}
		case config.InterfaceBridge:
			link = &netlink.Bridge{LinkAttrs: base}
		case config.InterfaceMacvlan:
			masterIdx := 0
			if m, err := h.LinkByName(peer); err == nil {
				masterIdx = m.Attrs().Index
			}
			base.ParentIndex = masterIdx
			link = &netlink.Macvlan{LinkAttrs: base, Mode: macvlanModeToNetlink(mode)}
		default:
			return ipc.New(ipc.KindInvalidArgument, fmt.Errorf("network: unknown kind %v", kind))
		}
		if err := h.LinkAdd(link); err != nil {
			return classifyLinkErr(err)
		}
		return nil
	})
}

func macvlanModeToNetlink(mode config.MacvlanMode) netlink.MacvlanMode {
	switch mode {
	case config.MacvlanVEPA:
		return netlink.MACVLAN_MODE_VEPA
	case config.MacvlanBridge:
		return netlink.MACVLAN_MODE_BRIDGE
	case config.MacvlanPassthru:
		return netlink.MACVLAN_MODE_PASSTHRU
	default:
		return netlink.MACVLAN_MODE_PRIVATE
	}
}

// Destroy performs RTM_DELLINK.
func (i *Interface) Destroy() error {
	return withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		if err := h.LinkDel(link); err != nil {
			return classifyLinkErr(err)
		}
		return nil
	})
}

// MoveTo sets IFLA_NET_NS_PID, moving the interface into pid's net ns.
func (i *Interface) MoveTo(pid int) error {
	return withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		if err := h.LinkSetNsPid(link, pid); err != nil {
			return classifyLinkErr(err)
		}
		i.OwningPID = pid
		return nil
	})
}

// RenameFrom renames old to i.Name; the interface must be down.
func (i *Interface) RenameFrom(old string) error {
	return withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(old)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		if link.Attrs().Flags&net.FlagUp != 0 {
			return ipc.New(ipc.KindInvalidState, fmt.Errorf("network: %s must be down to rename", old))
		}
		if err := h.LinkSetName(link, i.Name); err != nil {
			return classifyLinkErr(err)
		}
		return nil
	})
}

// AddToBridge sets IFLA_MASTER to br.
func (i *Interface) AddToBridge(br string) error {
	return withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		bridge, err := h.LinkByName(br)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		if err := h.LinkSetMaster(link, bridge.(*netlink.Bridge)); err != nil {
			return classifyLinkErr(err)
		}
		return nil
	})
}

// DelFromBridge clears IFLA_MASTER.
func (i *Interface) DelFromBridge() error {
	return withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		if err := h.LinkSetNoMaster(link); err != nil {
			return classifyLinkErr(err)
		}
		return nil
	})
}

// Attrs mirrors spec §4.9's set_attrs/get_attrs payload.
type Attrs struct {
	MAC        string
	MTU        int
	TxQueueLen int
	Up         bool
}

// SetAttrs applies MAC, MTU, TxQueueLen.
func (i *Interface) SetAttrs(a Attrs) error {
	return withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		if a.MAC != "" {
			mac, err := net.ParseMAC(a.MAC)
			if err != nil {
				return ipc.New(ipc.KindInvalidArgument, err)
			}
			if err := h.LinkSetHardwareAddr(link, mac); err != nil {
				return classifyLinkErr(err)
			}
		}
		if a.MTU > 0 {
			if err := h.LinkSetMTU(link, a.MTU); err != nil {
				return classifyLinkErr(err)
			}
		}
		if a.TxQueueLen > 0 {
			if err := h.LinkSetTxQLen(link, a.TxQueueLen); err != nil {
				return classifyLinkErr(err)
			}
		}
		return nil
	})
}

// GetAttrs reads MAC, MTU, TxQueueLen, Up.
func (i *Interface) GetAttrs() (Attrs, error) {
	var out Attrs
	err := withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		attrs := link.Attrs()
		out = Attrs{
			MAC:        attrs.HardwareAddr.String(),
			MTU:        attrs.MTU,
			TxQueueLen: attrs.TxQLen,
			Up:         attrs.Flags&net.FlagUp != 0,
		}
		return nil
	})
	return out, err
}

// Up brings the interface up.
func (i *Interface) Up() error {
	return withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		if err := h.LinkSetUp(link); err != nil {
			return classifyLinkErr(err)
		}
		return nil
	})
}

// Down brings the interface down.
func (i *Interface) Down() error {
	return withNetNS(i.OwningPID, func(h netlink.Handle) error {
		link, err := h.LinkByName(i.Name)
		if err != nil {
			return ipc.New(ipc.KindNotFound, err)
		}
		if err := h.LinkSetDown(link); err != nil {
			return classifyLinkErr(err)
		}
		return nil
	})
}

func classifyLinkErr(err error) error {
	return ipc.Wrap(fmt.Errorf("network: %w", err))
}
