// Package zoneagent is the in-zone counterpart run by cmd/vasum-agent once
// it has execve'd past the guard/init chain: it brings up the zone's own
// end of every configured network interface, then dials the zone control
// socket (spec §6.1's zone default /run/vasum/zone.sock) and sits on the
// C1-C6 ipc stack (transport/codec/processor/service.Client) the same way
// the host daemon does, reconnecting if the host-side listener is not yet
// up. Grounded on the teacher's harness.Run dial-and-serve loop
// (internal/harness/mount_linux.go's companion harness.go in the guest
// runs a JSON-RPC server over vsock and retries the dial) adapted from a
// server role to a client role, since here it's the daemon that listens.
package zoneagent

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/ipc/processor"
	"github.com/samsung/vasum/internal/ipc/service"
	"github.com/samsung/vasum/internal/logger"
	"github.com/samsung/vasum/internal/lxcpp/network"
)

// PingMethodID answers a liveness probe. Namespaced below hostapi's
// 1000..1999 host-API range: zone-agent methods live in 1..999.
const PingMethodID uint32 = 1

// Run brings up cfg's network interfaces, then dials sockPath in a retry
// loop, serving until the connection drops (at which point it retries) or
// stop is closed. It never returns on its own under normal operation — the
// caller (cmd/vasum-agent's main, running as zone PID 1's direct child or
// later) is expected to run this for the life of the zone.
func Run(cfg *config.ContainerConfig, sockPath string, stop <-chan struct{}) error {
	log := logger.New("vasum-agent")

	for _, iface := range cfg.Network.Interfaces {
		if err := bringUp(iface); err != nil {
			log.Warn("bring up %s: %v", iface.Name, err)
		}
	}

	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		client, err := service.Dial(sockPath, log)
		if err != nil {
			log.Debug("dial %s: %v (retrying in %s)", sockPath, err, backoff)
			select {
			case <-time.After(backoff):
			case <-stop:
				return nil
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = 200 * time.Millisecond

		client.SetMethodHandler(PingMethodID, func(peer *processor.Peer, payload []byte, fds []int, result *processor.MethodResult) {
			result.Complete([]byte("pong"), nil)
		})

		disconnected := make(chan struct{})
		var once sync.Once
		client.OnPeerRemoved(func(processor.PeerID) {
			once.Do(func() { close(disconnected) })
		})

		log.Info("connected to %s", sockPath)
		select {
		case <-disconnected:
			log.Warn("disconnected from %s, reconnecting", sockPath)
		case <-stop:
			client.Close()
			return nil
		}
	}
}

func bringUp(iface config.InterfaceConfig) error {
	ifc, err := net.InterfaceByName(iface.Name)
	if err != nil {
		return err
	}
	if err := network.SetLinkUp(ifc.Index); err != nil {
		return err
	}
	for _, a := range iface.Addresses {
		cidr := fmt.Sprintf("%s/%d", a.Address, a.Prefix)
		if err := network.AddAddr(ifc.Index, cidr); err != nil {
			return err
		}
	}
	// RouteConfig (spec §3.5) models dst/src/metric/table, not an explicit
	// gateway; route programming from that shape belongs to the host side
	// (network.go, with vishvananda/netlink's richer route API) which sets
	// up the zone's routing table before handing the interface over. The
	// zone agent's own raw-netlink bring-up is limited to link-up and
	// address assignment.
	return nil
}
