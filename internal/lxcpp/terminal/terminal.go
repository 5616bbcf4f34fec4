// Package terminal implements C11: the in-zone pty allocation (run by
// init, see container.InitMain) and fd-handoff (spec §4.11), plus the
// host-side attach/detach registry.
// The host-side Multiplexer is adapted from the teacher's
// internal/tether/store.go pub/sub-map-keyed-by-id pattern, generalized
// from "ring buffer of frames, many subscribers" to "one live pty master,
// at most one attached client" — scrollback here is the pty driver's own
// line discipline buffer rather than a replayable frame log, so there is
// no ring buffer to keep, only the live master and an attach lock.
package terminal

import (
	"fmt"
	"os"
	"time"

	"github.com/creack/pty"

	"github.com/samsung/vasum/internal/ipc"
	"github.com/samsung/vasum/internal/ipc/transport"
)

// Pair is one allocated pty pair (spec §4.11): an unlocked, granted master
// plus its slave's path inside the zone.
type Pair struct {
	Index     int
	Master    *os.File
	SlavePath string
}

// OpenPairs allocates count pty pairs. Each master is already granted and
// unlocked by pty.Open.
func OpenPairs(count int) ([]*Pair, error) {
	pairs := make([]*Pair, 0, count)
	for i := 0; i < count; i++ {
		master, slave, err := pty.Open()
		if err != nil {
			closeAll(pairs)
			return nil, ipc.Wrap(fmt.Errorf("terminal: open pty %d: %w", i, err))
		}
		slavePath := slave.Name()
		slave.Close()
		pairs = append(pairs, &Pair{Index: i, Master: master, SlavePath: slavePath})
	}
	return pairs, nil
}

func closeAll(pairs []*Pair) {
	for _, p := range pairs {
		p.Master.Close()
	}
}

// SendMasters ships every pair's master fd to the host over conn, one fd
// per message, per spec §4.11 "send every pty master fd back to the host
// over the command channel (SCM_RIGHTS, one fd per message)".
func SendMasters(conn *transport.Conn, pairs []*Pair) error {
	for _, p := range pairs {
		if err := conn.SendFD(int(p.Master.Fd()), time.Time{}); err != nil {
			return ipc.Wrap(fmt.Errorf("terminal: send master %d: %w", p.Index, err))
		}
	}
	return nil
}
