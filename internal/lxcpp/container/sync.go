package container

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/samsung/vasum/internal/ipc"
)

// Point is one of the six synchronization points of spec §4.12, exchanged
// as single bytes across the host<->guard and guard<->init socketpairs.
type Point byte

const (
	GuardReady      Point = 1
	HostMapsWritten Point = 2
	InitNSEntered   Point = 3
	InitProvisioned Point = 4
	InitExec        Point = 5
	InitExited      Point = 6

	errMarker byte = 0xff
)

func (p Point) String() string {
	switch p {
	case GuardReady:
		return "GUARD_READY"
	case HostMapsWritten:
		return "HOST_MAPS_WRITTEN"
	case InitNSEntered:
		return "INIT_NS_ENTERED"
	case InitProvisioned:
		return "INIT_PROVISIONED"
	case InitExec:
		return "INIT_EXEC"
	case InitExited:
		return "INIT_EXITED"
	default:
		return fmt.Sprintf("Point(%d)", byte(p))
	}
}

// sendPoint writes one sync point byte.
func sendPoint(f *os.File, p Point) error {
	_, err := f.Write([]byte{byte(p)})
	if err != nil {
		return ipc.New(ipc.KindIOError, fmt.Errorf("container: send %s: %w", p, err))
	}
	return nil
}

// sendFail writes an errMarker byte followed by a little-endian int32 errno,
// used when a step before INIT_EXEC fails (spec: "any failure before step 5
// is signalled back via an errno code").
func sendFail(f *os.File, step Point, errno int) error {
	buf := make([]byte, 6)
	buf[0] = errMarker
	buf[1] = byte(step)
	binary.LittleEndian.PutUint32(buf[2:], uint32(errno))
	_, err := f.Write(buf)
	if err != nil {
		return ipc.New(ipc.KindIOError, fmt.Errorf("container: send failure for %s: %w", step, err))
	}
	return nil
}

// recvPoint reads the next sync record, returning a handshake_failed
// ipc.Error if the peer signalled a failure instead of a point. The whole
// record is read at once: on a SOCK_SEQPACKET socket a shorter read
// discards the rest of the record.
func recvPoint(f *os.File) (Point, error) {
	buf := make([]byte, 6)
	n, err := f.Read(buf)
	if err != nil || n == 0 {
		return 0, ipc.New(ipc.KindPeerDisconnected, fmt.Errorf("container: recv sync point: %w", err))
	}
	if buf[0] != errMarker {
		return Point(buf[0]), nil
	}
	if n < len(buf) {
		return 0, ipc.New(ipc.KindPeerDisconnected, fmt.Errorf("container: short failure record (%d bytes)", n))
	}
	step := Point(buf[1])
	errno := int(binary.LittleEndian.Uint32(buf[2:]))
	return 0, &ipc.Error{Kind: ipc.KindHandshakeFailed, Step: int(step), Errno: errno}
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// newSyncPair creates a SOCK_SEQPACKET socketpair used as one side of the
// host<->guard or guard<->init synchronization channel.
func newSyncPair() (*os.File, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, ipc.Wrap(fmt.Errorf("container: socketpair: %w", err))
	}
	return os.NewFile(uintptr(fds[0]), "sync0"), os.NewFile(uintptr(fds[1]), "sync1"), nil
}
