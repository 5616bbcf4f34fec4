package container

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/samsung/vasum/internal/ipc"
)

// sendFD and receiveFD ship a single fd across a sync socketpair via
// SCM_RIGHTS, for the pty-master relay of spec §4.11/§4.12. The sync
// channels are SOCK_SEQPACKET, same ancillary-data rules as transport.Conn
// but simple enough (single fd, one-byte payload) not to warrant sharing
// that package's Frame machinery.
func sendFD(f *os.File, fd int) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return ipc.Wrap(fmt.Errorf("container: syscallconn: %w", err))
	}
	rights := unix.UnixRights(fd)
	var sendErr error
	ctrlErr := raw.Write(func(s uintptr) bool {
		sendErr = unix.Sendmsg(int(s), []byte{0}, rights, nil, 0)
		return sendErr != unix.EAGAIN
	})
	if ctrlErr != nil {
		return ipc.Wrap(fmt.Errorf("container: sendmsg control: %w", ctrlErr))
	}
	if sendErr != nil {
		return ipc.Wrap(fmt.Errorf("container: sendmsg: %w", sendErr))
	}
	return nil
}

func receiveFD(f *os.File) (int, error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return -1, ipc.Wrap(fmt.Errorf("container: syscallconn: %w", err))
	}
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	var n, oobn int
	var recvErr error
	ctrlErr := raw.Read(func(s uintptr) bool {
		n, oobn, _, _, recvErr = unix.Recvmsg(int(s), buf, oob, 0)
		return recvErr != unix.EAGAIN
	})
	if ctrlErr != nil {
		return -1, ipc.Wrap(fmt.Errorf("container: recvmsg control: %w", ctrlErr))
	}
	if recvErr != nil {
		return -1, ipc.Wrap(fmt.Errorf("container: recvmsg: %w", recvErr))
	}
	if n == 0 || oobn == 0 {
		return -1, ipc.New(ipc.KindPeerDisconnected, fmt.Errorf("container: no fd received"))
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, ipc.Wrap(fmt.Errorf("container: parse cmsg: %w", err))
	}
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}
	return -1, ipc.New(ipc.KindInvalidFrame, fmt.Errorf("container: no rights in cmsg"))
}
