package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/samsung/vasum/internal/ipc"
)

// maxAncillaryFDs bounds the oob buffer sized for an incoming payload read;
// fds beyond this bound in one read do not fit and are dropped by the
// kernel. The truncation flag is not checked, so the frame is still accepted.
const maxAncillaryFDs = 32

func classifyIOErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ipc.New(ipc.KindPeerDisconnected, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ipc.New(ipc.KindTimeout, err)
	}
	if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) {
		return ipc.New(ipc.KindPeerDisconnected, err)
	}
	return ipc.New(ipc.KindIOError, err)
}

// Conn wraps a stream AF_UNIX socket with frame-oriented read/write and
// ancillary fd passing (spec §4.3). All I/O paths here treat EINTR as
// retryable and EAGAIN as "re-arm", which in Go is handled transparently by
// net.Conn's deadline-based blocking I/O atop the runtime netpoller.
type Conn struct {
	uc *net.UnixConn
}

// NewConn wraps an already-connected *net.UnixConn.
func NewConn(uc *net.UnixConn) *Conn { return &Conn{uc: uc} }

// Dial connects to a stream AF_UNIX socket at path. A leading '@' denotes
// the Linux abstract namespace (mapped to a NUL-prefixed name), used for
// zone<->host sockets per spec §6.1.
func Dial(path string) (*Conn, error) {
	addr := resolveUnixAddr(path)
	c, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, classifyIOErr(err)
	}
	return NewConn(c), nil
}

func resolveUnixAddr(path string) *net.UnixAddr {
	if len(path) > 0 && path[0] == '@' {
		return &net.UnixAddr{Name: "\x00" + path[1:], Net: "unix"}
	}
	return &net.UnixAddr{Name: path, Net: "unix"}
}

// Close closes the underlying socket.
func (c *Conn) Close() error { return c.uc.Close() }

// WriteFrame writes the header, then the payload. If the frame carries
// ancillary fds, they ride with the payload write in a single sendmsg call
// (spec §4.4: "paired in order with the ancillary fds on the corresponding
// message" — the message being the payload, since the codec only knows
// the FileDescriptor count after visiting the payload).
func (f *Frame) encodeForWrite() []byte { return f.encodeHeader() }

func (c *Conn) WriteFrame(f *Frame, deadline time.Time) error {
	if err := c.uc.SetWriteDeadline(deadline); err != nil {
		return classifyIOErr(err)
	}
	if err := writeFull(c.uc, f.encodeForWrite()); err != nil {
		return err
	}
	if len(f.FDs) > 0 {
		return c.sendmsg(f.Payload, f.FDs)
	}
	if len(f.Payload) > 0 {
		return writeFull(c.uc, f.Payload)
	}
	return nil
}

func (c *Conn) sendmsg(payload []byte, fds []int) error {
	raw, err := c.uc.SyscallConn()
	if err != nil {
		return classifyIOErr(err)
	}
	oob := unix.UnixRights(fds...)
	var sendErr error
	ctrlErr := raw.Write(func(fd uintptr) bool {
		sendErr = unix.Sendmsg(int(fd), payload, oob, nil, 0)
		if sendErr == unix.EAGAIN {
			return false // ask runtime to wait for writable and retry
		}
		return true
	})
	if ctrlErr != nil {
		return classifyIOErr(ctrlErr)
	}
	return classifyIOErr(sendErr)
}

func (c *Conn) recvmsg(buf []byte) (int, []int, error) {
	raw, err := c.uc.SyscallConn()
	if err != nil {
		return 0, nil, classifyIOErr(err)
	}
	oob := make([]byte, unix.CmsgSpace(maxAncillaryFDs*4))
	var n, oobn int
	var recvErr error
	ctrlErr := raw.Read(func(fd uintptr) bool {
		n, oobn, _, _, recvErr = unix.Recvmsg(int(fd), buf, oob, 0)
		if recvErr == unix.EAGAIN {
			return false
		}
		return true
	})
	if ctrlErr != nil {
		return 0, nil, classifyIOErr(ctrlErr)
	}
	if recvErr != nil {
		return 0, nil, classifyIOErr(recvErr)
	}
	if n == 0 {
		return 0, nil, ipc.New(ipc.KindPeerDisconnected, io.EOF)
	}

	var fds []int
	if oobn > 0 {
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil {
			for _, scm := range scms {
				f, err := unix.ParseUnixRights(&scm)
				if err == nil {
					fds = append(fds, f...)
				}
			}
		}
	}
	return n, fds, nil
}

// ReadFrame reads one full frame: a plain header read (no fds expected
// there), then a recvmsg-based payload read that also picks up any
// ancillary fds the sender attached.
func (c *Conn) ReadFrame(deadline time.Time) (*Frame, error) {
	if err := c.uc.SetReadDeadline(deadline); err != nil {
		return nil, classifyIOErr(err)
	}
	hdr := make([]byte, headerLen)
	if err := readFull(c.uc, hdr); err != nil {
		return nil, err
	}
	methodID, msgID, flags, payloadLen, err := decodeHeader(hdr)
	if err != nil {
		return nil, err
	}

	frame := &Frame{MethodID: methodID, MessageID: msgID, Flags: flags}
	if payloadLen == 0 {
		return frame, nil
	}

	payload := make([]byte, payloadLen)
	got := 0
	for got < int(payloadLen) {
		n, fds, err := c.recvmsg(payload[got:])
		if err != nil {
			return nil, err
		}
		got += n
		frame.FDs = append(frame.FDs, fds...)
	}
	frame.Payload = payload
	return frame, nil
}

// SendFD sends exactly one fd via an ancillary message carrying a single
// byte of payload, used directly by the terminal multiplexer (C11) to ship
// a pty master back to the host outside the Frame/codec path.
func (c *Conn) SendFD(fd int, deadline time.Time) error {
	if err := c.uc.SetWriteDeadline(deadline); err != nil {
		return classifyIOErr(err)
	}
	return c.sendmsg([]byte{0}, []int{fd})
}

// ReceiveFD reads exactly one ancillary fd sent via SendFD.
func (c *Conn) ReceiveFD(deadline time.Time) (int, error) {
	if err := c.uc.SetReadDeadline(deadline); err != nil {
		return -1, classifyIOErr(err)
	}
	buf := make([]byte, 1)
	_, fds, err := c.recvmsg(buf)
	if err != nil {
		return -1, err
	}
	if len(fds) != 1 {
		return -1, ipc.New(ipc.KindInvalidFrame, fmt.Errorf("expected 1 fd, got %d", len(fds)))
	}
	return fds[0], nil
}
