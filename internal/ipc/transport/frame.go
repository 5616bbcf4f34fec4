// Package transport implements C3: stream socket I/O with frame
// read/write helpers and single-fd ancillary passing, per spec §3.3/§4.3.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/samsung/vasum/internal/ipc"
)

// Flag bits for Frame.Flags.
const (
	FlagExpectsReply uint8 = 1 << 0
	FlagError        uint8 = 1 << 1
	// FlagSubscribe marks a control frame asking the receiving peer to mark
	// MethodID as a signal this connection wants delivered — the wire form
	// of a Client's set_signal_handler (spec §4.6).
	FlagSubscribe uint8 = 1 << 2
)

// SignalBit marks method_id values that carry a fire-and-forget signal
// rather than a method call (spec §3.3: "high bit = signal").
const SignalBit uint32 = 1 << 31

// headerLen is method_id(4) + message_id(16) + flags(1) + payload_len(4).
const headerLen = 4 + 16 + 1 + 4

// Frame is the framed unit on the wire (spec §3.3). A reply frame carries
// the same MessageID as its request and MethodID == 0.
type Frame struct {
	MethodID   uint32
	MessageID  uuid.UUID
	Flags      uint8
	Payload    []byte
	// FDs holds file descriptors riding alongside this frame via SCM_RIGHTS;
	// callers that need to ship a descriptor (C11's pty handoff, SendFD) set
	// it directly. Payload is an opaque blob here — cargo's Visitable codec
	// is not in the Frame path (see DESIGN.md's C4 entry).
	FDs []int
}

// IsReply reports whether this frame is a reply (method_id == 0).
func (f *Frame) IsReply() bool { return f.MethodID == 0 }

// IsSignal reports whether this frame's method_id has the signal bit set.
func (f *Frame) IsSignal() bool { return f.MethodID&SignalBit != 0 }

// IsSubscribe reports whether this frame is a subscribe control frame.
func (f *Frame) IsSubscribe() bool { return f.Flags&FlagSubscribe != 0 }

// NewMessageID generates a fresh random message id.
func NewMessageID() uuid.UUID { return uuid.New() }

// encodeHeader serializes everything but the payload bytes and ancillary fds.
func (f *Frame) encodeHeader() []byte {
	buf := make([]byte, headerLen)
	binary.LittleEndian.PutUint32(buf[0:4], f.MethodID)
	copy(buf[4:20], f.MessageID[:])
	buf[20] = f.Flags
	binary.LittleEndian.PutUint32(buf[21:25], uint32(len(f.Payload)))
	return buf
}

func decodeHeader(buf []byte) (methodID uint32, msgID uuid.UUID, flags uint8, payloadLen uint32, err error) {
	if len(buf) != headerLen {
		return 0, uuid.UUID{}, 0, 0, ipc.New(ipc.KindInvalidFrame, fmt.Errorf("short header: %d bytes", len(buf)))
	}
	methodID = binary.LittleEndian.Uint32(buf[0:4])
	copy(msgID[:], buf[4:20])
	flags = buf[20]
	payloadLen = binary.LittleEndian.Uint32(buf[21:25])
	return methodID, msgID, flags, payloadLen, nil
}

// writeFull writes buf in full, translating io errors into *ipc.Error.
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return classifyIOErr(err)
		}
		buf = buf[n:]
	}
	return nil
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return classifyIOErr(err)
	}
	return nil
}
