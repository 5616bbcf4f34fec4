package network

import (
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/samsung/vasum/internal/ipc"
)

func TestStructBytes_IfInfoMsg(t *testing.T) {
	msg := &ifInfoMsg{Family: unix.AF_UNSPEC, Index: 7, Flags: unix.IFF_UP, Change: unix.IFF_UP}
	buf := structBytes(msg)
	if len(buf) != 16 {
		t.Fatalf("len(buf) = %d, want 16", len(buf))
	}
	if buf[0] != unix.AF_UNSPEC {
		t.Errorf("Family byte = %d, want %d", buf[0], unix.AF_UNSPEC)
	}
	if got := int32(binary.LittleEndian.Uint32(buf[4:8])); got != 7 {
		t.Errorf("Index = %d, want 7", got)
	}
	if got := binary.LittleEndian.Uint32(buf[8:12]); got != unix.IFF_UP {
		t.Errorf("Flags = %#x, want %#x", got, uint32(unix.IFF_UP))
	}
}

func TestStructBytes_IfAddrMsg(t *testing.T) {
	msg := &ifAddrMsg{Family: unix.AF_INET, PrefixLen: 24, Index: 3}
	buf := structBytes(msg)
	if len(buf) != 8 {
		t.Fatalf("len(buf) = %d, want 8", len(buf))
	}
	if buf[0] != unix.AF_INET {
		t.Errorf("Family byte = %d, want %d", buf[0], unix.AF_INET)
	}
	if buf[1] != 24 {
		t.Errorf("PrefixLen byte = %d, want 24", buf[1])
	}
	if got := binary.LittleEndian.Uint32(buf[4:8]); got != 3 {
		t.Errorf("Index = %d, want 3", got)
	}
}

func TestStructBytes_RtMsg(t *testing.T) {
	msg := &rtMsg{Family: unix.AF_INET, Table: unix.RT_TABLE_MAIN, Protocol: unix.RTPROT_BOOT, Scope: unix.RT_SCOPE_UNIVERSE, Type: unix.RTN_UNICAST}
	buf := structBytes(msg)
	if len(buf) != 12 {
		t.Fatalf("len(buf) = %d, want 12", len(buf))
	}
	if buf[4] != unix.RT_TABLE_MAIN {
		t.Errorf("Table byte = %d, want %d", buf[4], unix.RT_TABLE_MAIN)
	}
}

func TestStructBytes_UnknownTypeReturnsNil(t *testing.T) {
	if got := structBytes("not a pointer to a known type"); got != nil {
		t.Errorf("structBytes(unknown) = %v, want nil", got)
	}
}

func TestRtaBytes_PadsToFourByteBoundary(t *testing.T) {
	data := []byte{1, 2, 3} // 4 (header) + 3 = 7, rounds up to 8
	buf := rtaBytes(unix.IFA_LOCAL, data)
	if len(buf) != 8 {
		t.Fatalf("len(buf) = %d, want 8", len(buf))
	}
	gotLen := binary.LittleEndian.Uint16(buf[0:2])
	if gotLen != 7 {
		t.Errorf("rta_len = %d, want 7", gotLen)
	}
	gotType := binary.LittleEndian.Uint16(buf[2:4])
	if gotType != unix.IFA_LOCAL {
		t.Errorf("rta_type = %d, want %d", gotType, unix.IFA_LOCAL)
	}
	if buf[4] != 1 || buf[5] != 2 || buf[6] != 3 {
		t.Errorf("payload = %v, want [1 2 3]", buf[4:7])
	}
}

func TestRtaBytes_ExactlyAligned(t *testing.T) {
	data := make([]byte, 4) // 4 + 4 = 8, already aligned
	buf := rtaBytes(unix.RTA_OIF, data)
	if len(buf) != 8 {
		t.Errorf("len(buf) = %d, want 8", len(buf))
	}
}

func TestParseAck_Success(t *testing.T) {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint16(buf[4:6], unix.NLMSG_ERROR)
	binary.LittleEndian.PutUint32(buf[16:20], 0)
	if err := parseAck(buf); err != nil {
		t.Errorf("parseAck(errno 0) = %v, want nil", err)
	}
}

func TestParseAck_NonErrorMessageType(t *testing.T) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint16(buf[4:6], unix.RTM_NEWLINK)
	if err := parseAck(buf); err != nil {
		t.Errorf("parseAck(non-error msg) = %v, want nil", err)
	}
}

func TestParseAck_ErrorCode(t *testing.T) {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint16(buf[4:6], unix.NLMSG_ERROR)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(int32(-13))) // -EACCES
	err := parseAck(buf)
	if err == nil {
		t.Fatal("expected an error for a nonzero errno")
	}
	if !ipc.Is(err, ipc.KindKernelError) {
		t.Errorf("error kind = %v, want KindKernelError", err)
	}
}

func TestParseAck_ShortResponse(t *testing.T) {
	err := parseAck([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected an error for a too-short response")
	}
	if !ipc.Is(err, ipc.KindInvalidFrame) {
		t.Errorf("error kind = %v, want KindInvalidFrame", err)
	}
}
