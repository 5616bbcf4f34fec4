package container

import (
	"os"
	"testing"

	"github.com/samsung/vasum/internal/ipc"
)

func syncPair(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	a, b, err := newSyncPair()
	if err != nil {
		t.Fatalf("newSyncPair: %v", err)
	}
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestSendRecvPoint_RoundTrip(t *testing.T) {
	a, b := syncPair(t)

	if err := sendPoint(a, HostMapsWritten); err != nil {
		t.Fatalf("sendPoint: %v", err)
	}
	got, err := recvPoint(b)
	if err != nil {
		t.Fatalf("recvPoint: %v", err)
	}
	if got != HostMapsWritten {
		t.Errorf("recvPoint = %v, want %v", got, HostMapsWritten)
	}
}

func TestSendFail_SurfacesAsHandshakeFailed(t *testing.T) {
	a, b := syncPair(t)

	if err := sendFail(a, InitProvisioned, 13); err != nil {
		t.Fatalf("sendFail: %v", err)
	}
	_, err := recvPoint(b)
	if err == nil {
		t.Fatal("expected recvPoint to surface the failure")
	}
	ipcErr, ok := err.(*ipc.Error)
	if !ok {
		t.Fatalf("error type = %T, want *ipc.Error", err)
	}
	if ipcErr.Kind != ipc.KindHandshakeFailed {
		t.Errorf("Kind = %v, want KindHandshakeFailed", ipcErr.Kind)
	}
	if ipcErr.Step != int(InitProvisioned) {
		t.Errorf("Step = %d, want %d", ipcErr.Step, int(InitProvisioned))
	}
	if ipcErr.Errno != 13 {
		t.Errorf("Errno = %d, want 13", ipcErr.Errno)
	}
}

func TestRecvPoint_PeerClosedIsDisconnected(t *testing.T) {
	a, b := syncPair(t)
	a.Close()

	_, err := recvPoint(b)
	if err == nil {
		t.Fatal("expected recvPoint on a closed peer to fail")
	}
	if !ipc.Is(err, ipc.KindPeerDisconnected) {
		t.Errorf("error kind = %v, want KindPeerDisconnected", err)
	}
}

func TestPoint_String(t *testing.T) {
	cases := []struct {
		p    Point
		want string
	}{
		{GuardReady, "GUARD_READY"},
		{HostMapsWritten, "HOST_MAPS_WRITTEN"},
		{InitNSEntered, "INIT_NS_ENTERED"},
		{InitProvisioned, "INIT_PROVISIONED"},
		{InitExec, "INIT_EXEC"},
		{InitExited, "INIT_EXITED"},
		{Point(99), "Point(99)"},
	}
	for _, c := range cases {
		if got := c.p.String(); got != c.want {
			t.Errorf("Point(%d).String() = %q, want %q", byte(c.p), got, c.want)
		}
	}
}

func TestNewSyncPair_IsBidirectional(t *testing.T) {
	a, b := syncPair(t)

	if err := sendPoint(a, GuardReady); err != nil {
		t.Fatalf("sendPoint a->b: %v", err)
	}
	if _, err := recvPoint(b); err != nil {
		t.Fatalf("recvPoint on b: %v", err)
	}
	if err := sendPoint(b, InitExec); err != nil {
		t.Fatalf("sendPoint b->a: %v", err)
	}
	got, err := recvPoint(a)
	if err != nil {
		t.Fatalf("recvPoint on a: %v", err)
	}
	if got != InitExec {
		t.Errorf("recvPoint(a) = %v, want %v", got, InitExec)
	}
}
