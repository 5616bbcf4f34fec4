package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/samsung/vasum/internal/ipc/processor"
	"github.com/samsung/vasum/internal/logger"
)

func testSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "svc.sock")
}

func TestDialListen_CallSyncRoundTrip(t *testing.T) {
	sockPath := testSocketPath(t)

	svc, err := Listen(sockPath, logger.New("test"))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer svc.Close()

	svc.SetMethodHandler(1, func(peer *processor.Peer, payload []byte, fds []int, result *processor.MethodResult) {
		result.Complete(append([]byte("pong:"), payload...), nil)
	})

	cl, err := Dial(sockPath, logger.New("test"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload, _, err := cl.CallSync(ctx, cl.Peer(), 1, []byte("hi"), nil, time.Second)
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	if string(payload) != "pong:hi" {
		t.Errorf("payload = %q, want pong:hi", payload)
	}
}

func TestSetSignalHandlerSubscribed_DeliversAcrossTheWire(t *testing.T) {
	sockPath := testSocketPath(t)

	svc, err := Listen(sockPath, logger.New("test"))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer svc.Close()

	cl, err := Dial(sockPath, logger.New("test"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	received := make(chan []byte, 1)
	cl.SetSignalHandlerSubscribed(5, func(peer *processor.Peer, payload []byte, fds []int) {
		received <- payload
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(svc.Peers()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(svc.Peers()) != 1 {
		t.Fatalf("len(svc.Peers()) = %d, want 1", len(svc.Peers()))
	}

	// The subscribe control frame and this Signal race over the same
	// connection; retry until the handler observes it.
	var ok bool
	for i := 0; i < 50 && !ok; i++ {
		svc.Signal(5, []byte("alert"))
		select {
		case payload := <-received:
			if string(payload) != "alert" {
				t.Fatalf("payload = %q, want alert", payload)
			}
			ok = true
		case <-time.After(50 * time.Millisecond):
		}
	}
	if !ok {
		t.Fatal("subscribed signal was never delivered across the wire")
	}
}

func TestDial_NoListenerIsError(t *testing.T) {
	_, err := Dial(filepath.Join(t.TempDir(), "ghost.sock"), logger.New("test"))
	if err == nil {
		t.Fatal("expected Dial to a nonexistent socket to fail")
	}
}

func TestClose_RemovesFromPeers(t *testing.T) {
	sockPath := testSocketPath(t)
	svc, err := Listen(sockPath, logger.New("test"))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer svc.Close()

	cl, err := Dial(sockPath, logger.New("test"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(svc.Peers()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if len(svc.Peers()) != 1 {
		t.Fatalf("len(svc.Peers()) = %d, want 1", len(svc.Peers()))
	}

	cl.Close()

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(svc.Peers()) != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if len(svc.Peers()) != 0 {
		t.Error("expected the server-side peer to be removed after the client closed")
	}
}
