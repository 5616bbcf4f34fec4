package zoneagent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/ipc/processor"
	"github.com/samsung/vasum/internal/ipc/service"
	"github.com/samsung/vasum/internal/logger"
)

func TestRun_ConnectsAndAnswersPing(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "zone.sock")
	log := logger.New("test")

	svc, err := service.Listen(sockPath, log)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer svc.Close()

	cfg := &config.ContainerConfig{Name: "web"}
	stop := make(chan struct{})
	runErr := make(chan error, 1)
	go func() { runErr <- Run(cfg, sockPath, stop) }()

	var ids []processor.PeerID
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ids = svc.Peers()
		if len(ids) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(ids) == 0 {
		t.Fatal("zone agent never connected")
	}
	peer, ok := svc.Peer(ids[0])
	if !ok {
		t.Fatal("peer vanished right after connecting")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, _, err := svc.CallSync(ctx, peer, PingMethodID, nil, nil, 2*time.Second)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if string(reply) != "pong" {
		t.Errorf("ping reply = %q, want %q", reply, "pong")
	}

	close(stop)
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after stop was closed")
	}
}

func TestRun_StopBeforeConnect(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "zone.sock")
	cfg := &config.ContainerConfig{Name: "web"}
	stop := make(chan struct{})
	close(stop)

	done := make(chan error, 1)
	go func() { done <- Run(cfg, sockPath, stop) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly when stop was already closed")
	}
}
