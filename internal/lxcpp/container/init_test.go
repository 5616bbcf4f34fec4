package container

import (
	"errors"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"
)

func TestErrnoOf_PassesThroughUnixErrno(t *testing.T) {
	if got := errnoOf(unix.EPERM); got != int(unix.EPERM) {
		t.Errorf("errnoOf(EPERM) = %d, want %d", got, int(unix.EPERM))
	}
}

func TestErrnoOf_FallsBackToEIOForOtherErrors(t *testing.T) {
	if got := errnoOf(errors.New("boom")); got != int(syscall.EIO) {
		t.Errorf("errnoOf(generic) = %d, want EIO", got)
	}
}

func TestLookupInInitEnv_AbsolutePathPassesThrough(t *testing.T) {
	got, err := lookupInInitEnv("/sbin/init")
	if err != nil {
		t.Fatalf("lookupInInitEnv: %v", err)
	}
	if got != "/sbin/init" {
		t.Errorf("got %q, want /sbin/init", got)
	}
}

func TestLookupInInitEnv_RelativePathIsUnsupported(t *testing.T) {
	_, err := lookupInInitEnv("init")
	if err == nil {
		t.Fatal("expected a relative init path to fail")
	}
}
