package main

import (
	"os"
	"testing"
)

func TestRun_NoNameIsConfigError(t *testing.T) {
	if got := run(nil); got != exitConfigError {
		t.Errorf("run(nil) = %d, want exitConfigError", got)
	}
	if got := run([]string{"--foreground"}); got != exitConfigError {
		t.Errorf("run with only --foreground = %d, want exitConfigError", got)
	}
}

func TestRun_MissingZoneConfigIsConfigError(t *testing.T) {
	got := run([]string{"no-such-zone-definitely"})
	if got != exitConfigError {
		t.Errorf("run with an unconfigured zone = %d, want exitConfigError", got)
	}
}

func TestProcessAlive_NonPositivePID(t *testing.T) {
	if processAlive(0) {
		t.Error("pid 0 should not be considered alive")
	}
	if processAlive(-1) {
		t.Error("negative pid should not be considered alive")
	}
}

func TestProcessAlive_SelfIsAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("the running test process should be considered alive")
	}
}
