// vsm-launch-pad starts a single zone directly from its JSON config,
// without going through vasumd — spec §6.2. It is meant for use from a
// process supervisor (a systemd unit per zone, e.g.) that wants one zone
// per supervised process rather than one daemon owning all of them.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/lxcpp/container"
	"github.com/samsung/vasum/internal/lxcpp/terminal"
	"github.com/samsung/vasum/internal/logger"
	"github.com/samsung/vasum/internal/registry"
)

const defaultCGroupRoot = "/sys/fs/cgroup"

// Exit codes, spec §6.2.
const (
	exitSuccess        = 0
	exitConfigError    = 1
	exitRuntimeError   = 2
	exitAlreadyRunning = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var foreground bool
	var name string
	for _, a := range args {
		if a == "--foreground" {
			foreground = true
			continue
		}
		if name == "" {
			name = a
		}
	}
	if name == "" {
		fmt.Fprintln(os.Stderr, "usage: vsm-launch-pad [--foreground] <name>")
		return exitConfigError
	}

	log := logger.New("vsm-launch-pad")
	cfgPath := fmt.Sprintf("/etc/vasum/zones/%s.conf", name)
	cfg, err := config.LoadContainerConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vsm-launch-pad: %v\n", err)
		return exitConfigError
	}
	if cfg.WorkPath == "" {
		cfg.WorkPath = fmt.Sprintf("/var/lib/vasum/state/%s", name)
	}

	if pid, ok, _ := registry.ReadInitPID(cfg.WorkPath); ok && processAlive(pid) {
		fmt.Fprintf(os.Stderr, "vsm-launch-pad: %s already running (pid %d)\n", name, pid)
		return exitAlreadyRunning
	}

	c := container.New(cfg, defaultCGroupRoot, terminal.NewMultiplexer(), log)
	stopped := make(chan struct{})
	var closeStopped sync.Once
	c.OnStateChange(func(_ string, st container.State) {
		switch st {
		case container.StateRunning:
			registry.WriteInitPID(cfg.WorkPath, c.InitPID())
		case container.StateStopped:
			registry.RemoveInitPID(cfg.WorkPath)
			closeStopped.Do(func() { close(stopped) })
		}
	})

	if err := c.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "vsm-launch-pad: start %s: %v\n", name, err)
		return exitRuntimeError
	}
	log.Info("%s started", name)

	if !foreground {
		return exitSuccess
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-stopped:
	case <-sigCh:
		if err := c.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "vsm-launch-pad: shutdown %s: %v\n", name, err)
			return exitRuntimeError
		}
		<-stopped
	}
	return exitSuccess
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
