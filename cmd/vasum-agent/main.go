// vasum-agent is three binaries in one, selected by a hidden argv[1]
// marker — Go's substitute for re-exec-yourself fork() in a container
// runtime. Normally it is the in-zone agent: it brings its interfaces up
// and dials the zone control socket. Re-exec'd with "__vasum_guard__" it
// is the guard process of spec §4.12's start chain; re-exec'd with
// "__vasum_init__" it is that chain's innermost init process.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/lxcpp/container"
	"github.com/samsung/vasum/internal/zoneagent"
)

const (
	guardArg = "__vasum_guard__"
	initArg  = "__vasum_init__"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case guardArg:
			os.Exit(container.GuardMain(os.Args[2:]))
		case initArg:
			os.Exit(container.InitMain(os.Args[2:]))
		}
	}
	os.Exit(runAgent())
}

func runAgent() int {
	cfgPath := os.Getenv("VASUM_ZONE_CONFIG")
	if cfgPath == "" {
		fmt.Fprintln(os.Stderr, "vasum-agent: VASUM_ZONE_CONFIG not set")
		return 1
	}
	cfg, err := config.LoadContainerConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vasum-agent: load config: %v\n", err)
		return 1
	}

	sockPath := os.Getenv("VASUM_ZONE_SOCKET")
	if sockPath == "" {
		sockPath = "/run/vasum/zone.sock"
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		close(stop)
	}()

	if err := zoneagent.Run(cfg, sockPath, stop); err != nil {
		fmt.Fprintf(os.Stderr, "vasum-agent: %v\n", err)
		return 1
	}
	return 0
}
