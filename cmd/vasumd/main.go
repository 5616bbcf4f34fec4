// vasumd is the host daemon — the control plane for zone management.
//
// It listens on a control socket (spec §6.1) and drives zone lifecycle
// through internal/lxcpp/container, persisting zone records through
// internal/registry.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	sdnotify "github.com/coreos/go-systemd/v22/daemon"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/dbusutil"
	"github.com/samsung/vasum/internal/hostapi"
	"github.com/samsung/vasum/internal/ipc/service"
	"github.com/samsung/vasum/internal/logger"
	"github.com/samsung/vasum/internal/registry"
	"github.com/samsung/vasum/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.DefaultConfig()
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("create directories: %v", err)
	}

	logger.SetGlobalLevel(logger.ParseLevel(cfg.LogLevel))
	lg := logger.New("vasumd")
	lg.Info("vasumd %s starting", version.Version())

	reg, err := registry.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open registry: %v", err)
	}
	defer reg.Close()
	lg.Info("registry: %s", cfg.DBPath)

	// Zones found in the registry at startup never survive a daemon
	// restart as running processes — their guard/init trees exited along
	// with the parent process tree that could Wait() them. Mark every
	// entry STOPPED, the same "restored instances all come back stopped"
	// posture as a VM-backed daemon restoring from a crash.
	entries, err := reg.List()
	if err != nil {
		log.Fatalf("list zones: %v", err)
	}
	restored := 0
	for _, e := range entries {
		if e.State != "STOPPED" {
			if err := reg.SetState(e.Name, e.WorkPath, "STOPPED"); err != nil {
				lg.Warn("reset state for %s: %v", e.Name, err)
			}
		}
		registry.RemoveInitPID(e.WorkPath)
		restored++
	}
	lg.Info("restored %d zone record(s) from registry (all stopped)", restored)

	svc, err := service.Listen(cfg.SocketPath, lg)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.SocketPath, err)
	}
	defer svc.Close()

	api := hostapi.NewServer(cfg, reg, svc.Processor, lg)

	// DBus exposure is optional (spec §1/§6's "external collaborator"):
	// the primary control surface is the unix socket above, so a bus
	// connect failure (no system bus in this environment, no
	// permission to own the name) is logged and otherwise ignored.
	if bus, err := dbusutil.ConnectSystemBus(); err != nil {
		lg.Debug("dbus: %v (continuing without it)", err)
	} else {
		if err := bus.RequestName("org.tizen.vasum"); err != nil {
			lg.Debug("dbus request name: %v", err)
			bus.Close()
		} else {
			api.AttachDBus(bus)
			defer bus.Close()
		}
	}

	pidPath := cfg.DataDir + "/vasumd.pid"
	os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0600)
	defer os.Remove(pidPath)

	lg.Info("vasumd ready (pid %d, socket %s)", os.Getpid(), cfg.SocketPath)
	if ok, err := sdnotify.SdNotify(false, sdnotify.SdNotifyReady); err != nil {
		lg.Debug("sd_notify READY: %v", err)
	} else if ok {
		lg.Debug("sd_notify READY delivered")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	lg.Info("received %v, shutting down", sig)

	sdnotify.SdNotify(false, sdnotify.SdNotifyStopping)

	svc.Processor.Stop()
	if err := svc.Close(); err != nil {
		lg.Warn("service close: %v", err)
	}

	lg.Info("vasumd stopped")
}
