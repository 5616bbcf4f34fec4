package container

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/lxcpp/provision"
	"github.com/samsung/vasum/internal/lxcpp/terminal"
)

// InitMain is the entry point when this binary is re-exec'd with
// reexecInitArg. It is the innermost process of spec §4.12's chain: it
// has just been cloned into the requested namespaces by the guard and
// blocks until the guard forwards HOST_MAPS_WRITTEN (uid/gid maps can only
// be written once this process exists, and this process cannot safely
// touch the filesystem or set its own identity until they land), then
// performs namespace entry finalization, provisioning (C10), pty
// allocation (C11), and finally execve's the configured init argv.
//
// Called from cmd/vasum-agent's main when os.Args[1] == "__vasum_init__".
func InitMain(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "vasum-init: missing zone name")
		return 1
	}
	name := args[0]

	guardSync := os.NewFile(3, "guard-sync")
	if guardSync == nil {
		fmt.Fprintln(os.Stderr, "vasum-init: missing guard sync fd")
		return 1
	}
	defer guardSync.Close()

	cfgPath := os.Getenv(zoneConfigEnv)
	if cfgPath == "" {
		cfgPath = fmt.Sprintf("/etc/vasum/zones/%s.json", name)
	}
	cfg, err := config.LoadContainerConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vasum-init: load config: %v\n", err)
		sendFail(guardSync, HostMapsWritten, int(syscall.EINVAL))
		return 1
	}

	pt, err := recvPoint(guardSync)
	if err != nil || pt != HostMapsWritten {
		fmt.Fprintf(os.Stderr, "vasum-init: waiting for HOST_MAPS_WRITTEN: %v\n", err)
		return 1
	}

	if err := enterNamespace(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "vasum-init: namespace entry: %v\n", err)
		sendFail(guardSync, InitNSEntered, errnoOf(err))
		return 1
	}
	if err := sendPoint(guardSync, InitNSEntered); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := applyProvisioning(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "vasum-init: provisioning: %v\n", err)
		sendFail(guardSync, InitProvisioned, errnoOf(err))
		return 1
	}
	if err := sendPoint(guardSync, InitProvisioned); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	pairs, err := terminal.OpenPairs(cfg.TerminalCount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vasum-init: open ptys: %v\n", err)
		sendFail(guardSync, InitProvisioned, errnoOf(err))
		return 1
	}
	for _, p := range pairs {
		if err := sendFD(guardSync, int(p.Master.Fd())); err != nil {
			fmt.Fprintf(os.Stderr, "vasum-init: send pty %d: %v\n", p.Index, err)
			return 1
		}
	}

	if err := sendPoint(guardSync, InitExec); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if len(cfg.Init) == 0 {
		fmt.Fprintln(os.Stderr, "vasum-init: empty init argv")
		return 1
	}
	binPath, err := lookupInInitEnv(cfg.Init[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "vasum-init: resolve %s: %v\n", cfg.Init[0], err)
		return 1
	}
	if err := unix.Exec(binPath, cfg.Init, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "vasum-init: execve %s: %v\n", binPath, err)
		return 1
	}
	return 0 // unreachable on success
}

// enterNamespace finalizes namespace setup that must happen inside the
// cloned process: set the UTS hostname and mount a fresh procfs (spec
// §4.12 step "INIT_NS_ENTERED — init has set hostname, mounted procfs,
// etc."). Cloneflags/UidMappings/GidMappings were already applied by the
// guard's exec.Cmd before this process started running.
func enterNamespace(cfg *config.ContainerConfig) error {
	if err := unix.Sethostname([]byte(cfg.Hostname)); err != nil {
		return err
	}
	if err := os.MkdirAll("/proc", 0555); err != nil {
		return err
	}
	if err := unix.Mount("proc", "/proc", "proc", 0, ""); err != nil {
		return err
	}
	if err := os.MkdirAll("/sys", 0555); err != nil {
		return err
	}
	if err := unix.Mount("sysfs", "/sys", "sysfs", 0, ""); err != nil {
		return err
	}
	return nil
}

// applyProvisioning runs spec §4.10 steps 1-5.
func applyProvisioning(cfg *config.ContainerConfig) error {
	if err := provision.PrivatizeMounts(); err != nil {
		return err
	}
	if err := provision.PivotRoot(cfg.RootPath); err != nil {
		return err
	}
	if err := provision.ApplyMounts(cfg.Mounts); err != nil {
		return err
	}
	return provision.ApplyAll(cfg.Provisions)
}

func errnoOf(err error) int {
	if e, ok := err.(unix.Errno); ok {
		return int(e)
	}
	return int(syscall.EIO)
}

func lookupInInitEnv(name string) (string, error) {
	if name[0] == '/' {
		return name, nil
	}
	return "", fmt.Errorf("relative init path %q requires PATH resolution", name)
}
