package container

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/lxcpp/namespaces"
)

// reexecInitArg is the hidden argv[1] recognized by this binary to re-enter
// itself as the init process (see InitMain).
const reexecInitArg = "__vasum_init__"

// zoneConfigEnv names the env var the guard uses to tell init (and itself)
// where to load the container's JSON config from, since both are re-execs
// of the same binary with no other channel available before their sync
// socketpair exists.
const zoneConfigEnv = "VASUM_ZONE_CONFIG"

// GuardMain is the entry point when this binary is re-exec'd with
// reexecGuardArg. It runs as the middle process of the three-process chain
// of spec §4.12: it signals GUARD_READY, clones INIT into the requested
// namespaces, relays the HOST_MAPS_WRITTEN signal and init's own pty fds to
// the host, waits for init to exit, and propagates its own exit status.
//
// Called from cmd/vasum-agent's main when os.Args[1] == "__vasum_guard__".
func GuardMain(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "vasum-guard: missing zone name")
		return 1
	}
	name := args[0]

	hostSide := os.NewFile(3, "host-sync")
	if hostSide == nil {
		fmt.Fprintln(os.Stderr, "vasum-guard: missing host sync fd")
		return 1
	}
	defer hostSide.Close()

	cfgPath := os.Getenv(zoneConfigEnv)
	if cfgPath == "" {
		cfgPath = fmt.Sprintf("/etc/vasum/zones/%s.json", name)
	}
	cfg, err := config.LoadContainerConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vasum-guard: load config: %v\n", err)
		sendFail(hostSide, GuardReady, int(syscall.EINVAL))
		return 1
	}

	guardSync, initSync, err := newSyncPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vasum-guard: sync pair: %v\n", err)
		sendFail(hostSide, GuardReady, int(syscall.ENOMEM))
		return 1
	}
	defer guardSync.Close()

	selfExe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vasum-guard: resolve self exe: %v\n", err)
		sendFail(hostSide, GuardReady, int(syscall.EINVAL))
		return 1
	}

	initCmd := exec.Command(selfExe, reexecInitArg, name)
	initCmd.ExtraFiles = []*os.File{initSync}
	initCmd.Env = append(os.Environ(), zoneConfigEnv+"="+cfgPath)
	initCmd.Stdout = os.Stdout
	initCmd.Stderr = os.Stderr
	namespaces.PrepareCommand(initCmd, requestedKinds(cfg), cfg.UIDMap, cfg.GIDMap)

	if err := initCmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "vasum-guard: clone init: %v\n", err)
		sendFail(hostSide, GuardReady, int(syscall.EAGAIN))
		return 1
	}
	initSync.Close()

	if err := sendPoint(hostSide, GuardReady); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if err := writePID(hostSide, initCmd.Process.Pid); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	if pt, err := recvPoint(hostSide); err != nil || pt != HostMapsWritten {
		fmt.Fprintf(os.Stderr, "vasum-guard: waiting for HOST_MAPS_WRITTEN: %v\n", err)
		initCmd.Process.Kill()
		initCmd.Wait()
		return 1
	}
	if err := sendPoint(guardSync, HostMapsWritten); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	if pt, err := recvPoint(guardSync); err != nil || pt != InitNSEntered {
		fmt.Fprintf(os.Stderr, "vasum-guard: waiting for INIT_NS_ENTERED: %v\n", err)
		initCmd.Process.Kill()
		initCmd.Wait()
		return 1
	}

	if pt, err := recvPoint(guardSync); err != nil || pt != InitProvisioned {
		fmt.Fprintf(os.Stderr, "vasum-guard: waiting for INIT_PROVISIONED: %v\n", err)
		initCmd.Process.Kill()
		initCmd.Wait()
		return 1
	}

	for i := 0; i < cfg.TerminalCount; i++ {
		fd, err := receiveFD(guardSync)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vasum-guard: relay pty %d: %v\n", i, err)
			break
		}
		if err := sendFD(hostSide, fd); err != nil {
			fmt.Fprintf(os.Stderr, "vasum-guard: forward pty %d to host: %v\n", i, err)
		}
		syscall.Close(fd)
	}

	if pt, err := recvPoint(guardSync); err != nil || pt != InitExec {
		fmt.Fprintf(os.Stderr, "vasum-guard: waiting for INIT_EXEC: %v\n", err)
		initCmd.Process.Kill()
		initCmd.Wait()
		return 1
	}
	if err := sendPoint(hostSide, InitExec); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	err = initCmd.Wait()
	sendPoint(hostSide, InitExited)

	if rebootRequested(err) {
		// Re-enter step 1 without unwinding the cgroup tree: recurse into
		// GuardMain's own entry rather than returning, so the host-side
		// handshake sees a fresh GUARD_READY..INIT_EXEC cycle.
		return GuardMain(args)
	}
	if err != nil {
		return 1
	}
	return 0
}

func requestedKinds(cfg *config.ContainerConfig) []config.Namespace {
	return cfg.Namespaces
}

func writePID(f *os.File, pid int) error {
	buf := []byte{byte(pid), byte(pid >> 8), byte(pid >> 16), byte(pid >> 24)}
	_, err := f.Write(buf)
	return err
}

// rebootRequested inspects init's exit status for the reboot marker: exit
// code 0 combined with a sentinel file left in its mount namespace (which
// vanished with the namespace, so instead init signals reboot by exiting
// with a distinct, documented status rather than a file probe).
func rebootRequested(err error) bool {
	const rebootExitCode = 42
	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return ws.Exited() && ws.ExitStatus() == rebootExitCode
		}
	}
	return false
}
