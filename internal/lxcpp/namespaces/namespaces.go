// Package namespaces implements C7: cloning a child into a selected set of
// Linux namespaces, entering existing namespaces, and the uid/gid map
// synchronization handshake spec §4.7 requires before a user-namespaced
// child proceeds.
//
// Go's runtime cannot safely call raw fork() (it is multithreaded), so
// PrepareCommand uses os/exec's own clone/unshare support (SysProcAttr.Cloneflags,
// UidMappings/GidMappings) — the standard Go idiom for this, and the direct
// analog of the source's clone(2) + synchronization-pipe pattern
// (original_source/libs/lxcpp/environment.hpp): the exec package performs
// exactly the "parent writes id maps, child blocks until they land" protocol
// internally when Cloneflags includes CLONE_NEWUSER.
package namespaces

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/ipc"
)

// Kind is one of the namespace kinds a container can request.
type Kind = config.Namespace

var kindToCloneFlag = map[Kind]uintptr{
	config.NamespaceUser:   unix.CLONE_NEWUSER,
	config.NamespacePID:    unix.CLONE_NEWPID,
	config.NamespaceMount:  unix.CLONE_NEWNS,
	config.NamespaceNet:    unix.CLONE_NEWNET,
	config.NamespaceUTS:    unix.CLONE_NEWUTS,
	config.NamespaceIPC:    unix.CLONE_NEWIPC,
	config.NamespaceCgroup: unix.CLONE_NEWCGROUP,
}

var kindToProcName = map[Kind]string{
	config.NamespaceUser:   "user",
	config.NamespacePID:    "pid",
	config.NamespaceMount:  "mnt",
	config.NamespaceNet:    "net",
	config.NamespaceUTS:    "uts",
	config.NamespaceIPC:    "ipc",
	config.NamespaceCgroup: "cgroup",
}

// CloneFlags ORs together the clone(2) flags for the given kinds.
func CloneFlags(kinds []Kind) uintptr {
	var flags uintptr
	for _, k := range kinds {
		flags |= kindToCloneFlag[k]
	}
	return flags
}

// PrepareCommand configures cmd to clone into the requested namespaces when
// started, and — if NamespaceUser is requested — to write uidMappings and
// gidMappings before the child proceeds past CLONE_NEWUSER, exactly as
// spec §4.7 requires.
func PrepareCommand(cmd *exec.Cmd, kinds []Kind, uidMappings, gidMappings []config.IDMapping) {
	flags := CloneFlags(kinds)
	attr := cmd.SysProcAttr
	if attr == nil {
		attr = &syscall.SysProcAttr{}
		cmd.SysProcAttr = attr
	}
	attr.Cloneflags = flags

	hasUser := false
	for _, k := range kinds {
		if k == config.NamespaceUser {
			hasUser = true
		}
	}
	if !hasUser {
		return
	}
	attr.UidMappings = toSyscallIDMap(uidMappings)
	attr.GidMappings = toSyscallIDMap(gidMappings)
	attr.GidMappingsEnableSetgroups = false
}

func toSyscallIDMap(maps []config.IDMapping) []syscall.SysProcIDMap {
	out := make([]syscall.SysProcIDMap, len(maps))
	for i, m := range maps {
		out[i] = syscall.SysProcIDMap{
			ContainerID: int(m.InsideID),
			HostID:      int(m.OutsideID),
			Size:        int(m.Count),
		}
	}
	return out
}

// EnterNS opens /proc/{pid}/ns/{kind} for each of kinds and moves the
// current OS thread into each via setns(2). The caller must have pinned
// the calling goroutine with runtime.LockOSThread beforehand, since the
// namespace change applies to the calling thread only.
func EnterNS(pid int, kinds []Kind) error {
	for _, k := range kinds {
		name, ok := kindToProcName[k]
		if !ok {
			continue
		}
		path := fmt.Sprintf("/proc/%d/ns/%s", pid, name)
		f, err := os.Open(path)
		if err != nil {
			return ipc.New(ipc.KindNotFound, fmt.Errorf("namespaces: open %s: %w", path, err))
		}
		err = unix.Setns(int(f.Fd()), 0)
		f.Close()
		if err != nil {
			return classifyErrno(err)
		}
	}
	return nil
}

func classifyErrno(err error) error {
	errno, ok := err.(unix.Errno)
	if !ok {
		return ipc.Wrap(err)
	}
	switch errno {
	case unix.EPERM:
		return ipc.New(ipc.KindPermissionDenied, err)
	case unix.EINVAL:
		return ipc.New(ipc.KindInvalidArgument, err)
	case unix.ENOSYS, unix.EOPNOTSUPP:
		return ipc.New(ipc.KindNotSupported, err)
	default:
		return ipc.Kernel(int(errno), err)
	}
}

// WriteIDMaps writes /proc/{pid}/uid_map and /proc/{pid}/gid_map directly,
// for the case where the caller manages the clone itself (the guard writing
// maps for an init process it did not spawn via os/exec — spec §4.7's
// HOST_MAPS_WRITTEN synchronization point in the three-process chain of
// §4.12). disableSetgroups must be done first when gidMappings is
// non-empty and the process lacks CAP_SETGID in the parent's user ns.
func WriteIDMaps(pid int, uidMappings, gidMappings []config.IDMapping) error {
	if len(gidMappings) > 0 {
		if err := os.WriteFile(fmt.Sprintf("/proc/%d/setgroups", pid), []byte("deny"), 0644); err != nil && !os.IsNotExist(err) {
			return ipc.New(ipc.KindPermissionDenied, fmt.Errorf("namespaces: write setgroups: %w", err))
		}
	}
	if err := writeMapFile(fmt.Sprintf("/proc/%d/uid_map", pid), uidMappings); err != nil {
		return err
	}
	if err := writeMapFile(fmt.Sprintf("/proc/%d/gid_map", pid), gidMappings); err != nil {
		return err
	}
	return nil
}

func writeMapFile(path string, mappings []config.IDMapping) error {
	if len(mappings) == 0 {
		return nil
	}
	var buf []byte
	for _, m := range mappings {
		buf = append(buf, []byte(fmt.Sprintf("%d %d %d\n", m.InsideID, m.OutsideID, m.Count))...)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return ipc.New(ipc.KindPermissionDenied, fmt.Errorf("namespaces: write %s: %w", path, err))
	}
	return nil
}
