package cgroups

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/samsung/vasum/internal/ipc"
)

func mountCgroupFS(subsystem, mountPoint string) error {
	if err := unix.Mount("cgroup", mountPoint, "cgroup", 0, subsystem); err != nil {
		return classifyErrno(err, fmt.Sprintf("mount cgroup %s at %s", subsystem, mountPoint))
	}
	return nil
}

func classifyErrno(err error, context string) error {
	errno, ok := err.(unix.Errno)
	if !ok {
		return ipc.Wrap(fmt.Errorf("cgroups: %s: %w", context, err))
	}
	switch errno {
	case unix.EPERM:
		return ipc.New(ipc.KindPermissionDenied, fmt.Errorf("cgroups: %s: %w", context, err))
	case unix.EBUSY:
		return ipc.New(ipc.KindBusy, fmt.Errorf("cgroups: %s: %w", context, err))
	case unix.EEXIST:
		return ipc.New(ipc.KindExists, fmt.Errorf("cgroups: %s: %w", context, err))
	case unix.ENOENT:
		return ipc.New(ipc.KindNotFound, fmt.Errorf("cgroups: %s: %w", context, err))
	case unix.EINVAL:
		return ipc.New(ipc.KindInvalidArgument, fmt.Errorf("cgroups: %s: %w", context, err))
	case unix.ENOSYS, unix.EOPNOTSUPP:
		return ipc.New(ipc.KindNotSupported, fmt.Errorf("cgroups: %s: %w", context, err))
	default:
		return ipc.Kernel(int(errno), fmt.Errorf("cgroups: %s: %w", context, err))
	}
}
