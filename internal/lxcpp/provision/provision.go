// Package provision implements C10: the guard's filesystem setup sequence
// between namespace entry and init's execve, adapted from the teacher's
// internal/harness/mount_linux.go phased-mount-then-remount idiom (there
// applied to a fixed virtiofs layout; here generalized to arbitrary declared
// mount/link/file provisions) and internal/overlay/copy.go's non-fatal,
// wrapped-error style for filesystem operations that must not panic the
// process performing them.
package provision

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/ipc"
)

// PrivatizeMounts makes the whole mount tree MS_PRIVATE so later pivot_root
// and bind mounts in this namespace are not propagated to the host (spec
// §4.10 step 1). Must run before any other step.
func PrivatizeMounts() error {
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return classifyErrno("privatize /", err)
	}
	return nil
}

// PivotRoot bind-mounts rootPath onto itself, pivots into it, and unmounts
// the old root (spec §4.10 step 2).
func PivotRoot(rootPath string) error {
	if err := unix.Mount(rootPath, rootPath, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return classifyErrno("bind-mount root onto itself", err)
	}

	oldRoot := filepath.Join(rootPath, ".old_root")
	if err := os.MkdirAll(oldRoot, 0700); err != nil {
		return ipc.Wrap(fmt.Errorf("provision: mkdir old root: %w", err))
	}

	if err := unix.PivotRoot(rootPath, oldRoot); err != nil {
		return classifyErrno("pivot_root", err)
	}

	if err := os.Chdir("/"); err != nil {
		return ipc.Wrap(fmt.Errorf("provision: chdir /: %w", err))
	}

	oldRootAfterPivot := "/.old_root"
	if err := unix.Unmount(oldRootAfterPivot, unix.MNT_DETACH); err != nil {
		return classifyErrno("unmount old root", err)
	}
	if err := os.RemoveAll(oldRootAfterPivot); err != nil {
		return ipc.Wrap(fmt.Errorf("provision: remove old root mountpoint: %w", err))
	}
	return nil
}

// ApplyMounts runs every declared mount, in order, inside the new root (spec
// §4.10 step 3). Target paths are interpreted relative to "/" post-pivot.
func ApplyMounts(mounts []config.MountDeclaration) error {
	for _, m := range mounts {
		if err := os.MkdirAll(m.Target, os.FileMode(m.Mode)); err != nil {
			return ipc.Wrap(fmt.Errorf("provision: mkdir %s: %w", m.Target, err))
		}
		if err := unix.Mount(m.Source, m.Target, m.FSType, uintptr(m.Flags), m.Data); err != nil {
			return classifyErrno(fmt.Sprintf("mount %s on %s", m.Source, m.Target), err)
		}
	}
	return nil
}

// ApplyLinks creates every declared hard link (spec §4.10 step 4).
func ApplyLinks(links []config.LinkDeclaration) error {
	for _, l := range links {
		if err := os.Link(l.Source, l.Target); err != nil {
			return ipc.Wrap(fmt.Errorf("provision: link %s -> %s: %w", l.Source, l.Target, err))
		}
		copySmackLabel(l.Source, l.Target)
	}
	return nil
}

// ApplyFiles creates every declared filesystem object (spec §4.10 step 5).
func ApplyFiles(files []config.FileDeclaration) error {
	for _, f := range files {
		if err := applyFile(f); err != nil {
			return err
		}
	}
	return nil
}

// ApplyAll runs the ordered Provisions list (mounts, links, files
// interleaved as declared) once the new root is in place, i.e. steps 3-5
// of spec §4.10 expressed through the generic Provision envelope rather
// than the three flat slices above.
func ApplyAll(provisions []config.Provision) error {
	for _, p := range provisions {
		var err error
		switch p.Kind {
		case config.ProvisionMount:
			if p.Mount == nil {
				return ipc.New(ipc.KindInvalidArgument, fmt.Errorf("provision: mount entry missing body"))
			}
			err = ApplyMounts([]config.MountDeclaration{*p.Mount})
		case config.ProvisionLink:
			if p.Link == nil {
				return ipc.New(ipc.KindInvalidArgument, fmt.Errorf("provision: link entry missing body"))
			}
			err = ApplyLinks([]config.LinkDeclaration{*p.Link})
		case config.ProvisionFile:
			if p.File == nil {
				return ipc.New(ipc.KindInvalidArgument, fmt.Errorf("provision: file entry missing body"))
			}
			err = applyFile(*p.File)
		default:
			err = ipc.New(ipc.KindInvalidArgument, fmt.Errorf("provision: unknown provision kind %v", p.Kind))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func applyFile(f config.FileDeclaration) error {
	mode := os.FileMode(f.Mode)
	switch f.Kind {
	case config.FileKindDir:
		if err := os.MkdirAll(f.Path, mode); err != nil {
			return ipc.Wrap(fmt.Errorf("provision: mkdir %s: %w", f.Path, err))
		}
	case config.FileKindReg:
		fh, err := os.OpenFile(f.Path, os.O_CREATE|os.O_WRONLY, mode)
		if err != nil {
			return ipc.Wrap(fmt.Errorf("provision: create %s: %w", f.Path, err))
		}
		fh.Close()
	case config.FileKindFifo:
		if err := unix.Mkfifo(f.Path, uint32(mode)); err != nil {
			return classifyErrno("mkfifo "+f.Path, err)
		}
	case config.FileKindSock:
		ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: f.Path, Net: "unix"})
		if err != nil {
			return ipc.Wrap(fmt.Errorf("provision: create socket %s: %w", f.Path, err))
		}
		ln.Close()
	case config.FileKindDev:
		dev := unix.Mkdev(f.Major, f.Minor)
		if err := unix.Mknod(f.Path, unix.S_IFCHR|uint32(mode), int(dev)); err != nil {
			return classifyErrno("mknod "+f.Path, err)
		}
	default:
		return ipc.New(ipc.KindInvalidArgument, fmt.Errorf("provision: unknown file kind %v", f.Kind))
	}
	return os.Chmod(f.Path, mode)
}

const smackXattr = "security.SMACK64"

// copySmackLabel best-effort copies the Smack label from source to target.
// Non-fatal: most kernels build without Smack, and the hard-link target
// inherits the source inode's security blob in the common case anyway.
func copySmackLabel(source, target string) {
	buf := make([]byte, 256)
	n, err := unix.Getxattr(source, smackXattr, buf)
	if err != nil {
		return
	}
	unix.Setxattr(target, smackXattr, buf[:n], 0)
}

func classifyErrno(context string, err error) error {
	var errno unix.Errno
	if e, ok := err.(unix.Errno); ok {
		errno = e
	} else {
		return ipc.Wrap(fmt.Errorf("provision: %s: %w", context, err))
	}
	switch errno {
	case unix.EPERM:
		return ipc.New(ipc.KindPermissionDenied, fmt.Errorf("provision: %s: %w", context, err))
	case unix.EBUSY:
		return ipc.New(ipc.KindBusy, fmt.Errorf("provision: %s: %w", context, err))
	case unix.EEXIST:
		return ipc.New(ipc.KindExists, fmt.Errorf("provision: %s: %w", context, err))
	case unix.ENOENT:
		return ipc.New(ipc.KindNotFound, fmt.Errorf("provision: %s: %w", context, err))
	case unix.EINVAL:
		return ipc.New(ipc.KindInvalidArgument, fmt.Errorf("provision: %s: %w", context, err))
	case unix.ENOSYS, unix.EOPNOTSUPP:
		return ipc.New(ipc.KindNotSupported, fmt.Errorf("provision: %s: %w", context, err))
	default:
		return ipc.Kernel(int(errno), fmt.Errorf("provision: %s: %w", context, err))
	}
}
