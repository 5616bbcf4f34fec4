package provision

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/ipc"
)

func TestApplyFiles_Dir(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sub", "nested")

	err := ApplyFiles([]config.FileDeclaration{
		{Kind: config.FileKindDir, Path: target, Mode: 0750},
	})
	if err != nil {
		t.Fatalf("ApplyFiles: %v", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected a directory")
	}
}

func TestApplyFiles_Reg(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "file.txt")

	err := ApplyFiles([]config.FileDeclaration{
		{Kind: config.FileKindReg, Path: target, Mode: 0640},
	})
	if err != nil {
		t.Fatalf("ApplyFiles: %v", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.IsDir() {
		t.Error("expected a regular file, got a directory")
	}
}

func TestApplyFiles_Fifo(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "pipe")

	err := ApplyFiles([]config.FileDeclaration{
		{Kind: config.FileKindFifo, Path: target, Mode: 0600},
	})
	if err != nil {
		t.Fatalf("ApplyFiles: %v", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		t.Error("expected a named pipe")
	}
}

func TestApplyFiles_Sock(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sock")

	err := ApplyFiles([]config.FileDeclaration{
		{Kind: config.FileKindSock, Path: target, Mode: 0600},
	})
	if err != nil {
		t.Fatalf("ApplyFiles: %v", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		t.Error("expected a unix socket special file")
	}
}

func TestApplyFiles_UnknownKind(t *testing.T) {
	err := ApplyFiles([]config.FileDeclaration{{Kind: "BOGUS", Path: "/tmp/x"}})
	if err == nil {
		t.Fatal("expected error for unknown file kind")
	}
	if !ipc.Is(err, ipc.KindInvalidArgument) {
		t.Errorf("error kind = %v, want KindInvalidArgument", err)
	}
}

func TestApplyLinks(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source")
	dst := filepath.Join(dir, "target")
	if err := os.WriteFile(src, []byte("data"), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	if err := ApplyLinks([]config.LinkDeclaration{{Source: src, Target: dst}}); err != nil {
		t.Fatalf("ApplyLinks: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read linked target: %v", err)
	}
	if string(data) != "data" {
		t.Errorf("linked target content = %q, want data", data)
	}
}

func TestApplyAll_FileAndLinkProvisions(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "created.txt")
	linkSrc := filepath.Join(dir, "src.txt")
	linkDst := filepath.Join(dir, "dst.txt")
	os.WriteFile(linkSrc, []byte("x"), 0644)

	provisions := []config.Provision{
		{Kind: config.ProvisionFile, File: &config.FileDeclaration{Kind: config.FileKindReg, Path: filePath, Mode: 0644}},
		{Kind: config.ProvisionLink, Link: &config.LinkDeclaration{Source: linkSrc, Target: linkDst}},
	}
	if err := ApplyAll(provisions); err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}
	if _, err := os.Stat(filePath); err != nil {
		t.Errorf("expected file provision to create %s: %v", filePath, err)
	}
	if _, err := os.Stat(linkDst); err != nil {
		t.Errorf("expected link provision to create %s: %v", linkDst, err)
	}
}

func TestApplyAll_MissingBodyIsInvalidArgument(t *testing.T) {
	cases := []config.Provision{
		{Kind: config.ProvisionMount, Mount: nil},
		{Kind: config.ProvisionLink, Link: nil},
		{Kind: config.ProvisionFile, File: nil},
		{Kind: config.ProvisionKind("bogus")},
	}
	for _, p := range cases {
		err := ApplyAll([]config.Provision{p})
		if err == nil {
			t.Errorf("ApplyAll(%+v) = nil, want error", p)
			continue
		}
		if !ipc.Is(err, ipc.KindInvalidArgument) {
			t.Errorf("ApplyAll(%+v) error kind = %v, want KindInvalidArgument", p, err)
		}
	}
}

func TestClassifyErrno(t *testing.T) {
	cases := []struct {
		errno unix.Errno
		want  ipc.Kind
	}{
		{unix.EPERM, ipc.KindPermissionDenied},
		{unix.EBUSY, ipc.KindBusy},
		{unix.EEXIST, ipc.KindExists},
		{unix.ENOENT, ipc.KindNotFound},
		{unix.EINVAL, ipc.KindInvalidArgument},
		{unix.ENOSYS, ipc.KindNotSupported},
		{unix.EOPNOTSUPP, ipc.KindNotSupported},
		{unix.EIO, ipc.KindKernelError},
	}
	for _, c := range cases {
		err := classifyErrno("ctx", c.errno)
		if !ipc.Is(err, c.want) {
			t.Errorf("classifyErrno(%v) kind = %v, want %v", c.errno, err, c.want)
		}
	}
}

func TestClassifyErrno_NonErrnoWrapsAsIOError(t *testing.T) {
	err := classifyErrno("ctx", fmt.Errorf("not an errno"))
	if !ipc.Is(err, ipc.KindIOError) {
		t.Errorf("classifyErrno(non-errno) kind = %v, want KindIOError", err)
	}
}
