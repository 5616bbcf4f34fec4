package cgroups

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/samsung/vasum/internal/ipc"
)

func TestRule_StringAndParseRoundTrip(t *testing.T) {
	cases := []Rule{
		{Type: DeviceTypeChar, Major: 1, Minor: 5, Perms: "rwm"},
		{Type: DeviceTypeBlock, Major: AnyNumber, Minor: AnyNumber, Perms: "r"},
		{Type: DeviceTypeAll, Major: AnyNumber, Minor: 0, Perms: "rw"},
	}
	for _, want := range cases {
		line := want.String()
		got, ok := parseRule(line)
		if !ok {
			t.Fatalf("parseRule(%q) failed to parse", line)
		}
		if got != want {
			t.Errorf("parseRule(%q) = %+v, want %+v", line, got, want)
		}
	}
}

func TestParseRule_Malformed(t *testing.T) {
	if _, ok := parseRule("c 1 rwm"); ok {
		t.Error("expected malformed rule (missing major:minor split) to fail")
	}
	if _, ok := parseRule("garbage"); ok {
		t.Error("expected a one-field line to fail parsing")
	}
}

func testCGroup(t *testing.T) *CGroup {
	t.Helper()
	return &CGroup{Subsystem: "memory", Name: "test-zone", MountPoint: t.TempDir()}
}

func TestCGroup_CreateExistsDestroy(t *testing.T) {
	cg := testCGroup(t)
	if cg.Exists() {
		t.Fatal("cgroup directory should not exist before Create")
	}
	if err := cg.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !cg.Exists() {
		t.Fatal("cgroup directory should exist after Create")
	}
	if err := cg.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if cg.Exists() {
		t.Error("cgroup directory should be gone after Destroy")
	}
}

func TestCGroup_CreateTwiceIsExists(t *testing.T) {
	cg := testCGroup(t)
	if err := cg.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := cg.Create()
	if err == nil {
		t.Fatal("expected second Create to fail")
	}
	if !ipc.Is(err, ipc.KindExists) {
		t.Errorf("error kind = %v, want KindExists", err)
	}
}

func TestCGroup_DestroyMissingIsNotFound(t *testing.T) {
	cg := testCGroup(t)
	err := cg.Destroy()
	if err == nil {
		t.Fatal("expected Destroy on a missing cgroup to fail")
	}
	if !ipc.Is(err, ipc.KindNotFound) {
		t.Errorf("error kind = %v, want KindNotFound", err)
	}
}

func TestCGroup_SetGet(t *testing.T) {
	cg := testCGroup(t)
	if err := cg.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := cg.Set("limit_in_bytes", "1048576"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := cg.Get("limit_in_bytes")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "1048576" {
		t.Errorf("Get = %q, want 1048576", got)
	}

	path := filepath.Join(cg.dir(), "memory.limit_in_bytes")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected param file %s to exist: %v", path, err)
	}
}

func TestCGroup_SetCommonGetCommon(t *testing.T) {
	cg := testCGroup(t)
	if err := cg.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := cg.SetCommon("procs", "123"); err != nil {
		t.Fatalf("SetCommon: %v", err)
	}
	got, err := cg.GetCommon("procs")
	if err != nil {
		t.Fatalf("GetCommon: %v", err)
	}
	if got != "123" {
		t.Errorf("GetCommon = %q, want 123", got)
	}
}

func TestCGroup_AssignGroupAndAssignPid(t *testing.T) {
	cg := testCGroup(t)
	if err := cg.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := cg.AssignGroup(42); err != nil {
		t.Fatalf("AssignGroup: %v", err)
	}
	got, err := cg.readParam("cgroup.procs")
	if err != nil {
		t.Fatalf("readParam(cgroup.procs): %v", err)
	}
	if got != "42" {
		t.Errorf("cgroup.procs = %q, want 42", got)
	}

	if err := cg.AssignPid(7); err != nil {
		t.Fatalf("AssignPid: %v", err)
	}
	got, err = cg.readParam("tasks")
	if err != nil {
		t.Fatalf("readParam(tasks): %v", err)
	}
	if got != "7" {
		t.Errorf("tasks = %q, want 7", got)
	}
}

func TestCGroup_Pids(t *testing.T) {
	cg := testCGroup(t)
	if err := cg.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tasksPath := filepath.Join(cg.dir(), "tasks")
	if err := os.WriteFile(tasksPath, []byte("10\n20\n\nnotapid\n30\n"), 0644); err != nil {
		t.Fatalf("write tasks: %v", err)
	}

	pids, err := cg.Pids()
	if err != nil {
		t.Fatalf("Pids: %v", err)
	}
	want := []int{10, 20, 30}
	if len(pids) != len(want) {
		t.Fatalf("Pids() = %v, want %v", pids, want)
	}
	for i, p := range want {
		if pids[i] != p {
			t.Errorf("Pids()[%d] = %d, want %d", i, pids[i], p)
		}
	}
}

func TestCGroup_GetMissingParamIsNotFound(t *testing.T) {
	cg := testCGroup(t)
	if err := cg.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := cg.Get("nonexistent")
	if err == nil {
		t.Fatal("expected Get of a missing param file to fail")
	}
	if !ipc.Is(err, ipc.KindNotFound) {
		t.Errorf("error kind = %v, want KindNotFound", err)
	}
}

func TestDevices_AllowDenyList(t *testing.T) {
	cg := testCGroup(t)
	cg.Subsystem = "devices"
	if err := cg.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	d := NewDevices(cg)

	if err := d.Allow(Rule{Type: DeviceTypeChar, Major: 1, Minor: 3, Perms: "rwm"}); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	got, err := d.readParam("devices.allow")
	if err != nil {
		t.Fatalf("readParam(devices.allow): %v", err)
	}
	if got != "c 1:3 rwm" {
		t.Errorf("devices.allow = %q, want %q", got, "c 1:3 rwm")
	}

	if err := d.Deny(Rule{Type: DeviceTypeAll, Major: AnyNumber, Minor: AnyNumber, Perms: "rwm"}); err != nil {
		t.Fatalf("Deny: %v", err)
	}

	if err := os.WriteFile(filepath.Join(cg.dir(), "devices.list"), []byte("c 1:3 rwm\nb 8:0 r\n"), 0644); err != nil {
		t.Fatalf("write devices.list: %v", err)
	}
	rules, err := d.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("List() returned %d rules, want 2", len(rules))
	}
	if rules[0].Major != 1 || rules[0].Minor != 3 {
		t.Errorf("rules[0] = %+v, want major=1 minor=3", rules[0])
	}
	if rules[1].Major != 8 || rules[1].Minor != 0 {
		t.Errorf("rules[1] = %+v, want major=8 minor=0", rules[1])
	}
}

func TestAvailableControllers(t *testing.T) {
	controllers, err := AvailableControllers()
	if err != nil {
		t.Fatalf("AvailableControllers: %v", err)
	}
	if len(controllers) == 0 {
		t.Error("expected at least one controller listed in /proc/cgroups")
	}
}

func TestProcessCGroups_Self(t *testing.T) {
	groups, err := ProcessCGroups(os.Getpid())
	if err != nil {
		t.Fatalf("ProcessCGroups: %v", err)
	}
	if groups == nil {
		t.Error("expected a non-nil map for the current process")
	}
}

func TestProcessCGroups_NoSuchPid(t *testing.T) {
	_, err := ProcessCGroups(1<<30 - 1)
	if err == nil {
		t.Fatal("expected ProcessCGroups for a nonexistent pid to fail")
	}
	if !ipc.Is(err, ipc.KindNotFound) {
		t.Errorf("error kind = %v, want KindNotFound", err)
	}
}

func TestLookup_UnknownSubsystemIsNotFound(t *testing.T) {
	_, err := Lookup("definitely-not-a-real-subsystem", os.Getpid())
	if err == nil {
		t.Fatal("expected Lookup for an unassigned subsystem to fail")
	}
	if !ipc.Is(err, ipc.KindNotFound) {
		t.Errorf("error kind = %v, want KindNotFound", err)
	}
}

func TestLookup_NoSuchPid(t *testing.T) {
	_, err := Lookup("memory", 1<<30-1)
	if err == nil {
		t.Fatal("expected Lookup for a nonexistent pid to fail")
	}
	if !ipc.Is(err, ipc.KindNotFound) {
		t.Errorf("error kind = %v, want KindNotFound", err)
	}
}

func TestFindMountPoint_NotMounted(t *testing.T) {
	mp, err := FindMountPoint("definitely-not-a-real-subsystem")
	if err != nil {
		t.Fatalf("FindMountPoint: %v", err)
	}
	if mp != "" {
		t.Errorf("FindMountPoint for a bogus subsystem = %q, want empty", mp)
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
		err := classifyErrno(c.errno, "ctx")
		if !ipc.Is(err, c.want) {
			t.Errorf("classifyErrno(%v) kind = %v, want %v", c.errno, err, c.want)
		}
	}
}
