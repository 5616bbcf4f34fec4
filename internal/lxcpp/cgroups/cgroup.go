package cgroups

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samsung/vasum/internal/ipc"
)

// CGroup is a handle {subsystem, name} over a cgroup v1 directory (spec
// §3.4/§4.8). MountPoint is resolved once at construction time via
// FindMountPoint.
type CGroup struct {
	Subsystem  string
	Name       string
	MountPoint string
}

// New resolves subsystem's mount point and returns a handle for name under
// it. If the controller isn't mounted, mountPoint is used to mount it.
func New(subsystem, name, mountPoint string) (*CGroup, error) {
	if err := Mount(subsystem, mountPoint); err != nil {
		return nil, err
	}
	resolved, err := FindMountPoint(subsystem)
	if err != nil {
		return nil, err
	}
	return &CGroup{Subsystem: subsystem, Name: name, MountPoint: resolved}, nil
}

func (c *CGroup) dir() string {
	return filepath.Join(c.MountPoint, c.Name)
}

// Exists reports whether the cgroup directory is present.
func (c *CGroup) Exists() bool {
	_, err := os.Stat(c.dir())
	return err == nil
}

// Create makes the cgroup directory. Invariant (spec §3.4): created exactly
// once per container lifetime.
func (c *CGroup) Create() error {
	if err := os.Mkdir(c.dir(), 0755); err != nil {
		if os.IsExist(err) {
			return ipc.New(ipc.KindExists, err)
		}
		return classifyErrno(unwrapErrno(err), fmt.Sprintf("create %s", c.dir()))
	}
	return nil
}

// Destroy removes the cgroup directory. Fails with KindBusy if tasks are
// still assigned (spec §8 scenario 5).
func (c *CGroup) Destroy() error {
	if err := os.Remove(c.dir()); err != nil {
		if os.IsNotExist(err) {
			return ipc.New(ipc.KindNotFound, err)
		}
		return classifyErrno(unwrapErrno(err), fmt.Sprintf("destroy %s", c.dir()))
	}
	return nil
}

func unwrapErrno(err error) error {
	if pe, ok := err.(*os.PathError); ok {
		return pe.Err
	}
	if le, ok := err.(*os.LinkError); ok {
		return le.Err
	}
	return err
}

// Set writes value to {subsystem}.{param}.
func (c *CGroup) Set(param, value string) error {
	return c.writeParam(fmt.Sprintf("%s.%s", c.Subsystem, param), value)
}

// Get reads {subsystem}.{param}.
func (c *CGroup) Get(param string) (string, error) {
	return c.readParam(fmt.Sprintf("%s.%s", c.Subsystem, param))
}

// SetCommon writes value to cgroup.{param}.
func (c *CGroup) SetCommon(param, value string) error {
	return c.writeParam(fmt.Sprintf("cgroup.%s", param), value)
}

// GetCommon reads cgroup.{param}.
func (c *CGroup) GetCommon(param string) (string, error) {
	return c.readParam(fmt.Sprintf("cgroup.%s", param))
}

func (c *CGroup) writeParam(file, value string) error {
	path := filepath.Join(c.dir(), file)
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return classifyErrno(unwrapErrno(err), fmt.Sprintf("write %s", path))
	}
	return nil
}

func (c *CGroup) readParam(file string) (string, error) {
	path := filepath.Join(c.dir(), file)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", classifyErrno(unwrapErrno(err), fmt.Sprintf("read %s", path))
	}
	return strings.TrimSpace(string(data)), nil
}

// AssignGroup writes pid to cgroup.procs, moving the whole thread group.
func (c *CGroup) AssignGroup(pid int) error {
	return c.writeParam("cgroup.procs", strconv.Itoa(pid))
}

// AssignPid writes pid to tasks, moving a single task.
func (c *CGroup) AssignPid(pid int) error {
	return c.writeParam("tasks", strconv.Itoa(pid))
}

// Pids enumerates tasks currently assigned to this cgroup.
func (c *CGroup) Pids() ([]int, error) {
	path := filepath.Join(c.dir(), "tasks")
	f, err := os.Open(path)
	if err != nil {
		return nil, classifyErrno(unwrapErrno(err), fmt.Sprintf("open %s", path))
	}
	defer f.Close()

	var pids []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, scanner.Err()
}
