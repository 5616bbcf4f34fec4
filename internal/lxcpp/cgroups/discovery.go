// Package cgroups implements C8: cgroup v1 subsystem discovery, the
// CGroup handle operations, the typed devices whitelist, and the
// MakeAll/AssignPidAll composite commands of spec §4.8, translated from
// original_source/libs/lxcpp/cgroups/{cgroup,subsystem,devices}.cpp and
// commands/cgroups.cpp.
package cgroups

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/samsung/vasum/internal/ipc"
)

// FindMountPoint reads /proc/mounts to find where subsystem is mounted,
// returning "" with no error if it is not mounted anywhere.
func FindMountPoint(subsystem string) (string, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return "", ipc.Wrap(fmt.Errorf("cgroups: open /proc/mounts: %w", err))
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[2] != "cgroup" {
			continue
		}
		for _, opt := range strings.Split(fields[3], ",") {
			if opt == subsystem {
				return fields[1], nil
			}
		}
	}
	return "", scanner.Err()
}

// AvailableControllers reads /proc/cgroups to enumerate controllers the
// running kernel knows about.
func AvailableControllers() ([]string, error) {
	f, err := os.Open("/proc/cgroups")
	if err != nil {
		return nil, ipc.Wrap(fmt.Errorf("cgroups: open /proc/cgroups: %w", err))
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue // header line
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 1 {
			out = append(out, fields[0])
		}
	}
	return out, scanner.Err()
}

// ProcessCGroups reads /proc/{pid}/cgroup, returning a map from subsystem
// name to the process's current cgroup path for that subsystem.
func ProcessCGroups(pid int) (map[string]string, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return nil, ipc.New(ipc.KindNotFound, fmt.Errorf("cgroups: open /proc/%d/cgroup: %w", pid, err))
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		path := parts[2]
		for _, subsys := range strings.Split(parts[1], ",") {
			if subsys == "" {
				continue
			}
			out[subsys] = path
		}
	}
	return out, scanner.Err()
}

// Lookup finds the cgroup pid currently belongs to for subsystem and
// returns a handle for it, translated from the original's
// CGroup::getCGroup(subsys, pid): parse /proc/{pid}/cgroup for the matching
// subsystem line and resolve it against the subsystem's mount point.
func Lookup(subsystem string, pid int) (*CGroup, error) {
	groups, err := ProcessCGroups(pid)
	if err != nil {
		return nil, err
	}
	path, ok := groups[subsystem]
	if !ok {
		return nil, ipc.New(ipc.KindNotFound, fmt.Errorf("cgroups: pid %d has no %s cgroup", pid, subsystem))
	}
	mountPoint, err := FindMountPoint(subsystem)
	if err != nil {
		return nil, err
	}
	if mountPoint == "" {
		return nil, ipc.New(ipc.KindNotFound, fmt.Errorf("cgroups: %s is not mounted", subsystem))
	}
	return &CGroup{Subsystem: subsystem, Name: strings.TrimPrefix(path, "/"), MountPoint: mountPoint}, nil
}

// Mount mounts subsystem at mountPoint if it is not already mounted
// anywhere. Double-mounting the same controller at a different path is
// logged as a warning, not a fatal error, per spec §4.8.
func Mount(subsystem, mountPoint string) error {
	existing, err := FindMountPoint(subsystem)
	if err != nil {
		return err
	}
	if existing != "" {
		if existing != mountPoint {
			// Warned, not fatal — a second mount of the same controller at
			// a different path is tolerated (spec §4.8).
			fmt.Fprintf(os.Stderr, "cgroups: warning: %s already mounted at %s, requested %s\n", subsystem, existing, mountPoint)
		}
		return nil
	}
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return ipc.New(ipc.KindPermissionDenied, fmt.Errorf("cgroups: mkdir %s: %w", mountPoint, err))
	}
	if err := mountCgroupFS(subsystem, mountPoint); err != nil {
		return err
	}
	return nil
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
}
