package cgroups

import (
	"fmt"

	"github.com/samsung/vasum/internal/config"
)

// MakeAll mounts every declared subsystem (if not already mounted) then
// creates each declared cgroup directory and writes its params, per spec
// §4.8's MakeAll composite command.
func MakeAll(cfg config.CGroupsConfig, defaultRoot string) (map[string]*CGroup, error) {
	mountPoints := make(map[string]string)
	for _, sm := range cfg.Subsystems {
		mp := sm.MountPoint
		if mp == "" {
			mp = fmt.Sprintf("%s/%s", defaultRoot, sm.Subsystem)
		}
		if err := Mount(sm.Subsystem, mp); err != nil {
			return nil, err
		}
		mountPoints[sm.Subsystem] = mp
	}

	handles := make(map[string]*CGroup, len(cfg.CGroups))
	for _, entry := range cfg.CGroups {
		mp, ok := mountPoints[entry.Subsystem]
		if !ok {
			resolved, err := FindMountPoint(entry.Subsystem)
			if err != nil {
				return nil, err
			}
			mp = resolved
		}
		cg, err := New(entry.Subsystem, entry.Name, mp)
		if err != nil {
			return nil, err
		}
		if !cg.Exists() {
			if err := cg.Create(); err != nil {
				return nil, err
			}
		}
		for param, value := range entry.Common {
			if err := cg.SetCommon(param, value); err != nil {
				return nil, err
			}
		}
		for param, value := range entry.Params {
			if err := cg.Set(param, value); err != nil {
				return nil, err
			}
		}
		handles[entry.Subsystem+"/"+entry.Name] = cg
	}
	return handles, nil
}

// AssignPidAll attaches pid to every cgroup in handles (as returned by MakeAll), per spec
// §4.8's AssignPidAll composite command.
func AssignPidAll(handles map[string]*CGroup, pid int) error {
	for _, cg := range handles {
		if err := cg.AssignGroup(pid); err != nil {
			return err
		}
	}
	return nil
}
