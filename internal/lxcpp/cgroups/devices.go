package cgroups

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// DeviceType is one of the devices-cgroup type letters.
type DeviceType byte

const (
	DeviceTypeAll   DeviceType = 'a'
	DeviceTypeBlock DeviceType = 'b'
	DeviceTypeChar  DeviceType = 'c'
)

// AnyNumber denotes major/minor '*' (any device of the given type).
const AnyNumber = -1

// Rule is one line of devices.list.
type Rule struct {
	Type  DeviceType
	Major int // AnyNumber for '*'
	Minor int // AnyNumber for '*'
	Perms string
}

func (r Rule) String() string {
	maj := "*"
	if r.Major != AnyNumber {
		maj = strconv.Itoa(r.Major)
	}
	min := "*"
	if r.Minor != AnyNumber {
		min = strconv.Itoa(r.Minor)
	}
	return fmt.Sprintf("%c %s:%s %s", r.Type, maj, min, r.Perms)
}

// Devices wraps a CGroup handle rooted at the "devices" subsystem with the
// typed whitelist API of spec §4.8.
type Devices struct {
	*CGroup
}

// NewDevices wraps cg, which must be a CGroup in the "devices" subsystem.
func NewDevices(cg *CGroup) *Devices { return &Devices{CGroup: cg} }

// Allow appends rule to devices.allow.
func (d *Devices) Allow(rule Rule) error {
	return d.writeParam("devices.allow", rule.String())
}

// Deny appends rule to devices.deny.
func (d *Devices) Deny(rule Rule) error {
	return d.writeParam("devices.deny", rule.String())
}

// List parses devices.list into the currently effective whitelist.
func (d *Devices) List() ([]Rule, error) {
	raw, err := d.readParam("devices.list")
	if err != nil {
		return nil, err
	}
	var rules []Rule
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		r, ok := parseRule(scanner.Text())
		if ok {
			rules = append(rules, r)
		}
	}
	return rules, scanner.Err()
}

func parseRule(line string) (Rule, bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Rule{}, false
	}
	r := Rule{Type: DeviceType(fields[0][0]), Perms: fields[2]}
	mm := strings.SplitN(fields[1], ":", 2)
	if len(mm) != 2 {
		return Rule{}, false
	}
	r.Major = parseMajMin(mm[0])
	r.Minor = parseMajMin(mm[1])
	return r, true
}

func parseMajMin(s string) int {
	if s == "*" {
		return AnyNumber
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return AnyNumber
	}
	return n
}
