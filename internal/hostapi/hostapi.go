// Package hostapi implements the host daemon's control-socket surface,
// spec §6.1: the method ids in the 1000..1999 namespace, their JSON
// parameter/result shapes, and the handlers wiring them to a Registry,
// a Foreground tracker, and the running *container.Container set.
// Grounded on the teacher's cmd/aegisd/main.go dispatch table (method
// name -> JSON-decode-params -> backend call -> json-encode-result) and
// on internal/ipc/processor's MethodHandler/MethodResult shape.
package hostapi

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/samsung/vasum/internal/config"
	"github.com/samsung/vasum/internal/dbusutil"
	"github.com/samsung/vasum/internal/ipc"
	"github.com/samsung/vasum/internal/ipc/processor"
	"github.com/samsung/vasum/internal/lxcpp/container"
	"github.com/samsung/vasum/internal/lxcpp/terminal"
	"github.com/samsung/vasum/internal/logger"
	"github.com/samsung/vasum/internal/registry"
	"github.com/samsung/vasum/internal/zonepolicy"
)

// dbusObjectPath and dbusSignalIface are where zone_state_changed/
// zone_event are additionally emitted when a bus connection is attached,
// mirroring the original C++ daemon's DBus notification surface
// (original_source/container-daemon/daemon-dbus-definitions.hpp) alongside
// the primary control socket.
const (
	dbusObjectPath  = "/org/tizen/vasum"
	dbusSignalIface = "org.tizen.vasum.Manager"
)

// Method ids, spec §6.1: "Namespaced 1000..1999".
const (
	MethodCreateZone    uint32 = 1000
	MethodDestroyZone   uint32 = 1001
	MethodStartZone     uint32 = 1002
	MethodShutdownZone  uint32 = 1003
	MethodLockZone      uint32 = 1004
	MethodUnlockZone    uint32 = 1005
	MethodSetForeground uint32 = 1006
	MethodGetForeground uint32 = 1007
	MethodListZones     uint32 = 1008
	MethodGetZoneInfo   uint32 = 1009
	MethodAttach        uint32 = 1010
)

// Signal ids, spec §6.1.
const (
	SignalZoneStateChanged uint32 = 1900
	SignalZoneEvent        uint32 = 1901
)

// Zone lifecycle event kinds carried by SignalZoneEvent's payload.
const (
	EventCreated   = "CREATED"
	EventDestroyed = "DESTROYED"
	EventSwitched  = "SWITCHED"
)

// Server owns everything a host-API handler needs: the persisted zone
// table, the focus tracker, the live Container instances, and the console
// multiplexer they share.
type Server struct {
	cfg       *config.DaemonConfig
	reg       *registry.Registry
	fg        *zonepolicy.Foreground
	terminals *terminal.Multiplexer
	proc      *processor.Processor
	log       *logger.Logger
	bus       *dbusutil.Conn

	mu    sync.Mutex
	zones map[string]*container.Container
}

// AttachDBus wires an already-connected system-bus connection so
// zone_state_changed/zone_event are additionally emitted over DBus. Optional:
// a Server with no attached bus only emits over the control socket.
func (s *Server) AttachDBus(conn *dbusutil.Conn) {
	s.bus = conn
}

func (s *Server) emitDBus(member string, args ...interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Emit(dbusObjectPath, dbusSignalIface+"."+member, args...); err != nil {
		s.log.Debug("dbus emit %s: %v", member, err)
	}
}

// NewServer creates a Server and registers every handler on proc.
func NewServer(cfg *config.DaemonConfig, reg *registry.Registry, proc *processor.Processor, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		reg:       reg,
		fg:        zonepolicy.NewForeground(),
		terminals: terminal.NewMultiplexer(),
		proc:      proc,
		log:       log.With("hostapi"),
		zones:     make(map[string]*container.Container),
	}
	s.register()
	return s
}

func (s *Server) register() {
	s.proc.SetMethodHandler(MethodCreateZone, wrap(s.createZone))
	s.proc.SetMethodHandler(MethodDestroyZone, wrap(s.destroyZone))
	s.proc.SetMethodHandler(MethodStartZone, wrap(s.startZone))
	s.proc.SetMethodHandler(MethodShutdownZone, wrap(s.shutdownZone))
	s.proc.SetMethodHandler(MethodLockZone, wrap(s.lockZone))
	s.proc.SetMethodHandler(MethodUnlockZone, wrap(s.unlockZone))
	s.proc.SetMethodHandler(MethodSetForeground, wrap(s.setForeground))
	s.proc.SetMethodHandler(MethodGetForeground, wrap(s.getForeground))
	s.proc.SetMethodHandler(MethodListZones, wrap(s.listZones))
	s.proc.SetMethodHandler(MethodGetZoneInfo, wrap(s.getZoneInfo))
}

// wrap adapts a (params []byte) (result interface{}, err error) function
// into a processor.MethodHandler: decode is the handler's job since each
// method has a distinct parameter shape, but the encode-result-or-fail
// tail is identical across all of them.
func wrap(fn func(payload []byte) (interface{}, error)) processor.MethodHandler {
	return func(peer *processor.Peer, payload []byte, fds []int, result *processor.MethodResult) {
		res, err := fn(payload)
		if err != nil {
			result.Fail(err)
			return
		}
		out, merr := json.Marshal(res)
		if merr != nil {
			result.Fail(ipc.Wrap(fmt.Errorf("hostapi: marshal result: %w", merr)))
			return
		}
		result.Complete(out, nil)
	}
}

type createZoneParams struct {
	Name     string `json:"name"`
	Template string `json:"template"`
}

func (s *Server) createZone(payload []byte) (interface{}, error) {
	var p createZoneParams
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, ipc.New(ipc.KindSerializationError, err)
	}
	if err := zonepolicy.ValidateHostname(p.Name); err != nil {
		return nil, err
	}
	if _, ok, _ := s.reg.Get(p.Name); ok {
		return nil, ipc.New(ipc.KindExists, fmt.Errorf("hostapi: zone %q already exists", p.Name))
	}
	cfgPath := fmt.Sprintf("%s/%s.json", s.cfg.ZonesDir, p.Name)
	workPath := fmt.Sprintf("%s/%s", s.cfg.StateDir, p.Name)
	if err := s.reg.Register(p.Name, cfgPath, workPath); err != nil {
		return nil, err
	}
	s.proc.Signal(SignalZoneEvent, mustJSON(zoneEventPayload{Name: p.Name, Event: EventCreated}))
	s.emitDBus("ZoneEvent", p.Name, EventCreated)
	return struct{}{}, nil
}

type zoneNameParams struct {
	Name string `json:"name"`
}

type destroyZoneParams struct {
	Name  string `json:"name"`
	Force bool   `json:"force"`
}

func (s *Server) destroyZone(payload []byte) (interface{}, error) {
	var p destroyZoneParams
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, ipc.New(ipc.KindSerializationError, err)
	}
	s.mu.Lock()
	c, ok := s.zones[p.Name]
	if ok {
		delete(s.zones, p.Name)
	}
	s.mu.Unlock()
	if ok && c.State() != container.StateStopped {
		if err := c.Destroy(); err != nil && !p.Force {
			return nil, err
		}
	}
	if err := s.reg.Unregister(p.Name); err != nil {
		return nil, err
	}
	s.fg.LoseFocus(p.Name)
	s.proc.Signal(SignalZoneEvent, mustJSON(zoneEventPayload{Name: p.Name, Event: EventDestroyed}))
	s.emitDBus("ZoneEvent", p.Name, EventDestroyed)
	return struct{}{}, nil
}

func (s *Server) startZone(payload []byte) (interface{}, error) {
	var p zoneNameParams
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, ipc.New(ipc.KindSerializationError, err)
	}
	entry, ok, err := s.reg.Get(p.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ipc.New(ipc.KindNotFound, fmt.Errorf("hostapi: zone %q not found", p.Name))
	}
	s.mu.Lock()
	c, ok := s.zones[p.Name]
	s.mu.Unlock()
	if !ok {
		cfg, err := config.LoadContainerConfig(entry.ConfigPath)
		if err != nil {
			return nil, ipc.New(ipc.KindTemplateFailed, err)
		}
		if err := zonepolicy.ValidateProvisionPaths(cfg.RootPath, cfg.Provisions); err != nil {
			return nil, err
		}
		c = container.New(cfg, s.cfg.DefaultCGroupRoot, s.terminals, s.log)
		c.OnStateChange(func(name string, st container.State) {
			s.reg.SetState(name, entry.WorkPath, string(st))
			s.proc.Signal(SignalZoneStateChanged, mustJSON(zoneStatePayload{Name: name, State: string(st)}))
			s.emitDBus("ZoneStateChanged", name, string(st))
		})
		s.mu.Lock()
		s.zones[p.Name] = c
		s.mu.Unlock()
	}
	if err := c.Start(); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *Server) shutdownZone(payload []byte) (interface{}, error) {
	var p destroyZoneParams
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, ipc.New(ipc.KindSerializationError, err)
	}
	c, ok := s.getZone(p.Name)
	if !ok {
		return nil, ipc.New(ipc.KindNotFound, fmt.Errorf("hostapi: zone %q not running", p.Name))
	}
	var err error
	if p.Force {
		err = c.Destroy()
	} else {
		err = c.Shutdown()
	}
	return struct{}{}, err
}

func (s *Server) lockZone(payload []byte) (interface{}, error) {
	var p zoneNameParams
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, ipc.New(ipc.KindSerializationError, err)
	}
	c, ok := s.getZone(p.Name)
	if !ok {
		return nil, ipc.New(ipc.KindNotFound, fmt.Errorf("hostapi: zone %q not running", p.Name))
	}
	return struct{}{}, c.Freeze()
}

func (s *Server) unlockZone(payload []byte) (interface{}, error) {
	var p zoneNameParams
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, ipc.New(ipc.KindSerializationError, err)
	}
	c, ok := s.getZone(p.Name)
	if !ok {
		return nil, ipc.New(ipc.KindNotFound, fmt.Errorf("hostapi: zone %q not running", p.Name))
	}
	return struct{}{}, c.Thaw()
}

func (s *Server) setForeground(payload []byte) (interface{}, error) {
	var p zoneNameParams
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, ipc.New(ipc.KindSerializationError, err)
	}
	if _, ok, _ := s.reg.Get(p.Name); !ok {
		return nil, ipc.New(ipc.KindNotFound, fmt.Errorf("hostapi: zone %q not found", p.Name))
	}
	lost := s.fg.GainFocus(p.Name)
	s.proc.Signal(SignalZoneEvent, mustJSON(zoneEventPayload{Name: p.Name, Event: EventSwitched}))
	s.emitDBus("ZoneEvent", p.Name, EventSwitched)
	return struct {
		Lost string `json:"lost"`
	}{Lost: lost}, nil
}

func (s *Server) getForeground(payload []byte) (interface{}, error) {
	return struct {
		Name string `json:"name"`
	}{Name: s.fg.Current()}, nil
}

func (s *Server) listZones(payload []byte) (interface{}, error) {
	entries, err := s.reg.List()
	if err != nil {
		return nil, err
	}
	out := make([]zoneInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.toZoneInfo(e))
	}
	return out, nil
}

func (s *Server) getZoneInfo(payload []byte) (interface{}, error) {
	var p zoneNameParams
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, ipc.New(ipc.KindSerializationError, err)
	}
	entry, ok, err := s.reg.Get(p.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ipc.New(ipc.KindNotFound, fmt.Errorf("hostapi: zone %q not found", p.Name))
	}
	return s.toZoneInfo(entry), nil
}

type zoneInfo struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	ConfigPath string `json:"configPath"`
	Foreground bool   `json:"foreground"`
}

func (s *Server) getZone(name string) (*container.Container, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.zones[name]
	return c, ok
}

func (s *Server) toZoneInfo(e registry.Entry) zoneInfo {
	state := e.State
	if c, ok := s.getZone(e.Name); ok {
		state = string(c.State())
	}
	return zoneInfo{
		Name:       e.Name,
		State:      state,
		ConfigPath: e.ConfigPath,
		Foreground: s.fg.Current() == e.Name,
	}
}

type zoneStatePayload struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type zoneEventPayload struct {
	Name  string `json:"name"`
	Event string `json:"event"`
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
