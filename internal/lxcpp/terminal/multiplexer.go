package terminal

import (
	"fmt"
	"os"
	"sync"

	"github.com/samsung/vasum/internal/ipc"
)

// Multiplexer is the host-side registry of {container, index} -> master fd,
// per spec §4.11. Unlike the teacher's tether.Store (a ring buffer of
// frames per id, many live subscribers), a terminal has exactly one master
// and at most one attached client at a time: attach grants that client
// exclusive use of the master's fd until Detach is called (a dropped client
// connection does not release it), and the master stays open across re-attach so
// a disconnected console doesn't lose its scrollback.
type Multiplexer struct {
	mu    sync.Mutex
	terms map[string]*consoleSlot
}

type consoleSlot struct {
	master   *os.File
	attached bool
}

// NewMultiplexer creates an empty registry.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{terms: make(map[string]*consoleSlot)}
}

func key(container string, index int) string {
	return fmt.Sprintf("%s/%d", container, index)
}

// Register records a pty master received from the guard for container at
// index. Overwrites any prior entry, closing its master first.
func (m *Multiplexer) Register(container string, index int, master *os.File) {
	k := key(container, index)
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.terms[k]; ok && old.master != nil {
		old.master.Close()
	}
	m.terms[k] = &consoleSlot{master: master}
}

// Attach grants exclusive access to the master fd for container/index.
// Returns KindBusy if already attached (spec's foreground-switch
// exclusivity), KindNotFound if no such terminal was registered.
func (m *Multiplexer) Attach(container string, index int) (*os.File, error) {
	k := key(container, index)
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.terms[k]
	if !ok {
		return nil, ipc.New(ipc.KindNotFound, fmt.Errorf("terminal: no console %s", k))
	}
	if slot.attached {
		return nil, ipc.New(ipc.KindBusy, fmt.Errorf("terminal: console %s already attached", k))
	}
	slot.attached = true
	return slot.master, nil
}

// Detach releases exclusive access without closing the master, so
// scrollback in the guest's line discipline survives for the next attach.
func (m *Multiplexer) Detach(container string, index int) error {
	k := key(container, index)
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.terms[k]
	if !ok {
		return ipc.New(ipc.KindNotFound, fmt.Errorf("terminal: no console %s", k))
	}
	slot.attached = false
	return nil
}

// Remove closes and forgets every console registered for container, called
// when the container stops.
func (m *Multiplexer) Remove(container string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, slot := range m.terms {
		if len(k) > len(container) && k[:len(container)] == container && k[len(container)] == '/' {
			if slot.master != nil {
				slot.master.Close()
			}
			delete(m.terms, k)
		}
	}
}
