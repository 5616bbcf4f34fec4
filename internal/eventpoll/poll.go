// Package eventpoll implements C1: a single epoll readiness object that
// multiplexes an arbitrary number of file descriptors onto one dispatcher
// goroutine, with thread-safe registration mediated by an internal eventfd.
package eventpoll

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Events is a bitset of readiness conditions.
type Events uint32

const (
	Readable Events = 1 << iota
	Writable
	Errored
	HangUp
)

func toEpollEvents(e Events) uint32 {
	var out uint32
	if e&Readable != 0 {
		out |= unix.EPOLLIN
	}
	if e&Writable != 0 {
		out |= unix.EPOLLOUT
	}
	out |= unix.EPOLLERR | unix.EPOLLHUP
	return out
}

func fromEpollEvents(raw uint32) Events {
	var e Events
	if raw&unix.EPOLLIN != 0 {
		e |= Readable
	}
	if raw&unix.EPOLLOUT != 0 {
		e |= Writable
	}
	if raw&unix.EPOLLERR != 0 {
		e |= Errored
	}
	if raw&unix.EPOLLHUP != 0 {
		e |= HangUp
	}
	return e
}

// Callback is invoked with the readiness bits observed on a registered fd.
// Returning false removes the fd from the poll.
type Callback func(ready Events) bool

type registration struct {
	fd       int
	events   Events
	callback Callback
	removed  bool
	inflight sync.WaitGroup
}

type pendingOp struct {
	kind int // 0 = add, 1 = remove, 2 = modify
	reg  *registration
	fd   int
}

const (
	opAdd = iota
	opRemove
	opModify
)

// Poll is the single-kernel-readiness-object multiplexer described by C1.
type Poll struct {
	epfd    int
	kickR   int // eventfd used to wake dispatch() after cross-thread registration
	mu      sync.Mutex
	pending []pendingOp
	regs    map[int]*registration
	stopped bool
}

// New creates a Poll backed by a fresh epoll instance.
func New() (*Poll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventpoll: epoll_create1: %w", err)
	}
	kickR, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventpoll: eventfd: %w", err)
	}
	p := &Poll{
		epfd:  epfd,
		kickR: kickR,
		regs:  make(map[int]*registration),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, kickR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(kickR),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(kickR)
		return nil, fmt.Errorf("eventpoll: registering kick fd: %w", err)
	}
	return p, nil
}

// Fd exposes the poll's own kernel readiness object so it can be nested
// inside another loop.
func (p *Poll) Fd() int { return p.epfd }

func (p *Poll) kick() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	unix.Write(p.kickR, buf[:])
}

// Add registers fd for the given events. A registration from another
// goroutine takes effect no later than the next dispatch wakeup.
func (p *Poll) Add(fd int, events Events, cb Callback) error {
	reg := &registration{fd: fd, events: events, callback: cb}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("eventpoll: poll is stopped")
	}
	p.regs[fd] = reg
	p.pending = append(p.pending, pendingOp{kind: opAdd, reg: reg, fd: fd})
	p.mu.Unlock()
	p.kick()
	return nil
}

// Remove unregisters fd. If called from outside the fd's own callback,
// it blocks until any in-flight invocation for that fd has returned.
func (p *Poll) Remove(fd int) {
	p.mu.Lock()
	reg, ok := p.regs[fd]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.regs, fd)
	reg.removed = true
	p.pending = append(p.pending, pendingOp{kind: opRemove, fd: fd})
	p.mu.Unlock()
	p.kick()
	reg.inflight.Wait()
}

func (p *Poll) applyPending() {
	p.mu.Lock()
	ops := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, op := range ops {
		switch op.kind {
		case opAdd:
			ev := &unix.EpollEvent{Events: toEpollEvents(op.reg.events), Fd: int32(op.fd)}
			unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, op.fd, ev)
		case opRemove:
			unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, op.fd, nil)
		case opModify:
			ev := &unix.EpollEvent{Events: toEpollEvents(op.reg.events), Fd: int32(op.fd)}
			unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, op.fd, ev)
		}
	}
}

// Dispatch blocks up to timeoutMs milliseconds and invokes every ready
// callback. A negative timeout blocks indefinitely.
func (p *Poll) Dispatch(timeoutMs int) error {
	p.applyPending()

	var events [64]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("eventpoll: epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == p.kickR {
			var buf [8]byte
			unix.Read(p.kickR, buf[:])
			continue
		}

		p.mu.Lock()
		reg, ok := p.regs[fd]
		if ok {
			reg.inflight.Add(1)
		}
		p.mu.Unlock()
		if !ok {
			continue
		}

		ready := fromEpollEvents(events[i].Events)
		keep := reg.callback(ready)
		reg.inflight.Done()

		if !keep {
			p.Remove(fd)
		}
	}
	return nil
}

// Run calls Dispatch in a loop until Stop is called.
func (p *Poll) Run() error {
	for {
		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return nil
		}
		if err := p.Dispatch(-1); err != nil {
			return err
		}
	}
}

// Stop marks the poll as stopped and closes its kernel objects. Run exits
// after its current Dispatch call returns.
func (p *Poll) Stop() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.kick()
	if err := unix.Close(p.epfd); err != nil {
		return err
	}
	return unix.Close(p.kickR)
}
