// Package queue implements C2: a FIFO of (tag, payload) pairs backed by an
// eventfd, so that a poll-driven dispatcher can observe new entries without
// racing the producer.
//
// Every access is taken under one mutex (the "locked-on-every-access"
// variant from the two duplicated implementations found in the source —
// see DESIGN.md's Open Question resolution #1). The Processor never holds
// this lock across I/O, so the simpler always-locked discipline costs
// nothing and avoids a second, subtly different queue type.
package queue

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrEmpty is returned by Pop when no eventfd credit is left, i.e. when
// the queue is empty. A caller draining the queue in a loop (as the
// processor's write callback does) stops when it sees this.
var ErrEmpty = errors.New("queue: pop on empty queue")

// Item is one FIFO entry.
type Item[Tag any] struct {
	Tag     Tag
	Payload interface{}
}

// Queue is a FIFO of Item[Tag] plus an eventfd counter equal to the number
// of items currently queued.
type Queue[Tag any] struct {
	efd   int
	mu    chan struct{} // binary semaphore; see lock()/unlock()
	items []Item[Tag]
}

// New creates a Queue backed by a fresh eventfd.
func New[Tag any]() (*Queue[Tag], error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC|unix.EFD_SEMAPHORE)
	if err != nil {
		return nil, fmt.Errorf("queue: eventfd: %w", err)
	}
	q := &Queue[Tag]{efd: efd, mu: make(chan struct{}, 1)}
	q.mu <- struct{}{}
	return q, nil
}

// Fd is the eventfd to register with a Poll; it becomes readable whenever
// the queue is non-empty.
func (q *Queue[Tag]) Fd() int { return q.efd }

func (q *Queue[Tag]) lock()   { <-q.mu }
func (q *Queue[Tag]) unlock() { q.mu <- struct{}{} }

func (q *Queue[Tag]) signal() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	unix.Write(q.efd, buf[:])
}

// PushBack appends an item to the tail of the queue.
func (q *Queue[Tag]) PushBack(tag Tag, payload interface{}) {
	q.lock()
	q.items = append(q.items, Item[Tag]{Tag: tag, Payload: payload})
	q.unlock()
	q.signal()
}

// PushFront prepends an item to the head of the queue.
func (q *Queue[Tag]) PushFront(tag Tag, payload interface{}) {
	q.lock()
	q.items = append([]Item[Tag]{{Tag: tag, Payload: payload}}, q.items...)
	q.unlock()
	q.signal()
}

// Pop consumes exactly one eventfd credit and returns the item at the head
// of the queue. The caller must only call Pop after observing the eventfd
// as readable (e.g. from inside a Poll callback); calling it on an empty
// queue returns ErrEmpty without blocking.
func (q *Queue[Tag]) Pop() (Item[Tag], error) {
	var buf [8]byte
	n, err := unix.Read(q.efd, buf[:])
	if err != nil || n != 8 {
		var zero Item[Tag]
		return zero, ErrEmpty
	}

	q.lock()
	defer q.unlock()
	if len(q.items) == 0 {
		var zero Item[Tag]
		return zero, ErrEmpty
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

// RemoveIf removes every item for which pred returns true and consumes one
// eventfd credit per removed item, so the counter keeps matching the
// number of queued items. It returns the number of items removed.
func (q *Queue[Tag]) RemoveIf(pred func(Tag) bool) int {
	q.lock()
	defer q.unlock()
	kept := q.items[:0]
	removed := 0
	for _, it := range q.items {
		if pred(it.Tag) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	for i := 0; i < removed; i++ {
		var buf [8]byte
		unix.Read(q.efd, buf[:])
	}
	return removed
}

// Len reports the current queue length.
func (q *Queue[Tag]) Len() int {
	q.lock()
	defer q.unlock()
	return len(q.items)
}

// Close releases the eventfd.
func (q *Queue[Tag]) Close() error {
	return unix.Close(q.efd)
}
