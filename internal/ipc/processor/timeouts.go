package processor

import (
	"container/heap"
	"time"

	"github.com/google/uuid"

	"github.com/samsung/vasum/internal/ipc"
)

// timeoutEntry is one slot in the deadline min-heap (spec §4.5: "a
// min-heap keyed by deadline lets the dispatcher compute the next poll
// timeout").
type timeoutEntry struct {
	peer     *Peer
	msgID    uuid.UUID
	deadline time.Time
	index    int
}

type callHeap []*timeoutEntry

func (h callHeap) Len() int            { return len(h) }
func (h callHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h callHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *callHeap) Push(x interface{}) {
	e := x.(*timeoutEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *callHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

func (p *Processor) kickTimeouts() {
	select {
	case p.timeoutC <- struct{}{}:
	default:
	}
}

// timeoutLoop completes pending calls whose deadline has passed with
// KindTimeout, unregistering their pending-call entry (spec §8: "if the
// peer never replies, the call completes with timeout no later than
// d + one dispatch tick").
func (p *Processor) timeoutLoop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		p.mu.Lock()
		var next time.Duration
		if p.timeoutHeap.Len() == 0 {
			next = time.Hour
		} else {
			next = time.Until(p.timeoutHeap[0].deadline)
			if next < 0 {
				next = 0
			}
		}
		p.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)

		select {
		case <-p.stopCh:
			return
		case <-timer.C:
			p.fireExpired()
		case <-p.timeoutC:
			// re-loop to recompute the next deadline
		}
	}
}

func (p *Processor) fireExpired() {
	now := time.Now()
	for {
		p.mu.Lock()
		if p.timeoutHeap.Len() == 0 || p.timeoutHeap[0].deadline.After(now) {
			p.mu.Unlock()
			return
		}
		entry := heap.Pop(&p.timeoutHeap).(*timeoutEntry)
		p.mu.Unlock()

		entry.peer.mu.Lock()
		pc, ok := entry.peer.pendingCalls[entry.msgID]
		if ok {
			delete(entry.peer.pendingCalls, entry.msgID)
		}
		entry.peer.mu.Unlock()
		if ok {
			pc.sink(nil, nil, ipc.New(ipc.KindTimeout, nil))
		}
	}
}

