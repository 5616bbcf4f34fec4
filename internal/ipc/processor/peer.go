package processor

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samsung/vasum/internal/eventpoll"
	"github.com/samsung/vasum/internal/ipc"
	"github.com/samsung/vasum/internal/ipc/queue"
	"github.com/samsung/vasum/internal/ipc/transport"
)

// farFuture is used as the read deadline for the peer's reader goroutine;
// the goroutine is instead unblocked by closing the underlying connection,
// matching the teacher's recvLoop-exits-on-channel-closed shape.
var farFuture = time.Now().AddDate(100, 0, 0)

// Peer is a single connected socket endpoint managed by a Processor
// (spec §3.2).
type Peer struct {
	id   PeerID
	conn *transport.Conn
	proc *Processor

	mu            sync.Mutex
	pendingCalls  map[uuid.UUID]*pendingCall
	subscriptions map[uint32]bool

	// sendQueue is the C2 outgoing FIFO; its eventfd is registered with
	// the Processor's shared C1 poll (writeReady), so writing never needs
	// a dedicated per-peer goroutine.
	sendQueue *queue.Queue[struct{}]

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeer(id PeerID, conn *transport.Conn, proc *Processor) (*Peer, error) {
	q, err := queue.New[struct{}]()
	if err != nil {
		return nil, err
	}
	p := &Peer{
		id:            id,
		conn:          conn,
		proc:          proc,
		pendingCalls:  make(map[uuid.UUID]*pendingCall),
		subscriptions: make(map[uint32]bool),
		sendQueue:     q,
		closed:        make(chan struct{}),
	}
	return p, nil
}

// ID returns the peer's opaque identifier.
func (p *Peer) ID() PeerID { return p.id }

// Subscribe marks methodID as a signal this peer wants delivered, on
// receipt of the subscribe frame a Client's set_signal_handler sends once
// on its connection (spec §4.6).
func (p *Peer) Subscribe(methodID uint32) {
	p.mu.Lock()
	p.subscriptions[methodID] = true
	p.mu.Unlock()
}

// SendSubscribe wires Subscribe across the connection: it asks the remote
// end's Processor to mark methodID as subscribed on its Peer object for
// this connection, since that is the Peer Signal actually consults.
func (p *Peer) SendSubscribe(methodID uint32) {
	p.enqueueFrame(&transport.Frame{
		MethodID:  methodID,
		MessageID: transport.NewMessageID(),
		Flags:     transport.FlagSubscribe,
	})
}

func (p *Peer) isSubscribed(methodID uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscriptions[methodID]
}

func (p *Peer) enqueueFrame(f *transport.Frame) {
	select {
	case <-p.closed:
		return
	default:
	}
	p.sendQueue.PushBack(struct{}{}, f)
}

func (p *Peer) enqueueReply(msgID uuid.UUID, payload []byte, fds []int, isError bool) {
	flags := uint8(0)
	if isError {
		flags |= transport.FlagError
	}
	p.enqueueFrame(&transport.Frame{
		MethodID:  0,
		MessageID: msgID,
		Flags:     flags,
		Payload:   payload,
		FDs:       fds,
	})
}

// writeReady is the C1 poll callback for this peer's send queue eventfd:
// it drains every frame currently queued and writes each fully before the
// next (spec §4.5's per-peer write ordering guarantee), then returns to
// let the poll wait for the queue to become readable again.
func (p *Peer) writeReady(eventpoll.Events) bool {
	for {
		item, err := p.sendQueue.Pop()
		if err != nil {
			return true
		}
		frame := item.Payload.(*transport.Frame)
		if err := p.conn.WriteFrame(frame, farFuture); err != nil {
			p.proc.log.Debug("peer %d: write failed: %v", p.id, err)
			// Returning false below already tells the poll to remove this
			// fd once this callback returns; tearing the peer down here
			// directly would have RemovePeer's own poll.Remove(fd) join
			// against this very callback's in-flight marker and deadlock.
			go p.proc.RemovePeer(p.id)
			return false
		}
	}
}

// readLoop reads frames until the connection errors or closes, dispatching
// each per spec §4.5's algorithm.
func (p *Peer) readLoop() {
	for {
		frame, err := p.conn.ReadFrame(farFuture)
		if err != nil {
			p.proc.log.Debug("peer %d: read failed: %v", p.id, err)
			p.proc.RemovePeer(p.id)
			return
		}
		p.dispatch(frame)
	}
}

func (p *Peer) dispatch(frame *transport.Frame) {
	switch {
	case frame.IsSubscribe():
		p.Subscribe(frame.MethodID)

	case frame.IsReply():
		p.mu.Lock()
		pc, ok := p.pendingCalls[frame.MessageID]
		if ok {
			delete(p.pendingCalls, frame.MessageID)
		}
		p.mu.Unlock()
		if !ok {
			p.proc.log.Debug("peer %d: no pending call for message %s", p.id, frame.MessageID)
			return
		}
		if frame.Flags&transport.FlagError != 0 {
			pc.sink(nil, nil, ipc.User(0, string(frame.Payload)))
		} else {
			pc.sink(frame.Payload, frame.FDs, nil)
		}

	case frame.IsSignal():
		methodID := frame.MethodID &^ transport.SignalBit
		p.proc.mu.Lock()
		handler := p.proc.signals[methodID]
		p.proc.mu.Unlock()
		if handler != nil {
			handler(p, frame.Payload, frame.FDs)
		}

	default:
		p.proc.mu.Lock()
		handler := p.proc.methods[frame.MethodID]
		stopping := p.proc.stopped
		if handler != nil && !stopping {
			p.proc.handlersWG.Add(1)
		}
		p.proc.mu.Unlock()

		if stopping {
			p.enqueueReply(frame.MessageID, []byte(ipc.New(ipc.KindClosing, nil).Error()), nil, true)
			return
		}
		if handler == nil {
			p.enqueueReply(frame.MessageID, []byte(ipc.New(ipc.KindUnknownMethod, nil).Error()), nil, true)
			return
		}
		result := &MethodResult{peer: p, msgID: frame.MessageID, methodID: frame.MethodID}
		handler(p, frame.Payload, frame.FDs, result)
	}
}

// close cancels every pending outgoing call on this peer with cause,
// unregisters its send queue from the Processor's poll, and closes the
// underlying connection.
func (p *Peer) close(cause error) {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.proc.poll.Remove(p.sendQueue.Fd())
		p.sendQueue.Close()
		p.conn.Close()

		p.mu.Lock()
		pending := p.pendingCalls
		p.pendingCalls = make(map[uuid.UUID]*pendingCall)
		p.mu.Unlock()

		for _, pc := range pending {
			pc.sink(nil, nil, cause)
		}
	})
}
