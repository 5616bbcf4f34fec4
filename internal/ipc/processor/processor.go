// Package processor implements C5: the central object multiplexing peers,
// method/signal handlers, and outgoing calls described by spec §4.5.
//
// Adaptation note (see DESIGN.md): the source's C5 is a single-threaded
// reactor built on C1/C2 (epoll + eventfd request queue). A *net.UnixConn's
// fd is already driven by the runtime's own netpoller, so re-registering
// that same fd with a second epoll instance would duplicate work the
// runtime already does and fight its deadline-based blocking I/O model —
// reading stays one goroutine per peer, the same per-connection-goroutine
// shape as the teacher's channelDemuxer.recvLoop. Writing is where C1/C2
// keep their original job: every peer's outgoing frames sit in an
// internal/ipc/queue.Queue (the eventfd-backed FIFO, not a connection fd),
// and a single internal/eventpoll.Poll owned by the Processor multiplexes
// every peer's queue eventfd onto one dispatcher goroutine, draining and
// writing frames whenever a queue becomes readable. That dispatcher
// goroutine is this package's C1/C2 reactor; C12's guard/init
// synchronization and namespace sync pipes (internal/lxcpp/container) use
// plain blocking reads over a SOCK_SEQPACKET socketpair instead, since that
// handshake has exactly one reader and no multiplexing to do. The
// observable contract of §4.5 — dispatch algorithm, timeout min-heap,
// ordering guarantees, cancellation semantics — is preserved exactly; only
// the internal scheduling primitive changes.
package processor

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samsung/vasum/internal/eventpoll"
	"github.com/samsung/vasum/internal/ipc"
	"github.com/samsung/vasum/internal/ipc/transport"
	"github.com/samsung/vasum/internal/logger"
)

// PeerID is an opaque unique identifier for a connected peer.
type PeerID uint64

// MethodResult is the continuation a MethodHandler completes, possibly from
// another goroutine, to produce a reply frame (spec §4.5).
type MethodResult struct {
	once    sync.Once
	peer    *Peer
	msgID   uuid.UUID
	methodID uint32
}

// Complete finishes the call with a successful payload (and optional fds).
func (r *MethodResult) Complete(payload []byte, fds []int) {
	r.once.Do(func() {
		r.peer.enqueueReply(r.msgID, payload, fds, false)
		r.peer.proc.handlersWG.Done()
	})
}

// Fail finishes the call with an error reply whose payload is err's text;
// the calling side surfaces every error reply as a user_error carrying
// that text as its message.
func (r *MethodResult) Fail(err error) {
	r.once.Do(func() {
		defer r.peer.proc.handlersWG.Done()
		msg := errorPayload(err)
		r.peer.enqueueReply(r.msgID, msg, nil, true)
	})
}

func errorPayload(err error) []byte {
	if e, ok := err.(*ipc.Error); ok {
		return []byte(e.Error())
	}
	return []byte(err.Error())
}

// MethodHandler handles an incoming method call. It must eventually
// complete result, possibly asynchronously from another goroutine.
type MethodHandler func(peer *Peer, payload []byte, fds []int, result *MethodResult)

// SignalHandler handles an incoming fire-and-forget signal.
type SignalHandler func(peer *Peer, payload []byte, fds []int)

// ResultSink receives the outcome of an outgoing call issued via CallAsync.
type ResultSink func(payload []byte, fds []int, err error)

type pendingCall struct {
	methodID  uint32
	deadline  time.Time
	sink      ResultSink
	heapIndex int
}

// Processor is the central multiplexing object described by spec §4.5.
type Processor struct {
	log *logger.Logger

	mu      sync.Mutex
	peers   map[PeerID]*Peer
	nextPID PeerID

	methods map[uint32]MethodHandler
	signals map[uint32]SignalHandler

	onPeerRemoved func(PeerID)

	timeoutHeap callHeap
	timeoutC    chan struct{}

	// poll is the single C1 reactor multiplexing every peer's C2 send
	// queue eventfd (see the package doc comment).
	poll *eventpoll.Poll

	// handlersWG tracks MethodHandler invocations currently in flight,
	// counted up in peer.dispatch's method-call case and counted down by
	// MethodResult.Complete/Fail. Stop waits on it before tearing down
	// peer sockets (spec §4.5 cancellation: drain in-flight handlers,
	// then close).
	handlersWG sync.WaitGroup

	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Processor with no peers and no registered handlers.
func New(log *logger.Logger) (*Processor, error) {
	poll, err := eventpoll.New()
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	p := &Processor{
		log:      log,
		peers:    make(map[PeerID]*Peer),
		methods:  make(map[uint32]MethodHandler),
		signals:  make(map[uint32]SignalHandler),
		poll:     poll,
		stopCh:   make(chan struct{}),
		timeoutC: make(chan struct{}, 1),
	}
	heap.Init(&p.timeoutHeap)
	p.wg.Add(2)
	go func() { defer p.wg.Done(); p.timeoutLoop() }()
	go func() { defer p.wg.Done(); p.poll.Run() }()
	return p, nil
}

// SetMethodHandler registers fn for methodID. Returns a *ipc.Error with
// KindDuplicateID if methodID is already registered.
func (p *Processor) SetMethodHandler(methodID uint32, fn MethodHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.methods[methodID]; exists {
		return ipc.New(ipc.KindDuplicateID, fmt.Errorf("method %d already registered", methodID))
	}
	p.methods[methodID] = fn
	return nil
}

// SetSignalHandler registers fn for signal methodID (the signal bit is
// implied by the caller; handlers are keyed on the bare id).
func (p *Processor) SetSignalHandler(methodID uint32, fn SignalHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals[methodID] = fn
}

// RemoveMethod unregisters methodID.
func (p *Processor) RemoveMethod(methodID uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.methods, methodID)
}

// OnPeerRemoved registers a callback invoked after a peer is torn down.
func (p *Processor) OnPeerRemoved(fn func(PeerID)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPeerRemoved = fn
}

// AddPeer registers an accepted/dialed connection, starts its reader
// goroutine, and registers its send queue with the Processor's shared poll
// for writing.
func (p *Processor) AddPeer(conn *transport.Conn) (*Peer, error) {
	p.mu.Lock()
	id := p.nextPID
	p.nextPID++
	p.mu.Unlock()

	peer, err := newPeer(id, conn, p)
	if err != nil {
		return nil, err
	}
	if err := p.poll.Add(peer.sendQueue.Fd(), eventpoll.Readable, peer.writeReady); err != nil {
		peer.sendQueue.Close()
		return nil, fmt.Errorf("processor: register peer %d send queue: %w", id, err)
	}

	p.mu.Lock()
	p.peers[id] = peer
	p.mu.Unlock()

	p.wg.Add(1)
	go func() { defer p.wg.Done(); peer.readLoop() }()
	return peer, nil
}

// RemovePeer tears down peer and cancels its pending outgoing calls with
// KindPeerDisconnected.
func (p *Processor) RemovePeer(id PeerID) error {
	p.mu.Lock()
	peer, ok := p.peers[id]
	if !ok {
		p.mu.Unlock()
		return ipc.New(ipc.KindUnknownPeer, nil)
	}
	delete(p.peers, id)
	cb := p.onPeerRemoved
	p.mu.Unlock()

	peer.close(ipc.New(ipc.KindPeerDisconnected, nil))
	if cb != nil {
		cb(id)
	}
	return nil
}

// Peer looks up a connected peer by id.
func (p *Processor) Peer(id PeerID) (*Peer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	peer, ok := p.peers[id]
	return peer, ok
}

// Peers returns a snapshot of all connected peer ids.
func (p *Processor) Peers() []PeerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]PeerID, 0, len(p.peers))
	for id := range p.peers {
		ids = append(ids, id)
	}
	return ids
}

// CallSync issues a method call to peer and blocks until the reply arrives
// or deadline passes.
func (p *Processor) CallSync(ctx context.Context, peer *Peer, methodID uint32, payload []byte, fds []int, timeout time.Duration) ([]byte, []int, error) {
	type result struct {
		payload []byte
		fds     []int
		err     error
	}
	done := make(chan result, 1)
	p.CallAsync(peer, methodID, payload, fds, timeout, func(pl []byte, fds []int, err error) {
		done <- result{pl, fds, err}
	})
	select {
	case r := <-done:
		return r.payload, r.fds, r.err
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// CallAsync issues a method call to peer; sink is invoked exactly once,
// possibly from another goroutine, with either a result or an error.
func (p *Processor) CallAsync(peer *Peer, methodID uint32, payload []byte, fds []int, timeout time.Duration, sink ResultSink) {
	msgID := transport.NewMessageID()
	deadline := time.Now().Add(timeout)

	pc := &pendingCall{methodID: methodID, deadline: deadline, sink: sink}
	peer.mu.Lock()
	peer.pendingCalls[msgID] = pc
	peer.mu.Unlock()

	p.mu.Lock()
	heap.Push(&p.timeoutHeap, &timeoutEntry{peer: peer, msgID: msgID, deadline: deadline})
	p.mu.Unlock()
	p.kickTimeouts()

	frame := &transport.Frame{
		MethodID:  methodID,
		MessageID: msgID,
		Flags:     transport.FlagExpectsReply,
		Payload:   payload,
		FDs:       fds,
	}
	peer.enqueueFrame(frame)
}

// Signal broadcasts a fire-and-forget frame to every subscribed peer.
// Best-effort: not queued across a reconnect (spec §4.5).
func (p *Processor) Signal(methodID uint32, payload []byte) {
	p.mu.Lock()
	peers := make([]*Peer, 0, len(p.peers))
	for _, peer := range p.peers {
		peers = append(peers, peer)
	}
	p.mu.Unlock()

	frame := &transport.Frame{
		MethodID:  methodID | transport.SignalBit,
		MessageID: transport.NewMessageID(),
		Payload:   payload,
	}
	for _, peer := range peers {
		if peer.isSubscribed(methodID) {
			peer.enqueueFrame(frame)
		}
	}
}

// Stop drains in-flight handlers, closes every peer with KindClosing, and
// joins the processor's background goroutines. Idempotent.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	// Setting stopped here, under the same lock peer.dispatch takes
	// before counting a handler into handlersWG, makes every Add(1) that
	// could still race this Wait happen-before it: dispatch either
	// acquired the lock first and already added (so draining below
	// legitimately waits on it), or acquires it after and sees stopped
	// and skips the handler entirely.
	p.stopped = true
	peers := make([]*Peer, 0, len(p.peers))
	for _, peer := range p.peers {
		peers = append(peers, peer)
	}
	p.peers = make(map[PeerID]*Peer)
	p.mu.Unlock()

	p.handlersWG.Wait()

	for _, peer := range peers {
		peer.close(ipc.New(ipc.KindClosing, nil))
	}
	p.poll.Stop()
	close(p.stopCh)
	p.wg.Wait()
}
