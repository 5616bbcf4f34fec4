package service

import (
	"fmt"

	"github.com/samsung/vasum/internal/ipc/processor"
	"github.com/samsung/vasum/internal/ipc/transport"
	"github.com/samsung/vasum/internal/logger"
)

// Client dials a single peer and delegates everything else to Processor.
type Client struct {
	*processor.Processor
	peer *processor.Peer
	path string
}

// Dial connects to path and registers the single resulting peer.
func Dial(path string, log *logger.Logger) (*Client, error) {
	conn, err := transport.Dial(path)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", path, err)
	}
	proc, err := processor.New(log.With("processor"))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: %w", err)
	}
	peer, err := proc.AddPeer(conn)
	if err != nil {
		proc.Stop()
		return nil, fmt.Errorf("client: %w", err)
	}
	return &Client{Processor: proc, peer: peer, path: path}, nil
}

// Peer returns the client's single connected peer.
func (c *Client) Peer() *processor.Peer { return c.peer }

// SetSignalHandlerSubscribed registers fn for methodID and additionally
// sends one subscribe frame on this Client's connection so the server
// knows to route that signal back — spec §4.6: "a Client's
// set_signal_handler additionally sends a subscribe frame". A Client does
// not reconnect: a Client returned by a later Dial starts with no signal
// handlers and no subscriptions, and nothing is re-sent for it.
func (c *Client) SetSignalHandlerSubscribed(methodID uint32, fn processor.SignalHandler) {
	c.Processor.SetSignalHandler(methodID, fn)
	c.peer.SendSubscribe(methodID)
}

// Close stops the underlying Processor, closing the dialed peer.
func (c *Client) Close() error {
	c.Processor.Stop()
	return nil
}
