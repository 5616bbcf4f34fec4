// Package service implements C6: thin Service (listener) and Client
// (dialer) wrappers around a Processor, per spec §4.6.
package service

import (
	"fmt"
	"net"
	"time"

	"github.com/samsung/vasum/internal/ipc/processor"
	"github.com/samsung/vasum/internal/ipc/transport"
	"github.com/samsung/vasum/internal/logger"
)

// Service owns a listening AF_UNIX socket and adds every accepted
// connection to its Processor as a peer.
type Service struct {
	*processor.Processor
	ln   *net.UnixListener
	path string
	log  *logger.Logger
}

// Listen creates a Service bound to path (see transport.Dial for the
// leading-'@' abstract-namespace convention).
func Listen(path string, log *logger.Logger) (*Service, error) {
	addr, err := net.ResolveUnixAddr("unix", resolvedName(path))
	if err != nil {
		return nil, fmt.Errorf("service: resolve %s: %w", path, err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("service: listen %s: %w", path, err)
	}
	proc, err := processor.New(log.With("processor"))
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("service: %w", err)
	}
	s := &Service{
		Processor: proc,
		ln:        ln,
		path:      path,
		log:       log,
	}
	go s.acceptLoop()
	return s, nil
}

func resolvedName(path string) string {
	if len(path) > 0 && path[0] == '@' {
		return "\x00" + path[1:]
	}
	return path
}

func (s *Service) acceptLoop() {
	for {
		conn, err := s.ln.AcceptUnix()
		if err != nil {
			s.log.Debug("service %s: accept stopped: %v", s.path, err)
			return
		}
		peer, err := s.AddPeer(transport.NewConn(conn))
		if err != nil {
			s.log.Warn("service %s: register accepted peer: %v", s.path, err)
			conn.Close()
			continue
		}
		s.log.Info("service %s: accepted peer %d", s.path, peer.ID())
	}
}

// Close stops accepting connections, stops the Processor, and removes the
// socket file.
func (s *Service) Close() error {
	err := s.ln.Close()
	s.Processor.Stop()
	return err
}
