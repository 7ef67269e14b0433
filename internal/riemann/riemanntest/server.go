// Package riemanntest provides a loopback Riemann TCP endpoint for tests.
package riemanntest

import (
	"net"
	"sync"
	"testing"
	"time"

	"riemannpub/internal/riemann"
)

// Server accepts length-prefixed Riemann messages and records received events.
type Server struct {
	listener net.Listener

	mu      sync.Mutex
	events  []*riemann.Event
	reject  string
	conns   map[net.Conn]struct{}
	closed  bool
	arrived chan struct{}

	wg sync.WaitGroup
}

// NewServer starts a server on 127.0.0.1 with a random port.
// Params: t test handle; server is closed on test cleanup.
// Returns: running server.
func NewServer(t testing.TB) *Server {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	server := &Server{
		listener: listener,
		conns:    make(map[net.Conn]struct{}),
		arrived:  make(chan struct{}, 1024),
	}
	server.wg.Add(1)
	go server.acceptLoop()
	t.Cleanup(server.Close)
	return server
}

// Addr returns listener host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Port returns listener port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Reject makes the server reply ok=false with reason for following messages.
// Params: reason server error text, empty restores ok replies.
// Returns: none.
func (s *Server) Reject(reason string) {
	s.mu.Lock()
	s.reject = reason
	s.mu.Unlock()
}

// Events returns a snapshot of received events.
func (s *Server) Events() []*riemann.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*riemann.Event(nil), s.events...)
}

// WaitEvents blocks until at least count events arrived or timeout expires.
// Params: count expected events; timeout wait limit.
// Returns: received events snapshot and whether count was reached.
func (s *Server) WaitEvents(count int, timeout time.Duration) ([]*riemann.Event, bool) {
	deadline := time.After(timeout)
	for {
		events := s.Events()
		if len(events) >= count {
			return events, true
		}
		select {
		case <-s.arrived:
		case <-deadline:
			return s.Events(), false
		}
	}
}

// DropConnections closes every accepted connection while keeping the listener.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}

// Close stops the listener and all connections.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		payload, err := riemann.ReadFrame(conn)
		if err != nil {
			return
		}
		msg, err := riemann.DecodeMsg(payload)
		if err != nil {
			_ = riemann.WriteFrame(conn, riemann.EncodeReply(false, err.Error()))
			continue
		}

		s.mu.Lock()
		reject := s.reject
		if reject == "" {
			s.events = append(s.events, msg.Events...)
		}
		s.mu.Unlock()

		if reject != "" {
			if err := riemann.WriteFrame(conn, riemann.EncodeReply(false, reject)); err != nil {
				return
			}
			continue
		}
		for range msg.Events {
			select {
			case s.arrived <- struct{}{}:
			default:
			}
		}
		if err := riemann.WriteFrame(conn, riemann.EncodeReply(true, "")); err != nil {
			return
		}
	}
}
