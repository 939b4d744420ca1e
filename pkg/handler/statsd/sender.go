package statsd

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"

	"github.com/andrewpike/metricpipe/pkg/handler"
	"github.com/andrewpike/metricpipe/pkg/metrics"
)

// Sender ships a detached payload-class sequence as a single UDP
// datagram. The socket is created lazily on first send and owned by
// this Sender until SetEndpoint or a transient address-family error
// invalidates it, at which point the next send recreates it.
type Sender struct {
	mu   sync.Mutex
	addr string
	conn net.Conn
}

// NewSender builds a Sender targeting addr (host:port). An empty addr
// makes every Send a no-op.
func NewSender(addr string) *Sender {
	return &Sender{addr: addr}
}

// SetEndpoint atomically changes the target address. Any cached
// socket is closed; the next Send dials the new address lazily.
func (s *Sender) SetEndpoint(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr == s.addr {
		return
	}
	s.addr = addr
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Sender) Send(_ context.Context, class metrics.PayloadClass, seq []byte) (int, error) {
	s.mu.Lock()
	addr := s.addr
	conn := s.conn
	s.mu.Unlock()

	if addr == "" {
		return 0, nil
	}

	if conn == nil {
		var err error
		conn, err = s.dial(addr)
		if err != nil {
			return 0, &handler.TransportError{Class: class, Cause: err}
		}
	}

	n, err := conn.Write(seq)
	if err != nil {
		if isAddressFamilyMismatch(err) {
			s.invalidate(conn)
			return 0, handler.NewSkippableTransportError(class, err)
		}
		return n, &handler.TransportError{Class: class, Cause: err}
	}
	return n, nil
}

func (s *Sender) dial(addr string) (net.Conn, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.addr == addr {
		s.conn = conn
	}
	s.mu.Unlock()
	return conn, nil
}

// invalidate drops the cached socket if it is still the one that just
// failed (another goroutine may have already replaced it).
func (s *Sender) invalidate(failed net.Conn) {
	s.mu.Lock()
	if s.conn == failed {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

func isAddressFamilyMismatch(err error) bool {
	return errors.Is(err, syscall.EAFNOSUPPORT)
}
