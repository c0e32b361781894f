package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

type Server struct {
	addr         string
	logger       *slog.Logger
	bus          *Bus
	writeTimeout time.Duration

	listener net.Listener
	sessions sync.WaitGroup

	mu       sync.Mutex
	stopping bool
}

type Option func(*Server)

// WithWriteTimeout bounds every socket write. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

func NewServer(addr string, bus *Bus, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = NewBus(DefaultCapacity)
	}
	s := &Server{
		addr:   addr,
		logger: logger,
		bus:    bus,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until the listener fails. It returns nil once
// Stop has closed the listener and any other accept error as is.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("serve: server not started")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		s.sessions.Add(1)
		s.mu.Unlock()
		ConnectedClients.Inc()

		c := &Client{
			Conn: conn,
			ID:   NewIdentity(),
			Addr: conn.RemoteAddr().String(),
			Sub:  s.bus.Subscribe(),
		}
		s.logger.Info("client connected", "addr", c.Addr, "conn_id", c.ID.String())

		go func() {
			defer func() {
				ConnectedClients.Dec()
				s.sessions.Done()
			}()
			HandleSession(ctx, c, s.bus, s.logger, s.writeTimeout)
		}()
	}
}

// Stop closes the listener, closes the bus so every session winds down, and
// waits for them.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.mu.Unlock()

	s.logger.Info("shutting down")

	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.bus.Close()
	s.sessions.Wait()

	s.logger.Info("shutdown complete")
}
