package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

type session struct {
	c      *Client
	bus    *Bus
	out    *lineWriter
	logger *slog.Logger
}

// HandleSession relays between one connection and the bus until the peer
// hangs up, an I/O operation fails, the bus closes or ctx is cancelled.
// Failures end this session only.
//
// Inbound lines and bus messages are multiplexed with a single select that
// is re-armed every turn; when both are ready the runtime picks one at
// random, so neither direction can starve the other.
func HandleSession(ctx context.Context, c *Client, bus *Bus, logger *slog.Logger, writeTimeout time.Duration) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &session{
		c:      c,
		bus:    bus,
		out:    newLineWriter(c.Conn, writeTimeout),
		logger: logger.With("addr", c.Addr, "conn_id", c.ID.String()),
	}

	lines := make(chan string)
	readDone := make(chan error, 1)
	stop := make(chan struct{})
	readerExited := make(chan struct{})

	go func() {
		defer close(readerExited)
		readLines(bufio.NewReader(c.Conn), lines, readDone, stop)
	}()

	defer func() {
		close(stop)
		c.Sub.Close()
		_ = c.Conn.Close()
		<-readerExited
	}()

	for {
		select {
		case line := <-lines:
			s.bus.Publish(Message{Text: line, Origin: c.ID})
			MessagesTotal.WithLabelValues(msgPublished).Inc()
		case err := <-readDone:
			if errors.Is(err, io.EOF) {
				s.logger.Info("client disconnected")
			} else {
				s.logger.Warn("read failed", "error", err)
			}
			return
		case <-c.Sub.Ready():
			if !s.relayNext() {
				return
			}
		case <-ctx.Done():
			s.logger.Info("session cancelled")
			return
		}
	}
}

// relayNext handles one pending subscription event and reports whether the
// session should keep running.
func (s *session) relayNext() bool {
	msg, err := s.c.Sub.TryRecv()

	var lagged *LaggedError
	switch {
	case err == nil:
		defer s.c.Sub.rearm()
		if msg.Origin == s.c.ID {
			MessagesTotal.WithLabelValues(msgSuppressed).Inc()
			return true
		}
		if err := s.out.WriteLine(msg.Text); err != nil {
			s.logger.Warn("write failed", "error", err)
			return false
		}
		MessagesTotal.WithLabelValues(msgDelivered).Inc()
		return true
	case errors.As(err, &lagged):
		s.logger.Warn("subscriber lagged, skipping messages", "missed", lagged.Missed)
		MessagesTotal.WithLabelValues(msgLagged).Add(float64(lagged.Missed))
		s.c.Sub.rearm()
		return true
	case errors.Is(err, ErrNoMessage):
		return true
	case errors.Is(err, ErrBusClosed):
		s.logger.Info("bus closed")
		return false
	default:
		s.logger.Error("receive failed", "error", err)
		return false
	}
}

// readLines forwards every line read from r, newline included, until the
// read side fails. A final unterminated line is forwarded before the error.
func readLines(r *bufio.Reader, lines chan<- string, done chan<- error, stop <-chan struct{}) {
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			select {
			case lines <- line:
			case <-stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				err = fmt.Errorf("read: %w", err)
			}
			done <- err
			return
		}
	}
}
