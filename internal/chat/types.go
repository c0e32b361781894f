package chat

import (
	"fmt"
	"net"

	"github.com/google/uuid"
)

// Identity tags every published message with the connection that produced it.
type Identity uuid.UUID

// NewIdentity returns a fresh random connection token.
func NewIdentity() Identity {
	return Identity(uuid.New())
}

func (id Identity) String() string {
	return uuid.UUID(id).String()
}

// Message is one relayed line. Text keeps its trailing newline, if any.
type Message struct {
	Text   string
	Origin Identity
}

type Client struct {
	Conn net.Conn
	ID   Identity
	Addr string
	Sub  *Subscription
}

var (
	ErrBusClosed = errorString("bus_closed")
	ErrNoMessage = errorString("no_message")
)

type errorString string

func (e errorString) Error() string { return string(e) }

// LaggedError reports how many messages a subscription lost to overflow
// since its previous receive.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("lagged: missed %d messages", e.Missed)
}
