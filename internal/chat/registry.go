package chat

import (
	"context"
	"sync"
)

// DefaultCapacity is the per-subscriber backlog used when NewBus gets a
// non-positive capacity.
const DefaultCapacity = 10

// Bus fans every published message out to all current subscriptions. Each
// subscription owns a bounded backlog, so a slow reader only ever loses its
// own oldest messages and never holds up a publisher.
type Bus struct {
	capacity int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBus creates a bus whose subscriptions each hold up to capacity messages.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		capacity: capacity,
		subs:     make(map[uint64]*Subscription),
	}
}

// Publish offers msg to every subscription and reports how many there were.
// Publishes are serialized, so all subscriptions see the same order.
func (b *Bus) Publish(msg Message) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	for _, s := range b.subs {
		s.push(msg)
	}
	return len(b.subs)
}

// Subscribe registers a new subscription. It only sees messages published
// after this call returns.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:   b,
		buf:   make([]Message, b.capacity),
		ready: make(chan struct{}, 1),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.markClosed()
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Pending backlogs stay readable.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.markClosed()
		delete(b.subs, id)
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one subscriber's private ring of pending messages.
type Subscription struct {
	bus *Bus
	id  uint64

	mu     sync.Mutex
	buf    []Message
	head   int
	size   int
	missed uint64
	closed bool

	ready chan struct{}
}

// Ready is signalled whenever TryRecv may have something to report. A signal
// can cover several pending messages, so drain with TryRecv until ErrNoMessage.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// TryRecv never blocks. After an overflow it first returns a *LaggedError
// carrying the number of dropped messages, then continues with the oldest
// message still retained.
func (s *Subscription) TryRecv() (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.missed > 0 {
		n := s.missed
		s.missed = 0
		return Message{}, &LaggedError{Missed: n}
	}
	if s.size > 0 {
		msg := s.buf[s.head]
		s.buf[s.head] = Message{}
		s.head = (s.head + 1) % len(s.buf)
		s.size--
		return msg, nil
	}
	if s.closed {
		return Message{}, ErrBusClosed
	}
	return Message{}, ErrNoMessage
}

// Recv waits for the next message, lag report or closure.
func (s *Subscription) Recv(ctx context.Context) (Message, error) {
	for {
		msg, err := s.TryRecv()
		if err != ErrNoMessage {
			return msg, err
		}
		select {
		case <-s.ready:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Close detaches the subscription from its bus. Safe to call more than once.
func (s *Subscription) Close() {
	if s.id != 0 {
		s.bus.unsubscribe(s.id)
	}
	s.markClosed()
}

func (s *Subscription) push(msg Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.size == len(s.buf) {
		// Overwrite the oldest unread message.
		s.head = (s.head + 1) % len(s.buf)
		s.size--
		s.missed++
	}
	s.buf[(s.head+s.size)%len(s.buf)] = msg
	s.size++
	s.mu.Unlock()

	s.signal()
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.signal()
}

// rearm re-signals Ready while anything is still pending, so a consumer that
// takes one event per wakeup does not strand the rest.
func (s *Subscription) rearm() {
	s.mu.Lock()
	pending := s.size > 0 || s.missed > 0 || s.closed
	s.mu.Unlock()
	if pending {
		s.signal()
	}
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
