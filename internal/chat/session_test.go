package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeSession struct {
	client net.Conn
	reader *bufio.Reader
	c      *Client
	done   chan struct{}
}

// startSession runs HandleSession on one end of an in-memory pipe and returns
// the other end. The subscription is taken before the handler starts.
func startSession(t *testing.T, ctx context.Context, bus *Bus, writeTimeout time.Duration) *pipeSession {
	t.Helper()
	server, client := net.Pipe()
	c := &Client{Conn: server, ID: NewIdentity(), Addr: "pipe", Sub: bus.Subscribe()}
	return runSession(t, ctx, bus, c, client, writeTimeout)
}

func runSession(t *testing.T, ctx context.Context, bus *Bus, c *Client, client net.Conn, writeTimeout time.Duration) *pipeSession {
	t.Helper()
	ps := &pipeSession{
		client: client,
		reader: bufio.NewReader(client),
		c:      c,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(ps.done)
		HandleSession(ctx, c, bus, discardLogger(), writeTimeout)
	}()
	t.Cleanup(func() {
		_ = client.Close()
		<-ps.done
	})
	return ps
}

func (ps *pipeSession) readLine(t *testing.T) string {
	t.Helper()
	require.NoError(t, ps.client.SetReadDeadline(time.Now().Add(time.Second)))
	line, err := ps.reader.ReadString('\n')
	require.NoError(t, err)
	return line
}

func (ps *pipeSession) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-ps.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestHandleSession_PublishesLinesVerbatim(t *testing.T) {
	bus := NewBus(8)
	observer := bus.Subscribe()
	defer observer.Close()

	ps := startSession(t, context.Background(), bus, 0)

	_, err := io.WriteString(ps.client, "hello\nworld\r\n")
	require.NoError(t, err)

	msg := recvWithin(t, observer)
	assert.Equal(t, Message{Text: "hello\n", Origin: ps.c.ID}, msg)
	assert.Equal(t, "world\r\n", recvWithin(t, observer).Text)
}

func TestHandleSession_WritesPeerMessagesWithPrefix(t *testing.T) {
	bus := NewBus(8)
	ps := startSession(t, context.Background(), bus, 0)

	bus.Publish(Message{Text: "hi\n", Origin: NewIdentity()})
	assert.Equal(t, ">>> hi\n", ps.readLine(t))
}

func TestHandleSession_SuppressesOwnMessages(t *testing.T) {
	bus := NewBus(8)
	ps := startSession(t, context.Background(), bus, 0)

	before := testutil.ToFloat64(MessagesTotal.WithLabelValues(msgSuppressed))

	bus.Publish(Message{Text: "mine\n", Origin: ps.c.ID})
	bus.Publish(Message{Text: "theirs\n", Origin: NewIdentity()})

	assert.Equal(t, ">>> theirs\n", ps.readLine(t))
	assert.Equal(t, before+1, testutil.ToFloat64(MessagesTotal.WithLabelValues(msgSuppressed)))
}

func TestHandleSession_RecoversFromLag(t *testing.T) {
	bus := NewBus(2)
	server, client := net.Pipe()
	c := &Client{Conn: server, ID: NewIdentity(), Addr: "pipe", Sub: bus.Subscribe()}

	other := NewIdentity()
	for i := 1; i <= 5; i++ {
		bus.Publish(Message{Text: fmt.Sprintf("m%d\n", i), Origin: other})
	}

	before := testutil.ToFloat64(MessagesTotal.WithLabelValues(msgLagged))
	ps := runSession(t, context.Background(), bus, c, client, 0)

	assert.Equal(t, ">>> m4\n", ps.readLine(t))
	assert.Equal(t, ">>> m5\n", ps.readLine(t))
	assert.Equal(t, before+3, testutil.ToFloat64(MessagesTotal.WithLabelValues(msgLagged)))

	bus.Publish(Message{Text: "m6\n", Origin: other})
	assert.Equal(t, ">>> m6\n", ps.readLine(t))
}

func TestHandleSession_PublishesUnterminatedTailOnEOF(t *testing.T) {
	bus := NewBus(8)
	observer := bus.Subscribe()
	defer observer.Close()

	ps := startSession(t, context.Background(), bus, 0)

	_, err := io.WriteString(ps.client, "tail")
	require.NoError(t, err)
	require.NoError(t, ps.client.Close())

	assert.Equal(t, "tail", recvWithin(t, observer).Text)
	ps.waitDone(t)
}

func TestHandleSession_EndsOnEOFAndUnsubscribes(t *testing.T) {
	bus := NewBus(8)
	ps := startSession(t, context.Background(), bus, 0)
	require.Equal(t, 1, bus.Subscribers())

	require.NoError(t, ps.client.Close())
	ps.waitDone(t)

	assert.Equal(t, 0, bus.Subscribers())
}

func TestHandleSession_EndsWhenBusCloses(t *testing.T) {
	bus := NewBus(8)
	ps := startSession(t, context.Background(), bus, 0)

	bus.Close()
	ps.waitDone(t)

	_, err := ps.reader.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
}

func TestHandleSession_EndsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus(8)
	ps := startSession(t, ctx, bus, 0)

	cancel()
	ps.waitDone(t)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestHandleSession_WriteTimeoutEndsOnlyThatSession(t *testing.T) {
	bus := NewBus(8)
	stuck := startSession(t, context.Background(), bus, 50*time.Millisecond)
	healthy := startSession(t, context.Background(), bus, 0)

	// Nobody reads stuck.client, so its pipe write never completes.
	bus.Publish(Message{Text: "first\n", Origin: NewIdentity()})
	stuck.waitDone(t)

	assert.Equal(t, ">>> first\n", healthy.readLine(t))
	bus.Publish(Message{Text: "second\n", Origin: NewIdentity()})
	assert.Equal(t, ">>> second\n", healthy.readLine(t))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
