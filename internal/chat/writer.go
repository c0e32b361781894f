package chat

import (
	"bufio"
	"net"
	"time"
)

// Prefix marks every line relayed from another client.
const Prefix = ">>> "

type lineWriter struct {
	conn    net.Conn
	w       *bufio.Writer
	timeout time.Duration
}

func newLineWriter(conn net.Conn, timeout time.Duration) *lineWriter {
	return &lineWriter{conn: conn, w: bufio.NewWriter(conn), timeout: timeout}
}

// WriteLine sends text verbatim behind Prefix and flushes.
func (lw *lineWriter) WriteLine(text string) error {
	start := time.Now()
	defer func() { WriteDuration.Observe(time.Since(start).Seconds()) }()

	if lw.timeout > 0 {
		if err := lw.conn.SetWriteDeadline(time.Now().Add(lw.timeout)); err != nil {
			return err
		}
	}
	if _, err := lw.w.WriteString(Prefix); err != nil {
		return err
	}
	if _, err := lw.w.WriteString(text); err != nil {
		return err
	}
	return lw.w.Flush()
}
