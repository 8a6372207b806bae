// Package server implements the TLS listener, connection admission
// control, and graceful shutdown described in spec §5: a bounded worker
// pool consuming accepted connections, with a dedicated overflow path
// that replies 503 and closes when the pool is full. The listener never
// blocks on anything but accept() itself.
package server

import (
	"net"
	"time"
)

const overflowResponse = "HTTP/1.1 503 Service Unavailable\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"

// admissionListener gates how many connections are handed to net/http's
// per-connection goroutines at once. A connection that doesn't fit the
// pool is handed to a one-off overflow write instead of being queued.
type admissionListener struct {
	net.Listener
	sem             chan struct{}
	handshakeWindow time.Duration
}

func newAdmissionListener(inner net.Listener, maxWorkers int, handshakeWindow time.Duration) *admissionListener {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &admissionListener{
		Listener:        inner,
		sem:             make(chan struct{}, maxWorkers),
		handshakeWindow: handshakeWindow,
	}
}

// Accept blocks only on the underlying accept; a connection that can't
// acquire a pool slot is diverted to a one-shot overflow responder and
// Accept moves on to the next incoming connection.
func (l *admissionListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		select {
		case l.sem <- struct{}{}:
			_ = conn.SetDeadline(time.Now().Add(l.handshakeWindow))
			return &pooledConn{Conn: conn, release: func() { <-l.sem }}, nil
		default:
			go rejectOverflow(conn)
		}
	}
}

// rejectOverflow is the dedicated single-purpose overflow worker: it
// writes a bare 503 and closes without ever touching the dispatcher.
func rejectOverflow(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = conn.Write([]byte(overflowResponse))
}

type pooledConn struct {
	net.Conn
	release func()
	closed  bool
}

func (c *pooledConn) Close() error {
	if !c.closed {
		c.closed = true
		c.release()
	}
	return c.Conn.Close()
}

// HeaderReadTimeout is exported for callers building the *http.Server so
// the two deadlines named in §5 stay next to each other.
const (
	HandshakeTimeout  = 2500 * time.Millisecond
	HeaderReadTimeout = 3 * time.Second
)
