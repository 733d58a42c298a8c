// Package comm wraps device sockets with read buffering. The media streams
// arrive as many small framed reads (12-byte headers, short audio packets),
// so parsing goes through a buffer instead of hitting the socket each time.
package comm

import (
	"bufio"
	"net"
)

// BufferedConn is a net.Conn whose reads go through a bufio.Reader. Writes
// and Close hit the underlying connection directly, so control messages are
// never delayed in a write buffer.
type BufferedConn struct {
	net.Conn
	br *bufio.Reader
}

func NewBufferedConn(conn net.Conn, size int) *BufferedConn {
	return &BufferedConn{
		Conn: conn,
		br:   bufio.NewReaderSize(conn, size),
	}
}

func (b *BufferedConn) Read(p []byte) (n int, err error) {
	return b.br.Read(p)
}
