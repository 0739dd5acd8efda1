// Package wsclient dials presence sockets from the client side.
package wsclient

import (
	"bufio"
	"context"
	"net"

	"github.com/gobwas/ws"
)

// Conn is a client websocket connection. Frames the server sent together with
// the handshake response are read before anything else from the socket.
// Reads must come from a single goroutine.
type Conn struct {
	net.Conn
	br *bufio.Reader
}

func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: conn, br: br}, nil
}

func (c *Conn) Read(p []byte) (int, error) {
	if c.br != nil {
		if c.br.Buffered() > 0 {
			return c.br.Read(p)
		}
		ws.PutReader(c.br)
		c.br = nil
	}
	return c.Conn.Read(p)
}
