package wsclient

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveEager accepts one connection and writes the handshake response and
// the given frames in a single write.
func serveEager(t *testing.T, frames ...string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		bw := bufio.NewWriter(conn)
		if _, err := (ws.Upgrader{}).Upgrade(struct {
			io.Reader
			io.Writer
		}{conn, bw}); err != nil {
			return
		}
		for _, f := range frames {
			if err := ws.WriteFrame(bw, ws.NewTextFrame([]byte(f))); err != nil {
				return
			}
		}
		if err := bw.Flush(); err != nil {
			return
		}
		// Hold the socket open until the client hangs up.
		_, _ = io.Copy(io.Discard, conn)
	}()
	return "ws://" + ln.Addr().String()
}

func TestDial_FramesSentWithHandshake(t *testing.T) {
	url := serveEager(t, `{"event":"online_count","data":0}`, `{"event":"online_count","data":1}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Dial(ctx, url)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	msg, op, err := wsutil.ReadServerData(conn)
	require.NoError(t, err)
	assert.Equal(t, ws.OpText, op)
	assert.Equal(t, `{"event":"online_count","data":0}`, string(msg))

	msg, _, err = wsutil.ReadServerData(conn)
	require.NoError(t, err)
	assert.Equal(t, `{"event":"online_count","data":1}`, string(msg))
}

func TestDial_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = Dial(ctx, "ws://"+addr)
	assert.Error(t, err)
}
