package atmosphere

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type SocketMessageType int

const (
	Disconnect SocketMessageType = iota - 1
	Connect
	Message
)

func (t SocketMessageType) String() string {
	switch t {
	case Disconnect:
		return "disconnect"
	case Connect:
		return "connect"
	case Message:
		return "message"
	default:
		return "unknown"
	}
}

// SocketMessage is one event travelling from a session to its room loop.
// Session is only set on Connect.
type SocketMessage struct {
	ReferenceID ConnectionID
	Type        SocketMessageType
	Message     []byte
	Session     SocketSessioner
}

const (
	defaultSendBuffer   = 64
	defaultPingInterval = time.Second * 10
)

type SocketSession struct {
	// The key bit - the web-socket connection
	conn net.Conn
	// The reference bit
	referenceID ConnectionID
	connectedAt time.Time
	lastSeen    atomic.Int64

	// The message bit
	send     chan []byte
	Messages chan<- SocketMessage
	roomDone <-chan struct{}

	pingInterval time.Duration

	// The concurrency bit
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once

	sl *slog.Logger
}

// NewSocketSession wraps an upgraded connection. Nothing is read or written
// until Start is called, so the owner can enqueue the Connect event first.
// roomDone unblocks a pending disconnect event once the room has stopped.
// A nil logger means slog.Default.
func NewSocketSession(conn net.Conn, referenceID ConnectionID, messages chan<- SocketMessage, roomDone <-chan struct{}, sendBuffer int, sl *slog.Logger) *SocketSession {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	if sl == nil {
		sl = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &SocketSession{
		conn:         conn,
		referenceID:  referenceID,
		connectedAt:  time.Now(),
		send:         make(chan []byte, sendBuffer),
		Messages:     messages,
		roomDone:     roomDone,
		pingInterval: defaultPingInterval,
		ctx:          ctx,
		cancel:       cancel,
		sl:           sl.With("connection", referenceID),
	}
	s.touch()
	return s
}

func (s *SocketSession) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.ReadLoop()
		}()
		go func() {
			defer s.wg.Done()
			s.WriteLoop()
		}()
	})
}

func (s *SocketSession) ReferenceID() ConnectionID {
	return s.referenceID
}

func (s *SocketSession) ConnectedAt() time.Time {
	return s.connectedAt
}

func (s *SocketSession) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *SocketSession) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// Close tears down the connection and waits for both loops to exit. A session
// closed before Start never starts.
func (s *SocketSession) Close() {
	s.startOnce.Do(func() {})
	s.cancel()
	s.conn.Close()
	s.wg.Wait()
}

func (s *SocketSession) ReadLoop() {
	sl := s.sl.With("func", "socket.ReadLoop")
	sl.Debug("starting")
	defer func() {
		s.conn.Close()
		s.cancel()
		sl.Debug("ReadLoop exited")
	}()

	controlHandler := wsutil.ControlFrameHandler(s.conn, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:    s.conn,
		State:     ws.StateServerSide,
		CheckUTF8: true,
		OnIntermediate: func(hdr ws.Header, r io.Reader) error {
			s.touch()
			return controlHandler(hdr, r)
		},
	}

	for {
		msg, err := s.readFrame(rd, controlHandler)
		if err != nil {
			var er wsutil.ClosedError
			if errors.As(err, &er) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				sl.Debug("ReadLoop closing", "reason", err)
			} else {
				sl.Warn("ReadLoop error", "err", err)
			}
			// send the disconnect message for ANY error that terminates the loop.
			s.forward(s.unregisterMessage())
			return
		}
		if msg == nil {
			continue
		}

		s.forward(SocketMessage{
			ReferenceID: s.referenceID,
			Type:        Message,
			Message:     msg,
		})
	}
}

// readFrame returns the payload of the next data frame, or nil when the frame
// was a control frame that has been answered.
func (s *SocketSession) readFrame(rd *wsutil.Reader, controlHandler wsutil.FrameHandlerFunc) ([]byte, error) {
	hdr, err := rd.NextFrame()
	if err != nil {
		return nil, err
	}
	s.touch()
	if hdr.OpCode.IsControl() {
		return nil, controlHandler(hdr, rd)
	}
	if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
		return nil, rd.Discard()
	}
	msg, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		msg = []byte{}
	}
	return msg, nil
}

func (s *SocketSession) forward(msg SocketMessage) {
	select {
	case s.Messages <- msg:
	case <-s.roomDone:
	}
}

func (s *SocketSession) WriteLoop() {
	sl := s.sl.With("func", "socket.WriteLoop")
	sl.Debug("starting")
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.cancel()
		sl.Debug("WriteLoop exited")
	}()
	for {
		select {
		case msg := <-s.send:
			if err := wsutil.WriteServerText(s.conn, msg); err != nil {
				sl.Debug("write failed", "err", err)
				return
			}
		case <-ticker.C:
			sl.Log(context.Background(), slog.Level(-8), "ping")
			if err := wsutil.WriteServerMessage(s.conn, ws.OpPing, []byte("ping")); err != nil {
				sl.Debug("ping failed", "err", err)
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *SocketSession) unregisterMessage() SocketMessage {
	return SocketMessage{
		ReferenceID: s.referenceID,
		Type:        Disconnect,
		Message:     nil,
	}
}

// Send queues a frame for the write loop. A full queue drops the frame; the
// next roster broadcast supersedes it anyway.
func (s *SocketSession) Send(message []byte) {
	select {
	case s.send <- message:
	default:
		s.sl.Warn("send queue full, dropping message", "size", len(message))
	}
}
