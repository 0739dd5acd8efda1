package atmosphere

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrRoomClosed = errors.New("room is not accepting connections")

type SocketSessioner interface {
	ReferenceID() ConnectionID
	ConnectedAt() time.Time
	LastSeen() time.Time
	Send(message []byte)
	Close()
}

// Room owns the live sockets of one shared space. Connect, message and
// disconnect events are handled one at a time on the goroutine running Start.
type Room struct {
	ID   string
	opts Options

	mu       sync.RWMutex
	Status   RoomStatus
	sessions map[ConnectionID]SocketSessioner

	// MessageProcessing
	messages chan SocketMessage

	// Concurrency
	ctx    context.Context
	cancel context.CancelFunc

	// Logging
	Slogger *slog.Logger
}

type Options struct {
	OnConnect    func(conn ConnectionID)
	OnDisconnect func(conn ConnectionID)
	OnMessage    func(conn ConnectionID, message []byte)

	// IdleTimeout closes sockets that sent nothing, not even a pong, for this
	// long. Zero means defaultIdleTimeout, negative disables reaping.
	IdleTimeout time.Duration
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int

	NewConnectionID func() ConnectionID

	Slogger *slog.Logger
}

const (
	defaultIdleTimeout time.Duration = time.Second * 60
	messageBuffer                    = 255
)

func NewRoom(parentCtx context.Context, id string, options Options) *Room {
	ctx, cancel := context.WithCancel(parentCtx)
	if options.IdleTimeout == 0 {
		options.IdleTimeout = defaultIdleTimeout
	}
	if options.NewConnectionID == nil {
		options.NewConnectionID = uuid.NewString
	}
	if options.OnConnect == nil {
		options.OnConnect = func(ConnectionID) {}
	}
	if options.OnDisconnect == nil {
		options.OnDisconnect = func(ConnectionID) {}
	}
	if options.OnMessage == nil {
		options.OnMessage = func(ConnectionID, []byte) {}
	}

	room := &Room{
		ID:       id,
		opts:     options,
		Status:   Inactive,
		sessions: make(map[ConnectionID]SocketSessioner),
		messages: make(chan SocketMessage, messageBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}

	if options.Slogger != nil {
		room.Slogger = options.Slogger.With("room", room.ID)
	} else {
		room.Slogger = slog.Default().With("room", room.ID)
	}

	return room
}

// Start runs the event loop until Stop is called or the parent context ends.
func (room *Room) Start() {
	sl := room.Slogger.With("func", "room.Start")
	room.mu.Lock()
	if room.Status == Closed || room.ctx.Err() != nil {
		room.mu.Unlock()
		sl.Debug("room already stopped")
		return
	}
	room.Status = Open
	room.mu.Unlock()
	sl.Debug("starting")

	var tick <-chan time.Time
	if room.opts.IdleTimeout > 0 {
		ticker := time.NewTicker(room.opts.IdleTimeout / 2)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer sl.Info("stopped")

	for {
		select {
		case <-tick:
			room.CloseIdleSessions()
		case <-room.ctx.Done():
			sl.Debug("stopping")
			room.mu.Lock()
			room.Status = Closed
			room.mu.Unlock()
			room.drain()
			return
		case msg := <-room.messages:
			room.handle(sl, msg)
		}
	}
}

func (room *Room) handle(sl *slog.Logger, msg SocketMessage) {
	switch msg.Type {
	case Connect:
		room.mu.Lock()
		if room.Status == Closed {
			room.mu.Unlock()
			sl.Debug("connect after stop", "connection", msg.ReferenceID)
			if msg.Session != nil {
				go msg.Session.Close()
			}
			return
		}
		room.sessions[msg.ReferenceID] = msg.Session
		room.mu.Unlock()
		sl.Debug("connected", "connection", msg.ReferenceID)
		room.opts.OnConnect(msg.ReferenceID)

	case Disconnect:
		room.mu.Lock()
		_, ok := room.sessions[msg.ReferenceID]
		delete(room.sessions, msg.ReferenceID)
		room.mu.Unlock()
		if !ok {
			sl.Debug("disconnect for unknown connection", "connection", msg.ReferenceID)
			return
		}
		sl.Debug("disconnected", "connection", msg.ReferenceID)
		room.opts.OnDisconnect(msg.ReferenceID)

	case Message:
		sl.Debug("message", "connection", msg.ReferenceID, "size", len(msg.Message))
		room.opts.OnMessage(msg.ReferenceID, msg.Message)
	}
}

// Stop closes the room to new sockets, ends the event loop and closes every
// open session. Disconnect callbacks are not run for sessions closed here.
func (room *Room) Stop() {
	sl := room.Slogger.With("func", "room.Stop")
	sl.Debug("closing", "status", "started")
	room.cancel()

	room.mu.Lock()
	room.Status = Closed
	sessionsToClose := make([]SocketSessioner, 0, len(room.sessions))
	for _, ss := range room.sessions {
		sessionsToClose = append(sessionsToClose, ss)
	}
	clear(room.sessions)
	room.mu.Unlock()

	for _, ss := range sessionsToClose {
		sl.Debug("closing connection", "connection", ss.ReferenceID())
		ss.Close() // should be blocking
	}
	sl.Debug("room closed", "status", "completed", "closed", len(sessionsToClose))
}

// drain closes sessions whose connect event was still queued when the loop
// stopped.
func (room *Room) drain() {
	for {
		select {
		case msg := <-room.messages:
			if msg.Type == Connect && msg.Session != nil {
				go msg.Session.Close()
			}
		default:
			return
		}
	}
}

// enqueue hands an event to the loop. It reports false once the room is done.
func (room *Room) enqueue(msg SocketMessage) bool {
	select {
	case room.messages <- msg:
		return true
	case <-room.ctx.Done():
		return false
	}
}

func (room *Room) IsOpen() bool {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.Status != Closed && room.ctx.Err() == nil
}

func (room *Room) ConnectionCount() int {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.sessions)
}

// Connections lists the open sockets ordered by connect time.
func (room *Room) Connections() []ConnectionPresence {
	room.mu.RLock()
	presences := make([]ConnectionPresence, 0, len(room.sessions))
	for id, ss := range room.sessions {
		presences = append(presences, ConnectionPresence{
			ID:          id,
			ConnectedAt: ss.ConnectedAt(),
			LastSeen:    ss.LastSeen(),
		})
	}
	room.mu.RUnlock()
	slices.SortFunc(presences, func(a, b ConnectionPresence) int {
		return a.ConnectedAt.Compare(b.ConnectedAt)
	})
	return presences
}

func (room *Room) SendMessageToConnection(conn ConnectionID, message []byte) {
	sl := room.Slogger.With("func", "room.SendMessageToConnection")
	room.mu.RLock()
	defer room.mu.RUnlock()

	ss, ok := room.sessions[conn]
	if !ok {
		sl.Debug("connection not found", "connection", conn)
		return
	}
	ss.Send(message)
}

func (room *Room) SendMessageToAll(message []byte) {
	sl := room.Slogger.With("func", "room.SendMessageToAll")
	room.mu.RLock()
	defer room.mu.RUnlock()
	sl.Debug("broadcasting", "connections", len(room.sessions), "size", len(message))
	for _, ss := range room.sessions {
		ss.Send(message)
	}
}

// CloseIdleSessions closes sockets silent for longer than the idle timeout.
// Their read loops then report the disconnect through the event loop.
func (room *Room) CloseIdleSessions() {
	if room.opts.IdleTimeout <= 0 {
		return
	}
	sl := room.Slogger.With("func", "room.CloseIdleSessions")
	room.mu.RLock()
	defer room.mu.RUnlock()

	for id, ss := range room.sessions {
		idle := time.Since(ss.LastSeen())
		if idle <= room.opts.IdleTimeout {
			continue
		}
		sl.Info("closing idle connection", "connection", id,
			slog.Group("checks",
				"lastSeen", ss.LastSeen(),
				"idle", idle,
				"idleTimeout", room.opts.IdleTimeout,
			))
		go ss.Close()
	}
}
