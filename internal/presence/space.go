// Package presence tracks who is in the shared space and where they are, and
// keeps every connected client's view of the roster current.
package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/chilledoj/atmosphere"
	"github.com/chilledoj/atmosphere/internal/metrics"
	"github.com/chilledoj/atmosphere/internal/protocol"
)

// Broadcaster delivers frames to connected clients.
type Broadcaster interface {
	SendMessageToAll(message []byte)
	SendMessageToConnection(conn atmosphere.ConnectionID, message []byte)
}

// Space binds the presence registry to the socket room. Its handlers run on
// the room loop, one event at a time.
type Space struct {
	*atmosphere.Room

	out         Broadcaster
	registry    *Registry
	metrics     *metrics.Metrics
	connections int

	Slogger *slog.Logger
}

type Options struct {
	IdleTimeout time.Duration
	SendBuffer  int
	Metrics     *metrics.Metrics
	Slogger     *slog.Logger
}

func NewSpace(ctx context.Context, id string, registry *Registry, opts Options) *Space {
	s := newSpace(registry, opts)
	s.Room = atmosphere.NewRoom(ctx, id, atmosphere.Options{
		OnConnect:    s.OnConnect,
		OnDisconnect: s.OnDisconnect,
		OnMessage:    s.OnMessage,
		IdleTimeout:  opts.IdleTimeout,
		SendBuffer:   opts.SendBuffer,
		Slogger:      opts.Slogger,
	})
	s.out = s.Room
	return s
}

func newSpace(registry *Registry, opts Options) *Space {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Slogger == nil {
		opts.Slogger = slog.Default()
	}
	return &Space{
		registry: registry,
		metrics:  opts.Metrics,
		Slogger:  opts.Slogger.With("component", "presence"),
	}
}

// Snapshot returns the current roster and count.
func (s *Space) Snapshot() Snapshot {
	return s.registry.Snapshot()
}

func (s *Space) OnConnect(conn atmosphere.ConnectionID) {
	s.connections++
	s.metrics.Connections.Set(float64(s.connections))
	s.Slogger.Info("connect", "connection", conn, "sockets", s.connections, "online", s.registry.Len())

	s.broadcastCount()
}

func (s *Space) OnMessage(conn atmosphere.ConnectionID, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		s.reject(conn, err)
		return
	}

	switch env.Event {
	case protocol.EventUpdateLocation:
		loc, err := protocol.DecodeLocation(env.Data)
		if err != nil {
			s.reject(conn, err)
			return
		}
		s.UpdateLocation(conn, loc)
	default:
		s.reject(conn, protocol.ErrUnknownEvent)
	}
}

// UpdateLocation records the coordinates for conn and broadcasts the roster
// followed by the count.
func (s *Space) UpdateLocation(conn atmosphere.ConnectionID, loc protocol.Location) {
	created := s.registry.Update(conn, loc.Lat, loc.Lng)
	s.metrics.LocationUpdates.Inc()
	s.Slogger.Debug("location updated", "connection", conn, "lat", loc.Lat, "lng", loc.Lng, "first", created)

	snapshot := s.registry.Snapshot()
	s.broadcastRoster(snapshot)
	s.broadcastCount()
	s.Slogger.Debug("roster", "online", snapshot.Count, "users", snapshot.Users)
}

func (s *Space) OnDisconnect(conn atmosphere.ConnectionID) {
	s.connections--
	s.metrics.Connections.Set(float64(s.connections))
	removed := s.registry.Remove(conn)
	s.Slogger.Info("disconnect", "connection", conn, "hadLocation", removed, "online", s.registry.Len())

	s.broadcastRoster(s.registry.Snapshot())
	s.broadcastCount()
}

func (s *Space) broadcastRoster(snapshot Snapshot) {
	msg, err := protocol.UsersList(snapshot.Users)
	if err != nil {
		s.Slogger.Error("encode roster", "err", err)
		return
	}
	s.broadcast(protocol.EventUsersList, msg)
}

func (s *Space) broadcastCount() {
	count := s.registry.Len()
	s.metrics.OnlineCount.Set(float64(count))
	msg, err := protocol.OnlineCount(count)
	if err != nil {
		s.Slogger.Error("encode count", "err", err)
		return
	}
	s.broadcast(protocol.EventOnlineCount, msg)
}

func (s *Space) broadcast(event string, msg []byte) {
	s.metrics.Broadcasts.WithLabelValues(event).Inc()
	s.out.SendMessageToAll(msg)
}

// reject answers a bad frame to its sender only; the registry is untouched.
func (s *Space) reject(conn atmosphere.ConnectionID, err error) {
	code := protocol.ErrorCode(err)
	s.metrics.RejectedFrames.WithLabelValues(code).Inc()
	s.Slogger.Warn("rejected frame", "connection", conn, "code", code, "err", err)

	msg, encErr := protocol.Error(code, err)
	if encErr != nil {
		s.Slogger.Error("encode error frame", "err", encErr)
		return
	}
	s.out.SendMessageToConnection(conn, msg)
}
