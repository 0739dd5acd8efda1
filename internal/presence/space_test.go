package presence

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chilledoj/atmosphere"
	"github.com/chilledoj/atmosphere/internal/metrics"
	"github.com/chilledoj/atmosphere/internal/protocol"
	"github.com/chilledoj/atmosphere/internal/wsclient"
)

type sentFrame struct {
	to    atmosphere.ConnectionID // empty for broadcasts
	frame []byte
}

type mockBroadcaster struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (m *mockBroadcaster) SendMessageToAll(message []byte) {
	m.mu.Lock()
	m.frames = append(m.frames, sentFrame{frame: message})
	m.mu.Unlock()
}

func (m *mockBroadcaster) SendMessageToConnection(conn atmosphere.ConnectionID, message []byte) {
	m.mu.Lock()
	m.frames = append(m.frames, sentFrame{to: conn, frame: message})
	m.mu.Unlock()
}

// take returns and clears the frames sent so far.
func (m *mockBroadcaster) take() []sentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.frames
	m.frames = nil
	return out
}

func newTestSpace(t *testing.T) (*Space, *mockBroadcaster) {
	t.Helper()
	out := &mockBroadcaster{}
	s := newSpace(NewRegistry(), Options{
		Metrics: metrics.New(),
		Slogger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s.out = out
	return s, out
}

func updateFrame(lat, lng float64) []byte {
	data, _ := json.Marshal(protocol.Location{Lat: lat, Lng: lng})
	frame, _ := json.Marshal(protocol.Envelope{Event: protocol.EventUpdateLocation, Data: data})
	return frame
}

func countOf(t *testing.T, f sentFrame) int {
	t.Helper()
	env, err := protocol.Decode(f.frame)
	require.NoError(t, err)
	require.Equal(t, protocol.EventOnlineCount, env.Event)
	var n int
	require.NoError(t, json.Unmarshal(env.Data, &n))
	return n
}

func rosterOf(t *testing.T, f sentFrame) []protocol.UserRecord {
	t.Helper()
	env, err := protocol.Decode(f.frame)
	require.NoError(t, err)
	require.Equal(t, protocol.EventUsersList, env.Event)
	var users []protocol.UserRecord
	require.NoError(t, json.Unmarshal(env.Data, &users))
	require.NotNil(t, users)
	return users
}

func TestSpace_OnConnect(t *testing.T) {
	s, out := newTestSpace(t)

	s.OnConnect("a")

	frames := out.take()
	require.Len(t, frames, 1)
	assert.Empty(t, frames[0].to)
	assert.Equal(t, 0, countOf(t, frames[0]))
	assert.Equal(t, `{"event":"online_count","data":0}`, string(frames[0].frame))
	assert.Equal(t, 0, s.registry.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Connections))
}

func TestSpace_Scenario(t *testing.T) {
	s, out := newTestSpace(t)

	s.OnConnect("A")
	s.OnConnect("B")
	out.take()

	s.OnMessage("A", updateFrame(10, 20))
	frames := out.take()
	require.Len(t, frames, 2)
	assert.Equal(t, []protocol.UserRecord{{ID: "A", Lat: 10, Lng: 20}}, rosterOf(t, frames[0]))
	assert.Equal(t, 1, countOf(t, frames[1]))

	s.OnMessage("B", updateFrame(30, 40))
	frames = out.take()
	require.Len(t, frames, 2)
	assert.Equal(t, []protocol.UserRecord{{ID: "A", Lat: 10, Lng: 20}, {ID: "B", Lat: 30, Lng: 40}}, rosterOf(t, frames[0]))
	assert.Equal(t, 2, countOf(t, frames[1]))

	s.OnDisconnect("A")
	frames = out.take()
	require.Len(t, frames, 2)
	assert.Equal(t, []protocol.UserRecord{{ID: "B", Lat: 30, Lng: 40}}, rosterOf(t, frames[0]))
	assert.Equal(t, 1, countOf(t, frames[1]))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.OnlineCount))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.LocationUpdates))
}

func TestSpace_LastWriteWins(t *testing.T) {
	s, out := newTestSpace(t)
	s.OnConnect("A")

	s.OnMessage("A", updateFrame(1, 1))
	s.OnMessage("A", updateFrame(2, 2))
	s.OnMessage("A", updateFrame(3, 3))

	frames := out.take()
	require.Len(t, frames, 7)
	last := frames[len(frames)-2]
	assert.Equal(t, []protocol.UserRecord{{ID: "A", Lat: 3, Lng: 3}}, rosterOf(t, last))
	assert.Equal(t, 1, countOf(t, frames[len(frames)-1]))
}

func TestSpace_RepeatedUpdateIsIdempotent(t *testing.T) {
	s, out := newTestSpace(t)
	s.OnConnect("A")
	s.OnMessage("A", updateFrame(5, 6))
	first := s.Snapshot()
	out.take()

	s.OnMessage("A", updateFrame(5, 6))

	assert.Equal(t, first, s.Snapshot())
	frames := out.take()
	require.Len(t, frames, 2, "repeated updates are not deduplicated")
}

func TestSpace_DisconnectWithoutLocation(t *testing.T) {
	s, out := newTestSpace(t)
	s.OnConnect("A")
	s.OnConnect("B")
	s.OnMessage("A", updateFrame(1, 2))
	before := s.Snapshot()
	out.take()

	s.OnDisconnect("B")

	assert.Equal(t, before, s.Snapshot())
	frames := out.take()
	require.Len(t, frames, 2)
	assert.Equal(t, before.Users, rosterOf(t, frames[0]))
	assert.Equal(t, 1, countOf(t, frames[1]))
}

func TestSpace_EmptyRoster(t *testing.T) {
	s, out := newTestSpace(t)
	s.OnConnect("A")
	s.OnDisconnect("A")

	frames := out.take()
	require.Len(t, frames, 3)
	assert.Equal(t, `{"event":"users_list","data":[]}`, string(frames[1].frame))
	assert.Equal(t, 0, countOf(t, frames[2]))
}

func TestSpace_OnlineCountMatchesReporters(t *testing.T) {
	s, out := newTestSpace(t)
	type step struct {
		kind string
		id   string
	}
	steps := []step{
		{"connect", "a"}, {"connect", "b"}, {"connect", "c"},
		{"update", "a"}, {"update", "a"}, {"update", "c"},
		{"disconnect", "b"}, {"update", "b"},
		{"disconnect", "a"}, {"connect", "d"}, {"update", "d"},
		{"disconnect", "c"}, {"disconnect", "d"},
	}
	reporting := map[string]bool{}
	for _, st := range steps {
		switch st.kind {
		case "connect":
			s.OnConnect(st.id)
		case "update":
			s.OnMessage(st.id, updateFrame(1, 1))
			reporting[st.id] = true
		case "disconnect":
			s.OnDisconnect(st.id)
			delete(reporting, st.id)
		}
		frames := out.take()
		require.NotEmpty(t, frames)
		assert.Equal(t, len(reporting), countOf(t, frames[len(frames)-1]), "after %s %s", st.kind, st.id)
	}
}

func TestSpace_RejectsMalformedFrames(t *testing.T) {
	for name, frame := range map[string]string{
		"not json":        `nope`,
		"missing lat":     `{"event":"update_location","data":{"lng":1}}`,
		"string lng":      `{"event":"update_location","data":{"lat":1,"lng":"east"}}`,
		"no data":         `{"event":"update_location"}`,
		"unknown event":   `{"event":"teleport","data":{}}`,
		"empty":           ``,
		"no event at all": `{"data":{"lat":1,"lng":2}}`,
	} {
		t.Run(name, func(t *testing.T) {
			s, out := newTestSpace(t)
			s.OnConnect("A")
			s.OnMessage("A", updateFrame(7, 8))
			before := s.Snapshot()
			out.take()

			s.OnMessage("A", []byte(frame))

			assert.Equal(t, before, s.Snapshot())
			frames := out.take()
			require.Len(t, frames, 1)
			assert.Equal(t, "A", frames[0].to)
			env, err := protocol.Decode(frames[0].frame)
			require.NoError(t, err)
			assert.Equal(t, protocol.EventError, env.Event)
			var payload protocol.ErrorPayload
			require.NoError(t, json.Unmarshal(env.Data, &payload))
			assert.NotEmpty(t, payload.Code)
		})
	}
}

func TestSpace_OverSockets(t *testing.T) {
	space := NewSpace(context.Background(), "lounge", NewRegistry(), Options{
		Slogger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	done := make(chan struct{})
	go func() {
		space.Start()
		close(done)
	}()
	defer func() {
		space.Stop()
		<-done
	}()
	require.Eventually(t, space.IsOpen, time.Second, time.Millisecond)

	srv := httptest.NewServer(space.HandleSocket(func(w http.ResponseWriter, r *http.Request, err error) {
		http.Error(w, err.Error(), http.StatusBadRequest)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := wsclient.Dial(ctx, url)
	require.NoError(t, err)
	defer conn.Close()

	read := func() protocol.Envelope {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		msg, _, err := wsutil.ReadServerData(conn)
		require.NoError(t, err)
		env, err := protocol.Decode(msg)
		require.NoError(t, err)
		return env
	}

	env := read()
	assert.Equal(t, protocol.EventOnlineCount, env.Event)
	assert.JSONEq(t, `0`, string(env.Data))

	require.NoError(t, wsutil.WriteClientText(conn, updateFrame(51.5, -0.12)))

	env = read()
	assert.Equal(t, protocol.EventUsersList, env.Event)
	var users []protocol.UserRecord
	require.NoError(t, json.Unmarshal(env.Data, &users))
	require.Len(t, users, 1)
	assert.Equal(t, 51.5, users[0].Lat)
	assert.Equal(t, -0.12, users[0].Lng)
	assert.NotEmpty(t, users[0].ID)

	env = read()
	assert.Equal(t, protocol.EventOnlineCount, env.Event)
	assert.JSONEq(t, `1`, string(env.Data))
	assert.Equal(t, 1, space.Snapshot().Count)
}
