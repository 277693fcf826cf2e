package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowPolicy struct{ kicked chan *Peer }

func (p slowPolicy) OnBackPressure(_ *Room, peer *Peer) BackpressureAction {
	p.kicked <- peer
	return KickMember
}

func startHub(t *testing.T, hub *Hub) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		q := r.URL.Query()
		hub.Serve(r.Context(), ws, domain.RoomName(q.Get("room")), domain.UserID(q.Get("userId")))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialHub(t *testing.T, base, user string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(base+"/?room=lobby&userId="+user, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHubForwardsSignals(t *testing.T) {
	hub := NewHub(Options{PingPeriod: time.Minute}, nil, nil, nil)
	base := startHub(t, hub)

	a := dialHub(t, base, "A")
	assert.Equal(t, "all-users", readFrame(t, a)["type"])

	b := dialHub(t, base, "B")
	roster := readFrame(t, b)
	users := roster["users"].([]any)
	require.Len(t, users, 1)
	aSocket := users[0].(map[string]any)["socketId"].(string)

	joined := readFrame(t, a)
	assert.Equal(t, "user-joined", joined["type"])
	assert.Equal(t, "B", joined["userId"])

	require.NoError(t, b.WriteJSON(map[string]any{"type": "signal", "targetId": aSocket, "signal": map[string]string{"type": "offer"}}))
	sig := readFrame(t, a)
	assert.Equal(t, "signal", sig["type"])
	assert.Equal(t, "B", sig["fromUserId"])
	assert.Equal(t, joined["socketId"], sig["fromSocketId"])
	assert.Equal(t, map[string]any{"type": "offer"}, sig["signal"])

	require.NoError(t, b.Close())
	left := readFrame(t, a)
	assert.Equal(t, "user-left", left["type"])
	assert.Equal(t, "B", left["userId"])

	require.Eventually(t, func() bool {
		r, ok := hub.Rooms.Get("lobby")
		return ok && r.MemberCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHubToggleUsesSenderIdentity(t *testing.T) {
	hub := NewHub(Options{PingPeriod: time.Minute}, nil, nil, nil)
	base := startHub(t, hub)
	a := dialHub(t, base, "A")
	readFrame(t, a)
	b := dialHub(t, base, "B")
	readFrame(t, b)
	readFrame(t, a)

	require.NoError(t, b.WriteJSON(map[string]any{"type": "media-toggle", "userId": "someone-else", "mediaType": "audio", "enabled": true}))
	toggled := readFrame(t, a)
	assert.Equal(t, "user-media-toggled", toggled["type"])
	assert.Equal(t, "B", toggled["userId"])
	assert.Equal(t, "audio", toggled["mediaType"])
	assert.Equal(t, true, toggled["enabled"])

	require.NoError(t, b.WriteJSON(map[string]any{"type": "media-toggle", "mediaType": "screen"}))
	assert.Equal(t, "error", readFrame(t, b)["type"])
}

func TestHubControlFrames(t *testing.T) {
	hub := NewHub(Options{PingPeriod: time.Minute}, nil, nil, nil)
	a := dialHub(t, startHub(t, hub), "A")
	readFrame(t, a)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, "pong", readFrame(t, a)["type"])

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	assert.Equal(t, "error", readFrame(t, a)["type"])

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	assert.Equal(t, "error", readFrame(t, a)["type"])

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"signal","targetId":"gone","signal":{}}`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, "pong", readFrame(t, a)["type"], "signals to unknown sockets are dropped silently")
}

func TestHubPresenceFollowsConnections(t *testing.T) {
	hub := NewHub(Options{PingPeriod: time.Minute}, nil, nil, nil)
	a := dialHub(t, startHub(t, hub), "A")
	readFrame(t, a)

	require.Eventually(t, func() bool {
		members, err := hub.Presence.Members(context.Background(), "lobby")
		return err == nil && assert.ObjectsAreEqual([]domain.UserID{"A"}, members)
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool {
		members, _ := hub.Presence.Members(context.Background(), "lobby")
		return len(members) == 0
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, hub.Rooms.List())
}

func TestHubRejoinReplacesOlderSocket(t *testing.T) {
	hub := NewHub(Options{PingPeriod: time.Minute}, nil, nil, nil)
	base := startHub(t, hub)

	a := dialHub(t, base, "A")
	readFrame(t, a)
	oldB := dialHub(t, base, "B")
	readFrame(t, oldB)
	assert.Equal(t, "user-joined", readFrame(t, a)["type"])

	newB := dialHub(t, base, "B")
	roster := readFrame(t, newB)
	require.Len(t, roster["users"].([]any), 1, "the older socket is not in the roster")
	rejoined := readFrame(t, a)
	assert.Equal(t, "user-joined", rejoined["type"])
	assert.Equal(t, "B", rejoined["userId"])

	// The relay closes the older socket.
	require.NoError(t, oldB.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := oldB.ReadMessage(); err != nil {
			break
		}
	}

	require.NoError(t, a.WriteJSON(map[string]string{"type": "ping"}))
	for {
		f := readFrame(t, a)
		require.NotEqual(t, "user-left", f["type"], "a replaced socket must not announce a departure")
		if f["type"] == "pong" {
			break
		}
	}
	require.Eventually(t, func() bool {
		members, _ := hub.Presence.Members(context.Background(), "lobby")
		return assert.ObjectsAreEqual([]domain.UserID{"A", "B"}, members)
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, newB.Close())
	left := readFrame(t, a)
	assert.Equal(t, "user-left", left["type"])
	assert.Equal(t, "B", left["userId"])
	require.Eventually(t, func() bool {
		members, _ := hub.Presence.Members(context.Background(), "lobby")
		return assert.ObjectsAreEqual([]domain.UserID{"A"}, members)
	}, time.Second, 10*time.Millisecond)
}

func TestApplyPolicyKicks(t *testing.T) {
	kicked := make(chan *Peer, 1)
	hub := NewHub(Options{}, slowPolicy{kicked: kicked}, nil, nil)
	r := NewRoom("lobby")
	slow := testPeer("B", "s2", 0)

	hub.applyPolicy(r, PublishResult{Dropped: []*Peer{slow}})
	assert.Same(t, slow, <-kicked)
	assert.ErrorIs(t, slow.Conn.TrySend([]byte("x")), ErrConnClosed)
}
