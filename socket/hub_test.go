package socket

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to read messages from a WebSocket connection with a timeout.
func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	var msg WSMessage
	conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read message from WebSocket")
	err = json.Unmarshal(p, &msg)
	require.NoError(t, err, "Failed to unmarshal WSMessage JSON")
	return msg
}

func readPresence(t *testing.T, conn *websocket.Conn) []UserStatus {
	t.Helper()
	msg := readMessage(t, conn)
	require.Equal(t, PresenceUpdateType, msg.Type)
	var statuses []UserStatus
	require.NoError(t, json.Unmarshal(msg.Payload, &statuses))
	return statuses
}

func startHub(t *testing.T) (*Hub, sqlmock.Sqlmock, string) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hub := NewHub(NewRoomStore(db), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// For simplicity the tests pass identity in the query.
		ServeWs(hub, w, r, r.URL.Query().Get("room"), r.URL.Query().Get("user_id"))
	}))
	t.Cleanup(server.Close)

	return hub, mock, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, wsURL, room, user, mode string) *websocket.Conn {
	t.Helper()
	u := wsURL + "/?room=" + room + "&user_id=" + user
	if mode != "" {
		u += "&mode=" + mode
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err, "%s failed to connect", user)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubIntegration(t *testing.T) {
	hub, mock, wsURL := startHub(t)
	roomID := "room-1"
	persisted := `{"shape:a":{"id":"shape:a","typeName":"shape","type":"geo","x":0,"y":0,"props":{"w":10,"h":10}}}`

	// The first joiner loads the room from the database.
	mock.ExpectQuery("SELECT snapshot, clock FROM canvas_rooms WHERE id = \\$1").
		WithArgs(roomID).
		WillReturnRows(sqlmock.NewRows([]string{"snapshot", "clock"}).AddRow([]byte(persisted), int64(3)))

	conn1 := dial(t, wsURL, roomID, "user1", "")
	initial := readMessage(t, conn1)
	assert.Equal(t, SnapshotType, initial.Type)
	assert.Equal(t, roomID, initial.RoomID)
	assert.Equal(t, int64(3), initial.Clock)
	assert.JSONEq(t, persisted, string(initial.Payload))
	assert.Len(t, readPresence(t, conn1), 1)

	// Second editor joins.
	conn2 := dial(t, wsURL, roomID, "user2", "")
	_ = readMessage(t, conn2)
	assert.Len(t, readPresence(t, conn2), 2)

	statuses := readPresence(t, conn1)
	require.Len(t, statuses, 2)
	userIDs := []string{statuses[0].UserID, statuses[1].UserID}
	assert.Contains(t, userIDs, "user1")
	assert.Contains(t, userIDs, "user2")

	// user2 adds a stroke; user1 sees it with the next clock.
	update := `{"put":[{"id":"shape:b","typeName":"shape","type":"draw","x":5,"y":5,"props":{}}]}`
	msgBytes, _ := json.Marshal(WSMessage{Type: UpdateType, RoomID: "spoofed", UserID: "mallory", Payload: json.RawMessage(update)})
	require.NoError(t, conn2.WriteMessage(websocket.TextMessage, msgBytes))

	broadcast := readMessage(t, conn1)
	assert.Equal(t, UpdateType, broadcast.Type)
	assert.Equal(t, "user2", broadcast.UserID, "Broadcast message should carry the server-side user id")
	assert.Equal(t, roomID, broadcast.RoomID)
	assert.Equal(t, int64(4), broadcast.Clock)
	assert.JSONEq(t, update, string(broadcast.Payload))

	snap, err := hub.Snapshot(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), snap.Clock)
	assert.Contains(t, snap.Records, "shape:a")
	assert.Contains(t, snap.Records, "shape:b")

	// The save worker writes the dirty room with its current clock.
	mock.ExpectExec("INSERT INTO canvas_rooms").
		WithArgs(roomID, sqlmock.AnyArg(), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	hub.flushDirty(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViewerCannotEdit(t *testing.T) {
	hub, mock, wsURL := startHub(t)
	roomID := "room-view"

	mock.ExpectQuery("SELECT snapshot, clock FROM canvas_rooms").
		WithArgs(roomID).
		WillReturnError(sql.ErrNoRows)

	viewer := dial(t, wsURL, roomID, "viewer1", "view")
	initial := readMessage(t, viewer)
	assert.Equal(t, SnapshotType, initial.Type)
	assert.JSONEq(t, `{}`, string(initial.Payload))
	statuses := readPresence(t, viewer)
	require.Len(t, statuses, 1)
	assert.Equal(t, RoleViewer, statuses[0].Role)

	msgBytes, _ := json.Marshal(WSMessage{Type: UpdateType, Payload: json.RawMessage(`{"put":[{"id":"shape:x"}]}`)})
	require.NoError(t, viewer.WriteMessage(websocket.TextMessage, msgBytes))

	rejected := readMessage(t, viewer)
	assert.Equal(t, ErrorType, rejected.Type)

	snap, err := hub.Snapshot(context.Background(), roomID)
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
	assert.Equal(t, int64(0), snap.Clock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastClientLeavingFlushesRoom(t *testing.T) {
	_, mock, wsURL := startHub(t)
	roomID := "room-flush"

	mock.ExpectQuery("SELECT snapshot, clock FROM canvas_rooms").
		WithArgs(roomID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO canvas_rooms").
		WithArgs(roomID, `{"shape:z":{"id":"shape:z"}}`, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	conn := dial(t, wsURL, roomID, "solo", "")
	_ = readMessage(t, conn)
	_ = readPresence(t, conn)

	msgBytes, _ := json.Marshal(WSMessage{Type: UpdateType, Payload: json.RawMessage(`{"put":[{"id":"shape:z"}]}`)})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msgBytes))

	// Closing drops the only client, which saves the room.
	require.Eventually(t, func() bool {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestReplaceSnapshotWithoutLiveRoom(t *testing.T) {
	hub, mock, _ := startHub(t)
	roomID := "room-rest"

	mock.ExpectQuery("SELECT snapshot, clock FROM canvas_rooms").
		WithArgs(roomID).
		WillReturnRows(sqlmock.NewRows([]string{"snapshot", "clock"}).AddRow([]byte(`{}`), int64(7)))
	mock.ExpectExec("INSERT INTO canvas_rooms").
		WithArgs(roomID, sqlmock.AnyArg(), int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	snap, err := hub.ReplaceSnapshot(context.Background(), roomID, []json.RawMessage{
		json.RawMessage(`{"id":"shape:1","typeName":"shape"}`),
		json.RawMessage(`{"no":"id"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), snap.Clock)
	assert.Len(t, snap.Records, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShapesSkipsUnknownAndNonShapeRecords(t *testing.T) {
	hub, mock, _ := startHub(t)
	roomID := "room-shapes"

	mock.ExpectQuery("SELECT snapshot, clock FROM canvas_rooms").
		WithArgs(roomID).
		WillReturnRows(sqlmock.NewRows([]string{"snapshot", "clock"}).AddRow([]byte(`{
			"shape:1":{"id":"shape:1","typeName":"shape","type":"geo","x":1,"y":2,"props":{"w":3,"h":4}},
			"page:1":{"id":"page:1","typeName":"page"}}`), int64(1)))

	shapes, err := hub.Shapes(context.Background(), roomID, []string{"shape:1", "page:1", "shape:missing"})
	require.NoError(t, err)
	require.Len(t, shapes, 1)
	assert.Equal(t, "shape:1", shapes[0].ID)
}

func TestApplyChanges(t *testing.T) {
	snap := emptySnapshot()
	snap.Records["shape:old"] = json.RawMessage(`{"id":"shape:old"}`)

	applyChanges(&snap, Changes{
		Put:    []json.RawMessage{json.RawMessage(`{"id":"shape:new","x":1}`), json.RawMessage(`not json`)},
		Remove: []string{"shape:old", "shape:absent"},
	})

	assert.Len(t, snap.Records, 1)
	assert.JSONEq(t, `{"id":"shape:new","x":1}`, string(snap.Records["shape:new"]))
}

func TestSameUserSecondConnectionReceivesUpdates(t *testing.T) {
	_, mock, wsURL := startHub(t)
	roomID := "room-tabs"

	mock.ExpectQuery("SELECT snapshot, clock FROM canvas_rooms").
		WithArgs(roomID).
		WillReturnError(sql.ErrNoRows)

	tabA := dial(t, wsURL, roomID, "alice", "")
	_ = readMessage(t, tabA)
	_ = readPresence(t, tabA)

	tabB := dial(t, wsURL, roomID, "alice", "")
	_ = readMessage(t, tabB)
	statuses := readPresence(t, tabB)
	assert.Len(t, statuses, 1, "presence is per user, not per connection")
	_ = readPresence(t, tabA)

	update := `{"put":[{"id":"shape:tab","typeName":"shape"}]}`
	msgBytes, _ := json.Marshal(WSMessage{Type: UpdateType, Payload: json.RawMessage(update)})
	require.NoError(t, tabA.WriteMessage(websocket.TextMessage, msgBytes))

	got := readMessage(t, tabB)
	assert.Equal(t, UpdateType, got.Type)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, int64(1), got.Clock)
	assert.JSONEq(t, update, string(got.Payload))

	// The sending connection does not get its own update echoed.
	tabA.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err := tabA.ReadMessage()
	assert.Error(t, err)
}

func newTestRoom(h *Hub, roomID string, clients ...*Client) *room {
	r := &room{
		clients:  make(map[*Client]bool),
		presence: make(map[string]UserStatus),
		snapshot: emptySnapshot(),
	}
	for _, c := range clients {
		r.clients[c] = true
		r.presence[c.UserID] = UserStatus{UserID: c.UserID, Role: c.Role}
	}
	h.rooms[roomID] = r
	return r
}

func TestBroadcastDropsLaggingClient(t *testing.T) {
	hub := NewHub(nil, time.Hour)
	slow := &Client{Hub: hub, RoomID: "r", UserID: "slow", Role: RoleEditor, Send: make(chan []byte, 1)}
	fast := &Client{Hub: hub, RoomID: "r", UserID: "fast", Role: RoleEditor, Send: make(chan []byte, 4)}
	slow.Send <- []byte("backlog")
	r := newTestRoom(hub, "r", slow, fast)

	hub.broadcast(WSMessage{Type: PresenceType, RoomID: "r", UserID: "someone", Payload: json.RawMessage(`{"cursor":[1,2]}`)})

	assert.False(t, r.clients[slow], "lagging client is removed from the room")
	assert.True(t, r.clients[fast])
	assert.NotContains(t, r.presence, "slow")
	assert.Len(t, fast.Send, 1)

	// The backlog is still readable, then the channel is closed.
	assert.Equal(t, []byte("backlog"), <-slow.Send)
	_, open := <-slow.Send
	assert.False(t, open)
}

func TestFailedSaveKeepsRoomDirtyAndRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	hub := NewHub(NewRoomStore(db), time.Hour)
	r := newTestRoom(hub, "r")
	r.snapshot.Records["shape:1"] = json.RawMessage(`{"id":"shape:1"}`)
	r.snapshot.Clock = 2
	r.dirty = true

	mock.ExpectExec("INSERT INTO canvas_rooms").
		WithArgs("r", sqlmock.AnyArg(), int64(2)).
		WillReturnError(errors.New("connection reset"))
	hub.flushDirty(context.Background())

	require.Contains(t, hub.rooms, "r", "room stays in memory after a failed save")
	assert.True(t, hub.rooms["r"].dirty)

	mock.ExpectExec("INSERT INTO canvas_rooms").
		WithArgs("r", `{"shape:1":{"id":"shape:1"}}`, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	hub.flushDirty(context.Background())

	assert.NotContains(t, hub.rooms, "r", "an empty room is evicted once saved")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastClientLeavingWithFailedSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	hub := NewHub(NewRoomStore(db), time.Hour)
	c := &Client{Hub: hub, RoomID: "r", UserID: "u", Role: RoleEditor, Send: make(chan []byte, 1)}
	r := newTestRoom(hub, "r", c)
	r.snapshot.Clock = 5
	r.dirty = true

	mock.ExpectExec("INSERT INTO canvas_rooms").
		WithArgs("r", sqlmock.AnyArg(), int64(5)).
		WillReturnError(errors.New("db down"))
	hub.unregister(context.Background(), c)

	require.Contains(t, hub.rooms, "r")
	assert.Empty(t, hub.rooms["r"].clients)
	assert.True(t, hub.rooms["r"].dirty)
	_, open := <-c.Send
	assert.False(t, open)

	mock.ExpectExec("INSERT INTO canvas_rooms").
		WithArgs("r", sqlmock.AnyArg(), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	hub.flushDirty(context.Background())
	assert.NotContains(t, hub.rooms, "r")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceSnapshotPushesToLiveRoom(t *testing.T) {
	hub, mock, wsURL := startHub(t)
	roomID := "room-live-replace"

	mock.ExpectQuery("SELECT snapshot, clock FROM canvas_rooms").
		WithArgs(roomID).
		WillReturnRows(sqlmock.NewRows([]string{"snapshot", "clock"}).AddRow([]byte(`{"shape:old":{"id":"shape:old"}}`), int64(2)))
	mock.ExpectExec("INSERT INTO canvas_rooms").
		WithArgs(roomID, `{"shape:new":{"id":"shape:new"}}`, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	conn := dial(t, wsURL, roomID, "watcher", "")
	_ = readMessage(t, conn)
	_ = readPresence(t, conn)

	snap, err := hub.ReplaceSnapshot(context.Background(), roomID, []json.RawMessage{json.RawMessage(`{"id":"shape:new"}`)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Clock)

	pushed := readMessage(t, conn)
	assert.Equal(t, SnapshotType, pushed.Type)
	assert.Equal(t, int64(3), pushed.Clock)
	assert.JSONEq(t, `{"shape:new":{"id":"shape:new"}}`, string(pushed.Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}
