package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"canvasboard/socket"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hub := socket.NewHub(socket.NewRoomStore(db), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	h := NewRoomHandler(hub)
	r := chi.NewRouter()
	r.Route("/api/sync/rooms/{id}", func(r chi.Router) {
		r.Get("/snapshot", h.GetSnapshot)
		r.Post("/snapshot", h.ReplaceSnapshot)
		r.Get("/presence", h.Presence)
		r.Post("/frame", h.Frame)
		r.Delete("/", h.DeleteRoom)
	})
	return r, mock
}

func do(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rr
}

var snapshotCols = []string{"snapshot", "clock"}

func TestGetSnapshotOfUnknownRoom(t *testing.T) {
	router, mock := newTestRouter(t)
	mock.ExpectQuery("SELECT snapshot, clock FROM canvas_rooms").WithArgs("fresh").WillReturnError(sql.ErrNoRows)

	rr := do(router, http.MethodGet, "/api/sync/rooms/fresh/snapshot", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"room_id":"fresh","clock":0,"records":{}}`, rr.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceSnapshot(t *testing.T) {
	router, mock := newTestRouter(t)
	mock.ExpectQuery("SELECT snapshot, clock FROM canvas_rooms").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(snapshotCols).AddRow([]byte(`{}`), int64(2)))
	mock.ExpectExec("INSERT INTO canvas_rooms").
		WithArgs("r1", `{"shape:a":{"id":"shape:a"}}`, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := do(router, http.MethodPost, "/api/sync/rooms/r1/snapshot", `{"records":[{"id":"shape:a"}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"room_id":"r1","clock":3,"records":{"shape:a":{"id":"shape:a"}}}`, rr.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/api/sync/rooms/r1/snapshot", `{}`).Code)
}

func TestFrame(t *testing.T) {
	router, mock := newTestRouter(t)
	persisted := `{
		"shape:a":{"id":"shape:a","typeName":"shape","type":"geo","x":0,"y":0,"props":{"w":100,"h":50}},
		"shape:b":{"id":"shape:b","typeName":"shape","type":"geo","x":200,"y":100,"props":{"w":20,"h":20}}}`
	mock.ExpectQuery("SELECT snapshot, clock FROM canvas_rooms").WithArgs("r2").
		WillReturnRows(sqlmock.NewRows(snapshotCols).AddRow([]byte(persisted), int64(1)))

	rr := do(router, http.MethodPost, "/api/sync/rooms/r2/frame", `{"shape_ids":["shape:a","shape:b","shape:zz"],"padding":10}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res frameResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, []string{"shape:a", "shape:b"}, res.ShapeIDs)
	assert.Equal(t, -10.0, res.Bounds.X)
	assert.Equal(t, -10.0, res.Bounds.Y)
	assert.Equal(t, 240.0, res.Bounds.W)
	assert.Equal(t, 140.0, res.Bounds.H)
}

func TestFrameWithoutKnownShapes(t *testing.T) {
	router, mock := newTestRouter(t)
	mock.ExpectQuery("SELECT snapshot, clock FROM canvas_rooms").WithArgs("r3").WillReturnError(sql.ErrNoRows)

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPost, "/api/sync/rooms/r3/frame", `{"shape_ids":["shape:x"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/api/sync/rooms/r3/frame", `{"shape_ids":[]}`).Code)
}

func TestPresenceOfEmptyRoom(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := do(router, http.MethodGet, "/api/sync/rooms/nobody/presence", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"room_id":"nobody","users":[],"count":0}`, rr.Body.String())
}

func TestDeleteRoom(t *testing.T) {
	router, mock := newTestRouter(t)
	mock.ExpectExec("DELETE FROM canvas_rooms").WithArgs("old").WillReturnResult(sqlmock.NewResult(0, 1))

	rr := do(router, http.MethodDelete, "/api/sync/rooms/old/", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
