package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"canvasboard/internal/video/service"

	"github.com/stretchr/testify/assert"
)

func TestVideoRoomWithoutKey(t *testing.T) {
	h := NewVideoHandler(service.NewVideoService("", ""))
	rr := httptest.NewRecorder()
	h.GetOrCreateRoom(rr, httptest.NewRequest(http.MethodPost, "/api/video/room", strings.NewReader(`{"room_id":"r"}`)))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"detail":"Daily.co API key not configured"}`, rr.Body.String())
}

func TestVideoRoomPassesProviderStatus(t *testing.T) {
	daily := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad key"))
	}))
	defer daily.Close()

	h := NewVideoHandler(service.NewVideoService("key", daily.URL))
	rr := httptest.NewRecorder()
	h.GetOrCreateRoom(rr, httptest.NewRequest(http.MethodPost, "/api/video/room", strings.NewReader(`{"room_id":"r"}`)))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "bad key")
}

func TestVideoRoomBadBody(t *testing.T) {
	h := NewVideoHandler(service.NewVideoService("key", ""))
	rr := httptest.NewRecorder()
	h.GetOrCreateRoom(rr, httptest.NewRequest(http.MethodPost, "/api/video/room", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
