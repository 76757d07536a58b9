package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"canvasboard/internal/canvas"
	"canvasboard/middleware"
	"canvasboard/pkg/logger"
	"canvasboard/pkg/response"
	"canvasboard/socket"

	"github.com/go-chi/chi/v5"
)

// RoomHandler exposes the sync relay's rooms over REST and WebSocket.
type RoomHandler struct {
	Hub *socket.Hub
}

func NewRoomHandler(hub *socket.Hub) *RoomHandler {
	return &RoomHandler{Hub: hub}
}

type snapshotResponse struct {
	RoomID  string                     `json:"room_id"`
	Clock   int64                      `json:"clock"`
	Records map[string]json.RawMessage `json:"records"`
}

type replaceRequest struct {
	Records []json.RawMessage `json:"records"`
}

type frameRequest struct {
	ShapeIDs []string `json:"shape_ids"`
	Padding  *float64 `json:"padding"`
}

type frameResponse struct {
	RoomID   string     `json:"room_id"`
	ShapeIDs []string   `json:"shape_ids"`
	Bounds   canvas.Box `json:"bounds"`
}

func (h *RoomHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	socket.ServeWs(h.Hub, w, r, chi.URLParam(r, "id"), middleware.UserID(r.Context()))
}

func (h *RoomHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	snap, err := h.Hub.Snapshot(r.Context(), roomID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to load room %s: %v", roomID, err)
		response.Error(w, http.StatusInternalServerError, "Failed to load room")
		return
	}
	response.JSON(w, http.StatusOK, snapshotResponse{RoomID: roomID, Clock: snap.Clock, Records: snap.Records})
}

func (h *RoomHandler) ReplaceSnapshot(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	var req replaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Records == nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	snap, err := h.Hub.ReplaceSnapshot(r.Context(), roomID, req.Records)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to replace room %s: %v", roomID, err)
		response.Error(w, http.StatusInternalServerError, "Failed to save room")
		return
	}
	response.JSON(w, http.StatusOK, snapshotResponse{RoomID: roomID, Clock: snap.Clock, Records: snap.Records})
}

func (h *RoomHandler) Presence(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	users := h.Hub.Presence(roomID)
	response.JSON(w, http.StatusOK, map[string]interface{}{"room_id": roomID, "users": users, "count": len(users)})
}

// Frame computes the auto-frame box around the given shapes.
func (h *RoomHandler) Frame(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	var req frameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ShapeIDs) == 0 {
		response.Error(w, http.StatusBadRequest, "shape_ids is required")
		return
	}
	padding := canvas.DefaultFramePadding
	if req.Padding != nil && *req.Padding >= 0 {
		padding = *req.Padding
	}

	shapes, err := h.Hub.Shapes(r.Context(), roomID, req.ShapeIDs)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to load shapes of room %s: %v", roomID, err)
		response.Error(w, http.StatusInternalServerError, "Failed to load room")
		return
	}
	box, err := canvas.FrameBounds(shapes, padding)
	if errors.Is(err, canvas.ErrNoShapes) {
		response.Error(w, http.StatusNotFound, "None of the shapes exist in this room")
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	ids := make([]string, len(shapes))
	for i, s := range shapes {
		ids[i] = s.ID
	}
	response.JSON(w, http.StatusOK, frameResponse{RoomID: roomID, ShapeIDs: ids, Bounds: box})
}

func (h *RoomHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if err := h.Hub.RemoveRoom(r.Context(), roomID); err != nil {
		logger.Sugar.Errorf("Handler: Failed to delete room %s: %v", roomID, err)
		response.Error(w, http.StatusInternalServerError, "Failed to delete room")
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"status": "deleted", "room_id": roomID})
}
