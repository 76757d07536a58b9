package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"canvasboard/internal/video/service"
	"canvasboard/pkg/logger"
	"canvasboard/pkg/response"
)

type VideoHandler struct {
	Service *service.VideoService
}

func NewVideoHandler(service *service.VideoService) *VideoHandler {
	return &VideoHandler{Service: service}
}

type roomRequest struct {
	RoomID string `json:"room_id"`
}

func (h *VideoHandler) GetOrCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	room, err := h.Service.GetOrCreateRoom(r.Context(), req.RoomID)
	if err != nil {
		var perr *service.ProviderError
		switch {
		case errors.Is(err, service.ErrMissingRoom):
			response.Error(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &perr):
			response.Error(w, perr.Status, perr.Error())
		default:
			logger.Sugar.Errorf("Error getting/creating video room: %v", err)
			response.Error(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	response.JSON(w, http.StatusOK, room)
}
