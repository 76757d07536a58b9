package handler

import (
	"errors"
	"net/http"
	"strconv"

	"canvasboard/internal/embed/service"
	"canvasboard/pkg/logger"
	"canvasboard/pkg/response"
)

type EmbedHandler struct {
	Service *service.EmbedService
}

func NewEmbedHandler(service *service.EmbedService) *EmbedHandler {
	return &EmbedHandler{Service: service}
}

func optionalFloat(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (h *EmbedHandler) Maps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := optionalFloat(q.Get("lat"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid lat")
		return
	}
	lng, err := optionalFloat(q.Get("lng"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid lng")
		return
	}

	embed, err := h.Service.MapsEmbedURL(q.Get("q"), lat, lng)
	switch {
	case errors.Is(err, service.ErrMapsDisabled):
		response.Error(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrEmptyQuery):
		response.Error(w, http.StatusBadRequest, err.Error())
	case err != nil:
		response.Error(w, http.StatusInternalServerError, err.Error())
	default:
		response.JSON(w, http.StatusOK, embed)
	}
}

func (h *EmbedHandler) YouTube(w http.ResponseWriter, r *http.Request) {
	embed, err := h.Service.SearchVideo(r.Context(), r.URL.Query().Get("q"))
	switch {
	case errors.Is(err, service.ErrYouTubeDisabled):
		response.Error(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrEmptyQuery):
		response.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNoVideo):
		response.Error(w, http.StatusNotFound, err.Error())
	case err != nil:
		logger.Sugar.Errorf("YouTube embed failed: %v", err)
		response.Error(w, http.StatusBadGateway, "YouTube search failed")
	default:
		response.JSON(w, http.StatusOK, embed)
	}
}
