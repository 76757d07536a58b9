package handler

import (
	"errors"
	"io"
	"net/http"

	"canvasboard/internal/handwriting/model"
	"canvasboard/internal/handwriting/repository"
	"canvasboard/internal/handwriting/service"
	"canvasboard/pkg/logger"
	"canvasboard/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxUploadBytes = 20 << 20

type HandwritingHandler struct {
	Service *service.HandwritingService
}

func NewHandwritingHandler(service *service.HandwritingService) *HandwritingHandler {
	return &HandwritingHandler{Service: service}
}

func (h *HandwritingHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			response.Error(w, http.StatusBadRequest, "Uploaded image is too large")
			return
		}
		response.Error(w, http.StatusBadRequest, "Missing file")
		return
	}
	defer file.Close()

	logger.Sugar.Infof("Handwriting upload request received frameId=%s filename=%s content_type=%s",
		r.FormValue("frameId"), header.Filename, header.Header.Get("Content-Type"))

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	res, err := h.Service.Upload(r.Context(), model.UploadRequest{
		Image:       data,
		ContentType: header.Header.Get("Content-Type"),
		FrameID:     r.FormValue("frameId"),
		RoomID:      r.FormValue("roomId"),
		Timestamp:   r.FormValue("timestamp"),
		Bounds:      r.FormValue("bounds"),
		ShapeIDs:    r.FormValue("handwritingShapeIds"),
		GroupID:     r.FormValue("groupId"),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedType):
			response.Error(w, http.StatusBadRequest, "Only PNG or JPG images are allowed")
		case errors.Is(err, service.ErrEmptyImage):
			response.Error(w, http.StatusBadRequest, "Uploaded image is empty")
		case errors.Is(err, service.ErrBadImage):
			response.Error(w, http.StatusBadRequest, "Uploaded file is not a readable PNG or JPEG image")
		case errors.Is(err, service.ErrInvalidID):
			response.Error(w, http.StatusBadRequest, "Invalid frameId or roomId")
		default:
			logger.Sugar.Errorf("Error uploading handwriting image: %v", err)
			response.Error(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	response.JSON(w, http.StatusOK, res)
}

func (h *HandwritingHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		response.Error(w, http.StatusNotFound, "Note not found")
		return
	}
	note, err := h.Service.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "Note not found")
		return
	}
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to get note %s: %v", id, err)
		response.Error(w, http.StatusInternalServerError, "Failed to get note")
		return
	}
	response.JSON(w, http.StatusOK, note)
}
