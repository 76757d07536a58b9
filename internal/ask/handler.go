package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"canvasboard/internal/ask/model"
	"canvasboard/internal/ask/service"
	"canvasboard/pkg/logger"
	"canvasboard/pkg/response"
)

type AskHandler struct {
	Service *service.AskService
}

func NewAskHandler(service *service.AskService) *AskHandler {
	return &AskHandler{Service: service}
}

// sseWriter writes data-only server-sent events and flushes each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s sseWriter) frame(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.raw(string(b))
}

func (s sseWriter) raw(data string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req model.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	messages, err := h.Service.BuildMessages(r.Context(), req)
	if errors.Is(err, service.ErrEmptyPrompt) {
		response.Error(w, http.StatusBadRequest, "Prompt is required")
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	sse := sseWriter{w: w, flusher: flusher}
	if flusher != nil {
		flusher.Flush()
	}

	err = h.Service.Stream(r.Context(), messages, func(delta string) error {
		return sse.frame(model.StreamFrame{Content: delta})
	})
	if err != nil {
		if r.Context().Err() != nil {
			logger.Sugar.Infof("Ask stream cancelled by client: %v", err)
			return
		}
		logger.Sugar.Errorf("Ask streaming error: %v", err)
		if werr := sse.frame(model.StreamFrame{Error: err.Error()}); werr != nil {
			return
		}
	}
	_ = sse.raw("[DONE]")
}
