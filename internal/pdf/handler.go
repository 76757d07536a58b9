package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"canvasboard/internal/pdf/model"
	"canvasboard/internal/pdf/repository"
	"canvasboard/internal/pdf/service"
	"canvasboard/pkg/logger"
	"canvasboard/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Multipart overhead allowed on top of the file size limit.
const formOverhead = 1 << 20

type PDFHandler struct {
	Service *service.PDFService
}

func NewPDFHandler(service *service.PDFService) *PDFHandler {
	return &PDFHandler{Service: service}
}

func (h *PDFHandler) Upload(w http.ResponseWriter, r *http.Request) {
	maxSize := h.Service.MaxSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			response.Error(w, http.StatusBadRequest, tooLargeDetail(maxSize))
			return
		}
		response.Error(w, http.StatusBadRequest, "Missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	res, err := h.Service.ProcessUpload(r.Context(), header.Filename, data)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotPDF):
			response.Error(w, http.StatusBadRequest, "Only PDF files are allowed")
		case errors.Is(err, service.ErrTooLarge):
			response.Error(w, http.StatusBadRequest, tooLargeDetail(maxSize))
		case errors.Is(err, service.ErrInvalidPDF):
			response.Error(w, http.StatusBadRequest, "File is not a valid PDF")
		case errors.Is(err, service.ErrNoText):
			response.Error(w, http.StatusBadRequest, "No text content found in PDF")
		default:
			logger.Sugar.Errorf("Handler: Failed to process PDF %s: %v", header.Filename, err)
			response.Error(w, http.StatusInternalServerError, "Failed to process PDF: "+err.Error())
		}
		return
	}
	response.JSON(w, http.StatusOK, res)
}

func tooLargeDetail(maxSize int64) string {
	return "File size exceeds " + strconv.FormatInt(maxSize/(1024*1024), 10) + "MB limit"
}

func (h *PDFHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	res, err := h.Service.List(r.Context(), limit, offset)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to list documents: %v", err)
		response.Error(w, http.StatusInternalServerError, "Failed to list documents")
		return
	}
	response.JSON(w, http.StatusOK, res)
}

func (h *PDFHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		response.Error(w, http.StatusNotFound, "Document not found")
		return
	}
	doc, err := h.Service.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to get document %s: %v", id, err)
		response.Error(w, http.StatusInternalServerError, "Failed to get document")
		return
	}
	response.JSON(w, http.StatusOK, doc)
}

func (h *PDFHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.Service.Search(r.Context(), req)
	if errors.Is(err, service.ErrEmptyQuery) {
		response.Error(w, http.StatusBadRequest, "Query must not be empty")
		return
	}
	if errors.Is(err, service.ErrBadDocID) {
		response.Error(w, http.StatusBadRequest, "Invalid document_id")
		return
	}
	if err != nil {
		logger.Sugar.Errorf("Handler: Search failed: %v", err)
		response.Error(w, http.StatusInternalServerError, "Search failed: "+err.Error())
		return
	}
	response.JSON(w, http.StatusOK, res)
}

func (h *PDFHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		response.Error(w, http.StatusNotFound, "Document not found")
		return
	}
	err := h.Service.Delete(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to delete document %s: %v", id, err)
		response.Error(w, http.StatusInternalServerError, "Failed to delete document")
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"status": "deleted", "document_id": id})
}
