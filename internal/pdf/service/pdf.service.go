package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"canvasboard/internal/pdf/model"
	"canvasboard/internal/pdf/repository"
	"canvasboard/pkg/logger"
	"canvasboard/pkg/storage"

	"github.com/google/uuid"
)

var (
	ErrNotPDF      = errors.New("only PDF files are allowed")
	ErrTooLarge    = errors.New("file too large")
	ErrInvalidPDF  = errors.New("file is not a valid PDF")
	ErrNoText      = errors.New("no text content found in PDF")
	ErrEmptyQuery  = errors.New("query must not be empty")
	ErrBadDocID    = errors.New("document_id must be a UUID")
	ErrNoEmbedding = errors.New("embedding service returned no vectors")
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type PDFService struct {
	Repo      *repository.PDFRepository
	Storage   storage.Store
	Extractor Extractor
	Embedder  Embedder
	Chunker   Chunker
	Bucket    string
	MaxSize   int64
}

func NewPDFService(repo *repository.PDFRepository, store storage.Store, extractor Extractor, embedder Embedder, bucket string, maxSize int64) *PDFService {
	return &PDFService{
		Repo:      repo,
		Storage:   store,
		Extractor: extractor,
		Embedder:  embedder,
		Chunker:   NewChunker(DefaultChunkSize, DefaultChunkOverlap),
		Bucket:    bucket,
		MaxSize:   maxSize,
	}
}

// Validate checks name, size and magic bytes before any work is done.
func (s *PDFService) Validate(filename string, data []byte) error {
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return ErrNotPDF
	}
	if s.MaxSize > 0 && int64(len(data)) > s.MaxSize {
		return fmt.Errorf("%w: maximum size is %dMB", ErrTooLarge, s.MaxSize/(1024*1024))
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return ErrInvalidPDF
	}
	return nil
}

// ProcessUpload runs the ingest pipeline: extract, chunk, embed, store the
// file, then write the document and its chunks. A failure after the upload
// removes what was already written.
func (s *PDFService) ProcessUpload(ctx context.Context, filename string, data []byte) (*model.UploadResponse, error) {
	filename = path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if err := s.Validate(filename, data); err != nil {
		return nil, err
	}

	pages, err := s.Extractor.ExtractPages(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}

	chunks := s.Chunker.ChunkPages(pages)
	if len(chunks) == 0 {
		return nil, ErrNoText
	}
	logger.Sugar.Infof("PDF %s: %d pages, %d chunks", filename, len(pages), len(chunks))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := s.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d for %d chunks", ErrNoEmbedding, len(embeddings), len(chunks))
	}

	storagePath := uuid.NewString() + "/" + filename
	if err := s.Storage.Upload(ctx, s.Bucket, storagePath, "application/pdf", data); err != nil {
		return nil, fmt.Errorf("upload pdf: %w", err)
	}

	doc := &model.Document{
		Filename:    filename,
		StoragePath: storagePath,
		PageCount:   len(pages),
		FileSize:    int64(len(data)),
	}
	if err := s.Repo.InsertDocument(ctx, doc); err != nil {
		s.removeObject(storagePath)
		return nil, fmt.Errorf("insert document: %w", err)
	}

	inserted, err := s.Repo.InsertChunks(ctx, doc.ID, chunks, embeddings)
	if err != nil {
		s.rollback(doc.ID, storagePath)
		return nil, fmt.Errorf("insert chunks: %w", err)
	}
	if err := s.Repo.SetChunkCount(ctx, doc.ID, inserted); err != nil {
		s.rollback(doc.ID, storagePath)
		return nil, fmt.Errorf("update chunk count: %w", err)
	}

	return &model.UploadResponse{
		DocumentID: doc.ID,
		Filename:   filename,
		PageCount:  len(pages),
		ChunkCount: inserted,
		FileSize:   doc.FileSize,
		PublicURL:  s.Storage.PublicURL(s.Bucket, storagePath),
		Status:     "success",
	}, nil
}

func (s *PDFService) removeObject(storagePath string) {
	if err := s.Storage.Delete(context.Background(), s.Bucket, storagePath); err != nil {
		logger.Sugar.Warnf("Failed to remove %s after error: %v", storagePath, err)
	}
}

func (s *PDFService) rollback(documentID, storagePath string) {
	if _, err := s.Repo.DeleteDocument(context.Background(), documentID); err != nil {
		logger.Sugar.Warnf("Failed to remove document %s after error: %v", documentID, err)
	}
	s.removeObject(storagePath)
}

func (s *PDFService) Get(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.Repo.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.PublicURL = s.Storage.PublicURL(s.Bucket, doc.StoragePath)
	return doc, nil
}

func (s *PDFService) List(ctx context.Context, limit, offset int) (*model.ListResponse, error) {
	if limit <= 0 {
		limit = model.DefaultListLimit
	}
	if limit > model.MaxListLimit {
		limit = model.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	docs, err := s.Repo.ListDocuments(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].PublicURL = s.Storage.PublicURL(s.Bucket, docs[i].StoragePath)
	}
	return &model.ListResponse{Documents: docs, Count: len(docs), Limit: limit, Offset: offset}, nil
}

func (s *PDFService) Search(ctx context.Context, req model.SearchRequest) (*model.SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	var docID *string
	if req.DocumentID != nil && *req.DocumentID != "" {
		if _, err := uuid.Parse(*req.DocumentID); err != nil {
			return nil, ErrBadDocID
		}
		docID = req.DocumentID
	}
	limit, threshold := req.Normalize()

	vecs, err := s.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, ErrNoEmbedding
	}

	results, err := s.Repo.Search(ctx, vecs[0], limit, threshold, docID)
	if err != nil {
		return nil, err
	}
	return &model.SearchResponse{Query: req.Query, Results: results, Count: len(results)}, nil
}

// Delete removes the rows first; a leftover file is only logged.
func (s *PDFService) Delete(ctx context.Context, id string) error {
	storagePath, err := s.Repo.DeleteDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Storage.Delete(ctx, s.Bucket, storagePath); err != nil {
		logger.Sugar.Warnf("Document %s deleted but file %s remains: %v", id, storagePath, err)
	}
	return nil
}
