package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"canvasboard/internal/pdf/model"
	"canvasboard/pkg/logger"

	"github.com/pgvector/pgvector-go"
)

const chunkInsertBatch = 50

var ErrNotFound = errors.New("document not found")

type PDFRepository struct {
	DB *sql.DB
}

func NewPDFRepository(db *sql.DB) *PDFRepository {
	return &PDFRepository{DB: db}
}

func (r *PDFRepository) InsertDocument(ctx context.Context, doc *model.Document) error {
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO pdf_documents (filename, storage_path, page_count, file_size, chunk_count, created_at)
		VALUES ($1, $2, $3, $4, 0, NOW())
		RETURNING id, created_at`,
		doc.Filename, doc.StoragePath, doc.PageCount, doc.FileSize,
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to insert document %s: %v", doc.Filename, err)
		return fmt.Errorf("insert document: %w", err)
	}
	logger.Sugar.Infof("Inserted document with ID: %s", doc.ID)
	return nil
}

// InsertChunks stores chunks with their embeddings, 50 rows per transaction.
func (r *PDFRepository) InsertChunks(ctx context.Context, documentID string, chunks []model.Chunk, embeddings [][]float32) (int, error) {
	if len(chunks) != len(embeddings) {
		return 0, fmt.Errorf("insert chunks: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}

	total := 0
	for start := 0; start < len(chunks); start += chunkInsertBatch {
		end := start + chunkInsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := r.insertChunkBatch(ctx, documentID, chunks[start:end], embeddings[start:end]); err != nil {
			return total, err
		}
		total += end - start
		logger.Sugar.Debugf("Inserted batch %d: %d chunks", start/chunkInsertBatch+1, end-start)
	}
	logger.Sugar.Infof("Total chunks inserted: %d", total)
	return total, nil
}

func (r *PDFRepository) insertChunkBatch(ctx context.Context, documentID string, chunks []model.Chunk, embeddings [][]float32) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pdf_chunks (document_id, page_number, chunk_index, chunk_text, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		meta, _ := json.Marshal(model.ChunkMetadata{
			CharStart:  c.CharStart,
			CharEnd:    c.CharEnd,
			TextLength: len([]rune(c.Text)),
		})
		if _, err := stmt.ExecContext(ctx, documentID, c.PageNumber, c.ChunkIndex, c.Text,
			pgvector.NewVector(embeddings[i]), string(meta)); err != nil {
			logger.Sugar.Errorf("Failed to insert chunk %d/%d of doc %s: %v", c.PageNumber, c.ChunkIndex, documentID, err)
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return tx.Commit()
}

func (r *PDFRepository) SetChunkCount(ctx context.Context, documentID string, n int) error {
	if _, err := r.DB.ExecContext(ctx, "UPDATE pdf_documents SET chunk_count = $1 WHERE id = $2", n, documentID); err != nil {
		return fmt.Errorf("update chunk count: %w", err)
	}
	return nil
}

const documentColumns = "id, filename, storage_path, page_count, chunk_count, file_size, created_at"

func scanDocument(row interface{ Scan(...interface{}) error }) (*model.Document, error) {
	var d model.Document
	if err := row.Scan(&d.ID, &d.Filename, &d.StoragePath, &d.PageCount, &d.ChunkCount, &d.FileSize, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PDFRepository) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM pdf_documents WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get document %s: %v", id, err)
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns documents newest first.
func (r *PDFRepository) ListDocuments(ctx context.Context, limit, offset int) ([]model.Document, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM pdf_documents ORDER BY created_at DESC LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		logger.Sugar.Errorf("Failed to list documents: %v", err)
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []model.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// Search returns chunks whose cosine similarity to embedding exceeds
// threshold, best first, optionally within one document.
func (r *PDFRepository) Search(ctx context.Context, embedding []float32, limit int, threshold float64, documentID *string) ([]model.SearchResult, error) {
	var docFilter sql.NullString
	if documentID != nil && *documentID != "" {
		docFilter = sql.NullString{String: *documentID, Valid: true}
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, document_id, chunk_text, page_number, 1 - (embedding <=> $1) AS similarity, metadata
		FROM pdf_chunks
		WHERE ($4::uuid IS NULL OR document_id = $4::uuid)
		  AND 1 - (embedding <=> $1) > $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		pgvector.NewVector(embedding), threshold, limit, docFilter)
	if err != nil {
		logger.Sugar.Errorf("Error in similarity search: %v", err)
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	results := []model.SearchResult{}
	for rows.Next() {
		var res model.SearchResult
		var meta []byte
		if err := rows.Scan(&res.ID, &res.DocumentID, &res.ChunkText, &res.PageNumber, &res.Similarity, &meta); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		if len(meta) == 0 {
			meta = []byte("{}")
		}
		res.Metadata = json.RawMessage(meta)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logger.Sugar.Infof("Found %d similar chunks", len(results))
	return results, nil
}

// DeleteDocument removes a document and its chunks, returning its storage path.
func (r *PDFRepository) DeleteDocument(ctx context.Context, id string) (string, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM pdf_chunks WHERE document_id = $1", id); err != nil {
		return "", fmt.Errorf("delete chunks: %w", err)
	}
	var storagePath string
	err = tx.QueryRowContext(ctx, "DELETE FROM pdf_documents WHERE id = $1 RETURNING storage_path", id).Scan(&storagePath)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("delete document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit delete: %w", err)
	}
	return storagePath, nil
}
