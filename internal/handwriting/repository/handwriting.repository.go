package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"canvasboard/internal/handwriting/model"
	"canvasboard/pkg/logger"

	"github.com/pgvector/pgvector-go"
)

var ErrNotFound = errors.New("handwriting note not found")

type HandwritingRepository struct {
	DB *sql.DB
}

func NewHandwritingRepository(db *sql.DB) *HandwritingRepository {
	return &HandwritingRepository{DB: db}
}

func nullableJSON(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(t) == 0 {
			return nil, nil
		}
		return string(t), nil
	case []string:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Insert stores a new note and fills in its id and timestamps.
func (r *HandwritingRepository) Insert(ctx context.Context, n *model.Note) error {
	strokes, err := nullableJSON(n.StrokeIDs)
	if err != nil {
		return fmt.Errorf("encode stroke ids: %w", err)
	}
	bounds, err := nullableJSON(n.PageBounds)
	if err != nil {
		return fmt.Errorf("encode bounds: %w", err)
	}
	if n.Metadata == nil {
		n.Metadata = map[string]interface{}{}
	}
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	err = r.DB.QueryRowContext(ctx, `
		INSERT INTO handwriting_notes (frame_id, room_id, storage_path, stroke_ids, page_bounds, group_id, metadata, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		n.FrameID, n.RoomID, n.StoragePath, strokes, bounds, nullString(n.GroupID), string(meta), n.Status,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to insert handwriting note for frame %s: %v", n.FrameID, err)
		return fmt.Errorf("insert handwriting note: %w", err)
	}
	return nil
}

func (r *HandwritingRepository) Get(ctx context.Context, id string) (*model.Note, error) {
	var (
		n                        model.Note
		strokes, bounds, meta    []byte
		groupID, text, errorText sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, frame_id, room_id, storage_path, stroke_ids, page_bounds, group_id, metadata,
		       status, transcription, error, created_at, updated_at
		FROM handwriting_notes WHERE id = $1`, id,
	).Scan(&n.ID, &n.FrameID, &n.RoomID, &n.StoragePath, &strokes, &bounds, &groupID, &meta,
		&n.Status, &text, &errorText, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get handwriting note %s: %v", id, err)
		return nil, fmt.Errorf("get handwriting note: %w", err)
	}

	if len(strokes) > 0 {
		if err := json.Unmarshal(strokes, &n.StrokeIDs); err != nil {
			logger.Sugar.Warnf("Note %s has unreadable stroke ids: %v", id, err)
		}
	}
	if len(bounds) > 0 {
		n.PageBounds = json.RawMessage(bounds)
	}
	n.Metadata = map[string]interface{}{}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &n.Metadata)
	}
	n.GroupID = groupID.String
	n.Transcription = text.String
	n.Error = errorText.String
	return &n, nil
}

// MarkCompleted stores the transcription and, when present, its embedding.
func (r *HandwritingRepository) MarkCompleted(ctx context.Context, id, transcription string, embedding []float32) error {
	var vec interface{}
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE handwriting_notes
		SET status = $1, transcription = $2, embedding = $3, error = NULL, updated_at = NOW()
		WHERE id = $4`,
		model.StatusCompleted, transcription, vec, id)
	if err != nil {
		return fmt.Errorf("complete note %s: %w", id, err)
	}
	return expectOneRow(res)
}

func (r *HandwritingRepository) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE handwriting_notes SET status = $1, error = $2, updated_at = NOW() WHERE id = $3",
		model.StatusFailed, reason, id)
	if err != nil {
		return fmt.Errorf("fail note %s: %w", id, err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
