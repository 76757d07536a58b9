package model

import (
	"encoding/json"
	"time"
)

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Note is one uploaded handwriting frame and its OCR state.
type Note struct {
	ID            string                 `json:"id"`
	FrameID       string                 `json:"frame_id"`
	RoomID        string                 `json:"room_id"`
	StoragePath   string                 `json:"storage_path"`
	StrokeIDs     []string               `json:"stroke_ids"`
	PageBounds    json.RawMessage        `json:"page_bounds"`
	GroupID       string                 `json:"group_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata"`
	Status        string                 `json:"status"`
	Transcription string                 `json:"transcription,omitempty"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	PublicURL     string                 `json:"public_url,omitempty"`
}

// UploadRequest carries the multipart fields of a handwriting upload.
type UploadRequest struct {
	Image       []byte
	ContentType string
	FrameID     string
	RoomID      string
	Timestamp   string
	Bounds      string
	ShapeIDs    string
	GroupID     string
}

type UploadResponse struct {
	Success     bool   `json:"success"`
	NoteID      string `json:"note_id"`
	FrameID     string `json:"frameId"`
	StoragePath string `json:"storage_path"`
	PublicURL   string `json:"public_url"`
	Status      string `json:"status"`
}
