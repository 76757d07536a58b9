package model

import (
	"encoding/json"
	"time"
)

const (
	DefaultSearchLimit     = 10
	DefaultSearchThreshold = 0.7
	DefaultListLimit       = 50
	MaxListLimit           = 200
	MaxSearchLimit         = 100
)

type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	StoragePath string    `json:"storage_path"`
	PageCount   int       `json:"page_count"`
	ChunkCount  int       `json:"chunk_count"`
	FileSize    int64     `json:"file_size"`
	CreatedAt   time.Time `json:"created_at"`
	PublicURL   string    `json:"public_url,omitempty"`
}

// Chunk is an overlapping window of one page's text.
type Chunk struct {
	Text       string
	PageNumber int
	ChunkIndex int
	CharStart  int
	CharEnd    int
}

type ChunkMetadata struct {
	CharStart  int `json:"char_start"`
	CharEnd    int `json:"char_end"`
	TextLength int `json:"text_length"`
}

type UploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	PageCount  int    `json:"page_count"`
	ChunkCount int    `json:"chunk_count"`
	FileSize   int64  `json:"file_size"`
	PublicURL  string `json:"public_url"`
	Status     string `json:"status"`
}

type ListResponse struct {
	Documents []Document `json:"documents"`
	Count     int        `json:"count"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

type SearchRequest struct {
	Query      string   `json:"query"`
	Limit      *int     `json:"limit"`
	Threshold  *float64 `json:"threshold"`
	DocumentID *string  `json:"document_id"`
}

// Normalize fills defaults and clamps the limit.
func (r *SearchRequest) Normalize() (limit int, threshold float64) {
	limit = DefaultSearchLimit
	if r.Limit != nil && *r.Limit > 0 {
		limit = *r.Limit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	threshold = DefaultSearchThreshold
	if r.Threshold != nil {
		threshold = *r.Threshold
	}
	return limit, threshold
}

type SearchResult struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	ChunkText  string          `json:"chunk_text"`
	PageNumber int             `json:"page_number"`
	Similarity float64         `json:"similarity"`
	Metadata   json.RawMessage `json:"metadata"`
}

type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}
