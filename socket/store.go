package socket

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Snapshot is the persisted state of one canvas room.
type Snapshot struct {
	Clock   int64                      `json:"clock"`
	Records map[string]json.RawMessage `json:"records"`
}

func emptySnapshot() Snapshot {
	return Snapshot{Records: make(map[string]json.RawMessage)}
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{Clock: s.Clock, Records: make(map[string]json.RawMessage, len(s.Records))}
	for id, rec := range s.Records {
		cp := make(json.RawMessage, len(rec))
		copy(cp, rec)
		out.Records[id] = cp
	}
	return out
}

// RoomStore persists room snapshots in the canvas_rooms table.
type RoomStore struct {
	DB *sql.DB
}

func NewRoomStore(db *sql.DB) *RoomStore {
	return &RoomStore{DB: db}
}

// Load returns the stored snapshot, or an empty one for rooms never saved.
func (s *RoomStore) Load(ctx context.Context, roomID string) (Snapshot, error) {
	var raw []byte
	var clock int64
	err := s.DB.QueryRowContext(ctx, "SELECT snapshot, clock FROM canvas_rooms WHERE id = $1", roomID).Scan(&raw, &clock)
	if errors.Is(err, sql.ErrNoRows) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load room %s: %w", roomID, err)
	}

	snap := emptySnapshot()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &snap.Records); err != nil {
			return Snapshot{}, fmt.Errorf("decode room %s snapshot: %w", roomID, err)
		}
		if snap.Records == nil {
			snap.Records = make(map[string]json.RawMessage)
		}
	}
	snap.Clock = clock
	return snap, nil
}

// Save upserts the snapshot for a room.
func (s *RoomStore) Save(ctx context.Context, roomID string, snap Snapshot) error {
	raw, err := json.Marshal(snap.Records)
	if err != nil {
		return fmt.Errorf("encode room %s snapshot: %w", roomID, err)
	}
	// lib/pq wants a string for JSONB, not []byte.
	_, err = s.DB.ExecContext(ctx, `INSERT INTO canvas_rooms (id, snapshot, clock, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET snapshot = $2, clock = $3, updated_at = NOW()`,
		roomID, string(raw), snap.Clock)
	if err != nil {
		return fmt.Errorf("save room %s: %w", roomID, err)
	}
	return nil
}

// Delete removes a room. Deleting a missing room is not an error.
func (s *RoomStore) Delete(ctx context.Context, roomID string) error {
	if _, err := s.DB.ExecContext(ctx, "DELETE FROM canvas_rooms WHERE id = $1", roomID); err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	return nil
}
