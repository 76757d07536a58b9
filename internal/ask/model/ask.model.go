package model

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	Prompt   string   `json:"prompt"`
	Context  string   `json:"context,omitempty"`
	ShapeIDs []string `json:"shape_ids,omitempty"`
	RoomID   string   `json:"room_id,omitempty"`
}

// StreamFrame is one SSE data payload.
type StreamFrame struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}
