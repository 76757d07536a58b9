package socket

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"canvasboard/internal/canvas"
	"canvasboard/pkg/logger"
)

const (
	SnapshotType       = "SNAPSHOT"        // Full room state, sent on join and after a REST replace
	UpdateType         = "UPDATE"          // Record puts/removes
	PresenceType       = "PRESENCE"        // Cursor/selection, relayed only
	PresenceUpdateType = "PRESENCE_UPDATE" // A user joined or left
	ErrorType          = "ERROR"

	RoleEditor = "editor"
	RoleViewer = "viewer"
)

type WSMessage struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	UserID  string          `json:"user_id,omitempty"`
	Clock   int64           `json:"clock,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	sender *Client
}

// Changes is the payload of an UPDATE message.
type Changes struct {
	Put    []json.RawMessage `json:"put,omitempty"`
	Remove []string          `json:"remove,omitempty"`
}

type UserStatus struct {
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen"`
}

type room struct {
	clients  map[*Client]bool
	presence map[string]UserStatus
	snapshot Snapshot
	dirty    bool
}

type Hub struct {
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client

	store        *RoomStore
	saveInterval time.Duration
	done         chan struct{}

	mu    sync.Mutex
	rooms map[string]*room
}

func NewHub(store *RoomStore, saveInterval time.Duration) *Hub {
	if saveInterval <= 0 {
		saveInterval = 10 * time.Second
	}
	return &Hub{
		Broadcast:    make(chan WSMessage),
		Register:     make(chan *Client),
		Unregister:   make(chan *Client),
		store:        store,
		saveInterval: saveInterval,
		done:         make(chan struct{}),
		rooms:        make(map[string]*room),
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run is the hub event loop. When ctx is cancelled every dirty room is
// flushed before Run returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			h.flushDirty(flushCtx)
			cancel()
			return

		case client := <-h.Register:
			h.register(ctx, client)

		case client := <-h.Unregister:
			h.unregister(ctx, client)

		case msg := <-h.Broadcast:
			h.broadcast(msg)
		}
	}
}

func (h *Hub) register(ctx context.Context, client *Client) {
	h.mu.Lock()
	r := h.rooms[client.RoomID]
	if r == nil {
		// First user in the room: load its snapshot from the database.
		snap, err := h.store.Load(ctx, client.RoomID)
		if err != nil {
			logger.Sugar.Errorf("Failed to load room %s: %v", client.RoomID, err)
			snap = emptySnapshot()
		}
		r = &room{
			clients:  make(map[*Client]bool),
			presence: make(map[string]UserStatus),
			snapshot: snap,
		}
		h.rooms[client.RoomID] = r
	}
	r.clients[client] = true
	now := time.Now()
	r.presence[client.UserID] = UserStatus{UserID: client.UserID, Role: client.Role, JoinedAt: now, LastSeen: now}

	records, _ := json.Marshal(r.snapshot.Records)
	initial, _ := json.Marshal(WSMessage{Type: SnapshotType, RoomID: client.RoomID, UserID: client.UserID, Clock: r.snapshot.Clock, Payload: records})
	// Send the full room state to the user who just joined.
	client.Send <- initial
	h.mu.Unlock()

	h.broadcastPresenceUpdate(client.RoomID)
}

func (h *Hub) unregister(ctx context.Context, client *Client) {
	roomID := client.RoomID

	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok || !r.clients[client] {
		h.mu.Unlock()
		return
	}
	h.removeLocked(r, client)

	empty := len(r.clients) == 0
	dirty := r.dirty
	snap := Snapshot{Clock: r.snapshot.Clock}
	if empty && dirty {
		snap = r.snapshot.clone()
	}
	h.mu.Unlock()

	if !empty {
		h.broadcastPresenceUpdate(roomID)
		return
	}

	if dirty {
		if err := h.store.Save(ctx, roomID, snap); err != nil {
			// Keep the room in memory; the save worker retries and evicts it.
			logger.Sugar.Errorf("Failed to save room %s on close: %v", roomID, err)
			return
		}
	}

	h.mu.Lock()
	if r, ok := h.rooms[roomID]; ok && len(r.clients) == 0 && r.snapshot.Clock == snap.Clock {
		delete(h.rooms, roomID)
		logger.Sugar.Infof("Closed and cleaned up empty room: %s", roomID)
	}
	h.mu.Unlock()
}

func (h *Hub) userStillConnected(r *room, userID string) bool {
	for c := range r.clients {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) broadcast(msg WSMessage) {
	h.mu.Lock()
	r, ok := h.rooms[msg.RoomID]
	if !ok {
		h.mu.Unlock()
		return
	}

	switch msg.Type {
	case UpdateType:
		var changes Changes
		if err := json.Unmarshal(msg.Payload, &changes); err != nil {
			h.mu.Unlock()
			logger.Sugar.Warnf("Dropping malformed update from %s in room %s: %v", msg.UserID, msg.RoomID, err)
			return
		}
		applyChanges(&r.snapshot, changes)
		r.snapshot.Clock++
		r.dirty = true
		msg.Clock = r.snapshot.Clock
	case PresenceType:
		if st, ok := r.presence[msg.UserID]; ok {
			st.LastSeen = time.Now()
			r.presence[msg.UserID] = st
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.mu.Unlock()
		logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
		return
	}

	for client := range r.clients {
		if client != msg.sender { // Don't echo back to the sending connection.
			h.sendLocked(r, client, payload)
		}
	}
	h.mu.Unlock()
}

// sendLocked queues payload without blocking. A client whose buffer is full is
// lagging and gets dropped. Callers hold h.mu, so Send is never closed under us.
func (h *Hub) sendLocked(r *room, client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		logger.Sugar.Warnf("Client %s's send buffer is full. Dropping.", client.UserID)
		h.removeLocked(r, client)
	}
}

func (h *Hub) removeLocked(r *room, client *Client) {
	if !r.clients[client] {
		return
	}
	delete(r.clients, client)
	close(client.Send)
	if !h.userStillConnected(r, client.UserID) {
		delete(r.presence, client.UserID)
	}
}

func applyChanges(snap *Snapshot, changes Changes) {
	for _, raw := range changes.Put {
		var hdr canvas.RecordHeader
		if err := json.Unmarshal(raw, &hdr); err != nil || hdr.ID == "" {
			continue
		}
		snap.Records[hdr.ID] = raw
	}
	for _, id := range changes.Remove {
		delete(snap.Records, id)
	}
}

// SaveWorker periodically writes dirty rooms to the database until ctx ends.
func (h *Hub) SaveWorker(ctx context.Context) {
	ticker := time.NewTicker(h.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.flushDirty(ctx)
		}
	}
}

func (h *Hub) flushDirty(ctx context.Context) {
	toSave := make(map[string]Snapshot)

	h.mu.Lock()
	for roomID, r := range h.rooms {
		if r.dirty {
			toSave[roomID] = r.snapshot.clone()
		}
	}
	h.mu.Unlock()

	for roomID, snap := range toSave {
		if err := h.store.Save(ctx, roomID, snap); err != nil {
			logger.Sugar.Errorf("Failed to save room %s: %v", roomID, err)
			continue // Stays dirty, retried on the next tick.
		}

		h.mu.Lock()
		if r, ok := h.rooms[roomID]; ok && r.snapshot.Clock == snap.Clock {
			// Only clean if nothing changed while we were saving.
			r.dirty = false
			if len(r.clients) == 0 {
				delete(h.rooms, roomID)
			}
		}
		h.mu.Unlock()

		logger.Sugar.Infof("Auto-saved room: %s (clock %d)", roomID, snap.Clock)
	}
}

// Snapshot returns the current state of a room: the live copy when clients are
// connected, the persisted one otherwise.
func (h *Hub) Snapshot(ctx context.Context, roomID string) (Snapshot, error) {
	h.mu.Lock()
	if r, ok := h.rooms[roomID]; ok {
		snap := r.snapshot.clone()
		h.mu.Unlock()
		return snap, nil
	}
	h.mu.Unlock()
	return h.store.Load(ctx, roomID)
}

// Shapes returns the shape records with the given ids, skipping unknown ids
// and non-shape records.
func (h *Hub) Shapes(ctx context.Context, roomID string, ids []string) ([]canvas.Shape, error) {
	snap, err := h.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}
	shapes := make([]canvas.Shape, 0, len(ids))
	for _, id := range ids {
		raw, ok := snap.Records[id]
		if !ok {
			continue
		}
		s, err := canvas.ParseShape(raw)
		if err != nil {
			continue
		}
		shapes = append(shapes, s)
	}
	return shapes, nil
}

// ReplaceSnapshot overwrites a room's records, persists them right away and
// pushes the new state to every connected client.
func (h *Hub) ReplaceSnapshot(ctx context.Context, roomID string, records []json.RawMessage) (Snapshot, error) {
	next := emptySnapshot()
	applyChanges(&next, Changes{Put: records})

	h.mu.Lock()
	r, live := h.rooms[roomID]
	if live {
		next.Clock = r.snapshot.Clock + 1
	}
	h.mu.Unlock()

	if !live {
		prev, err := h.store.Load(ctx, roomID)
		if err != nil {
			return Snapshot{}, err
		}
		next.Clock = prev.Clock + 1
	}

	if err := h.store.Save(ctx, roomID, next); err != nil {
		return Snapshot{}, err
	}

	payloadRecords, _ := json.Marshal(next.Records)

	h.mu.Lock()
	if r, ok := h.rooms[roomID]; ok {
		if r.snapshot.Clock >= next.Clock {
			// Updates landed while saving; keep the clock monotonic and save again later.
			next.Clock = r.snapshot.Clock + 1
			r.dirty = true
		}
		r.snapshot = next.clone()
		payload, _ := json.Marshal(WSMessage{Type: SnapshotType, RoomID: roomID, Clock: next.Clock, Payload: payloadRecords})
		for c := range r.clients {
			h.sendLocked(r, c, payload)
		}
	}
	h.mu.Unlock()

	return next, nil
}

// RemoveRoom deletes a room from memory and storage and disconnects its clients.
func (h *Hub) RemoveRoom(ctx context.Context, roomID string) error {
	h.mu.Lock()
	// Drop from memory first so the save worker cannot write it back.
	r, ok := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()

	if ok {
		for client := range r.clients {
			client.Conn.Close() // readPump exits; its unregister finds no room.
		}
	}
	return h.store.Delete(ctx, roomID)
}

// Presence lists the users connected to a room, ordered by join time.
func (h *Hub) Presence(roomID string) []UserStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return []UserStatus{}
	}
	out := make([]UserStatus, 0, len(r.presence))
	for _, st := range r.presence {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (h *Hub) broadcastPresenceUpdate(roomID string) {
	statuses := h.Presence(roomID)
	payload, err := json.Marshal(statuses)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling presence broadcast: %v", err)
		return
	}
	msg, _ := json.Marshal(WSMessage{Type: PresenceUpdateType, RoomID: roomID, Payload: payload})

	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	for client := range r.clients {
		select {
		case client.Send <- msg:
		default:
			// The pumps deal with unresponsive clients.
			logger.Sugar.Warnf("Client %s's send buffer was full during presence update.", client.UserID)
		}
	}
}
