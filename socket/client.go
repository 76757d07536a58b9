package socket

import (
	"encoding/json"
	"net/http"
	"time"

	"canvasboard/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second // Must be less than pongWait.
	maxMessageSize = 4 << 20
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The canvas is served from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	RoomID string
	UserID string
	Role   string
	Send   chan []byte
}

// ServeWs upgrades the request and joins the caller to roomID. Passing
// mode=view in the query joins as a read-only viewer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, roomID, userID string) {
	if roomID == "" {
		http.Error(w, "Missing room id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	role := RoleEditor
	if r.URL.Query().Get("mode") == "view" {
		role = RoleViewer
	}

	client := &Client{
		Hub:    hub,
		Conn:   conn,
		RoomID: roomID,
		UserID: userID,
		Role:   role,
		Send:   make(chan []byte, sendBuffer),
	}

	select {
	case hub.Register <- client:
	case <-hub.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.Done():
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, rawMessage, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(rawMessage, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling message: %v", err)
			continue
		}

		// Server-authoritative fields, so nobody can speak for someone else.
		msg.RoomID = c.RoomID
		msg.UserID = c.UserID
		msg.Clock = 0
		msg.sender = c

		switch msg.Type {
		case UpdateType:
			if c.Role != RoleEditor {
				logger.Sugar.Warnf("Permission Denied: User %s (Role: %s) tried to edit room %s", c.UserID, c.Role, c.RoomID)
				c.reject("read-only connection")
				continue
			}
		case PresenceType:
		default:
			logger.Sugar.Warnf("Ignoring message type %q from %s", msg.Type, c.UserID)
			continue
		}

		select {
		case c.Hub.Broadcast <- msg:
		case <-c.Hub.Done():
			return
		}
	}
}

// reject tells the client its message was refused. It goes through the hub so
// the Send channel is only touched under the hub lock.
func (c *Client) reject(reason string) {
	payload, _ := json.Marshal(map[string]string{"error": reason})
	msg, _ := json.Marshal(WSMessage{Type: ErrorType, RoomID: c.RoomID, UserID: c.UserID, Payload: payload})

	c.Hub.mu.Lock()
	defer c.Hub.mu.Unlock()
	if r, ok := c.Hub.rooms[c.RoomID]; ok && r.clients[c] {
		c.Hub.sendLocked(r, c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Connection is dead
			}
		}
	}
}
