package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WebSocket message types for the document verdict protocol
const (
	// Client -> Server messages
	MsgTypeWatch = "document:watch"
	MsgTypePing  = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeVerdict   = "document:verdict"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string          `json:"type"`
	Label     string          `json:"label,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSErrorResponse is sent for rejected client messages.
type WSErrorResponse struct {
	Type    string `json:"type"`
	Label   string `json:"label,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes document verdicts as scoring finishes so the
// upload step does not have to poll.
type WebSocketHandler struct {
	sessions    SessionManager
	upgrader    websocket.Upgrader
	waitTimeout time.Duration
}

// NewWebSocketHandler creates a new verdict socket handler
func NewWebSocketHandler(sessions SessionManager, waitTimeout time.Duration) *WebSocketHandler {
	if waitTimeout <= 0 {
		waitTimeout = time.Minute
	}
	return &WebSocketHandler{
		sessions:    sessions,
		waitTimeout: waitTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// wsConn serialises writes; gorilla connections allow one writer at a time.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.WriteJSON(v); err != nil {
		fmt.Printf("[WebSocket] Write failed: %v\n", err)
	}
}

// HandleWebSocket upgrades the connection and answers watch requests for
// the session in :sessionId until the client disconnects.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	id := c.Param("sessionId")
	if _, ok := wsh.sessions.Get(id); !ok {
		return NewNotFoundError("session", id)
	}

	raw, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	conn := &wsConn{Conn: raw}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	fmt.Printf("[WebSocket %s] Client connected\n", shortID(id))
	conn.send(WSMessage{Type: MsgTypeConnected, Timestamp: time.Now().UnixMilli()})

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[WebSocket %s] Connection error: %v\n", shortID(id), err)
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			conn.send(WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
		case MsgTypeWatch:
			if msg.Label == "" {
				conn.send(WSErrorResponse{Type: MsgTypeError, Message: "label is required", Code: "INVALID_PAYLOAD"})
				continue
			}
			wg.Add(1)
			go func(label string) {
				defer wg.Done()
				wsh.watch(ctx, conn, id, label)
			}(msg.Label)
		default:
			conn.send(WSErrorResponse{Type: MsgTypeError, Message: "Unknown message type: " + msg.Type, Code: "INVALID_TYPE"})
		}
	}

	fmt.Printf("[WebSocket %s] Client disconnected\n", shortID(id))
	return nil
}

func (wsh *WebSocketHandler) watch(ctx context.Context, conn *wsConn, id, label string) {
	ctx, cancel := context.WithTimeout(ctx, wsh.waitTimeout)
	defer cancel()

	slot, err := wsh.sessions.WaitDocument(ctx, id, label)
	if err != nil {
		if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
			return
		}
		apiErr := toAPIError(err, id)
		conn.send(WSErrorResponse{Type: MsgTypeError, Label: label, Message: apiErr.Message, Code: apiErr.Code})
		return
	}

	payload, err := json.Marshal(slot)
	if err != nil {
		conn.send(WSErrorResponse{Type: MsgTypeError, Label: label, Message: err.Error(), Code: "ENCODE_ERROR"})
		return
	}
	conn.send(WSMessage{Type: MsgTypeVerdict, Label: label, Payload: payload, Timestamp: time.Now().UnixMilli()})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
