package simulator

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
)

const (
	wsAuthTimeout = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingPeriod  = 30 * time.Second
	wsWriteWait   = 10 * time.Second
	wsSendBuffer  = 32
)

type frame struct {
	Type  string          `json:"type"`
	Token string          `json:"token,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type wsClient struct {
	userID string
	role   user.Role
	conn   *websocket.Conn
	send   chan []byte
}

// hub tracks connected websocket clients per user.
type hub struct {
	mu      sync.Mutex
	clients map[string]map[*wsClient]struct{}
	logger  *zap.Logger
}

func newHub(logger *zap.Logger) *hub {
	return &hub{clients: make(map[string]map[*wsClient]struct{}), logger: logger}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*wsClient]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
}

// send queues a frame for every connection of the user. Slow clients are
// dropped rather than blocking the sender.
func (h *hub) send(userID, msgType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal ws frame", zap.Error(err))
		return
	}
	msg, _ := json.Marshal(frame{Type: msgType, Data: payload})

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- msg:
		default:
			delete(h.clients[userID], c)
			close(c.send)
		}
	}
}

// Connections returns how many sockets the user has open.
func (s *Server) Connections(userID string) int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return len(s.hub.clients[userID])
}

// DropConnections closes every open socket, as a server restart would.
func (s *Server) DropConnections() {
	s.hub.mu.Lock()
	var all []*wsClient
	for _, set := range s.hub.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	s.hub.mu.Unlock()
	for _, c := range all {
		_ = c.conn.Close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// serveWS handles GET /ws. The first frame must authenticate the socket.
func (s *Server) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	var hello frame
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "auth" {
		_ = conn.WriteJSON(frame{Type: "error", Data: json.RawMessage(`{"message":"auth frame required"}`)})
		_ = conn.Close()
		return
	}
	claims, err := s.jwt.ValidateToken(hello.Token)
	if err != nil {
		_ = conn.WriteJSON(frame{Type: "error", Data: json.RawMessage(`{"message":"invalid token"}`)})
		_ = conn.Close()
		return
	}

	client := &wsClient{
		userID: claims.Subject,
		role:   user.Role(claims.Role),
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
	}
	s.hub.register(client)
	client.send <- []byte(`{"type":"auth_ok"}`)

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.hub.unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg frame
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch msg.Type {
		case "location_update":
			s.handleLocationFrame(c, msg.Data)
		default:
			s.logger.Debug("ignoring ws frame", zap.String("type", msg.Type))
		}
	}
}

// handleLocationFrame applies {"trip_id", "lat", "lng"} from a participant.
func (s *Server) handleLocationFrame(c *wsClient, data json.RawMessage) {
	var upd struct {
		TripID string `json:"trip_id"`
		trip.Location
	}
	if err := json.Unmarshal(data, &upd); err != nil || upd.Location.Validate() != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rd, err := s.participantLocked(upd.TripID, c.userID, c.role)
	if err != nil || (rd.trip.PassengerID != c.userID && rd.trip.DriverID != c.userID) {
		return
	}
	s.placeLocked(rd, c.role, upd.Location)
}
