// Package livefeed provides real-time rescue telemetry streaming via
// WebSocket, for ground-station dashboards watching an active rescue.
package livefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Streamer broadcasts rescue telemetry to WebSocket clients
type Streamer struct {
	mu        sync.RWMutex
	clients   map[*Client]bool
	broadcast chan *StatusMessage

	upgrader websocket.Upgrader
	logger   *logrus.Logger

	// Statistics
	messagesSent  uint64
	clientsServed uint64
}

// Client represents a connected WebSocket client
type Client struct {
	conn *websocket.Conn
	send chan *StatusMessage
	id   string
}

// StatusMessage is one telemetry frame of the rescue subsystem.
type StatusMessage struct {
	Timestamp time.Time `json:"timestamp"`

	Phase   string `json:"phase"`
	Failure string `json:"failure"`

	DistanceToHomeM float64 `json:"distance_to_home_m"`
	AltitudeM       float64 `json:"altitude_m"`
	TargetAltitudeM float64 `json:"target_altitude_m"`
	VelocityToHome  float64 `json:"velocity_to_home_cm_s"`
	ErrorAngleDeg   float64 `json:"error_angle_deg"`
	GroundSpeedCMS  float64 `json:"ground_speed_cm_s"`

	YawRateDegS  float64 `json:"yaw_rate_deg_s"`
	PitchBiasDeg float64 `json:"pitch_bias_deg"`
	RollBiasDeg  float64 `json:"roll_bias_deg"`
	ThrottleNorm float64 `json:"throttle_norm"`

	Available   bool `json:"available"`
	MagDisabled bool `json:"mag_disabled"`
}

// NewStreamer creates a telemetry streamer.
func NewStreamer(logger *logrus.Logger) *Streamer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Streamer{
		clients:   make(map[*Client]bool),
		broadcast: make(chan *StatusMessage, 100),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// HandleWebSocket handles incoming WebSocket connections
func (s *Streamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("Failed to upgrade WebSocket")
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan *StatusMessage, 50),
		id:   r.RemoteAddr,
	}

	s.registerClient(client)
	s.logger.WithField("client", client.id).Info("Telemetry client connected")

	ctx, cancel := context.WithCancel(context.Background())
	go client.writePump(ctx)
	go client.readPump(cancel, s)
}

func (s *Streamer) registerClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
	s.clientsServed++
}

func (s *Streamer) unregisterClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
		s.logger.WithField("client", client.id).Info("Telemetry client disconnected")
	}
}

// Broadcast queues a status frame for all clients. The oldest frame drops
// when the buffer is full; telemetry is only ever current.
func (s *Streamer) Broadcast(msg *StatusMessage) {
	select {
	case s.broadcast <- msg:
	default:
		select {
		case <-s.broadcast:
		default:
		}
		s.broadcast <- msg
	}
}

// Run distributes frames until the context ends.
func (s *Streamer) Run(ctx context.Context) error {
	s.logger.Info("Telemetry streamer started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Telemetry streamer stopping")
			s.closeAllClients()
			return ctx.Err()

		case msg := <-s.broadcast:
			s.sendToClients(msg)
		}
	}
}

func (s *Streamer) sendToClients(msg *StatusMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- msg:
			s.messagesSent++
		default:
			// Client buffer full, skip
		}
	}
}

func (s *Streamer) closeAllClients() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		client.conn.Close()
		close(client.send)
		delete(s.clients, client)
	}
}

// Stats returns streaming statistics.
func (s *Streamer) Stats() (clients int, sent, served uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients), s.messagesSent, s.clientsServed
}

// writePump sends frames to the WebSocket.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client messages; the feed is one-way but pongs and
// close frames still need handling.
func (c *Client) readPump(cancel context.CancelFunc, s *Streamer) {
	defer func() {
		cancel()
		s.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.WithError(err).Error("WebSocket read error")
			}
			return
		}
	}
}
