package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livebid/go/internal/livebid/transport"
)

// ConnectionManager tracks WebSocket connections and the topics each one is
// subscribed to.
type ConnectionManager struct {
	// Subscribers organized by topic
	topics map[transport.Topic]map[*Connection]bool
	conns  map[*Connection]bool
	mu     sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	metrics  *Metrics

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	UserID  string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// guarded by Manager.mu
	subscriptions map[transport.Topic]bool

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is one payload for every subscriber of a topic.
type BroadcastMessage struct {
	Topic   transport.Topic
	Payload json.RawMessage
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024, // control frames only
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager. A nil
// metrics disables instrumentation.
func NewConnectionManager(config ConnectionConfig, metrics *Metrics) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	return &ConnectionManager{
		topics: make(map[transport.Topic]map[*Connection]bool),
		conns:  make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		metrics:     metrics,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start processes broadcasts until ctx is cancelled, then closes every
// connection.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		UserID:        userID,
		Conn:          conn,
		Send:          make(chan []byte, cm.config.SendBufferSize),
		Manager:       cm,
		subscriptions: make(map[transport.Topic]bool),
		ConnectedAt:   time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.conns[conn] = true
	cm.metrics.setConnections(len(cm.conns))
}

// unregisterConnection drops conn and all of its subscriptions. It is safe to
// call more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.conns[conn] {
		return
	}
	delete(cm.conns, conn)
	for topic := range conn.subscriptions {
		cm.removeSubscriber(topic, conn)
	}
	close(conn.Send)
	cm.metrics.setConnections(len(cm.conns))

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) subscribe(conn *Connection, topic transport.Topic) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.conns[conn] {
		return
	}
	if cm.topics[topic] == nil {
		cm.topics[topic] = make(map[*Connection]bool)
	}
	cm.topics[topic][conn] = true
	conn.subscriptions[topic] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("topic", string(topic)).
		Int("subscribers", len(cm.topics[topic])).
		Msg("topic subscribed")
}

func (cm *ConnectionManager) unsubscribe(conn *Connection, topic transport.Topic) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	delete(conn.subscriptions, topic)
	cm.removeSubscriber(topic, conn)
}

// removeSubscriber requires cm.mu.
func (cm *ConnectionManager) removeSubscriber(topic transport.Topic, conn *Connection) {
	subs, ok := cm.topics[topic]
	if !ok {
		return
	}
	delete(subs, conn)
	if len(subs) == 0 {
		delete(cm.topics, topic)
	}
}

// Broadcast queues payload for every subscriber of topic. It drops the
// payload when the queue is full.
func (cm *ConnectionManager) Broadcast(topic transport.Topic, payload []byte) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Topic: topic, Payload: payload}:
	default:
		cm.metrics.dropped("queue_full")
		log.Warn().Str("topic", string(topic)).Msg("broadcast channel full, dropping message")
	}
}

// SubscriberCount returns the number of connections subscribed to topic.
func (cm *ConnectionManager) SubscriberCount(topic transport.Topic) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.topics[topic])
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	subs := cm.topics[message.Topic]
	targets := make([]*Connection, 0, len(subs))
	for conn := range subs {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	// Marshal the frame once
	data, err := json.Marshal(transport.ServerFrame{Topic: message.Topic, Payload: message.Payload})
	if err != nil {
		cm.metrics.dropped("marshal")
		log.Error().Err(err).Str("topic", string(message.Topic)).Msg("failed to marshal frame for broadcast")
		return
	}

	for _, conn := range targets {
		if !cm.trySend(conn, data) {
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}
	cm.metrics.relayed(message.Topic, len(targets))

	log.Debug().
		Str("topic", string(message.Topic)).
		Int("connections", len(targets)).
		Msg("frame broadcasted")
}

// trySend reports false when the connection cannot keep up. A connection
// unregistered meanwhile counts as delivered.
func (cm *ConnectionManager) trySend(conn *Connection, data []byte) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.conns[conn] {
		return true
	}
	select {
	case conn.Send <- data:
		return true
	default:
		return false
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.conns))
	for conn := range cm.conns {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		cm.unregisterConnection(conn)
	}
}

// Stats summarizes active connections.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveTopics     int            `json:"active_topics"`
	Subscribers      map[string]int `json:"subscribers"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{
		TotalConnections: len(cm.conns),
		ActiveTopics:     len(cm.topics),
		Subscribers:      make(map[string]int, len(cm.topics)),
	}
	for topic, subs := range cm.topics {
		stats.Subscribers[string(topic)] = len(subs)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles control frames from the client
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	var frame transport.ClientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("ignoring malformed client frame")
		return
	}
	if _, err := frame.Topic.Subject(); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("ignoring frame for unknown topic")
		return
	}

	switch frame.Action {
	case transport.ActionSubscribe:
		c.Manager.subscribe(c, frame.Topic)
	case transport.ActionUnsubscribe:
		c.Manager.unsubscribe(c, frame.Topic)
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("action", frame.Action).
			Msg("ignoring unknown client action")
	}
}
