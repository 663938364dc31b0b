package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketDialer connects to the push gateway. Topics are subscribed with
// JSON control frames and payloads arrive wrapped in ServerFrame.
type WebSocketDialer struct {
	URL          string
	Header       http.Header
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
}

// NewWebSocketDialer returns a dialer for url using gorilla's default dialer.
func NewWebSocketDialer(url string) *WebSocketDialer {
	return &WebSocketDialer{
		URL:          url,
		Dialer:       websocket.DefaultDialer,
		WriteTimeout: 10 * time.Second,
	}
}

// Name implements Dialer.
func (d *WebSocketDialer) Name() string {
	return "websocket"
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	ws, _, err := d.Dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}

	c := &wsConn{
		ws:           ws,
		writeTimeout: d.WriteTimeout,
		handlers:     make(map[Topic]Handler),
		done:         make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu       sync.RWMutex
	handlers map[Topic]Handler

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) readPump() {
	defer close(c.done)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var frame ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed websocket frame")
			continue
		}

		c.mu.RLock()
		h := c.handlers[frame.Topic]
		c.mu.RUnlock()
		if h != nil {
			h(frame.Topic, frame.Payload)
		}
	}
}

func (c *wsConn) Subscribe(topic Topic, h Handler) error {
	c.mu.Lock()
	c.handlers[topic] = h
	c.mu.Unlock()

	return c.writeJSON(ClientFrame{Action: ActionSubscribe, Topic: topic})
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *wsConn) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame, tears down the socket and waits for the read
// pump so no handler runs afterwards.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
		<-c.done
	})
	return err
}
