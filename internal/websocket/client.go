package websocket

import (
	"sync"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/config"
	"github.com/dennisdiepolder/livetalk/internal/metrics"
	"github.com/dennisdiepolder/livetalk/internal/signaling"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is a middleman between the websocket connection and the broker.
// Its id is the endpoint identity used by every signaling operation.
type Client struct {
	// Unique client ID
	id string

	// The hub this client belongs to
	hub *Hub

	// The broker that owns presence and call state
	broker *signaling.Broker

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Configuration
	config *config.Config

	// Logger
	logger zerolog.Logger

	// done is closed when the read pump exits
	done chan struct{}

	// closeOnce ensures send channel is closed only once
	closeOnce sync.Once
}

// NewClient creates a new Client
func NewClient(hub *Hub, broker *signaling.Broker, conn *websocket.Conn, cfg *config.Config, logger zerolog.Logger) *Client {
	clientID := uuid.New().String()
	return &Client{
		id:     clientID,
		hub:    hub,
		broker: broker,
		conn:   conn,
		send:   make(chan []byte, 256),
		config: cfg,
		logger: logger.With().Str("client_id", clientID).Logger(),
		done:   make(chan struct{}),
	}
}

// readPump pumps messages from the websocket connection to the broker
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.broker.Disconnect(c.id)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	m := metrics.Get()
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.RecordWebSocketError()
				c.logger.Error().Err(err).Msg("websocket read error")
			}
			break
		}
		m.RecordWebSocketMessage()
		c.dispatch(message)
	}
}

// writePump pumps messages from the hub to the websocket connection
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine. Each event is its own frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Close safely closes the client's send channel (idempotent)
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// safeSend attempts to send a message, recovering from panic if channel is closed
func (c *Client) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}
