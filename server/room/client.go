package room

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Config tunes per-connection pumps.
type Config struct {
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

func (c Config) withDefaults() Config {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 8192
	}
	return c
}

// Client is one websocket connection inside a room.
type Client struct {
	ID   string
	Name string

	room   *Room
	conn   *websocket.Conn
	send   chan []byte
	cfg    Config
	logger zerolog.Logger
}

func NewClient(id, name string, room *Room, conn *websocket.Conn, cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		ID:     id,
		Name:   name,
		room:   room,
		conn:   conn,
		send:   make(chan []byte, 256),
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Serve registers the client, starts the write pump and blocks reading frames
// until the connection ends. handle is called for every inbound frame.
func (c *Client) Serve(handle func(*Client, []byte)) {
	if !c.room.join(c) {
		c.conn.Close()
		return
	}
	go c.writePump()
	c.readPump(handle)
}

func (c *Client) readPump(handle func(*Client, []byte)) {
	defer func() {
		c.room.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		handle(c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Reply queues frame for this client only.
func (c *Client) Reply(frame []byte) {
	c.room.reply(c, frame)
}
