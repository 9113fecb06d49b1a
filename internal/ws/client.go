package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"whisperchat/internal/models"
	"whisperchat/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20 // ciphertext payload references, not file bytes
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var errSlowClient = errors.New("send buffer full")

// Client is one live websocket connection. It implements session.Conn; Send
// queues without blocking so a stalled connection never delays a fan-out.
type Client struct {
	user     *models.User
	conn     *websocket.Conn
	send     chan []byte
	router   *Router
	registry *session.Registry
}

func (c *Client) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return errSlowClient
	}
}

// ServeWS upgrades an authenticated request to a websocket session and starts
// the read/write pumps. The caller has already resolved the user.
func ServeWS(rt *Router, registry *session.Registry, w http.ResponseWriter, r *http.Request, user *models.User) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade for user %d: %v", user.ID, err)
		return
	}

	c := &Client{
		user:     user,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		router:   rt,
		registry: registry,
	}
	registry.Add(user.ID, c)

	go c.writePump()
	go c.readPump()
}

// readPump processes inbound packets sequentially for this connection.
func (c *Client) readPump() {
	defer func() {
		c.registry.Remove(c.user.ID, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read for user %d: %v", c.user.ID, err)
			}
			return
		}

		var envelope struct {
			Packet string `json:"packet"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Packet == "" {
			c.reply(errorEvent("Invalid packet format"))
			continue
		}

		for _, ev := range c.router.Handle(c.user, envelope.Packet, raw) {
			c.reply(ev)
		}
	}
}

func (c *Client) reply(ev Event) {
	data, err := ev.encode()
	if err != nil {
		log.Printf("ws: encode reply for user %d: %v", c.user.ID, err)
		return
	}
	if err := c.Send(data); err != nil {
		log.Printf("ws: reply to user %d: %v", c.user.ID, err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
