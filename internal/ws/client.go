package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messaging-service/internal/models"
	"messaging-service/internal/presence"
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("client send buffer full")
)

// Client is one authenticated websocket connection. Outbound frames go through
// a bounded queue drained by a single writer goroutine.
type Client struct {
	ID      string
	Session presence.Session
	Info    ConnInfo

	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	once       sync.Once
	closeCode  int
	closeText  string
	pingPeriod time.Duration
	writeWait  time.Duration
}

func newClient(conn *websocket.Conn, session presence.Session, info ConnInfo, opts Options) *Client {
	return &Client{
		ID:         session.SessionID,
		Session:    session,
		Info:       info,
		conn:       conn,
		send:       make(chan []byte, opts.SendBuffer),
		done:       make(chan struct{}),
		pingPeriod: opts.PingPeriod,
		writeWait:  opts.WriteWait,
	}
}

// Send enqueues payload without blocking. A full queue closes the client.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.ClosePolicyViolation, "send buffer full")
		return errSendBufferFull
	}
}

// SendEvent encodes and enqueues a single event.
func (c *Client) SendEvent(event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// Close stops delivery. The writer sends a close frame and releases the socket.
func (c *Client) Close(code int, reason string) {
	c.once.Do(func() {
		c.closeCode = code
		c.closeText = reason
		close(c.done)
	})
}

// Done is closed once the client stops accepting frames.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			deadline := time.Now().Add(c.writeWait)
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText), deadline)
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, err.Error())
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, err.Error())
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}
