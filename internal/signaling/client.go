package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/warpmesh/internal/dns"
)

var ErrClientClosed = errors.New("signaling client closed")

// Client is the peer side of a hub connection.
type Client struct {
	conn     *websocket.Conn
	id       string
	incoming chan *Message
	outgoing chan *Message
	done     chan struct{}

	closeOnce sync.Once
}

// Dial connects to the hub at serverURL and waits for the peer id the
// hub assigns.
func Dial(ctx context.Context, serverURL string) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = dns.DialContext

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect to signaling server: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(writeWait))
	}
	var hello Message
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read peer id: %w", err)
	}
	if hello.Type != MessageTypeID || hello.PeerID == "" {
		conn.Close()
		return nil, fmt.Errorf("expected %q message, got %q", MessageTypeID, hello.Type)
	}

	c := &Client{
		conn:     conn,
		id:       hello.PeerID,
		incoming: make(chan *Message, 64),
		outgoing: make(chan *Message, 64),
		done:     make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// ID is the peer id assigned by the hub.
func (c *Client) ID() string {
	return c.id
}

// Send relays payload to the peer with id to.
func (c *Client) Send(to string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	select {
	case c.outgoing <- &Message{Type: MessageTypeSignal, To: to, Payload: data}:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

// Incoming yields signals and errors from the hub. It is closed when the
// connection ends.
func (c *Client) Incoming() <-chan *Message {
	return c.incoming
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
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
		case msg := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
