package socket

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client is a single open connection
// Only the write loop writes to conn, everybody else enqueues events
type client struct {
	conn     *websocket.Conn
	identity Identity
	send     chan Event

	done      chan struct{}
	closeOnce sync.Once
	closeCode int
}

func newClient(conn *websocket.Conn, identity Identity, buffer int) *client {
	return &client{
		conn:      conn,
		identity:  identity,
		send:      make(chan Event, buffer),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// enqueue event for the write loop
// Client that can't keep up is closed instead of blocking the sender
func (c *client) enqueue(e Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- e:
		return true
	default:
		c.close(websocket.ClosePolicyViolation)
		return false
	}
}

func (c *client) emit(name string, data any) bool {
	e, err := newEvent(name, data)
	if err != nil {
		return false
	}
	return c.enqueue(e)
}

func (c *client) emitError(code string, message string, event string) bool {
	return c.emit(EventError, errorData{Code: code, Message: message, Event: event})
}

// close asks the write loop to send close frame and drop the connection
func (c *client) close(code int) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		close(c.done)
	})
}
