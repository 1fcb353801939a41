package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/schoolhub/schoolhub/internal/core"
)

const outboundBuffer = 64

// connection owns one websocket. All writes go through writePump so the
// socket only ever has one writer.
type connection struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	out          chan []byte
	done         chan struct{}

	once      sync.Once
	closeCode int
	closeText string
}

func newConnection(ws *websocket.Conn, writeTimeout time.Duration) *connection {
	return &connection{
		ws:           ws,
		writeTimeout: writeTimeout,
		out:          make(chan []byte, outboundBuffer),
		done:         make(chan struct{}),
	}
}

// writeJSON queues v for the pump without blocking.
func (c *connection) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return core.ErrNotConnected
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		return core.ErrQueueFull
	}
}

// shutdown asks the pump to flush, send a close frame and close the socket.
func (c *connection) shutdown(code int, text string) {
	c.once.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

func (c *connection) writePump() {
	defer c.ws.Close()

	for {
		select {
		case data := <-c.out:
			if err := c.write(data); err != nil {
				// The read loop notices the broken socket.
				return
			}
		case <-c.done:
			c.flush()
			deadline := time.Now().Add(time.Second)
			c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText), deadline)
			return
		}
	}
}

func (c *connection) write(data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// flush writes whatever was queued before shutdown.
func (c *connection) flush() {
	for {
		select {
		case data := <-c.out:
			if c.write(data) != nil {
				return
			}
		default:
			return
		}
	}
}
