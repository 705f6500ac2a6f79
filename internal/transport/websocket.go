package transport

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConnection is a WebSocket Connection: one broker message per
// WebSocket frame.
type wsConnection struct {
	base
	conn        *websocket.Conn
	writeMu     sync.Mutex
	maxFrameLen int
}

func newWSConnection(conn *websocket.Conn, maxFrameLen int) *wsConnection {
	conn.SetReadLimit(int64(maxFrameLen))
	return &wsConnection{conn: conn, maxFrameLen: maxFrameLen}
}

func (c *wsConnection) ID() string         { return c.conn.RemoteAddr().String() }
func (c *wsConnection) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *wsConnection) readLoop() {
	defer c.Close()
	for {
		kind, body, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		c.dispatchMessage(body)
	}
}

func (c *wsConnection) Send(raw []byte) error {
	if c.State() != StateOpen {
		return fmt.Errorf("transport: connection %s is not open", c.ID())
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *wsConnection) Close() error {
	err := c.conn.Close()
	c.fireClose()
	return err
}

// upgrade promotes an HTTP request to a WebSocket connection with its
// read limit set. It does not start the read loop: the caller registers
// OnMessage/OnClose on the returned connection and then runs readLoop.
func upgrade(w http.ResponseWriter, r *http.Request, maxFrameLen int) (*wsConnection, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	wc := newWSConnection(conn, maxFrameLen)
	return wc, nil
}
