package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	log "github.com/cihub/seelog"
)

// tcpConnection is a framed-TCP Connection: [u32 big-endian
// length][UTF-8 message bytes].
type tcpConnection struct {
	base
	conn        net.Conn
	writeMu     sync.Mutex
	maxFrameLen int
}

func newTCPConnection(conn net.Conn, maxFrameLen int) *tcpConnection {
	return &tcpConnection{conn: conn, maxFrameLen: maxFrameLen}
}

func (c *tcpConnection) ID() string         { return c.conn.RemoteAddr().String() }
func (c *tcpConnection) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// readLoop decodes length-prefixed frames until the connection errors
// or is closed, mirroring peerclient.go's rxloop structure (read fixed
// header, then exactly that many body bytes, dispatch, repeat).
func (c *tcpConnection) readLoop() {
	defer c.Close()
	lenbuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(c.conn, lenbuf); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenbuf)
		if int(n) > c.maxFrameLen {
			log.Warnf("tcp connection %s: frame length %d exceeds maximum %d, closing", c.ID(), n, c.maxFrameLen)
			return
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			return
		}
		c.dispatchMessage(body)
	}
}

func (c *tcpConnection) Send(raw []byte) error {
	if c.State() != StateOpen {
		return fmt.Errorf("transport: connection %s is not open", c.ID())
	}
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, uint32(len(raw)))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(hdr); err != nil {
		return err
	}
	_, err := c.conn.Write(raw)
	return err
}

func (c *tcpConnection) Close() error {
	err := c.conn.Close()
	c.fireClose()
	return err
}
