package broker

import (
	"testing"

	"github.com/mandersen/brokerd/internal/codec"
	"github.com/mandersen/brokerd/internal/config"
	"github.com/mandersen/brokerd/internal/transport"
)

type fakeConn struct {
	id        string
	state     transport.State
	sent      [][]byte
	onMessage func([]byte)
	onClose   func()
}

func (c *fakeConn) ID() string             { return c.id }
func (c *fakeConn) RemoteAddr() string     { return c.id }
func (c *fakeConn) State() transport.State { return c.state }
func (c *fakeConn) OnMessage(fn func([]byte)) { c.onMessage = fn }
func (c *fakeConn) OnClose(fn func())         { c.onClose = fn }
func (c *fakeConn) Send(raw []byte) error {
	c.sent = append(c.sent, raw)
	return nil
}
func (c *fakeConn) Close() error {
	c.state = transport.StateClosed
	if c.onClose != nil {
		c.onClose()
	}
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
	return cfg
}

func TestNewAssemblesWithoutError(t *testing.T) {
	b, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if b.Monitor == nil || b.Subs == nil || b.Router == nil || b.Registry == nil || b.ConnMgr == nil {
		t.Fatal("expected every component to be constructed")
	}
}

func TestBrokerRoutesServiceRegistrationEndToEnd(t *testing.T) {
	b, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	conn := &fakeConn{id: "peer-1"}
	b.ConnMgr.AddConnection(conn)

	conn.onMessage([]byte(`request:system.service.register:1.0.0` + "\n" + `{"name":"worker","description":"does work"}`))
	if len(conn.sent) != 1 {
		t.Fatalf("expected one response, got %d", len(conn.sent))
	}
	h, payload, err := codec.Decode(conn.sent[0])
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if h.Topic != "system.service.register" || h.Action != codec.ActionResponse {
		t.Fatalf("unexpected response header: %+v", h)
	}
	obj, err := codec.ParsePayload(payload, 4096)
	if err != nil {
		t.Fatalf("parse payload failed: %v", err)
	}
	if obj["status"] != "success" {
		t.Fatalf("expected success status, got %v", obj)
	}

	b.Shutdown()
}

func TestBrokerRoutesPublishBetweenConnections(t *testing.T) {
	b, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	producer := &fakeConn{id: "producer"}
	consumer := &fakeConn{id: "consumer"}
	b.ConnMgr.AddConnection(producer)
	b.ConnMgr.AddConnection(consumer)

	subscribeMsg := `request:system.topic.subscribe:1.0.0:22222222-2222-4222-8222-222222222222` + "\n" + `{"topic":"test.created"}`
	consumer.onMessage([]byte(subscribeMsg))
	if len(consumer.sent) != 1 {
		t.Fatalf("expected subscribe ack, got %d", len(consumer.sent))
	}

	producer.onMessage([]byte(`publish:test.created:1.0.0` + "\n" + `{"n":1}`))
	if len(consumer.sent) != 2 {
		t.Fatalf("expected consumer to receive the publish, got %d messages", len(consumer.sent))
	}
	h, _, err := codec.Decode(consumer.sent[1])
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if h.Action != codec.ActionPublish || h.Topic != "test.created" {
		t.Fatalf("unexpected delivered header: %+v", h)
	}

	b.Shutdown()
}

func TestShutdownIsSafeWithoutStart(t *testing.T) {
	b, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	b.Shutdown()
}
