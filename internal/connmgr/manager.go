// Package connmgr implements the glue between accepted
// transport.Connections and the service registry / message router,
// owning the serviceId -> Connection mapping and the header/payload
// decode that demuxes every inbound frame.
package connmgr

import (
	"strings"
	"sync"

	log "github.com/cihub/seelog"

	"github.com/mandersen/brokerd/internal/brokererr"
	"github.com/mandersen/brokerd/internal/codec"
	"github.com/mandersen/brokerd/internal/monitoring"
	"github.com/mandersen/brokerd/internal/service"
	"github.com/mandersen/brokerd/internal/transport"
)

// Registry is the subset of *service.Registry the manager depends on.
type Registry interface {
	RegisterService(serviceID string)
	UnregisterService(serviceID string)
	HandleMessage(fromServiceID string, h *codec.Header, payload map[string]any)
}

// Router is the subset of *router.Router the manager depends on.
type Router interface {
	Route(fromServiceID string, h *codec.Header, payload map[string]any)
}

// Manager owns every live connection and demuxes its inbound messages.
type Manager struct {
	mu          sync.Mutex
	connections map[string]transport.Connection

	registry      Registry
	router        Router
	maxPayloadLen int
	maxConcurrent int

	established  *monitoring.Metric
	disconnected *monitoring.Metric
	failed       *monitoring.Metric
	active       *monitoring.Metric
}

// New constructs a Manager. maxPayloadLen bounds JSON payload size;
// maxConcurrent caps live connections (0 = unbounded).
func New(registry Registry, router Router, monitor *monitoring.Manager, maxPayloadLen, maxConcurrent int) *Manager {
	m := &Manager{
		connections:   make(map[string]transport.Connection),
		registry:      registry,
		router:        router,
		maxPayloadLen: maxPayloadLen,
		maxConcurrent: maxConcurrent,
	}
	if monitor != nil {
		m.established, _ = monitor.RegisterMetric("connection.established.total", monitoring.KindRate)
		m.disconnected, _ = monitor.RegisterMetric("connection.disconnected.total", monitoring.KindRate)
		m.failed, _ = monitor.RegisterMetric("connection.failed.total", monitoring.KindRate)
		m.active, _ = monitor.RegisterMetric("connection.active", monitoring.KindGauge)
	}
	return m
}

func (m *Manager) bump(met *monitoring.Metric) {
	if met == nil {
		return
	}
	met.Slot.(*monitoring.RateSlot).Add(1)
}

// AddConnection is the transport.Handler registered with every
// transport.Server acceptor: it assigns a service id, wires the
// connection's callbacks, and registers it with the Service Registry.
func (m *Manager) AddConnection(conn transport.Connection) {
	m.mu.Lock()
	atCapacity := m.maxConcurrent > 0 && len(m.connections) >= m.maxConcurrent
	m.mu.Unlock()
	if atCapacity {
		log.Warnf("connmgr: rejecting connection from %s, at capacity", conn.RemoteAddr())
		m.bump(m.failed)
		conn.Close()
		return
	}

	serviceID := service.NewServiceID()
	conn.OnMessage(func(raw []byte) { m.handleMessage(serviceID, raw) })
	conn.OnClose(func() { m.onClose(serviceID) })

	m.mu.Lock()
	m.connections[serviceID] = conn
	m.mu.Unlock()

	m.registry.RegisterService(serviceID)
	m.bump(m.established)
	if m.active != nil {
		m.active.Slot.(*monitoring.GaugeSlot).Add(1)
	}
}

func (m *Manager) onClose(serviceID string) {
	m.mu.Lock()
	_, ok := m.connections[serviceID]
	delete(m.connections, serviceID)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.registry.UnregisterService(serviceID)
	m.bump(m.disconnected)
	if m.active != nil {
		m.active.Slot.(*monitoring.GaugeSlot).Add(-1)
	}
}

// CloseConnection removes and closes the connection owning serviceID,
// if any. Implements the Sender contract the Service Registry uses to
// act on an expired heartbeat deadline.
func (m *Manager) CloseConnection(serviceID string) {
	m.mu.Lock()
	conn, ok := m.connections[serviceID]
	m.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// SendMessage serializes header+payload and writes it to serviceID's
// connection. Implements the Sender contract both the Registry and the
// Router use to answer or forward messages.
func (m *Manager) SendMessage(serviceID string, h *codec.Header, payload map[string]any) error {
	m.mu.Lock()
	conn, ok := m.connections[serviceID]
	m.mu.Unlock()
	if !ok {
		log.Warnf("connmgr: sendMessage to unknown service %s", serviceID)
		return nil
	}
	if conn.State() != transport.StateOpen {
		m.CloseConnection(serviceID)
		return brokererr.New(brokererr.InternalError, "connection is not open")
	}
	raw, err := codec.EncodeWithPayload(h, payload)
	if err != nil {
		return err
	}
	return conn.Send(raw)
}

// handleMessage decodes one raw frame and dispatches it. Header and
// payload are parsed as separate steps so a failure can be reported
// against whichever one actually failed.
func (m *Manager) handleMessage(serviceID string, raw []byte) {
	h, payloadRaw, err := codec.Decode(raw)
	if err != nil {
		m.respondError(serviceID, nil, asBrokerErr(err))
		return
	}

	payload, err := codec.ParsePayload(payloadRaw, m.maxPayloadLen)
	if err != nil {
		m.respondError(serviceID, h, asBrokerErr(err))
		return
	}

	m.route(serviceID, h, payload)
}

// route demuxes between the Service Registry (system.* topics) and the
// Message Router (everything else). A panic anywhere downstream is
// reported as INTERNAL_ERROR rather than crashing the connection's
// read loop.
func (m *Manager) route(fromServiceID string, h *codec.Header, payload map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("connmgr: recovered panic routing message from %s: %v", fromServiceID, rec)
			m.respondError(fromServiceID, h, brokererr.New(brokererr.InternalError, "internal routing error"))
		}
	}()
	if strings.HasPrefix(h.Topic, "system.") {
		m.registry.HandleMessage(fromServiceID, h, payload)
		return
	}
	m.router.Route(fromServiceID, h, payload)
}

// respondError answers serviceID with a RESPONSE carrying e's wire
// payload. h is the parsed header, if any (nil when the header itself
// failed to parse, in which case the response falls back to
// topic='error').
func (m *Manager) respondError(serviceID string, h *codec.Header, e *brokererr.Error) {
	var out *codec.Header
	if h != nil {
		out = &codec.Header{Action: codec.ActionResponse, Topic: h.Topic, Version: h.Version, RequestID: h.RequestID}
	} else {
		out = &codec.Header{Action: codec.ActionResponse, Topic: "error", Version: "1.0.0"}
	}
	if err := m.SendMessage(serviceID, out, codec.ErrorPayload(e)); err != nil {
		log.Warnf("connmgr: failed to deliver error response to %s: %v", serviceID, err)
	}
}

// asBrokerErr coerces err to a *brokererr.Error, wrapping it generically
// if it somehow isn't one (codec always returns typed errors today).
func asBrokerErr(err error) *brokererr.Error {
	if be, ok := brokererr.As(err); ok {
		return be
	}
	return brokererr.Wrap(brokererr.MalformedMessage, "malformed message", err)
}

// Dispose closes every live connection. Used during broker shutdown.
func (m *Manager) Dispose() {
	m.mu.Lock()
	conns := make([]transport.Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
