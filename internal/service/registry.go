// Package service implements the service registry and system.* control
// plane: per-service metadata, heartbeat timers, and the
// system.heartbeat/service.*/topic.*/log.*/metrics request handlers.
package service

import (
	"sort"
	"sync"
	"time"

	log "github.com/cihub/seelog"
	"github.com/google/uuid"

	"github.com/mandersen/brokerd/internal/brokererr"
	"github.com/mandersen/brokerd/internal/codec"
	"github.com/mandersen/brokerd/internal/logging"
	"github.com/mandersen/brokerd/internal/monitoring"
	"github.com/mandersen/brokerd/internal/subscription"
	"github.com/mandersen/brokerd/internal/topic"
)

// Sender is the back-reference a Registry needs into the Connection
// Manager, wired via SetConnectionManager after both are constructed.
type Sender interface {
	SendMessage(serviceID string, h *codec.Header, payload map[string]any) error
	CloseConnection(serviceID string)
}

// Entry is one registered service, plus its live heartbeat timers.
type Entry struct {
	ID          string
	Name        string
	Description string
	ConnectedAt time.Time

	mu              sync.Mutex
	deregisterTimer *time.Timer
	retryTimer      *time.Timer
}

// Registry tracks connected services and answers the system.* control
// topics.
type Registry struct {
	mu       sync.Mutex
	services map[string]*Entry

	subs    *subscription.Manager
	monitor *monitoring.Manager
	logHub  *logging.Hub
	sender  Sender

	retryTimeout      time.Duration
	deregisterTimeout time.Duration

	registered   *monitoring.Metric
	deregistered *monitoring.Metric
}

// New constructs a Registry. subs and monitor are the subscription
// manager and monitoring manager built earlier in the assembly order;
// logHub backs system.log.subscribe.
func New(subs *subscription.Manager, monitor *monitoring.Manager, logHub *logging.Hub, retryTimeout, deregisterTimeout time.Duration) *Registry {
	r := &Registry{
		services:          make(map[string]*Entry),
		subs:              subs,
		monitor:           monitor,
		logHub:            logHub,
		retryTimeout:      retryTimeout,
		deregisterTimeout: deregisterTimeout,
	}
	if monitor != nil {
		r.registered, _ = monitor.RegisterMetric("service.registered.total", monitoring.KindRate)
		r.deregistered, _ = monitor.RegisterMetric("service.deregistered.total", monitoring.KindRate)
	}
	return r
}

// SetConnectionManager wires the back-reference used to push messages
// to services and to tear down stale connections.
func (r *Registry) SetConnectionManager(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sender = s
}

// NewServiceID generates a fresh UUID-4 service id.
func NewServiceID() string {
	return uuid.New().String()
}

// RegisterService creates a registry entry for a freshly accepted
// connection and arms its heartbeat timers.
func (r *Registry) RegisterService(serviceID string) {
	e := &Entry{ID: serviceID, ConnectedAt: time.Now()}
	r.mu.Lock()
	r.services[serviceID] = e
	r.mu.Unlock()
	r.armTimers(e)
	if r.registered != nil {
		r.registered.Slot.(*monitoring.RateSlot).Add(1)
	}
}

// UnregisterService removes serviceID, cancels its timers, releases its
// subscriptions, and drops its log subscription if any.
func (r *Registry) UnregisterService(serviceID string) {
	r.mu.Lock()
	e, ok := r.services[serviceID]
	if ok {
		delete(r.services, serviceID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	stopTimer(e.deregisterTimer)
	stopTimer(e.retryTimer)
	e.mu.Unlock()
	if r.subs != nil {
		r.subs.Unsubscribe(serviceID, "")
	}
	if r.logHub != nil {
		r.logHub.Remove(serviceID)
	}
	if r.deregistered != nil {
		r.deregistered.Slot.(*monitoring.RateSlot).Add(1)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// armTimers (re)arms both the deregister deadline and the proactive
// retry probe for e.
func (r *Registry) armTimers(e *Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stopTimer(e.deregisterTimer)
	stopTimer(e.retryTimer)
	e.deregisterTimer = time.AfterFunc(r.deregisterTimeout, func() { r.onDeregisterTimeout(e.ID) })
	if r.retryTimeout > 0 {
		e.retryTimer = time.AfterFunc(r.retryTimeout, func() { r.onRetryTimeout(e.ID) })
	}
}

// rearmDeregister resets e's heartbeat deadline without restarting the
// retry timer's own clock (the retry loop manages its own re-arm).
func (r *Registry) rearmDeregister(e *Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stopTimer(e.deregisterTimer)
	e.deregisterTimer = time.AfterFunc(r.deregisterTimeout, func() { r.onDeregisterTimeout(e.ID) })
}

func (r *Registry) onDeregisterTimeout(serviceID string) {
	log.Infof("service %s missed heartbeat deadline, deregistering", serviceID)
	r.mu.Lock()
	sender := r.sender
	r.mu.Unlock()
	if sender != nil {
		sender.CloseConnection(serviceID)
	}
}

// onRetryTimeout sends a proactive request:system.heartbeat probe and
// re-arms itself (arm, act on fire, re-arm). It never removes the
// service — only the deregister timer does that.
func (r *Registry) onRetryTimeout(serviceID string) {
	r.mu.Lock()
	e, ok := r.services[serviceID]
	sender := r.sender
	r.mu.Unlock()
	if !ok {
		return
	}
	if sender != nil {
		h := &codec.Header{Action: codec.ActionRequest, Topic: "system.heartbeat", Version: "1.0.0", RequestID: uuid.New().String()}
		sender.SendMessage(serviceID, h, map[string]any{})
	}
	e.mu.Lock()
	stopTimer(e.retryTimer)
	e.retryTimer = time.AfterFunc(r.retryTimeout, func() { r.onRetryTimeout(serviceID) })
	e.mu.Unlock()
}

// Get returns the Entry for serviceID, if registered.
func (r *Registry) Get(serviceID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.services[serviceID]
	return e, ok
}

// List returns every registered service, ordered by id for determinism.
func (r *Registry) List() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.services))
	for _, e := range r.services {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot is a race-free, point-in-time copy of an Entry's fields,
// used by system.service.list so callers never read Name/Description
// outside the registry's mutex.
type Snapshot struct {
	ID          string
	Name        string
	Description string
	ConnectedAt time.Time
}

// Snapshots returns a Snapshot of every registered service, ordered by
// id for determinism.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.services))
	for _, e := range r.services {
		out = append(out, Snapshot{ID: e.ID, Name: e.Name, Description: e.Description, ConnectedAt: e.ConnectedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// respond sends a RESPONSE back to fromServiceID for the given request
// header, echoing its requestid/version.
func (r *Registry) respond(fromServiceID string, h *codec.Header, payload map[string]any) {
	r.mu.Lock()
	sender := r.sender
	r.mu.Unlock()
	if sender == nil {
		return
	}
	resp := &codec.Header{Action: codec.ActionResponse, Topic: h.Topic, Version: h.Version, RequestID: h.RequestID}
	sender.SendMessage(fromServiceID, resp, payload)
}

func (r *Registry) respondError(fromServiceID string, h *codec.Header, e *brokererr.Error) {
	r.respond(fromServiceID, h, codec.ErrorPayload(e))
}

func success() map[string]any { return map[string]any{"status": "success"} }

func failure() map[string]any { return map[string]any{"status": "failure"} }

// HandleMessage dispatches a message whose canonical topic begins with
// "system.". It never returns an error to the caller: all failures are
// translated into a RESPONSE sent back to fromServiceID.
func (r *Registry) HandleMessage(fromServiceID string, h *codec.Header, payload map[string]any) {
	if h.Topic == "system.heartbeat" && h.Action == codec.ActionResponse {
		// Acknowledgement of a broker-initiated probe: rearm and stop.
		if e, ok := r.Get(fromServiceID); ok {
			r.rearmDeregister(e)
		}
		return
	}
	if h.Action != codec.ActionRequest {
		r.respondError(fromServiceID, h, brokererr.New(brokererr.InvalidRequest, "system topics require action=request"))
		return
	}

	e, ok := r.Get(fromServiceID)
	if ok {
		r.rearmDeregister(e)
	}

	switch h.Topic {
	case "system.heartbeat":
		r.handleHeartbeat(fromServiceID, h, ok)
	case "system.service.register":
		r.handleServiceRegister(fromServiceID, h, payload, e, ok)
	case "system.service.list":
		r.handleServiceList(fromServiceID, h)
	case "system.topic.subscribe":
		r.handleTopicSubscribe(fromServiceID, h, payload)
	case "system.topic.unsubscribe":
		r.handleTopicUnsubscribe(fromServiceID, h, payload)
	case "system.topic.list":
		r.handleTopicList(fromServiceID, h)
	case "system.log.subscribe":
		r.handleLogSubscribe(fromServiceID, h, payload)
	case "system.log.unsubscribe":
		r.handleLogUnsubscribe(fromServiceID, h)
	case "system.metrics":
		r.handleMetrics(fromServiceID, h, payload)
	default:
		r.respondError(fromServiceID, h, brokererr.New(brokererr.TopicNotSupported, "unknown system topic").WithDetails(map[string]any{"topic": h.Topic}))
	}
}

func (r *Registry) handleHeartbeat(fromServiceID string, h *codec.Header, registered bool) {
	if !registered {
		r.respondError(fromServiceID, h, brokererr.New(brokererr.ServiceUnavailable, "service not registered"))
		return
	}
	r.respond(fromServiceID, h, success())
}
