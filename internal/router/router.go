// Package router implements topic-driven PUBLISH fan-out, REQUEST/
// RESPONSE correlation with timeouts, and per-service/per-topic rate
// limiting.
package router

import (
	"math/rand"
	"sync"
	"time"

	log "github.com/cihub/seelog"
	"golang.org/x/time/rate"

	"github.com/mandersen/brokerd/internal/brokererr"
	"github.com/mandersen/brokerd/internal/codec"
	"github.com/mandersen/brokerd/internal/monitoring"
	"github.com/mandersen/brokerd/internal/subscription"
)

// Sender is the back-reference a Router needs into the Connection
// Manager, wired via SetConnectionManager after both are constructed.
type Sender interface {
	SendMessage(serviceID string, h *codec.Header, payload map[string]any) error
}

// Limits bundles the router's configured bounds.
type Limits struct {
	DefaultTimeout          time.Duration
	MaxTimeout              time.Duration
	MaxOutstandingPerOrigin int
	GlobalPerService        int // requests/sec
	GlobalPerTopic          int // requests/sec
	TopicPerService         map[string]int
}

// Router dispatches PUBLISH and REQUEST/RESPONSE traffic between
// connected services.
type Router struct {
	subs   *subscription.Manager
	limits Limits

	mu               sync.Mutex
	pending          map[string]*PendingRequest
	outstandingCount map[string]int
	rrIndex          map[string]int
	rrSize           map[string]int

	rateMu           sync.Mutex
	perServiceLimits map[string]*rate.Limiter
	perTopicLimits   map[string]*rate.Limiter
	perTopicService  map[string]map[string]*rate.Limiter

	sender  Sender
	monitor *monitoring.Manager

	noRoutePublish   *monitoring.Metric
	requestTimeout   *monitoring.Metric
	responseOrphan   *monitoring.Metric
	responseMismatch *monitoring.Metric
}

// New constructs a Router bound to subs and limits. monitor may be nil
// in tests that don't need metrics.
func New(subs *subscription.Manager, monitor *monitoring.Manager, limits Limits) *Router {
	r := &Router{
		subs:             subs,
		limits:           limits,
		pending:          make(map[string]*PendingRequest),
		outstandingCount: make(map[string]int),
		rrIndex:          make(map[string]int),
		rrSize:           make(map[string]int),
		perServiceLimits: make(map[string]*rate.Limiter),
		perTopicLimits:   make(map[string]*rate.Limiter),
		perTopicService:  make(map[string]map[string]*rate.Limiter),
		monitor:          monitor,
	}
	if monitor != nil {
		r.noRoutePublish, _ = monitor.RegisterMetric("router.noroute.publish", monitoring.KindRate)
		r.requestTimeout, _ = monitor.RegisterMetric("router.request.timeout", monitoring.KindRate)
		r.responseOrphan, _ = monitor.RegisterMetric("router.response.orphan", monitoring.KindRate)
		r.responseMismatch, _ = monitor.RegisterMetric("router.response.mismatch", monitoring.KindRate)
	}
	return r
}

// SetConnectionManager wires the back-reference used to forward
// messages to targets.
func (r *Router) SetConnectionManager(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sender = s
}

func (r *Router) bump(m *monitoring.Metric) {
	if m == nil {
		return
	}
	m.Slot.(*monitoring.RateSlot).Add(1)
}

// Route dispatches a non-system message by action: PUBLISH fans out to
// subscribers, REQUEST picks a target and tracks it pending a RESPONSE,
// RESPONSE completes the matching pending request. System topics are
// handled upstream by the Connection Manager, which forwards them to
// the Service Registry instead of calling Route.
func (r *Router) Route(fromServiceID string, h *codec.Header, payload map[string]any) {
	switch h.Action {
	case codec.ActionPublish:
		r.routePublish(fromServiceID, h, payload)
	case codec.ActionRequest:
		r.routeRequest(fromServiceID, h, payload)
	case codec.ActionResponse:
		r.routeResponse(fromServiceID, h, payload)
	}
}

func (r *Router) send(serviceID string, h *codec.Header, payload map[string]any) error {
	r.mu.Lock()
	sender := r.sender
	r.mu.Unlock()
	if sender == nil {
		return brokererr.New(brokererr.InternalError, "router has no connection manager wired")
	}
	return sender.SendMessage(serviceID, h, payload)
}

func (r *Router) respondError(toServiceID string, topic, version, requestID string, e *brokererr.Error) {
	h := &codec.Header{Action: codec.ActionResponse, Topic: topic, Version: version, RequestID: requestID}
	if err := r.send(toServiceID, h, codec.ErrorPayload(e)); err != nil {
		log.Warnf("router: failed to deliver error response to %s: %v", toServiceID, err)
	}
}

func (r *Router) routePublish(fromServiceID string, h *codec.Header, payload map[string]any) {
	if !r.allow(fromServiceID, h.Topic) {
		r.respondError(fromServiceID, h.Topic, h.Version, h.RequestID,
			brokererr.New(brokererr.ServiceUnavailable, "rate limit exceeded").WithDetails(map[string]any{"reason": "rate_limit"}))
		return
	}
	subs := r.subs.GetSubscribers(h.Topic)
	delivered := 0
	for _, sid := range subs {
		if sid == fromServiceID {
			continue
		}
		out := &codec.Header{Action: codec.ActionPublish, Topic: h.Topic, Version: h.Version}
		if err := r.send(sid, out, payload); err != nil {
			log.Warnf("router: publish delivery to %s failed: %v", sid, err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		r.bump(r.noRoutePublish)
	}
}

func (r *Router) routeRequest(fromServiceID string, h *codec.Header, payload map[string]any) {
	if h.RequestID == "" {
		r.respondError(fromServiceID, h.Topic, h.Version, h.RequestID,
			brokererr.New(brokererr.InvalidRequest, "request requires a requestid"))
		return
	}
	if !r.allow(fromServiceID, h.Topic) {
		r.respondError(fromServiceID, h.Topic, h.Version, h.RequestID,
			brokererr.New(brokererr.ServiceUnavailable, "rate limit exceeded").WithDetails(map[string]any{"reason": "rate_limit"}))
		return
	}

	r.mu.Lock()
	if _, exists := r.pending[h.RequestID]; exists {
		r.mu.Unlock()
		r.respondError(fromServiceID, h.Topic, h.Version, h.RequestID,
			brokererr.New(brokererr.InvalidRequest, "duplicate requestid"))
		return
	}
	if r.limits.MaxOutstandingPerOrigin > 0 && r.outstandingCount[fromServiceID] >= r.limits.MaxOutstandingPerOrigin {
		r.mu.Unlock()
		r.respondError(fromServiceID, h.Topic, h.Version, h.RequestID,
			brokererr.New(brokererr.ServiceUnavailable, "too many outstanding requests"))
		return
	}
	r.mu.Unlock()

	candidates := r.subs.GetTopSubscribers(h.Topic)
	filtered := candidates[:0:0]
	for _, c := range candidates {
		if c != fromServiceID {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		r.respondError(fromServiceID, h.Topic, h.Version, h.RequestID,
			brokererr.New(brokererr.NoRouteFound, "no subscribers for topic"))
		return
	}

	target := r.pickTarget(h.Topic, filtered)
	effectiveTimeout := r.limits.DefaultTimeout
	if h.Timeout > 0 {
		effectiveTimeout = time.Duration(h.Timeout) * time.Millisecond
	}
	if r.limits.MaxTimeout > 0 && effectiveTimeout > r.limits.MaxTimeout {
		effectiveTimeout = r.limits.MaxTimeout
	}

	pr := &PendingRequest{
		RequestID:       h.RequestID,
		OriginServiceID: fromServiceID,
		TargetServiceID: target,
		Topic:           h.Topic,
		Version:         h.Version,
		ParentRequestID: h.EffectiveParentRequestID(),
		Deadline:        time.Now().Add(effectiveTimeout),
	}
	r.mu.Lock()
	r.pending[pr.RequestID] = pr
	r.outstandingCount[fromServiceID]++
	r.mu.Unlock()
	pr.timer = time.AfterFunc(effectiveTimeout, func() { r.onTimeout(pr.RequestID) })

	out := &codec.Header{Action: codec.ActionRequest, Topic: h.Topic, Version: h.Version, RequestID: h.RequestID, ParentRequestID: h.ParentRequestID, Timeout: h.Timeout}
	if err := r.send(target, out, payload); err != nil {
		r.dropPending(pr.RequestID)
		r.respondError(fromServiceID, h.Topic, h.Version, h.RequestID,
			brokererr.New(brokererr.ServiceUnavailable, "target service unavailable"))
	}
}

func (r *Router) routeResponse(fromServiceID string, h *codec.Header, payload map[string]any) {
	r.mu.Lock()
	pr, ok := r.pending[h.RequestID]
	if !ok {
		r.mu.Unlock()
		r.bump(r.responseOrphan)
		return
	}
	if pr.TargetServiceID != fromServiceID {
		r.mu.Unlock()
		r.bump(r.responseMismatch)
		return
	}
	delete(r.pending, pr.RequestID)
	r.outstandingCount[pr.OriginServiceID]--
	r.mu.Unlock()
	pr.timer.Stop()

	out := &codec.Header{Action: codec.ActionResponse, Topic: h.Topic, Version: h.Version, RequestID: h.RequestID}
	if err := r.send(pr.OriginServiceID, out, payload); err != nil {
		log.Warnf("router: failed to deliver response to %s: %v", pr.OriginServiceID, err)
	}
}

func (r *Router) onTimeout(requestID string) {
	r.mu.Lock()
	pr, ok := r.pending[requestID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.pending, requestID)
	r.outstandingCount[pr.OriginServiceID]--
	r.mu.Unlock()

	r.bump(r.requestTimeout)
	r.respondError(pr.OriginServiceID, pr.Topic, pr.Version, pr.RequestID, brokererr.New(brokererr.Timeout, "request timed out"))
}

// dropPending removes a pending entry without answering the origin
// (the caller handles that separately, e.g. on a failed forward).
func (r *Router) dropPending(requestID string) {
	r.mu.Lock()
	pr, ok := r.pending[requestID]
	if ok {
		delete(r.pending, requestID)
		r.outstandingCount[pr.OriginServiceID]--
	}
	r.mu.Unlock()
	if ok && pr.timer != nil {
		pr.timer.Stop()
	}
}

// pickTarget chooses one candidate: the sole top subscriber if there's
// exactly one, otherwise round-robin across ties with a random
// fallback when the candidate set has changed shape since the last
// pick (the rotating index would otherwise be "stale").
func (r *Router) pickTarget(topicName string, candidates []string) string {
	if len(candidates) == 1 {
		return candidates[0]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	size, known := r.rrSize[topicName]
	if !known || size != len(candidates) {
		idx := rand.Intn(len(candidates))
		r.rrIndex[topicName] = idx + 1
		r.rrSize[topicName] = len(candidates)
		return candidates[idx]
	}
	idx := r.rrIndex[topicName] % len(candidates)
	r.rrIndex[topicName] = idx + 1
	return candidates[idx]
}

// allow enforces the global per-service, global per-topic, and
// per-topic-per-service rate limits.
func (r *Router) allow(serviceID, topicName string) bool {
	if r.limits.GlobalPerService > 0 && !r.limiterFor(&r.perServiceLimits, serviceID, r.limits.GlobalPerService).Allow() {
		return false
	}
	if r.limits.GlobalPerTopic > 0 && !r.limiterFor(&r.perTopicLimits, topicName, r.limits.GlobalPerTopic).Allow() {
		return false
	}
	if n, ok := r.limits.TopicPerService[topicName]; ok && n > 0 {
		r.rateMu.Lock()
		byTopic, ok := r.perTopicService[topicName]
		if !ok {
			byTopic = make(map[string]*rate.Limiter)
			r.perTopicService[topicName] = byTopic
		}
		lim, ok := byTopic[serviceID]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(n), n)
			byTopic[serviceID] = lim
		}
		r.rateMu.Unlock()
		if !lim.Allow() {
			return false
		}
	}
	return true
}

func (r *Router) limiterFor(set *map[string]*rate.Limiter, key string, perSecond int) *rate.Limiter {
	r.rateMu.Lock()
	defer r.rateMu.Unlock()
	lim, ok := (*set)[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		(*set)[key] = lim
	}
	return lim
}

// Dispose cancels every pending timeout and clears the request table;
// it does not answer outstanding requests.
func (r *Router) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pr := range r.pending {
		if pr.timer != nil {
			pr.timer.Stop()
		}
	}
	r.pending = make(map[string]*PendingRequest)
	r.outstandingCount = make(map[string]int)
}
