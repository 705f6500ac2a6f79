package service

import (
	"sort"

	"github.com/mandersen/brokerd/internal/brokererr"
	"github.com/mandersen/brokerd/internal/codec"
	"github.com/mandersen/brokerd/internal/topic"
)

func (r *Registry) handleServiceRegister(fromServiceID string, h *codec.Header, payload map[string]any, e *Entry, ok bool) {
	if !ok {
		r.respondError(fromServiceID, h, brokererr.New(brokererr.ServiceUnavailable, "service not registered"))
		return
	}
	name, nameOK := payload["name"].(string)
	desc, descOK := payload["description"].(string)
	if !nameOK || !descOK {
		r.respondError(fromServiceID, h, brokererr.New(brokererr.InvalidRequest, "name and description must be strings").
			WithDetails(map[string]any{"payload": payload}))
		return
	}
	r.mu.Lock()
	e.Name = name
	e.Description = desc
	r.mu.Unlock()
	r.respond(fromServiceID, h, success())
}

func (r *Registry) handleServiceList(fromServiceID string, h *codec.Header) {
	entries := r.Snapshots()
	services := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		services = append(services, map[string]any{
			"id":          e.ID,
			"name":        e.Name,
			"description": e.Description,
			"connectedAt": e.ConnectedAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
		})
	}
	r.respond(fromServiceID, h, map[string]any{"services": services})
}

func (r *Registry) handleTopicSubscribe(fromServiceID string, h *codec.Header, payload map[string]any) {
	pattern, ok := payload["topic"].(string)
	if !ok {
		r.respondError(fromServiceID, h, brokererr.New(brokererr.InvalidRequest, "topic must be a string"))
		return
	}
	canon := topic.Canonicalize(pattern)
	if topic.IsSystem(canon) {
		r.respondError(fromServiceID, h, brokererr.New(brokererr.InvalidRequest, "subscriptions to system.* topics are restricted").
			WithDetails(map[string]any{"topic": pattern}))
		return
	}
	if err := topic.ValidatePattern(canon); err != nil {
		r.respondError(fromServiceID, h, brokererr.Wrap(brokererr.InvalidRequest, "invalid topic pattern", err).
			WithDetails(map[string]any{"topic": pattern}))
		return
	}
	priority := 0.0
	if raw, present := payload["priority"]; present {
		n, isNum := raw.(float64)
		if !isNum || isInfOrNaN(n) {
			r.respondError(fromServiceID, h, brokererr.New(brokererr.InvalidRequest, "priority must be a finite number"))
			return
		}
		priority = n
	}
	if r.subs.Subscribe(fromServiceID, canon, priority) {
		r.respond(fromServiceID, h, success())
	} else {
		r.respond(fromServiceID, h, failure())
	}
}

func (r *Registry) handleTopicUnsubscribe(fromServiceID string, h *codec.Header, payload map[string]any) {
	pattern, ok := payload["topic"].(string)
	if !ok {
		r.respondError(fromServiceID, h, brokererr.New(brokererr.InvalidRequest, "topic must be a string"))
		return
	}
	canon := topic.Canonicalize(pattern)
	if topic.IsSystem(canon) {
		r.respondError(fromServiceID, h, brokererr.New(brokererr.InvalidRequest, "unsubscribing from system.* topics is restricted"))
		return
	}
	if r.subs.Unsubscribe(fromServiceID, canon) {
		r.respond(fromServiceID, h, success())
	} else {
		r.respond(fromServiceID, h, failure())
	}
}

func (r *Registry) handleTopicList(fromServiceID string, h *codec.Header) {
	topics := r.subs.GetAllSubscribedTopics()
	sort.Strings(topics)
	r.respond(fromServiceID, h, map[string]any{"topics": topics})
}

func (r *Registry) handleLogSubscribe(fromServiceID string, h *codec.Header, payload map[string]any) {
	level, _ := payload["level"].(string)
	switch level {
	case "", "debug", "info", "warn", "error":
	default:
		r.respondError(fromServiceID, h, brokererr.New(brokererr.InvalidRequest, "level must be one of debug,info,warn,error"))
		return
	}
	var codes []string
	if raw, present := payload["codes"]; present {
		arr, ok := raw.([]any)
		if !ok {
			r.respondError(fromServiceID, h, brokererr.New(brokererr.InvalidRequest, "codes must be an array of strings"))
			return
		}
		for _, v := range arr {
			s, ok := v.(string)
			if !ok {
				r.respondError(fromServiceID, h, brokererr.New(brokererr.InvalidRequest, "codes must be an array of strings"))
				return
			}
			codes = append(codes, s)
		}
	}
	if r.logHub != nil {
		r.logHub.Subscribe(fromServiceID, level, codes)
	}
	r.respond(fromServiceID, h, success())
}

func (r *Registry) handleLogUnsubscribe(fromServiceID string, h *codec.Header) {
	if r.logHub != nil {
		r.logHub.Unsubscribe(fromServiceID)
	}
	r.respond(fromServiceID, h, success())
}

func (r *Registry) handleMetrics(fromServiceID string, h *codec.Header, payload map[string]any) {
	if r.monitor == nil {
		r.respond(fromServiceID, h, map[string]any{})
		return
	}
	showAll, _ := payload["showAll"].(bool)
	var filter map[string]string
	if raw, present := payload["filter"].(map[string]any); present {
		filter = make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				filter[k] = s
			}
		}
	}
	r.respond(fromServiceID, h, r.monitor.SerializeMetrics(showAll, filter))
}

func isInfOrNaN(n float64) bool {
	return n != n || n > maxFinite || n < -maxFinite
}

const maxFinite = 1.7976931348623157e+308
