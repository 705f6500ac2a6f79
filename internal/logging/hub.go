package logging

import (
	"strings"
	"sync"

	log "github.com/cihub/seelog"
)

var levelOrder = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

type sink struct {
	minLevel int
	codes    map[string]bool
}

// Hub fans broker log records out to services that issued
// system.log.subscribe. It is fed by a seelog custom receiver (see
// Receiver) and delivers via Deliver, set by the broker assembly to
// route through the Connection Manager.
type Hub struct {
	mu      sync.Mutex
	sinks   map[string]*sink
	Deliver func(serviceID string, level string, message string)
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{sinks: make(map[string]*sink)}
}

// Subscribe registers serviceID for log records at level or above,
// optionally restricted to codes. level defaults to "info" if empty or
// unrecognized.
func (h *Hub) Subscribe(serviceID, level string, codes []string) {
	min, ok := levelOrder[strings.ToLower(level)]
	if !ok {
		min = levelOrder["info"]
	}
	var codeSet map[string]bool
	if len(codes) > 0 {
		codeSet = make(map[string]bool, len(codes))
		for _, c := range codes {
			codeSet[c] = true
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks[serviceID] = &sink{minLevel: min, codes: codeSet}
}

// Unsubscribe removes serviceID's log subscription.
func (h *Hub) Unsubscribe(serviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sinks, serviceID)
}

// Remove drops serviceID's subscription on disconnect; alias of
// Unsubscribe kept for readability at the disconnect call site in the
// service registry.
func (h *Hub) Remove(serviceID string) { h.Unsubscribe(serviceID) }

// publish fans a record out to every matching sink.
func (h *Hub) publish(level string, message string, code string) {
	lv, ok := levelOrder[strings.ToLower(level)]
	if !ok {
		lv = levelOrder["info"]
	}
	h.mu.Lock()
	targets := make([]string, 0)
	for serviceID, s := range h.sinks {
		if lv < s.minLevel {
			continue
		}
		if s.codes != nil && code != "" && !s.codes[code] {
			continue
		}
		targets = append(targets, serviceID)
	}
	deliver := h.Deliver
	h.mu.Unlock()

	if deliver == nil {
		return
	}
	for _, serviceID := range targets {
		deliver(serviceID, level, message)
	}
}

// activeHub is package-level because seelog instantiates a fresh
// CustomReceiver value by reflection when it parses the <custom> XML
// node (AfterParse runs on that fresh zero-valued instance, not on
// whatever was passed to RegisterReceiver) — so the only way a
// Receiver method can reach the Hub built by broker assembly is
// through shared package state rather than a struct field.
var activeHub *Hub

// Receiver is a seelog CustomReceiver that feeds Hub from the process
// logger, so system.log.subscribe sees broker-wide log records.
type Receiver struct{}

// NewReceiver installs hub as the active receiver target and returns a
// fresh Receiver value suitable for log.RegisterReceiver.
func NewReceiver(hub *Hub) *Receiver {
	activeHub = hub
	return &Receiver{}
}

func (r *Receiver) ReceiveMessage(message string, level log.LogLevel, context log.LogContextInterface) error {
	if activeHub != nil {
		activeHub.publish(level.String(), message, "")
	}
	return nil
}

func (r *Receiver) AfterParse(_ log.CustomReceiverInitArgs) error { return nil }

func (r *Receiver) Flush() {}

func (r *Receiver) Close() error { return nil }
