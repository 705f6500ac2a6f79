// Package subscription implements a thin façade over a topic.Trie using
// the sorted-set collection kind, sorted by priority with equality on
// serviceId.
package subscription

import (
	"sort"
	"sync"

	"github.com/mandersen/brokerd/internal/topic"
)

type entry struct {
	serviceID string
	priority  float64
}

// Manager maps subscription patterns to the services registered
// against them.
type Manager struct {
	mu   sync.Mutex
	trie *topic.Trie[*entry]

	// byService indexes every entry a service currently owns, keyed by the
	// canonical pattern it was registered under, so unsubscribe-all and
	// getSubscribedTopics don't need a trie walk.
	byService map[string]map[string]*entry
}

// New constructs an empty Subscription Manager.
func New() *Manager {
	return &Manager{
		trie: topic.New[*entry](func() topic.Collection[*entry] {
			return topic.NewSortedSet[*entry](
				func(e *entry) float64 { return e.priority },
				func(e *entry) string { return e.serviceID },
			)
		}),
		byService: make(map[string]map[string]*entry),
	}
}

// Subscribe registers serviceID for pattern at priority, replacing any
// existing registration for the same (serviceID, pattern). Returns false
// if pattern is invalid, or if serviceID was already subscribed to
// pattern (the stored priority is still replaced).
func (m *Manager) Subscribe(serviceID, pattern string, priority float64) bool {
	canon := topic.Canonicalize(pattern)
	if err := topic.ValidatePattern(canon); err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &entry{serviceID: serviceID, priority: priority}
	added, err := m.trie.Set(canon, e)
	if err != nil {
		return false
	}
	if m.byService[serviceID] == nil {
		m.byService[serviceID] = make(map[string]*entry)
	}
	m.byService[serviceID][canon] = e
	return added
}

// Unsubscribe removes serviceID's subscription to pattern, or every
// subscription it holds if pattern is empty. Returns whether anything was
// removed.
func (m *Manager) Unsubscribe(serviceID string, pattern string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	patterns := m.byService[serviceID]
	if len(patterns) == 0 {
		return false
	}
	if pattern == "" {
		removedAny := false
		for p, e := range patterns {
			if removed, _ := m.trie.Delete(p, e); removed {
				removedAny = true
			}
		}
		delete(m.byService, serviceID)
		return removedAny
	}
	canon := topic.Canonicalize(pattern)
	e, ok := patterns[canon]
	if !ok {
		return false
	}
	removed, _ := m.trie.Delete(canon, e)
	if removed {
		delete(patterns, canon)
		if len(patterns) == 0 {
			delete(m.byService, serviceID)
		}
	}
	return removed
}

// GetSubscribers returns every serviceID subscribed to a pattern matching
// topic, deduplicated, first-seen order preserved, highest priority first
// within that order (per the trie's deterministic traversal).
func (m *Manager) GetSubscribers(t string) []string {
	canon := topic.Canonicalize(t)
	m.mu.Lock()
	defer m.mu.Unlock()
	leaves := m.trie.Get(canon)
	out := make([]string, 0, len(leaves))
	seen := make(map[string]bool)
	for _, e := range leaves {
		if seen[e.serviceID] {
			continue
		}
		seen[e.serviceID] = true
		out = append(out, e.serviceID)
	}
	return out
}

// GetTopSubscribers returns the leading run of GetSubscribers that
// shares the maximum priority across all matching entries, so it is
// always a literal prefix of GetSubscribers rather than merely a
// subsequence of it.
func (m *Manager) GetTopSubscribers(t string) []string {
	canon := topic.Canonicalize(t)
	m.mu.Lock()
	defer m.mu.Unlock()
	leaves := m.trie.Get(canon)
	if len(leaves) == 0 {
		return nil
	}

	best := make(map[string]float64)
	order := make([]string, 0, len(leaves))
	for _, e := range leaves {
		if p, ok := best[e.serviceID]; !ok || e.priority > p {
			if !ok {
				order = append(order, e.serviceID)
			}
			best[e.serviceID] = e.priority
		}
	}

	max := best[order[0]]
	for _, id := range order {
		if best[id] > max {
			max = best[id]
		}
	}

	var out []string
	for _, id := range order {
		if best[id] != max {
			break
		}
		out = append(out, id)
	}
	return out
}

// GetSubscribedTopics returns every pattern serviceID is subscribed to, in
// alphabetical order.
func (m *Manager) GetSubscribedTopics(serviceID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	patterns := m.byService[serviceID]
	out := make([]string, 0, len(patterns))
	for p := range patterns {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// GetAllSubscribedTopics returns every distinct pattern registered by any
// service, in alphabetical order.
func (m *Manager) GetAllSubscribedTopics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool)
	for _, patterns := range m.byService {
		for p := range patterns {
			set[p] = true
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
