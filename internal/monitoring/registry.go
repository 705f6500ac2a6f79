package monitoring

import (
	"sync"
	"time"

	"github.com/mandersen/brokerd/internal/brokererr"
)

// Metric pairs a concrete, bound name with its Slot.
type Metric struct {
	Name string
	Slot Slot
	kind Kind
}

// Template is a parameterized metric: a name pattern like
// "router.topic.{topic}.count" that dispenses concrete child metrics
// keyed by parameter bindings.
type Template struct {
	mu        sync.Mutex
	pattern   string
	kind      Kind
	names     []string
	children  map[string]*Metric
	onDispose func(pattern string)
}

// RegisterMetric binds params to a fresh child metric. Fails if a child
// already exists for that exact binding.
func (t *Template) RegisterMetric(params map[string]string) (*Metric, error) {
	key := paramKey(t.names, params)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.children[key]; exists {
		return nil, brokererr.New(brokererr.InvalidRequest, "metric already registered for these parameters")
	}
	m := &Metric{Name: bindName(t.pattern, params), Slot: newSlot(t.kind), kind: t.kind}
	t.children[key] = m
	return m, nil
}

// GetMetric returns the child bound to params, if any.
func (t *Template) GetMetric(params map[string]string) (*Metric, bool) {
	key := paramKey(t.names, params)
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.children[key]
	return m, ok
}

// FilteredMetrics returns every child whose binding matches every entry
// in partial (a subset of the template's parameter names).
func (t *Template) FilteredMetrics(partial map[string]string) []*Metric {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Metric
children:
	for key, m := range t.children {
		_ = key
		for k, v := range partial {
			if !bindingHas(m.Name, t.names, k, v) {
				continue children
			}
		}
		out = append(out, m)
	}
	return out
}

// bindingHas reports whether the concrete name m's binding for parameter
// k equals v. It re-derives the binding from the name's "{k:v}" segments.
func bindingHas(name string, names []string, k, v string) bool {
	for _, seg := range splitDot(name) {
		if len(seg) < 2 || seg[0] != '{' || seg[len(seg)-1] != '}' {
			continue
		}
		inner := seg[1 : len(seg)-1]
		if len(inner) > len(k) && inner[:len(k)+1] == k+":" {
			return segmentValue(seg) == v
		}
	}
	return false
}

// AllMetrics returns every child currently registered.
func (t *Template) AllMetrics() []*Metric {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Metric, 0, len(t.children))
	for _, m := range t.children {
		out = append(out, m)
	}
	return out
}

// Dispose cascades disposal to every child and notifies the owning
// Manager so it can remove the template.
func (t *Template) Dispose() {
	t.mu.Lock()
	for _, m := range t.children {
		if disposer, ok := m.Slot.(interface{ Dispose() }); ok {
			disposer.Dispose()
		}
	}
	t.children = make(map[string]*Metric)
	onDispose := t.onDispose
	t.mu.Unlock()
	if onDispose != nil {
		onDispose(t.pattern)
	}
}

// Manager is a registry of plain metrics and parameterized templates,
// plus the single shared 1 Hz ticker that drives every live Rate slot.
type Manager struct {
	mu        sync.Mutex
	metrics   map[string]*Metric
	templates map[string]*Template

	rateMu    sync.Mutex
	rateSlots map[*RateSlot]struct{}
	ticker    *time.Ticker
	tickerDone chan struct{}
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{
		metrics:   make(map[string]*Metric),
		templates: make(map[string]*Template),
		rateSlots: make(map[*RateSlot]struct{}),
	}
}

// RegisterMetric creates a flat (non-parameterized) metric. Fails if the
// name is invalid or already registered.
func (m *Manager) RegisterMetric(name string, kind Kind) (*Metric, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.metrics[name]; exists {
		return nil, brokererr.New(brokererr.InvalidRequest, "metric already registered").WithDetails(map[string]any{"name": name})
	}
	slot := newSlot(kind)
	metric := &Metric{Name: name, Slot: slot, kind: kind}
	m.metrics[name] = metric
	if rs, ok := slot.(*RateSlot); ok {
		m.trackRate(rs)
	}
	return metric, nil
}

// RegisterTemplate creates a parameterized metric template.
func (m *Manager) RegisterTemplate(pattern string, kind Kind) (*Template, error) {
	if err := validateName(pattern); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.templates[pattern]; exists {
		return nil, brokererr.New(brokererr.InvalidRequest, "template already registered").WithDetails(map[string]any{"pattern": pattern})
	}
	t := &Template{
		pattern:  pattern,
		kind:     kind,
		names:    paramNames(pattern),
		children: make(map[string]*Metric),
	}
	t.onDispose = func(pattern string) {
		m.mu.Lock()
		delete(m.templates, pattern)
		m.mu.Unlock()
	}
	m.templates[pattern] = t
	return t, nil
}

// GetMetric returns the flat metric registered under name.
func (m *Manager) GetMetric(name string) (*Metric, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric, ok := m.metrics[name]
	return metric, ok
}

// GetTemplate returns the template registered under pattern.
func (m *Manager) GetTemplate(pattern string) (*Template, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[pattern]
	return t, ok
}

// RegisterTemplateRate is a convenience for templates whose children are
// Rate slots, since those must additionally be tracked by the shared
// ticker as they're created.
func (m *Manager) RegisterTemplateRate(t *Template, params map[string]string) (*Metric, error) {
	metric, err := t.RegisterMetric(params)
	if err != nil {
		return nil, err
	}
	if rs, ok := metric.Slot.(*RateSlot); ok {
		m.trackRate(rs)
	}
	return metric, nil
}

// trackRate adds rs to the shared-ticker set, starting the ticker if it
// isn't already running.
func (m *Manager) trackRate(rs *RateSlot) {
	m.rateMu.Lock()
	defer m.rateMu.Unlock()
	m.rateSlots[rs] = struct{}{}
	if m.ticker == nil {
		m.ticker = time.NewTicker(1 * time.Second)
		m.tickerDone = make(chan struct{})
		go m.runTicker(m.ticker, m.tickerDone)
	}
}

func (m *Manager) runTicker(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-ticker.C:
			m.rateMu.Lock()
			for rs := range m.rateSlots {
				rs.tick()
			}
			m.rateMu.Unlock()
		case <-done:
			return
		}
	}
}

// SerializeMetrics renders the registry as a flat {name: value} map
// normally, or {name: {name, type, timestamp, value}} when showAll is
// set. With filter, only parameterized metrics matching every filter
// binding are included and flat metrics are omitted.
func (m *Manager) SerializeMetrics(showAll bool, filter map[string]string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]any)
	emit := func(metric *Metric) {
		if showAll {
			out[metric.Name] = map[string]any{
				"name":      metric.Name,
				"type":      string(metric.kind),
				"timestamp": metric.Slot.LastModified().UTC().Format(time.RFC3339Nano),
				"value":     metric.Slot.Value(),
			}
		} else {
			out[metric.Name] = metric.Slot.Value()
		}
	}

	if len(filter) > 0 {
		for _, t := range m.templates {
			for _, metric := range t.FilteredMetrics(filter) {
				emit(metric)
			}
		}
		return out
	}

	for _, metric := range m.metrics {
		emit(metric)
	}
	for _, t := range m.templates {
		for _, metric := range t.AllMetrics() {
			emit(metric)
		}
	}
	return out
}

// Dispose stops the shared ticker and disposes every template.
func (m *Manager) Dispose() {
	m.rateMu.Lock()
	if m.ticker != nil {
		m.ticker.Stop()
		close(m.tickerDone)
		m.ticker = nil
	}
	m.rateSlots = make(map[*RateSlot]struct{})
	m.rateMu.Unlock()

	m.mu.Lock()
	templates := make([]*Template, 0, len(m.templates))
	for _, t := range m.templates {
		templates = append(templates, t)
	}
	m.mu.Unlock()
	for _, t := range templates {
		t.Dispose()
	}
}

func splitDot(s string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			segs = append(segs, s[start:i])
			start = i + 1
		}
	}
	segs = append(segs, s[start:])
	return segs
}

// segmentValue extracts the "v" out of a bound "{k:v}" segment.
func segmentValue(seg string) string {
	if len(seg) < 2 || seg[0] != '{' || seg[len(seg)-1] != '}' {
		return seg
	}
	inner := seg[1 : len(seg)-1]
	for i := 0; i < len(inner); i++ {
		if inner[i] == ':' {
			return inner[i+1:]
		}
	}
	return inner
}
