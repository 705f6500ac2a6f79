package monitoring

import (
	"strings"

	"github.com/mandersen/brokerd/internal/brokererr"
)

const (
	maxSegments = 5
	maxLength   = 255
)

// validateName checks a metric or template name against the topic
// naming rules extended with "{name}" (template placeholder) or
// "{name:value}" (bound parameter) segments.
func validateName(name string) error {
	if name == "" {
		return brokererr.New(brokererr.InvalidRequest, "metric name must not be empty")
	}
	if len(name) > maxLength {
		return brokererr.New(brokererr.InvalidRequest, "metric name exceeds maximum length")
	}
	segs := strings.Split(name, ".")
	if len(segs) > maxSegments {
		return brokererr.New(brokererr.InvalidRequest, "metric name exceeds maximum segment depth")
	}
	for _, seg := range segs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			inner := seg[1 : len(seg)-1]
			if inner == "" {
				return brokererr.New(brokererr.InvalidRequest, "empty parameter segment").WithDetails(map[string]any{"segment": seg})
			}
			continue
		}
		if !validLiteralSegment(seg) {
			return brokererr.New(brokererr.InvalidRequest, "invalid metric name segment").WithDetails(map[string]any{"segment": seg})
		}
	}
	return nil
}

func validLiteralSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		isAlpha := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		if i == 0 && !isAlpha {
			return false
		}
		if i > 0 && !isAlpha && !isDigit {
			return false
		}
	}
	return true
}

// paramNames extracts the ordered "{name}" placeholders from a template
// pattern.
func paramNames(pattern string) []string {
	var names []string
	for _, seg := range strings.Split(pattern, ".") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			names = append(names, seg[1:len(seg)-1])
		}
	}
	return names
}

// bindName substitutes a template's "{k}" placeholders with "{k:v}" bound
// segments using the given parameter values, in declared order.
func bindName(pattern string, params map[string]string) string {
	segs := strings.Split(pattern, ".")
	for i, seg := range segs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			k := seg[1 : len(seg)-1]
			segs[i] = "{" + k + ":" + params[k] + "}"
		}
	}
	return strings.Join(segs, ".")
}

// paramKey produces a stable map key for a parameter binding independent
// of iteration order, used to index a template's children.
func paramKey(names []string, params map[string]string) string {
	var b strings.Builder
	for i, n := range names {
		if i > 0 {
			b.WriteByte('\x00')
		}
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(params[n])
	}
	return b.String()
}
