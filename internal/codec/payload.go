package codec

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/mandersen/brokerd/internal/brokererr"
)

// json behaves like encoding/json but runs on the faster iterator path.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParsePayload decodes raw as a JSON object, rejecting anything over
// maxLength bytes or that isn't a JSON object. If the object carries an
// "error" key (RESPONSE payloads), its shape is validated.
func ParsePayload(raw []byte, maxLength int) (map[string]any, error) {
	if len(raw) > maxLength {
		return nil, brokererr.New(brokererr.MalformedMessage, "payload exceeds maximum length").
			WithDetails(map[string]any{"length": len(raw), "max": maxLength})
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, brokererr.Wrap(brokererr.MalformedMessage, "payload is not a JSON object", err)
	}
	if obj == nil {
		return nil, brokererr.New(brokererr.MalformedMessage, "payload is not a JSON object")
	}
	if errVal, ok := obj["error"]; ok {
		if err := validateErrorShape(errVal); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func validateErrorShape(v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return brokererr.New(brokererr.MalformedMessage, "error field must be an object")
	}
	for _, field := range []string{"code", "message", "timestamp"} {
		if _, ok := m[field]; !ok {
			return brokererr.New(brokererr.MalformedMessage, "error object missing required field").
				WithDetails(map[string]any{"field": field})
		}
	}
	return nil
}

// MarshalPayload serializes obj back to its JSON wire form.
func MarshalPayload(obj map[string]any) ([]byte, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.InternalError, "failed to marshal payload", err)
	}
	return b, nil
}

// ErrorPayload builds a payload object carrying only the wire error
// shape, as emitted by the connection manager and router on failure.
func ErrorPayload(e *brokererr.Error) map[string]any {
	return map[string]any{"error": e.Payload()}
}
