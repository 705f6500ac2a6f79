// Package codec parses and serializes the broker's wire format: one
// header line terminated by "\n", followed by a JSON payload. A message
// always splits into a fixed preamble plus a JSON body, with the
// preamble carrying the action/topic/version/requestid/parentRequestId/
// timeout fields a caller needs before the payload is even decoded.
package codec

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mandersen/brokerd/internal/brokererr"
	"github.com/mandersen/brokerd/internal/topic"
)

// Action is the message action kind.
type Action string

const (
	ActionPublish  Action = "publish"
	ActionRequest  Action = "request"
	ActionResponse Action = "response"
)

func (a Action) valid() bool {
	switch a {
	case ActionPublish, ActionRequest, ActionResponse:
		return true
	}
	return false
}

// Header is the parsed first line of a message.
type Header struct {
	Action          Action
	Topic           string
	Version         string
	RequestID       string
	ParentRequestID string
	Timeout         int // 0 means absent; only meaningful when Action == ActionRequest
}

var versionParts = 3

// ParseHeader tokenizes and validates a single header line (without its
// trailing "\n").
func ParseHeader(line string) (*Header, error) {
	parts := strings.Split(line, ":")
	if len(parts) < 3 || len(parts) > 6 {
		return nil, brokererr.New(brokererr.MalformedMessage, "header must have 3 to 6 colon-delimited fields")
	}

	h := &Header{
		Action:  Action(parts[0]),
		Topic:   topic.Canonicalize(parts[1]),
		Version: parts[2],
	}
	if !h.Action.valid() {
		return nil, brokererr.New(brokererr.MalformedMessage, "unknown action").WithDetails(map[string]any{"action": parts[0]})
	}
	if err := topic.Validate(h.Topic); err != nil {
		return nil, brokererr.Wrap(brokererr.MalformedMessage, "invalid topic", err)
	}
	if !validVersion(h.Version) {
		return nil, brokererr.New(brokererr.MalformedMessage, "invalid version").WithDetails(map[string]any{"version": h.Version})
	}

	if len(parts) >= 4 {
		h.RequestID = parts[3]
		if err := validUUID4OrEmpty(h.RequestID); err != nil {
			return nil, err
		}
	}
	if len(parts) >= 5 {
		h.ParentRequestID = parts[4]
		if err := validUUID4OrEmpty(h.ParentRequestID); err != nil {
			return nil, err
		}
	}
	if len(parts) == 6 && parts[5] != "" {
		if h.Action != ActionRequest {
			return nil, brokererr.New(brokererr.MalformedMessage, "timeout only valid on request")
		}
		n, err := strconv.Atoi(parts[5])
		if err != nil || n <= 0 {
			return nil, brokererr.New(brokererr.MalformedMessage, "invalid timeout").WithDetails(map[string]any{"timeout": parts[5]})
		}
		h.Timeout = n
	}
	return h, nil
}

// Serialize renders the header back into its wire form. Trailing unset
// optional fields are dropped; an unset field followed by a set one is
// emitted as an empty position.
func (h *Header) Serialize() string {
	fields := []string{string(h.Action), h.Topic, h.Version, h.RequestID, h.ParentRequestID, ""}
	if h.Timeout > 0 {
		fields[5] = strconv.Itoa(h.Timeout)
	}
	last := 2
	for i := 3; i < len(fields); i++ {
		if fields[i] != "" {
			last = i
		}
	}
	return strings.Join(fields[:last+1], ":")
}

func validVersion(v string) bool {
	parts := strings.Split(v, ".")
	if len(parts) != versionParts {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

func validUUID4OrEmpty(s string) error {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil || id.Version() != 4 {
		return brokererr.New(brokererr.InvalidRequestID, "requestid/parentRequestId must be UUID-4").WithDetails(map[string]any{"value": s})
	}
	return nil
}

// EffectiveParentRequestID returns the parent request ID to use for
// correlation, treating parentRequestId == requestid as unset.
func (h *Header) EffectiveParentRequestID() string {
	if h.ParentRequestID == h.RequestID {
		return ""
	}
	return h.ParentRequestID
}
