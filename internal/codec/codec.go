package codec

import (
	"bytes"

	"github.com/mandersen/brokerd/internal/brokererr"
)

// MaxHeaderLength is a fixed bound sufficient for the maximal header
// line (action + topic + version + 2 UUIDs + timeout + 5 colons + CR/LF
// margin).
const MaxHeaderLength = 512

// Message is a fully decoded wire message: a header plus its raw,
// unparsed JSON payload bytes.
type Message struct {
	Header  *Header
	Payload []byte
}

// Decode splits raw frame bytes into a header line and payload, parsing
// the header but leaving the payload as raw bytes (the connection
// manager parses the payload separately so header and payload failures
// can be told apart).
func Decode(raw []byte) (*Header, []byte, error) {
	idx := bytes.IndexByte(raw, '\n')
	if idx < 0 {
		return nil, nil, brokererr.New(brokererr.MalformedMessage, "message missing header terminator")
	}
	headerLine := string(raw[:idx])
	if len(headerLine) > MaxHeaderLength {
		return nil, nil, brokererr.New(brokererr.MalformedMessage, "header exceeds maximum length")
	}
	h, err := ParseHeader(headerLine)
	if err != nil {
		return nil, nil, err
	}
	return h, raw[idx+1:], nil
}

// Encode renders a header and a pre-marshaled JSON payload into a
// complete wire message.
func Encode(h *Header, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(h.Serialize())
	buf.WriteByte('\n')
	buf.Write(payload)
	return buf.Bytes()
}

// EncodeWithPayload marshals obj and encodes the full message in one
// step, the common case for responses built from brokererr.Error.Payload
// or similar maps.
func EncodeWithPayload(h *Header, obj map[string]any) ([]byte, error) {
	b, err := MarshalPayload(obj)
	if err != nil {
		return nil, err
	}
	return Encode(h, b), nil
}
