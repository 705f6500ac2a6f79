package codec

import (
	"testing"

	"github.com/mandersen/brokerd/internal/brokererr"
)

func TestDecodeRoundTrip(t *testing.T) {
	h := &Header{Action: ActionPublish, Topic: "test.created", Version: "1.0.0"}
	raw := Encode(h, []byte(`{"a":1}`))

	gotHeader, payload, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotHeader.Topic != "test.created" {
		t.Fatalf("unexpected header: %+v", gotHeader)
	}
	obj, err := ParsePayload(payload, 1<<20)
	if err != nil {
		t.Fatalf("unexpected payload error: %v", err)
	}
	if obj["a"].(float64) != 1 {
		t.Fatalf("unexpected payload: %v", obj)
	}
}

func TestDecodeMissingTerminator(t *testing.T) {
	if _, _, err := Decode([]byte("publish:test.created:1.0.0")); err == nil {
		t.Fatal("expected error for missing header terminator")
	}
}

func TestParsePayloadRejectsOverLength(t *testing.T) {
	if _, err := ParsePayload([]byte(`{"a":1}`), 2); err == nil {
		t.Fatal("expected error for payload exceeding max length")
	}
}

func TestParsePayloadRejectsNonObject(t *testing.T) {
	if _, err := ParsePayload([]byte(`[1,2,3]`), 1<<20); err == nil {
		t.Fatal("expected error for non-object payload")
	}
}

func TestParsePayloadValidatesErrorShape(t *testing.T) {
	if _, err := ParsePayload([]byte(`{"error":{"code":"X"}}`), 1<<20); err == nil {
		t.Fatal("expected error for incomplete error object")
	}
}

func TestEncodeWithPayloadUsesErrorPayload(t *testing.T) {
	h := &Header{Action: ActionResponse, Topic: "error", Version: "1.0.0"}
	e := brokererr.New(brokererr.MalformedMessage, "bad input")
	raw, err := EncodeWithPayload(h, ErrorPayload(e))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotHeader, payload, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if gotHeader.Action != ActionResponse {
		t.Fatalf("unexpected header: %+v", gotHeader)
	}
	obj, err := ParsePayload(payload, 1<<20)
	if err != nil {
		t.Fatalf("unexpected payload error: %v", err)
	}
	errObj := obj["error"].(map[string]any)
	if errObj["code"] != "MALFORMED_MESSAGE" {
		t.Fatalf("unexpected error payload: %v", errObj)
	}
}
