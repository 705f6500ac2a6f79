package service

import (
	"testing"
	"time"

	"github.com/mandersen/brokerd/internal/codec"
	"github.com/mandersen/brokerd/internal/logging"
	"github.com/mandersen/brokerd/internal/monitoring"
	"github.com/mandersen/brokerd/internal/subscription"
)

type fakeSender struct {
	sent   []sentMessage
	closed []string
}

type sentMessage struct {
	serviceID string
	header    *codec.Header
	payload   map[string]any
}

func (f *fakeSender) SendMessage(serviceID string, h *codec.Header, payload map[string]any) error {
	f.sent = append(f.sent, sentMessage{serviceID: serviceID, header: h, payload: payload})
	return nil
}

func (f *fakeSender) CloseConnection(serviceID string) {
	f.closed = append(f.closed, serviceID)
}

func newTestRegistry() (*Registry, *fakeSender) {
	r := New(subscription.New(), monitoring.New(), logging.NewHub(), time.Hour, time.Hour)
	sender := &fakeSender{}
	r.SetConnectionManager(sender)
	return r, sender
}

func TestRegisterAndHeartbeat(t *testing.T) {
	r, sender := newTestRegistry()
	r.RegisterService("svc-a")
	h := &codec.Header{Action: codec.ActionRequest, Topic: "system.heartbeat", Version: "1.0.0", RequestID: "rid"}
	r.HandleMessage("svc-a", h, map[string]any{})
	if len(sender.sent) != 1 || sender.sent[0].payload["status"] != "success" {
		t.Fatalf("expected heartbeat success response, got %v", sender.sent)
	}
}

func TestHeartbeatForUnregisteredService(t *testing.T) {
	r, sender := newTestRegistry()
	h := &codec.Header{Action: codec.ActionRequest, Topic: "system.heartbeat", Version: "1.0.0", RequestID: "rid"}
	r.HandleMessage("svc-ghost", h, map[string]any{})
	if len(sender.sent) != 1 {
		t.Fatalf("expected one response, got %v", sender.sent)
	}
	errObj := sender.sent[0].payload["error"].(map[string]any)
	if errObj["code"] != "SERVICE_UNAVAILABLE" {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %v", errObj)
	}
}

func TestServiceRegisterRequiresStringFields(t *testing.T) {
	r, sender := newTestRegistry()
	r.RegisterService("svc-a")
	h := &codec.Header{Action: codec.ActionRequest, Topic: "system.service.register", Version: "1.0.0", RequestID: "rid"}
	r.HandleMessage("svc-a", h, map[string]any{"name": 5, "description": "x"})
	errObj := sender.sent[0].payload["error"].(map[string]any)
	if errObj["code"] != "INVALID_REQUEST" {
		t.Fatalf("expected INVALID_REQUEST, got %v", errObj)
	}
}

func TestTopicSubscribeRejectsSystemTopics(t *testing.T) {
	r, sender := newTestRegistry()
	r.RegisterService("svc-a")
	h := &codec.Header{Action: codec.ActionRequest, Topic: "system.topic.subscribe", Version: "1.0.0", RequestID: "rid"}
	r.HandleMessage("svc-a", h, map[string]any{"topic": "system.heartbeat"})
	errObj := sender.sent[0].payload["error"].(map[string]any)
	if errObj["code"] != "INVALID_REQUEST" {
		t.Fatalf("expected INVALID_REQUEST for restricted topic, got %v", errObj)
	}
}

func TestTopicSubscribeAndList(t *testing.T) {
	r, sender := newTestRegistry()
	r.RegisterService("svc-a")
	sub := &codec.Header{Action: codec.ActionRequest, Topic: "system.topic.subscribe", Version: "1.0.0", RequestID: "rid1"}
	r.HandleMessage("svc-a", sub, map[string]any{"topic": "test.created", "priority": 2.0})
	if sender.sent[len(sender.sent)-1].payload["status"] != "success" {
		t.Fatalf("expected successful subscribe, got %v", sender.sent)
	}

	list := &codec.Header{Action: codec.ActionRequest, Topic: "system.topic.list", Version: "1.0.0", RequestID: "rid2"}
	r.HandleMessage("svc-a", list, map[string]any{})
	topics := sender.sent[len(sender.sent)-1].payload["topics"].([]string)
	if len(topics) != 1 || topics[0] != "test.created" {
		t.Fatalf("unexpected topic list: %v", topics)
	}
}

func TestUnknownSystemTopic(t *testing.T) {
	r, sender := newTestRegistry()
	r.RegisterService("svc-a")
	h := &codec.Header{Action: codec.ActionRequest, Topic: "system.bogus", Version: "1.0.0", RequestID: "rid"}
	r.HandleMessage("svc-a", h, map[string]any{})
	errObj := sender.sent[0].payload["error"].(map[string]any)
	if errObj["code"] != "TOPIC_NOT_SUPPORTED" {
		t.Fatalf("expected TOPIC_NOT_SUPPORTED, got %v", errObj)
	}
}

func TestNonRequestActionRejected(t *testing.T) {
	r, sender := newTestRegistry()
	r.RegisterService("svc-a")
	h := &codec.Header{Action: codec.ActionPublish, Topic: "system.service.list", Version: "1.0.0"}
	r.HandleMessage("svc-a", h, map[string]any{})
	errObj := sender.sent[0].payload["error"].(map[string]any)
	if errObj["code"] != "INVALID_REQUEST" {
		t.Fatalf("expected INVALID_REQUEST for non-request action, got %v", errObj)
	}
}

func TestUnregisterClearsSubscriptions(t *testing.T) {
	r, sender := newTestRegistry()
	r.RegisterService("svc-a")
	sub := &codec.Header{Action: codec.ActionRequest, Topic: "system.topic.subscribe", Version: "1.0.0", RequestID: "rid1"}
	r.HandleMessage("svc-a", sub, map[string]any{"topic": "test.created"})
	r.UnregisterService("svc-a")
	if len(r.subs.GetAllSubscribedTopics()) != 0 {
		t.Fatal("expected subscriptions to be cleared on unregister")
	}
	_ = sender
}

func TestDeregisterTimeoutClosesConnection(t *testing.T) {
	r := New(subscription.New(), monitoring.New(), logging.NewHub(), time.Hour, 20*time.Millisecond)
	sender := &fakeSender{}
	r.SetConnectionManager(sender)
	r.RegisterService("svc-a")
	time.Sleep(60 * time.Millisecond)
	if len(sender.closed) != 1 || sender.closed[0] != "svc-a" {
		t.Fatalf("expected svc-a to be closed on deregister timeout, got %v", sender.closed)
	}
}
