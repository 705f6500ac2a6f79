package logging

import "testing"

func TestHubDeliversAtOrAboveSubscribedLevel(t *testing.T) {
	h := NewHub()
	var got []string
	h.Deliver = func(serviceID, level, message string) {
		got = append(got, serviceID+":"+level+":"+message)
	}
	h.Subscribe("svc-a", "warn", nil)

	h.publish("info", "should be filtered", "")
	h.publish("error", "should arrive", "")

	if len(got) != 1 || got[0] != "svc-a:error:should arrive" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestHubCodeFilter(t *testing.T) {
	h := NewHub()
	var got []string
	h.Deliver = func(serviceID, level, message string) {
		got = append(got, message)
	}
	h.Subscribe("svc-a", "debug", []string{"ROUTER_TIMEOUT"})

	h.publish("error", "unfiltered code dropped", "OTHER_CODE")
	h.publish("error", "matches code", "ROUTER_TIMEOUT")

	if len(got) != 1 || got[0] != "matches code" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	delivered := false
	h.Deliver = func(serviceID, level, message string) { delivered = true }
	h.Subscribe("svc-a", "info", nil)
	h.Unsubscribe("svc-a")
	h.publish("error", "nobody home", "")
	if delivered {
		t.Fatal("expected no delivery after unsubscribe")
	}
}
