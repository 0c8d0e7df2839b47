package hub

import (
	"context"
	"encoding/json"
	"testing"

	"qms/dispatch-service/internal/models"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name string
		sub  Subscription
		meta Subscription
		want bool
	}{
		{"no filter", Subscription{}, Subscription{Table: models.TableTickets, ServiceCode: "A"}, true},
		{"table match", Subscription{Table: models.TableTickets}, Subscription{Table: models.TableTickets}, true},
		{"table mismatch", Subscription{Table: models.TableCounters}, Subscription{Table: models.TableTickets}, false},
		{"service match", Subscription{ServiceCode: "A"}, Subscription{Table: models.TableTickets, ServiceCode: "A"}, true},
		{"service mismatch", Subscription{ServiceCode: "A"}, Subscription{Table: models.TableTickets, ServiceCode: "B"}, false},
		{"counter events reach service filters", Subscription{ServiceCode: "A"}, Subscription{Table: models.TableCounters}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := match(tc.sub, tc.meta); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","table":"tickets","service_code":"A"}`))
	if !ok || msg.Table != models.TableTickets || msg.ServiceCode != "A" {
		t.Fatalf("unexpected parse result %+v %v", msg, ok)
	}
	if _, ok := ParseSubscribe([]byte(`{"action":"subscribe","table":"users"}`)); ok {
		t.Fatal("unknown table accepted")
	}
	if _, ok := ParseSubscribe([]byte(`{"action":"ping"}`)); ok {
		t.Fatal("unknown action accepted")
	}
	if _, ok := ParseSubscribe([]byte(`nope`)); ok {
		t.Fatal("garbage accepted")
	}
}

func TestPublishRoutesBySubscription(t *testing.T) {
	h := New(nil)
	all := &Client{ID: "all", Send: make(chan []byte, 4)}
	onlyB := &Client{ID: "b", Send: make(chan []byte, 4), Subscription: Subscription{ServiceCode: "B"}}
	h.Register(all)
	h.Register(onlyB)
	defer h.Unregister(all)
	defer h.Unregister(onlyB)

	event := models.ChangeEvent{Table: models.TableTickets, Op: models.OpInsert, ID: "t1", ServiceCode: "A"}
	if err := h.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(onlyB.Send) != 0 {
		t.Fatal("service filter not applied")
	}
	if len(all.Send) != 1 {
		t.Fatalf("expected one message, got %d", len(all.Send))
	}
	var env envelope
	if err := json.Unmarshal(<-all.Send, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != "change" || env.Payload.ID != "t1" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	h := New(nil)
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)

	h.Broadcast([]byte("1"), Subscription{})
	h.Broadcast([]byte("2"), Subscription{})

	if len(slow.Send) != 1 {
		t.Fatalf("expected buffered message only, got %d", len(slow.Send))
	}
	h.Unregister(slow)
	h.Unregister(slow)
	if h.Len() != 0 {
		t.Fatalf("expected empty hub, got %d", h.Len())
	}
}
