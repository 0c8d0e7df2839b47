package hub

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

// Prefix is where the sockjs endpoint is mounted.
const Prefix = "/realtime"

// Handler serves sockjs sessions under Prefix. Clients receive change
// envelopes and may send subscribe/unsubscribe messages. Sessions are
// long-lived, so the server write timeout is lifted for them.
func Handler(h *Hub) http.Handler {
	sessions := sessionHandler(h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
		sessions.ServeHTTP(w, r)
	})
}

func sessionHandler(h *Hub) http.Handler {
	return sockjs.NewHandler(Prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, Subscription{})
				continue
			}
			h.UpdateSubscription(client, Subscription{Table: parsed.Table, ServiceCode: parsed.ServiceCode})
		}
	})
}
