package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/aicouncil/council-orchestrator/internal/orchestrator"
)

// eventHub fans orchestrator events out to connected SSE clients. A client
// that stops draining its channel is dropped so the pipeline never blocks on
// a slow consumer.
type eventHub struct {
	mu      sync.Mutex
	clients map[chan orchestrator.Event]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{clients: make(map[chan orchestrator.Event]struct{})}
}

func (h *eventHub) subscribe() chan orchestrator.Event {
	ch := make(chan orchestrator.Event, 16)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(ch chan orchestrator.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *eventHub) publish(ev orchestrator.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			delete(h.clients, ch)
			close(ch)
		}
	}
}

// eventsHandler streams run events as SSE, one message per orchestrator
// event. The event name is the orchestrator event type ("stage", "result",
// "finished") and the data is the event marshalled as JSON.
func (s *Server) eventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		client := s.events.subscribe()
		defer s.events.unsubscribe(client)

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-client:
				if !open {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\n", ev.Type)
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}
