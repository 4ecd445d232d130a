package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/healthscoreai/healthscore/internal/core/domain"
)

// watchHealthData streams the session's document over server-sent events.
// The first event carries the current state (null when no document exists)
// and a further event follows every successful write, local or remote.
func (rt *Router) watchHealthData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming is not supported by response writer"})
		return
	}

	user, err := rt.sessions.GetOrCreate(r.Context())
	if err != nil {
		writeError(w, domain.WrapError(domain.ErrSessionInit, "watch health data", err))
		return
	}

	if rt.metrics != nil {
		rt.metrics.WatchSessionStarted()
		defer rt.metrics.WatchSessionEnded()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Buffered so a burst of writes never blocks the notifier; a slow
	// client skips intermediate states, which is fine because every event
	// is a full snapshot and the newest one always wins.
	events := make(chan *domain.HealthDocument, 8)
	unsubscribe := rt.watcher.Subscribe(user.ID, func(doc *domain.HealthDocument) {
		offerSnapshot(events, doc)
	})
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case doc := <-events:
			if err := writeSnapshotEvent(w, doc); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// offerSnapshot queues a snapshot without ever blocking the notifier.
// When the channel is full the oldest queued snapshot is evicted so the
// client always converges on the newest state.
func offerSnapshot(events chan *domain.HealthDocument, doc *domain.HealthDocument) {
	for {
		select {
		case events <- doc:
			return
		default:
		}
		select {
		case <-events:
		default:
		}
	}
}

func writeSnapshotEvent(w http.ResponseWriter, doc *domain.HealthDocument) error {
	payload := []byte("null")
	if doc != nil {
		var err error
		payload, err = json.Marshal(doc)
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
	return err
}
