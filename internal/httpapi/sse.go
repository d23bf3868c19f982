package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lounged/pkg/types"
)

// serveQueueEvents streams queue snapshots as Server-Sent Events. Each
// message carries the full ordered snapshot; intermediate snapshots may be
// dropped when the client reads slower than the queue changes.
func serveQueueEvents(w http.ResponseWriter, r *http.Request, svc Service) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Latest snapshot wins.
	updates := make(chan []types.QueuedRequest, 1)
	unsubscribe := svc.Subscribe(func(snap []types.QueuedRequest) {
		select {
		case updates <- snap:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- snap:
			default:
			}
		}
	})
	defer unsubscribe()

	// Join server base context with request context so shutdown ends the stream.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	var id uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap := <-updates:
			b, err := json.Marshal(snap)
			if err != nil {
				logFor(r).Error().Err(err).Msg("encode queue snapshot")
				continue
			}
			id++
			if _, err := fmt.Fprintf(w, "id: %d\nevent: queue\ndata: %s\n\n", id, b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
