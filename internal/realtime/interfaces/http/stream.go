package http

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"agrisense-cloud/internal/realtime"
)

const clientBuffer = 16

// StreamHandler serves signals over server-sent events.
type StreamHandler struct {
	hub    *realtime.Hub
	logger *zap.Logger
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(hub *realtime.Hub, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{hub: hub, logger: logger}
}

// ServeHTTP handles GET /api/v1/stream?topic=.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.hub == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	signals, sub, err := subscribe(h.hub, r.URL.Query().Get("topic"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	for {
		select {
		case signal := <-signals:
			payload, err := json.Marshal(signal)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: signal\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// subscribe bridges hub delivery into a channel owned by one connection.
func subscribe(hub *realtime.Hub, topic string) (<-chan realtime.Signal, *realtime.Subscription, error) {
	signals := make(chan realtime.Signal, clientBuffer)
	sub, err := hub.Subscribe(topic, func(ctx context.Context, signal realtime.Signal) {
		select {
		case signals <- signal:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return signals, sub, nil
}
