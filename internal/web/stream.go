package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleStream serves notifications as Server-Sent Events. Each transition
// is one "transition" event carrying the notification as JSON. A comment
// line is sent every 30 seconds to keep proxies from closing the stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		http.Error(w, "event stream disabled", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if present

	notes, cancel := s.stream.Subscribe(16)
	defer cancel()

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case n, ok := <-notes:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				s.logger.Warn("encode notification failed", "key", n.Key, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: transition\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
