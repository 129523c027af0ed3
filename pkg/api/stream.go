package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleLogStream handles GET /logs/stream: a server-sent-events feed of
// entries as they are captured. The connection stays open until the client
// disconnects; slow clients miss entries rather than backing up capture.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}

	sub, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry := <-sub:
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: entry\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
