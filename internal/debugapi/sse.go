package debugapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleFrameStream serves recent frames as catchup, then tails live
// traffic as Server-Sent Events (adapted from the teacher's
// server.handleStream: catchup-then-subscribe, minus the raw-terminal/ANSI
// handling that has no counterpart for discrete JSON frames).
func (s *Server) handleFrameStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	for _, f := range s.frames.Snapshot() {
		writeSSE(w, f)
	}
	flusher.Flush()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, f)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, f any) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
