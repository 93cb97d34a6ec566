package debugapi

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"version": s.version})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.dev.Status())
}

func (s *Server) handleFota(w http.ResponseWriter, r *http.Request) {
	st := s.dev.FotaState()
	writeJSON(w, map[string]any{
		"phase":         s.dev.FotaPhase().String(),
		"type":          st.Type.String(),
		"generation_id": st.GenerationID,
		"bytes_written": st.BytesWritten,
		"bc_size":       st.BCSize,
		"vm_size":       st.VMSize,
		"current":       s.history.Current(),
	})
}

func (s *Server) handleFotaHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.history.History())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
