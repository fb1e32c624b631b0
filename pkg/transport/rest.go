package transport

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
)

// handleHealth serves spec.md §6.3's GET / health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "speech relay",
	})
}

// handleRooms serves the GET /rooms diagnostic listing.
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": s.registry.List(),
	})
}

// recordingEntry is one file listed by GET /recordings.
type recordingEntry struct {
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
}

// handleRecordings serves the GET /recordings file listing.
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.recordingsDir)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"recordings": []recordingEntry{}})
		return
	}

	out := make([]recordingEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".wav" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, recordingEntry{Name: e.Name(), Bytes: info.Size()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recordings": out})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
