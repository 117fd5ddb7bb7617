package http

import (
	"net/http"

	"github.com/aukilabs/sightline/engine"
)

type healthResponse struct {
	Status     string `json:"status"`
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// HandleHealthCheck reports that the process serves requests, whether a
// snapshot is published or not.
func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, healthResponse{Status: "ok"})
}

// HandleReadyCheck reports whether store has a published snapshot. It
// responds with 503 until the first build completes.
func HandleReadyCheck(store *engine.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := store.Snapshot()
		if err != nil {
			writeJSONStatus(w, r, http.StatusServiceUnavailable, healthResponse{
				Status: "no_snapshot",
			})
			return
		}

		writeJSON(w, r, healthResponse{
			Status:     "ready",
			SnapshotID: s.ID,
		})
	}
}
