package http

import (
	"net/http"

	"github.com/aukilabs/sightline/engine"
)

type versionResponse struct {
	Version     string `json:"version"`
	SnapshotID  string `json:"snapshot_id,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// HandleVersion reports the server version along with the identity of the
// snapshot currently served by store.
func HandleVersion(version string, store *engine.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := versionResponse{Version: version}
		if s, err := store.Snapshot(); err == nil {
			res.SnapshotID = s.ID
			res.Fingerprint = s.Fingerprint
		}
		writeJSON(w, r, res)
	}
}
