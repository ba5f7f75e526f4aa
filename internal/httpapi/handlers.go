package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ramy7777/vrpong-multi-sub000/internal/directory"
)

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Stats reports room/connection counts. Read-only: the reply round-trips
// through the directory loop so there is no racy map access.
func Stats(d *directory.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan directory.Stats, 1)
		d.Inbox() <- directory.GetStats{Reply: reply}
		stats := <-reply

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Rooms       int `json:"rooms"`
			Connections int `json:"connections"`
		}{Rooms: stats.Rooms, Connections: stats.Conns})
	}
}
