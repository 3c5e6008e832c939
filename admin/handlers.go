package admin

import (
	"encoding/json"
	"net/http"
)

// Healthz reports the server stats.
func Healthz(src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := src.Stats()
		if stats.Users == nil {
			stats.Users = []string{}
		}

		status := http.StatusOK
		if !stats.Running {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, stats)
	}
}

// Users lists the logged in names.
func Users(src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users := src.Stats().Users
		if users == nil {
			users = []string{}
		}

		writeJSON(w, http.StatusOK, struct {
			Users []string `json:"users"`
		}{Users: users})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
