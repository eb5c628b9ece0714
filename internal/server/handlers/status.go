package handlers

import (
	"net/http"
	"runtime"
)

// StatusFunc returns the current progress snapshot of a run.
type StatusFunc func() any

// StatusHandler serves the snapshot returned by fn.
func StatusHandler(fn StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, fn())
	}
}

// VersionResponse is the body of /version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
}

// VersionHandler serves static build information.
func VersionHandler(version, commit, buildDate string) http.HandlerFunc {
	resp := VersionResponse{Version: version, Commit: commit, BuildDate: buildDate, GoVersion: runtime.Version()}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, resp)
	}
}
