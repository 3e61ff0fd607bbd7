package handlers

import (
	"net/http"
	"runtime"
	"sync"

	apperrors "github.com/3leaps/adfanout/internal/errors"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform,omitempty"`
}

var (
	versionMu   sync.RWMutex
	versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
)

// SetVersionInfo records the build identity served by /version.
func SetVersionInfo(info VersionInfo) {
	versionMu.Lock()
	defer versionMu.Unlock()
	versionInfo = info
}

// VersionHandler serves the build identity.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	versionMu.RLock()
	info := versionInfo
	versionMu.RUnlock()
	info.GoVersion = runtime.Version()
	apperrors.WriteJSON(w, http.StatusOK, info)
}
