package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

// AboutResponse describes the running binary.
type AboutResponse struct {
	Service   string            `json:"service"`
	NowUTC    string            `json:"now_utc"`
	GoVersion string            `json:"go_version"`
	Module    string            `json:"module,omitempty"`
	Version   string            `json:"version,omitempty"`
	Revision  string            `json:"revision,omitempty"`
	Modified  bool              `json:"modified,omitempty"`
	BuiltAt   string            `json:"built_at,omitempty"`
	Libraries map[string]string `json:"libraries,omitempty"`
}

// aboutLibraries are the dependencies worth surfacing when diagnosing a
// field report: sensor transport, persistence and logging.
var aboutLibraries = map[string]bool{
	"github.com/gorilla/websocket":    true,
	"github.com/glebarez/sqlite":      true,
	"gorm.io/gorm":                    true,
	"github.com/rs/zerolog":           true,
	"github.com/kellydunn/golang-geo": true,
}

func readAbout(now time.Time) AboutResponse {
	resp := AboutResponse{
		Service:   "headingup",
		NowUTC:    now.UTC().Format(time.RFC3339Nano),
		GoVersion: runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return resp
	}
	resp.Module = bi.Main.Path
	resp.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			resp.Revision = s.Value
		case "vcs.modified":
			resp.Modified = s.Value == "true"
		case "vcs.time":
			resp.BuiltAt = s.Value
		}
	}
	for _, dep := range bi.Deps {
		if !aboutLibraries[dep.Path] {
			continue
		}
		if resp.Libraries == nil {
			resp.Libraries = make(map[string]string)
		}
		resp.Libraries[dep.Path] = dep.Version
	}
	return resp
}

// AboutHandler serves build and version details.
func AboutHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, readAbout(time.Now()))
	})
}
