package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/stonekit/internal/runtime/jsoncodec"
)

// IntrospectionPath is where the HTTP adapter mounts the snapshot handler.
const IntrospectionPath = "/_stonekit/state"

// KernelInfo describes one kernel in a snapshot.
type KernelInfo struct {
	Name   string               `json:"name"`
	Type   string               `json:"type"`
	Active bool                 `json:"active"`
	Stats  *KernelStatsSnapshot `json:"stats,omitempty"`
}

// ApplicationSnapshot is a point-in-time view of an application.
type ApplicationSnapshot struct {
	Name         string         `json:"name"`
	Env          string         `json:"env"`
	Locale       string         `json:"locale"`
	Phase        Phase          `json:"phase"`
	Debug        bool           `json:"debug"`
	SetUp        bool           `json:"set_up"`
	Booted       bool           `json:"booted"`
	Bootstrapped bool           `json:"bootstrapped"`
	Providers    []ProviderInfo `json:"providers"`
	Kernels      []KernelInfo   `json:"kernels"`
	Commands     []string       `json:"commands,omitempty"`
}

type statsReporter interface {
	Stats() KernelStatsSnapshot
}

// Snapshot returns the current state of the application.
func (a *Application) Snapshot() ApplicationSnapshot {
	snap := ApplicationSnapshot{
		Name:         a.Name(),
		Env:          a.Env(),
		Locale:       a.Locale(),
		Phase:        a.Phase(),
		Debug:        a.IsDebug(),
		SetUp:        a.IsSetUp(),
		Booted:       a.IsBooted(),
		Bootstrapped: a.HasBeenBootstrapped(),
		Providers:    a.providerSet().infos(),
		Kernels:      []KernelInfo{},
	}

	active := a.conf.ActiveKernel()
	a.mu.RLock()
	for _, name := range sortedKeys(a.kernels) {
		info := KernelInfo{Name: name, Type: a.kernelTypes[name], Active: name == active}
		if r, ok := a.kernels[name].(statsReporter); ok {
			stats := r.Stats()
			info.Stats = &stats
		}
		snap.Kernels = append(snap.Kernels, info)
	}
	for _, cmd := range a.commands {
		snap.Commands = append(snap.Commands, cmd.Name())
	}
	a.mu.RUnlock()
	return snap
}

// IntrospectionHandler serves the application snapshot as JSON. corsOrigin
// is "*", a single allowed origin, or empty to send no CORS headers.
func IntrospectionHandler(app *Application, corsOrigin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := allowedCORSOrigin(corsOrigin, r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodGet, http.MethodHead:
		default:
			w.Header().Set("Allow", "GET, OPTIONS")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := jsoncodec.Encode(w, app.Snapshot()); err != nil {
			app.logger.Error("Failed to encode application snapshot", err, nil)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	})
}

func allowedCORSOrigin(allowed, requestOrigin string) string {
	switch {
	case allowed == "":
		return ""
	case allowed == "*":
		return "*"
	case strings.EqualFold(allowed, requestOrigin):
		return requestOrigin
	default:
		return ""
	}
}
