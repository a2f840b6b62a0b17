package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/packetflow/reactor/internal/router"
)

// HTTPRouter builds the convenience introspection surface: GET /health,
// GET /info, GET /stats. The binary protocol remains authoritative; these
// exist for operators and uptime checks.
func (g *Gateway) HTTPRouter(reactorID, protocolVersion string, specializations []router.Specialization, supportedGroups []string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/info", g.handleInfo(reactorID, protocolVersion, specializations, supportedGroups)).Methods(http.MethodGet)
	r.HandleFunc("/stats", g.handleStats(reactorID)).Methods(http.MethodGet)
	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := g.Engine.Stats()
	loadPercent := 0.0
	if g.Health != nil {
		loadPercent = (1.0 - g.Health.SystemHealth()) * 100
	}
	writeJSON(w, map[string]any{
		"ok":             true,
		"load_percent":   loadPercent,
		"queue_depth":    0,
		"uptime_seconds": g.Uptime().Seconds(),
		"connections":    g.SessionCount(),
		"processed":      stats.Processed,
		"errors":         stats.Errors,
	})
}

func (g *Gateway) handleInfo(reactorID, protocolVersion string, specializations []router.Specialization, supportedGroups []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys := g.Engine.Registry.List()
		keyStrings := make([]string, len(keys))
		for i, k := range keys {
			keyStrings[i] = k.String()
		}
		writeJSON(w, map[string]any{
			"reactor_id":             reactorID,
			"version":                "1.0.0",
			"protocol_version":       protocolVersion,
			"specializations":        specializations,
			"supported_groups":       supportedGroups,
			"registered_packet_keys": keyStrings,
			"capacity":               g.Engine.Registry.Count(),
			"features":               []string{"submit", "batch_submit", "ping", "register", "pipeline"},
		})
	}
}

func (g *Gateway) handleStats(reactorID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := g.Engine.Stats()
		keys := g.Engine.Registry.List()
		perHandler := make(map[string]any, len(keys))
		for _, k := range keys {
			rec, ok := g.Engine.Registry.Lookup(k)
			if !ok {
				continue
			}
			hs := rec.Stats()
			perHandler[k.String()] = map[string]any{
				"description":     rec.Description,
				"calls":           hs.Calls,
				"errors":          hs.Errors,
				"avg_duration_ms": hs.AvgDuration.Seconds() * 1000,
				"last_called_at":  hs.LastCalledAt,
			}
		}
		writeJSON(w, map[string]any{
			"reactor_id": reactorID,
			"processed":  stats.Processed,
			"successes":  stats.Successes,
			"errors":     stats.Errors,
			"handlers":   perHandler,
			"sampled_at": time.Now().UTC(),
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
