package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"breathe/internal/config"
	"breathe/internal/engine"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server
type Server struct {
	cache *engine.Cache
	cfg   *config.Config
	mux   *http.ServeMux
}

// NewServer creates a new HTTP server
func NewServer(cache *engine.Cache, cfg *config.Config) *Server {
	s := &Server{
		cache: cache,
		cfg:   cfg,
		mux:   http.NewServeMux(),
	}

	// Register routes
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/zones", s.handleZones)
	s.mux.HandleFunc("/aqi/zone/", s.handleZoneAQI)
	s.mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.mux)
}

// handleHealth returns the server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().String(),
	})
}

// handleZones lists the configured zones
func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	type zoneInfo struct {
		ID       string  `json:"id"`
		Name     string  `json:"name"`
		Lat      float64 `json:"lat"`
		Lon      float64 `json:"lon"`
		ZoneType string  `json:"zone_type"`
		Sensors  int     `json:"sensors"`
	}

	zones := make([]zoneInfo, 0, len(s.cfg.Zones))
	for _, z := range s.cfg.Zones {
		zones = append(zones, zoneInfo{
			ID:       z.ID,
			Name:     z.Name,
			Lat:      z.Lat,
			Lon:      z.Lon,
			ZoneType: z.ZoneType,
			Sensors:  len(z.SensorNodes),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"zones": zones,
	})
}

// handleZoneAQI serves the cached or freshly computed snapshot for one zone
func (s *Server) handleZoneAQI(w http.ResponseWriter, r *http.Request) {
	zoneID := strings.TrimPrefix(r.URL.Path, "/aqi/zone/")
	if zoneID == "" || strings.Contains(zoneID, "/") {
		http.Error(w, "zone id required", http.StatusBadRequest)
		return
	}

	force := r.URL.Query().Get("force_refresh") == "1"

	snap, err := s.cache.Get(r.Context(), zoneID, force)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownZone) {
			http.Error(w, "zone not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}
