package server

import (
	"net/http"
	"runtime"
	"time"
)

func (s *Server) handleEntryPoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"entities_url":      "/v2/entities",
		"types_url":         "/v2/types",
		"subscriptions_url": "/v2/subscriptions",
		"registrations_url": "/v2/registrations",
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contexd": map[string]interface{}{
			"version":        Version,
			"uptime_in_secs": int64(time.Since(s.startTime).Seconds()),
			"go_version":     runtime.Version(),
		},
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_in_secs": int64(time.Since(s.startTime).Seconds()),
		"counters": map[string]int64{
			"entityRequests":       s.stats.entityRequests.Load(),
			"batchRequests":        s.stats.batchRequests.Load(),
			"typeRequests":         s.stats.typeRequests.Load(),
			"subscriptionRequests": s.stats.subscriptionRequests.Load(),
		},
	})
}
