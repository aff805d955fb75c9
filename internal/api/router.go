package api

import (
	"net/http"

	"github.com/onnwee/framepulse/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig bundles the handler groups the router mounts.
type RouterConfig struct {
	Track     *TrackHandlers
	Dashboard *DashboardHandlers
	Analytics *AnalyticsHandlers
	Health    *HealthHandlers
	Registry  *prometheus.Registry
}

// NewRouter mounts every endpoint on a fresh mux.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/track/start", cfg.Track.Start)
	mux.HandleFunc("/track/stage", cfg.Track.Stage)
	mux.HandleFunc("/track/face-analysis", cfg.Track.FaceAnalysis)
	mux.HandleFunc("/track/recommendation", cfg.Track.Recommendation)
	mux.HandleFunc("/track/voice", cfg.Track.Voice)
	mux.HandleFunc("/track/store-locator", cfg.Track.StoreLocator)
	mux.HandleFunc("/track/conversion", cfg.Track.Conversion)

	mux.HandleFunc("/dashboard/ws", cfg.Dashboard.Subscribe)

	mux.HandleFunc("/analytics/comprehensive", cfg.Analytics.Comprehensive)
	mux.HandleFunc("/analytics/roi", cfg.Analytics.ROI)
	mux.HandleFunc("/analytics/engagement/", cfg.Analytics.Engagement)
	mux.HandleFunc("/sessions/", cfg.Analytics.RemoveSession)

	mux.HandleFunc("/health", cfg.Health.Health)
	mux.HandleFunc("/ready", cfg.Health.Ready)

	if cfg.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	// Root serves a service banner; everything unmatched is a structured 404.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
			return
		}
		writeJSON(w, r.Context(), http.StatusOK, map[string]string{
			"service": "framepulse-api",
			"version": "0.0.1",
		})
	})

	return mux
}
