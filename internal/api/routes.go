package api

import (
	"net/http"

	"github.com/lexiqai/tts-gateway/internal/config"
	"github.com/lexiqai/tts-gateway/internal/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes bundles the collaborators the HTTP surface is built from
type Routes struct {
	Synthesizer Synthesizer
	Checks      map[string]observability.HealthCheckFunc
}

// NewMux registers the gateway endpoints
func NewMux(cfg *config.Config, routes Routes) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/tts", HandleTTS(routes.Synthesizer, cfg.MaxRequestBytes))
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(routes.Checks))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	return mux
}
