package tinymqtt

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/golang-io/requests"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statsResponse is the JSON body served on /stats: a snapshot of the
// broker's session count and bridge state.
type statsResponse struct {
	ClientsCount    int    `json:"clientsCount"`
	BridgeConnected bool   `json:"bridgeConnected"`
	BridgeState     string `json:"bridgeState"`
}

func (b *Broker) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := statsResponse{
		ClientsCount:    b.SessionCount(),
		BridgeConnected: b.BridgeState() == BridgeConnected,
		BridgeState:     b.BridgeState().String(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ListenAndServeAdmin runs the admin HTTP surface on addr: /metrics
// (Prometheus exposition for this broker's own registry), /healthz
// (liveness), and /stats (JSON snapshot).
func (b *Broker) ListenAndServeAdmin(addr string) error {
	mux := requests.NewServeMux(requests.URL(addr))
	mux.Route("/metrics", promhttp.HandlerFor(b.metrics.Registry, promhttp.HandlerOpts{}))
	mux.Route("/healthz", http.HandlerFunc(healthzHandler))
	mux.Route("/stats", http.HandlerFunc(b.statsHandler))
	mux.Pprof()

	s := requests.NewServer(context.Background(), mux, requests.OnStart(func(s *http.Server) {
		log.Printf("tinymqtt: admin http serve: %s", s.Addr)
	}))
	return s.ListenAndServe()
}
