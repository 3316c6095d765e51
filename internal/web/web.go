// Package web exposes the consumer's status/admin HTTP API: health,
// cumulative stats, recent CDC events, and Prometheus metrics.
// Adapted from the teacher's internal/web, routed with gorilla/mux in
// place of the teacher's hand-rolled regexp dispatch.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/riakbridge/riakbridge/internal/cdc"
	"github.com/riakbridge/riakbridge/internal/checkpoint"
	"github.com/riakbridge/riakbridge/internal/hotkeys"
)

// StatsSource is the subset of *consumer.Consumer the API needs.
type StatsSource interface {
	Stats() checkpoint.Stats
}

// Server serves the status/admin HTTP API over addr.
type Server struct {
	addr      string
	stats     StatsSource
	cdc       *cdc.Stream
	hotkeys   *hotkeys.Tracker
	server    *http.Server
	startTime time.Time

	appliedTotal      prometheus.Counter
	skippedTotal      prometheus.Counter
	decodeFailedTotal prometheus.Counter
}

// New creates a status/admin Server. registry may be nil to use the
// default Prometheus registry.
func New(addr string, stats StatsSource, cdcStream *cdc.Stream, hk *hotkeys.Tracker, registry *prometheus.Registry) *Server {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	if registry != nil {
		registerer = registry
	}
	factory := promauto.With(registerer)
	s := &Server{
		addr:      addr,
		stats:     stats,
		cdc:       cdcStream,
		hotkeys:   hk,
		startTime: time.Now(),
		appliedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "riakbridge_records_applied_total",
			Help: "Records applied to the sink.",
		}),
		skippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "riakbridge_records_skipped_total",
			Help: "Records decoded but not applied.",
		}),
		decodeFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "riakbridge_decode_failed_total",
			Help: "Records that failed to decode.",
		}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	if registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	} else {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	s.server = &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// ObserveApplied, ObserveSkipped, and ObserveDecodeFailed each
// increment their Prometheus counter by one. The consumer loop calls
// the matching method once per decision (internal/consumer.Consumer.Run,
// via the consumer.MetricsObserver interface this Server satisfies) —
// counting per-decision rather than re-adding a cumulative Stats()
// snapshot avoids double-counting across calls.
func (s *Server) ObserveApplied() { s.appliedTotal.Inc() }

func (s *Server) ObserveSkipped() { s.skippedTotal.Inc() }

func (s *Server) ObserveDecodeFailed() { s.decodeFailedTotal.Inc() }

// Start runs the HTTP server until ctx is cancelled (spec §5).
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Applied      int64           `json:"applied"`
	Skipped      int64           `json:"skipped"`
	DecodeFailed int64           `json:"decode_failed"`
	PolledEmpty  int64           `json:"polled_empty"`
	UptimeSecs   int64           `json:"uptime_seconds"`
	TopKeys      []hotkeys.Entry `json:"top_keys"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.stats.Stats()
	resp := statsResponse{
		Applied:      st.Applied,
		Skipped:      st.Skipped,
		DecodeFailed: st.DecodeFailed,
		PolledEmpty:  st.PolledEmpty,
		UptimeSecs:   int64(time.Since(s.startTime).Seconds()),
		TopKeys:      s.hotkeys.Top(10),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since := uint64(0)
	if v := r.URL.Query().Get("since"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			since = n
		}
	}
	writeJSON(w, http.StatusOK, s.cdc.Since(since))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
