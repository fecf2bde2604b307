package api

import (
	"DupHarvest/internal/engine/reaper"
	"DupHarvest/internal/model"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// TableView is the read side of the dedup table.
type TableView interface {
	Snapshot() []model.Entry
	Len() int
}

// ReaperView exposes the reaper's cycle state.
type ReaperView interface {
	State() reaper.State
	LastReport() *model.Report
}

// FrameCounter reports how many frames the ingest path has read.
type FrameCounter interface {
	Frames() uint64
}

// Deps holds the dependencies for API handlers.
type Deps struct {
	Table     TableView
	Reaper    ReaperView
	Ingest    FrameCounter
	ProbeID   string
	Interface string
}

// Server serves the query API, Prometheus metrics and a liveness probe.
type Server struct {
	deps   Deps
	server *http.Server
	logger zerolog.Logger
}

// RecordView is the JSON form of a tracking record.
type RecordView struct {
	Fingerprint string    `json:"fingerprint"`
	DstIP       string    `json:"dst_ip"`
	DstPort     uint16    `json:"dst_port"`
	Seq         uint32    `json:"seq"`
	Ack         uint32    `json:"ack"`
	PayloadSize uint16    `json:"payload_size"`
	FirstSeen   time.Time `json:"first_seen"`
	RepeatCount uint64    `json:"repeat_count"`
	Flags       uint16    `json:"flags"`
	FlagNames   string    `json:"flag_names"`
}

// SweepView summarises the most recent sweep.
type SweepView struct {
	SweptAt    time.Time `json:"swept_at"`
	Duplicates int       `json:"duplicates"`
	Evicted    int       `json:"evicted"`
	Live       int       `json:"live"`
}

// StatsView is the body of /api/v1/stats.
type StatsView struct {
	ProbeID     string     `json:"probe_id"`
	Interface   string     `json:"interface"`
	Records     int        `json:"records"`
	Frames      uint64     `json:"frames"`
	ReaperState string     `json:"reaper_state"`
	LastSweep   *SweepView `json:"last_sweep,omitempty"`
}

// NewServer creates the HTTP API server listening on addr.
func NewServer(addr string, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{deps: deps, logger: logger.With().Str("component", "api").Logger()}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/records", s.recordsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/stats", s.statsHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on an existing listener until the context is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", lis.Addr().String()).Msg("API server starting")
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server forced to shutdown: %w", err)
	}
	s.logger.Info().Msg("API server exited")
	return nil
}

// recordsHandler lists the table contents, optionally filtered by min_repeats.
func (s *Server) recordsHandler(w http.ResponseWriter, r *http.Request) {
	var minRepeats uint64
	if v := r.URL.Query().Get("min_repeats"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid min_repeats: %v", err), http.StatusBadRequest)
			return
		}
		minRepeats = n
	}

	entries := s.deps.Table.Snapshot()
	views := make([]RecordView, 0, len(entries))
	for _, e := range entries {
		if e.Record.RepeatCount < minRepeats {
			continue
		}
		views = append(views, toRecordView(e))
	}
	writeJSON(w, views)
}

func (s *Server) statsHandler(w http.ResponseWriter, _ *http.Request) {
	stats := StatsView{
		ProbeID:   s.deps.ProbeID,
		Interface: s.deps.Interface,
		Records:   s.deps.Table.Len(),
	}
	if s.deps.Ingest != nil {
		stats.Frames = s.deps.Ingest.Frames()
	}
	if s.deps.Reaper != nil {
		stats.ReaperState = s.deps.Reaper.State().String()
		if last := s.deps.Reaper.LastReport(); last != nil {
			stats.LastSweep = &SweepView{
				SweptAt:    last.SweptAt,
				Duplicates: len(last.Duplicates),
				Evicted:    last.Evicted,
				Live:       last.Live,
			}
		}
	}
	writeJSON(w, stats)
}

func toRecordView(e model.Entry) RecordView {
	fp := e.Fingerprint
	return RecordView{
		Fingerprint: fp.String(),
		DstIP:       net.IP(fp.DstIP[:]).String(),
		DstPort:     fp.DstPort,
		Seq:         fp.Seq,
		Ack:         fp.Ack,
		PayloadSize: fp.PayloadSize,
		FirstSeen:   e.Record.FirstSeen,
		RepeatCount: e.Record.RepeatCount,
		Flags:       e.Record.Flags,
		FlagNames:   model.FlagString(e.Record.Flags),
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
