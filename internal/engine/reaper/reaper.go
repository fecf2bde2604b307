package reaper

import (
	"DupHarvest/internal/metrics"
	"DupHarvest/internal/model"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State is the reaper's position in its Waiting/Sweeping cycle.
type State int32

const (
	Waiting State = iota
	Sweeping
)

func (s State) String() string {
	if s == Sweeping {
		return "sweeping"
	}
	return "waiting"
}

// Sweeper runs one report-then-evict pass.
type Sweeper interface {
	Sweep(now time.Time) *model.Report
}

// Reaper periodically sweeps the table and hands each report to its writers.
// A failure of the primary writer stops the reaper with an error; failures
// of the other writers are logged and counted.
type Reaper struct {
	sweeper  Sweeper
	interval time.Duration
	primary  model.Writer
	sinks    []model.Writer
	clock    func() time.Time
	logger   zerolog.Logger

	state atomic.Int32
	last  atomic.Pointer[model.Report]
}

// New creates a reaper sweeping every interval.
func New(sweeper Sweeper, interval time.Duration, primary model.Writer, sinks []model.Writer, logger zerolog.Logger) *Reaper {
	return &Reaper{
		sweeper:  sweeper,
		interval: interval,
		primary:  primary,
		sinks:    sinks,
		clock:    time.Now,
		logger:   logger.With().Str("component", "reaper").Logger(),
	}
}

// Run sweeps once immediately, then on every tick until the context is
// cancelled, when it sweeps one last time.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.interval).Int("sinks", len(r.sinks)).Msg("reaper started")
	if err := r.cycle(); err != nil {
		return err
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.cycle(); err != nil {
				return err
			}
		case <-ctx.Done():
			r.logger.Info().Msg("reaper shutting down, taking final sweep")
			return r.cycle()
		}
	}
}

// State returns whether the reaper is currently waiting or sweeping.
func (r *Reaper) State() State {
	return State(r.state.Load())
}

// LastReport returns the report of the most recent sweep, or nil.
func (r *Reaper) LastReport() *model.Report {
	return r.last.Load()
}

func (r *Reaper) cycle() error {
	r.state.Store(int32(Sweeping))
	defer r.state.Store(int32(Waiting))

	report := r.sweeper.Sweep(r.clock())
	r.last.Store(report)

	if err := r.primary.Write(report); err != nil {
		metrics.WriterErrors.WithLabelValues(r.primary.Name()).Inc()
		return fmt.Errorf("failed to write report to %s: %w", r.primary.Name(), err)
	}
	for _, sink := range r.sinks {
		if err := sink.Write(report); err != nil {
			metrics.WriterErrors.WithLabelValues(sink.Name()).Inc()
			r.logger.Warn().Err(err).Str("writer", sink.Name()).Msg("report sink failed")
		}
	}

	r.logger.Debug().
		Int("duplicates", len(report.Duplicates)).
		Int("evicted", report.Evicted).
		Int("live", report.Live).
		Msg("sweep completed")
	return nil
}
