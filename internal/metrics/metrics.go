package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame outcomes recorded by the ingest path.
const (
	FrameObserved      = "observed"
	FrameForeignSource = "foreign_source"
	FrameNotIPv4       = "not_ipv4"
	FrameNotTCP        = "not_tcp"
	FrameMalformed     = "malformed"
)

var (
	//
	// ingest
	//
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dupharvest_frames_total",
		Help: "The total number of captured frames by ingest outcome",
	}, []string{"outcome"})

	//
	// table
	//
	RecordsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dupharvest_records_created_total",
		Help: "The total number of tracking records created",
	})
	RepeatsObserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dupharvest_repeats_observed_total",
		Help: "The total number of observations matching an existing fingerprint",
	})
	TableSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dupharvest_table_records",
		Help: "Number of tracking records after the last sweep",
	})

	//
	// reaper
	//
	Sweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dupharvest_sweeps_total",
		Help: "The total number of completed sweeps",
	})
	DuplicatesReported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dupharvest_duplicates_reported_total",
		Help: "The total number of report entries emitted across all sweeps",
	})
	RecordsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dupharvest_records_evicted_total",
		Help: "The total number of records evicted after exceeding retention",
	})
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dupharvest_sweep_duration_seconds",
		Help:    "Duration of a single sweep pass over the table",
		Buckets: []float64{.00001, .0001, .001, .01, .1, 1.0, 5.0},
	})
	WriterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dupharvest_writer_errors_total",
		Help: "Report writes that failed, by writer",
	}, []string{"writer"})
)
