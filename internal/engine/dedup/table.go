package dedup

import (
	"DupHarvest/internal/metrics"
	"DupHarvest/internal/model"
	"sort"
	"sync"
	"time"
)

const (
	defaultShardCount      = 16
	defaultReportThreshold = 2
)

// shard is one partition of the table, guarded by its own mutex.
type shard struct {
	mu      sync.Mutex
	records map[model.Fingerprint]*model.Record
}

// Table tracks every distinct segment seen within the retention window.
// Observe and Sweep may be called from different goroutines.
type Table struct {
	shards          []*shard
	shardCount      uint64
	retention       time.Duration
	reportThreshold uint64
	clock           func() time.Time
}

// Option configures a Table.
type Option func(*Table)

// WithShards sets the number of independently locked partitions.
// A single shard makes every call a full-table critical section.
func WithShards(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.shardCount = uint64(n)
		}
	}
}

// WithReportThreshold sets the minimum repeat count a record needs to be reported.
func WithReportThreshold(n uint64) Option {
	return func(t *Table) {
		if n > 0 {
			t.reportThreshold = n
		}
	}
}

// WithClock replaces time.Now as the source of first-seen timestamps.
func WithClock(clock func() time.Time) Option {
	return func(t *Table) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// New creates a table that evicts records older than retention.
func New(retention time.Duration, opts ...Option) *Table {
	t := &Table{
		shardCount:      defaultShardCount,
		retention:       retention,
		reportThreshold: defaultReportThreshold,
		clock:           time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.shards = make([]*shard, t.shardCount)
	for i := range t.shards {
		t.shards[i] = &shard{records: make(map[model.Fingerprint]*model.Record)}
	}
	return t
}

// Retention returns the maximum age a record may reach before eviction.
func (t *Table) Retention() time.Duration {
	return t.retention
}

// Observe records one sighting of a segment. The first sighting creates a
// record stamped with the current time and the segment's flags; later
// sightings only increment its repeat count.
func (t *Table) Observe(seg *model.Segment) {
	fp := FingerprintOf(seg)
	s := t.getShard(fp)

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[fp]; ok {
		rec.RepeatCount++
		metrics.RepeatsObserved.Inc()
		return
	}
	s.records[fp] = &model.Record{
		FirstSeen: t.clock(),
		Flags:     seg.Flags,
	}
	metrics.RecordsCreated.Inc()
}

// Sweep reports every record whose repeat count reached the report threshold
// and then evicts every record older than the retention window, including
// ones reported in the same pass. Each shard is processed under its own
// lock, so every record present when Sweep starts is visited exactly once.
func (t *Table) Sweep(now time.Time) *model.Report {
	start := time.Now()
	report := &model.Report{SweptAt: now}

	for _, s := range t.shards {
		s.mu.Lock()
		for fp, rec := range s.records {
			if rec.RepeatCount >= t.reportThreshold {
				report.Duplicates = append(report.Duplicates, model.Entry{Fingerprint: fp, Record: *rec})
			}
			if now.Sub(rec.FirstSeen) > t.retention {
				delete(s.records, fp)
				report.Evicted++
			}
		}
		report.Live += len(s.records)
		s.mu.Unlock()
	}

	sortEntries(report.Duplicates)

	metrics.Sweeps.Inc()
	metrics.DuplicatesReported.Add(float64(len(report.Duplicates)))
	metrics.RecordsEvicted.Add(float64(report.Evicted))
	metrics.TableSize.Set(float64(report.Live))
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	return report
}

// Snapshot returns a deep copy of every record currently in the table.
func (t *Table) Snapshot() []model.Entry {
	var entries []model.Entry
	for _, s := range t.shards {
		s.mu.Lock()
		for fp, rec := range s.records {
			entries = append(entries, model.Entry{Fingerprint: fp, Record: *rec})
		}
		s.mu.Unlock()
	}
	sortEntries(entries)
	return entries
}

// Len returns the number of records in the table.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.records)
		s.mu.Unlock()
	}
	return n
}

// Lookup returns a copy of the record for fp, if present.
func (t *Table) Lookup(fp model.Fingerprint) (model.Record, bool) {
	s := t.getShard(fp)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fp]
	if !ok {
		return model.Record{}, false
	}
	return *rec, true
}

// getShard returns the partition owning a fingerprint.
func (t *Table) getShard(fp model.Fingerprint) *shard {
	if t.shardCount == 1 {
		return t.shards[0]
	}
	return t.shards[hashFingerprint(fp)%t.shardCount]
}

// sortEntries orders entries by first-seen time, then by fingerprint.
func sortEntries(entries []model.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Record.FirstSeen.Equal(b.Record.FirstSeen) {
			return a.Record.FirstSeen.Before(b.Record.FirstSeen)
		}
		return a.Fingerprint.String() < b.Fingerprint.String()
	})
}
