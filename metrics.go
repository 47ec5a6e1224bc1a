package geosem

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordIngest is called after each content ingestion.
	// duplicate reports whether the content deduplicated onto an existing atom.
	RecordIngest(duration time.Duration, duplicate bool, err error)

	// RecordAttach is called after each embedding attachment.
	RecordAttach(duration time.Duration, err error)

	// RecordSearch is called after each search operation.
	// k is the number of results requested, candidates is the stage-one
	// candidate count before exact scoring.
	RecordSearch(k, candidates int, duration time.Duration, err error)

	// RecordRebase is called after each rebase job.
	RecordRebase(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIngest(time.Duration, bool, error)     {}
func (NoopMetricsCollector) RecordAttach(time.Duration, error)           {}
func (NoopMetricsCollector) RecordSearch(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordRebase(time.Duration, error)           {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	IngestCount      atomic.Int64
	IngestDuplicates atomic.Int64
	IngestErrors     atomic.Int64
	IngestTotalNanos atomic.Int64
	AttachCount      atomic.Int64
	AttachErrors     atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchCandidates atomic.Int64
	SearchTotalNanos atomic.Int64
	RebaseCount      atomic.Int64
	RebaseErrors     atomic.Int64
}

// RecordIngest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIngest(duration time.Duration, duplicate bool, err error) {
	b.IngestCount.Add(1)
	b.IngestTotalNanos.Add(duration.Nanoseconds())
	if duplicate {
		b.IngestDuplicates.Add(1)
	}
	if err != nil {
		b.IngestErrors.Add(1)
	}
}

// RecordAttach implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAttach(duration time.Duration, err error) {
	b.AttachCount.Add(1)
	if err != nil {
		b.AttachErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k, candidates int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchCandidates.Add(int64(candidates))
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordRebase implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRebase(duration time.Duration, err error) {
	b.RebaseCount.Add(1)
	if err != nil {
		b.RebaseErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		IngestCount:      b.IngestCount.Load(),
		IngestDuplicates: b.IngestDuplicates.Load(),
		IngestErrors:     b.IngestErrors.Load(),
		IngestAvgNanos:   avgNanos(&b.IngestTotalNanos, &b.IngestCount),
		AttachCount:      b.AttachCount.Load(),
		AttachErrors:     b.AttachErrors.Load(),
		SearchCount:      b.SearchCount.Load(),
		SearchErrors:     b.SearchErrors.Load(),
		SearchCandidates: b.SearchCandidates.Load(),
		SearchAvgNanos:   avgNanos(&b.SearchTotalNanos, &b.SearchCount),
		RebaseCount:      b.RebaseCount.Load(),
		RebaseErrors:     b.RebaseErrors.Load(),
	}
}

func avgNanos(total, count *atomic.Int64) int64 {
	c := count.Load()
	if c == 0 {
		return 0
	}
	return total.Load() / c
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	IngestCount      int64
	IngestDuplicates int64
	IngestErrors     int64
	IngestAvgNanos   int64
	AttachCount      int64
	AttachErrors     int64
	SearchCount      int64
	SearchErrors     int64
	SearchCandidates int64
	SearchAvgNanos   int64
	RebaseCount      int64
	RebaseErrors     int64
}
