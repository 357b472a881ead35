package task

import (
	"encoding/json"
	"math"
	"sync/atomic"
)

// progress holds the cumulative counters for one bulk task. Every field
// is updated with its own atomic, so mutators from any number of
// goroutines never block each other and a status read never observes a
// torn value.
type progress struct {
	total            atomic.Int64
	created          atomic.Int64
	updated          atomic.Int64
	deleted          atomic.Int64
	versionConflicts atomic.Int64
	batches          atomic.Int64
	noops            atomic.Int64
	bulkRetries      atomic.Int64
	searchRetries    atomic.Int64
	throttledNanos   atomic.Int64
}

// SetTotal records the number of documents the task expects to process.
// Callers set it once, after the initial count query.
func (p *progress) SetTotal(total int64) {
	p.total.Store(total)
}

func (p *progress) CountCreated()         { p.created.Add(1) }
func (p *progress) CountUpdated()         { p.updated.Add(1) }
func (p *progress) CountDeleted()         { p.deleted.Add(1) }
func (p *progress) CountVersionConflict() { p.versionConflicts.Add(1) }
func (p *progress) CountBatch()           { p.batches.Add(1) }
func (p *progress) CountNoop()            { p.noops.Add(1) }

// CountBulkRetry and CountSearchRetry record a retried write or scroll
// round-trip against the document store.
func (p *progress) CountBulkRetry()   { p.bulkRetries.Add(1) }
func (p *progress) CountSearchRetry() { p.searchRetries.Add(1) }

// Status is a point-in-time snapshot of a bulk task's progress. It is a
// plain value; once returned it never changes.
type Status struct {
	Total             int64   `json:"total"`
	Created           int64   `json:"created"`
	Updated           int64   `json:"updated"`
	Deleted           int64   `json:"deleted"`
	VersionConflicts  int64   `json:"version_conflicts"`
	Batches           int64   `json:"batches"`
	Noops             int64   `json:"noops"`
	BulkRetries       int64   `json:"bulk_retries"`
	SearchRetries     int64   `json:"search_retries"`
	ThrottledMillis   int64   `json:"throttled_millis"`
	RequestsPerSecond float64 `json:"-"`
	// ThrottledUntilMillis is the remaining wait before the next batch
	// fires. Zero when nothing is pending or the deadline has passed.
	ThrottledUntilMillis int64  `json:"throttled_until_millis"`
	Canceled             string `json:"canceled,omitempty"`
}

// MarshalJSON renders an unthrottled task's rate as "unlimited", since
// +Inf has no JSON representation.
func (s Status) MarshalJSON() ([]byte, error) {
	type alias Status
	out := struct {
		alias
		RequestsPerSecond interface{} `json:"requests_per_second"`
	}{alias: alias(s)}
	if math.IsInf(s.RequestsPerSecond, 1) {
		out.RequestsPerSecond = "unlimited"
	} else {
		out.RequestsPerSecond = s.RequestsPerSecond
	}
	return json.Marshal(out)
}
