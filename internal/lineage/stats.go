package lineage

import "sync/atomic"

// Stats aggregates run counters. All methods are safe for concurrent use.
type Stats struct {
	fetched   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	rejected  atomic.Int64
	bytes     atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Fetched   int64
	Succeeded int64
	Failed    int64
	Retried   int64
	Rejected  int64
	Bytes     int64
}

func (s *Stats) AddFetched()      { s.fetched.Add(1) }
func (s *Stats) AddSucceeded()    { s.succeeded.Add(1) }
func (s *Stats) AddFailed()       { s.failed.Add(1) }
func (s *Stats) AddRetried()      { s.retried.Add(1) }
func (s *Stats) AddRejected()     { s.rejected.Add(1) }
func (s *Stats) AddBytes(n int64) { s.bytes.Add(n) }

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Fetched:   s.fetched.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Retried:   s.retried.Load(),
		Rejected:  s.rejected.Load(),
		Bytes:     s.bytes.Load(),
	}
}
