// Package storagenode drives uploads to the storage fleet and keeps a
// latency-aware ranking of candidate buckets.
package storagenode

import (
	"sort"
	"sync"
	"time"
)

// Bucket is one upload candidate.
type Bucket struct {
	ID          string
	Endpoint    string
	FreeSize    int64
	FreeObjects int64
}

// penaltyLatency is recorded for a bucket whose probe or upload failed, so
// it sinks below every responsive bucket until it answers again.
const penaltyLatency = time.Hour

// Ranking orders buckets by free byte capacity, then free object count
// (both descending), with measured response time as the tie-breaker.
type Ranking struct {
	mu        sync.RWMutex
	latencies map[string]time.Duration
}

// NewRanking creates an empty ranking.
func NewRanking() *Ranking {
	return &Ranking{latencies: make(map[string]time.Duration)}
}

// Observe records a measured response time for a bucket. Successive
// observations are smoothed so one slow answer does not dominate.
func (r *Ranking) Observe(bucketID string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, ok := r.latencies[bucketID]
	if !ok || previous >= penaltyLatency {
		r.latencies[bucketID] = latency
		return
	}
	r.latencies[bucketID] = (previous*3 + latency) / 4
}

// Penalize marks a bucket unresponsive after a failed probe or upload.
func (r *Ranking) Penalize(bucketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies[bucketID] = penaltyLatency
}

// Latency reports the current smoothed response time for a bucket.
func (r *Ranking) Latency(bucketID string) (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	latency, ok := r.latencies[bucketID]
	return latency, ok
}

// Sort orders the candidates best-first in place.
func (r *Ranking) Sort(buckets []Bucket) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sort.SliceStable(buckets, func(i, j int) bool {
		a, b := buckets[i], buckets[j]
		if a.FreeSize != b.FreeSize {
			return a.FreeSize > b.FreeSize
		}
		if a.FreeObjects != b.FreeObjects {
			return a.FreeObjects > b.FreeObjects
		}
		return r.latencyOrDefault(a.ID) < r.latencyOrDefault(b.ID)
	})
}

func (r *Ranking) latencyOrDefault(bucketID string) time.Duration {
	if latency, ok := r.latencies[bucketID]; ok {
		return latency
	}
	// Unprobed buckets rank between fast and penalized ones.
	return penaltyLatency / 2
}
