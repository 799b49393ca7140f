// Package metrics - Prometheus-compatible metrics recorder
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Recorder implements RelayMetrics with Prometheus-compatible export.
//
// Thread-safe implementation using sync.RWMutex for concurrent access.
type Recorder struct {
	mu sync.RWMutex

	polls       map[string]*pollStats // chainID -> poll stats
	events      map[string]int64      // chainID/kind -> observed count
	dispatches  map[string]int64      // chainID/kind/outcome -> count
	submissions map[string]*opStats   // chainID -> submission stats
	statuses    map[string]int        // status -> record count
}

type pollStats struct {
	totalPolls     int64
	failedPolls    int64
	totalDuration  time.Duration
	lastSuccessful time.Time
}

type opStats struct {
	totalCalls    int64
	failedCalls   int64
	totalDuration time.Duration
}

// NewRecorder creates an empty metrics recorder.
func NewRecorder() *Recorder {
	r := &Recorder{}
	r.Reset()
	return r
}

func (r *Recorder) RecordPoll(chainID string, duration time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, ok := r.polls[chainID]
	if !ok {
		stats = &pollStats{}
		r.polls[chainID] = stats
	}
	stats.totalPolls++
	stats.totalDuration += duration
	if success {
		stats.lastSuccessful = time.Now()
	} else {
		stats.failedPolls++
	}
}

func (r *Recorder) RecordEventObserved(chainID string, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[chainID+"/"+kind]++
}

func (r *Recorder) RecordDispatch(chainID string, kind string, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches[chainID+"/"+kind+"/"+outcome]++
}

func (r *Recorder) RecordSubmission(chainID string, duration time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, ok := r.submissions[chainID]
	if !ok {
		stats = &opStats{}
		r.submissions[chainID] = stats
	}
	stats.totalCalls++
	stats.totalDuration += duration
	if !success {
		stats.failedCalls++
	}
}

func (r *Recorder) SetStatusCounts(counts map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = make(map[string]int, len(counts))
	for status, n := range counts {
		r.statuses[status] = n
	}
}

func (r *Recorder) LastPoll(chainID string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if stats, ok := r.polls[chainID]; ok {
		return stats.lastSuccessful
	}
	return time.Time{}
}

func (r *Recorder) GetHealthStatus(staleAfter time.Duration) HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var stale []string
	for chainID, stats := range r.polls {
		if stats.lastSuccessful.IsZero() || now.Sub(stats.lastSuccessful) > staleAfter {
			stale = append(stale, chainID)
		}
	}
	sort.Strings(stale)

	if len(stale) > 0 {
		return HealthStatus{
			Status:      "Degraded",
			Message:     fmt.Sprintf("no successful poll within %s for: %s", staleAfter, strings.Join(stale, ", ")),
			CheckedAt:   now,
			StaleChains: stale,
		}
	}
	return HealthStatus{Status: "OK", Message: "all chains polling", CheckedAt: now}
}

// Export returns metrics in Prometheus text format.
//
// Example output:
//
//	# HELP bridgerelay_polls_total Total number of event source polls
//	# TYPE bridgerelay_polls_total counter
//	bridgerelay_polls_total{chain="sepolia"} 42
func (r *Recorder) Export() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder

	sb.WriteString("# HELP bridgerelay_polls_total Total number of event source polls\n")
	sb.WriteString("# TYPE bridgerelay_polls_total counter\n")
	for _, chainID := range sortedKeys(r.polls) {
		stats := r.polls[chainID]
		fmt.Fprintf(&sb, "bridgerelay_polls_total{chain=%q} %d\n", chainID, stats.totalPolls)
		fmt.Fprintf(&sb, "bridgerelay_polls_failed_total{chain=%q} %d\n", chainID, stats.failedPolls)
	}

	sb.WriteString("# HELP bridgerelay_events_observed_total Normalized events seen by sources\n")
	sb.WriteString("# TYPE bridgerelay_events_observed_total counter\n")
	for _, key := range sortedKeys(r.events) {
		chain, kind, _ := splitLabel2(key)
		fmt.Fprintf(&sb, "bridgerelay_events_observed_total{chain=%q,kind=%q} %d\n", chain, kind, r.events[key])
	}

	sb.WriteString("# HELP bridgerelay_dispatches_total Finished dispatches by outcome\n")
	sb.WriteString("# TYPE bridgerelay_dispatches_total counter\n")
	for _, key := range sortedKeys(r.dispatches) {
		chain, kind, outcome := splitLabel3(key)
		fmt.Fprintf(&sb, "bridgerelay_dispatches_total{chain=%q,kind=%q,outcome=%q} %d\n", chain, kind, outcome, r.dispatches[key])
	}

	sb.WriteString("# HELP bridgerelay_submissions_total Destination submissions\n")
	sb.WriteString("# TYPE bridgerelay_submissions_total counter\n")
	for _, chainID := range sortedKeys(r.submissions) {
		stats := r.submissions[chainID]
		fmt.Fprintf(&sb, "bridgerelay_submissions_total{chain=%q} %d\n", chainID, stats.totalCalls)
		fmt.Fprintf(&sb, "bridgerelay_submissions_failed_total{chain=%q} %d\n", chainID, stats.failedCalls)
	}

	sb.WriteString("# HELP bridgerelay_records Processing records by status\n")
	sb.WriteString("# TYPE bridgerelay_records gauge\n")
	for _, status := range sortedKeys(r.statuses) {
		fmt.Fprintf(&sb, "bridgerelay_records{status=%q} %d\n", status, r.statuses[status])
	}

	return sb.String()
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.polls = make(map[string]*pollStats)
	r.events = make(map[string]int64)
	r.dispatches = make(map[string]int64)
	r.submissions = make(map[string]*opStats)
	r.statuses = make(map[string]int)
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitLabel2(key string) (string, string, string) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) < 2 {
		return key, "", ""
	}
	return parts[0], parts[1], ""
}

func splitLabel3(key string) (string, string, string) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 3 {
		return key, "", ""
	}
	return parts[0], parts[1], parts[2]
}

// Ensure Recorder implements RelayMetrics
var _ RelayMetrics = (*Recorder)(nil)
