// Package relay - Process supervisor
package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/bridgerelay/internal/gateway"
	"github.com/yourusername/bridgerelay/internal/metrics"
)

// Direction wires one source chain to one destination chain for one event
// kind. A symmetric deployment runs two: Lock A->B and Burn B->A.
type Direction struct {
	Name      string
	Source    gateway.Gateway
	Dest      gateway.Gateway
	Kind      gateway.EventKind
	SourceCfg EventSourceConfig
	Workers   int
}

// Options are the supervisor's operational knobs.
type Options struct {
	RetryPolicy      RetryPolicy
	CallTimeout      time.Duration
	ShutdownGrace    time.Duration
	CleanupInterval  time.Duration
	StatsInterval    time.Duration
	KeepDoneRecords  int
	HealthStaleAfter time.Duration
	MetricsAddr      string
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		RetryPolicy:      DefaultRetryPolicy(),
		CallTimeout:      30 * time.Second,
		ShutdownGrace:    60 * time.Second,
		CleanupInterval:  time.Hour,
		StatsInterval:    5 * time.Minute,
		KeepDoneRecords:  10_000,
		HealthStaleAfter: 2 * time.Minute,
	}
}

// Supervisor owns the process-wide pieces (gateways, state store, metrics)
// and passes them explicitly to every component. There are no globals.
type Supervisor struct {
	directions []*Direction
	store      StateStore
	swap       *SwapProtection
	opts       Options

	log     *logrus.Entry
	metrics metrics.RelayMetrics

	dispatchers map[string]*Dispatcher // direction name -> dispatcher
	sweeping    atomic.Bool
}

// NewSupervisor wires the pipeline. The gateways and store are already
// open; the caller keeps ownership of configuration, the supervisor takes
// ownership of gateway and store lifetimes.
func NewSupervisor(directions []*Direction, store StateStore, swap *SwapProtection, opts Options, log *logrus.Entry, m metrics.RelayMetrics) *Supervisor {
	if m == nil {
		m = &metrics.NoOpMetrics{}
	}
	s := &Supervisor{
		directions:  directions,
		store:       store,
		swap:        swap,
		opts:        opts,
		log:         log,
		metrics:     m,
		dispatchers: make(map[string]*Dispatcher),
	}
	for _, dir := range directions {
		exec := NewActionExecutor(dir.Dest, store, opts.RetryPolicy, opts.CallTimeout, log.WithField("direction", dir.Name), m)
		s.dispatchers[dir.Name] = NewDispatcher(dir.Dest, store, swap, exec, dir.Workers, log.WithField("direction", dir.Name), m)
	}
	return s
}

// Run executes the boot sequence and blocks until ctx is cancelled and the
// pipeline has drained (bounded by the shutdown grace period).
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.WithField("directions", len(s.directions)).Info("relayer starting")

	if err := s.reconcile(ctx); err != nil {
		return fmt.Errorf("boot reconciliation failed: %w", err)
	}

	httpSrv := s.serveMetrics()

	// Workers get a grace window beyond the sources so in-flight
	// submissions can finish their inclusion wait.
	workerCtx, cancelWorkers := graceContext(ctx, s.opts.ShutdownGrace)
	defer cancelWorkers()

	var wg sync.WaitGroup
	for _, dir := range s.directions {
		dir := dir
		ch := make(chan gateway.BridgeEvent, 4*dir.Workers)
		source := NewEventSource(dir.Source, s.store, s.store, dir.SourceCfg, s.log.WithField("direction", dir.Name), s.metrics)

		wg.Add(2)
		go func() {
			defer wg.Done()
			source.Run(ctx, ch)
			close(ch)
		}()
		go func() {
			defer wg.Done()
			s.dispatchers[dir.Name].Run(workerCtx, ch)
		}()
	}

	s.runTimers(ctx)

	s.log.Info("shutdown requested, draining")
	wg.Wait()

	if httpSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutCtx)
	}

	// A gateway typically serves as source in one direction and
	// destination in the other; close each exactly once.
	var firstErr error
	closed := make(map[gateway.Gateway]bool)
	for _, dir := range s.directions {
		for _, gw := range []gateway.Gateway{dir.Source, dir.Dest} {
			if closed[gw] {
				continue
			}
			closed[gw] = true
			if err := gw.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.log.Info("relayer stopped")
	return firstErr
}

// reconcile resolves records interrupted by a previous shutdown.
//
// Submitted records are settled against the destination's replay map: the
// transaction either landed (mark done) or never did (re-claim and
// re-dispatch). Dispatching and Pending records are stale claims from a
// crash mid-flight; they are simply driven again.
func (s *Supervisor) reconcile(ctx context.Context) error {
	for _, dir := range s.directions {
		disp := s.dispatchers[dir.Name]
		sourceChain := dir.Source.ChainID()
		log := s.log.WithField("direction", dir.Name)

		submitted, err := s.store.ListByStatus(StatusSubmitted)
		if err != nil {
			return err
		}
		for _, rec := range submitted {
			if rec.Key.ChainID != sourceChain {
				continue
			}
			processed, err := dir.Dest.IsProcessed(ctx, rec.Key.Nonce)
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", rec.Key, err)
			}
			if processed {
				log.WithField("event", rec.Key.String()).Info("reconciled submitted record as done")
				if err := s.store.MarkDone(rec.Key); err != nil {
					return err
				}
				continue
			}
			log.WithField("event", rec.Key.String()).Warn("submitted record never landed, re-dispatching")
			if err := s.store.ReclaimSubmitted(rec.Key); err != nil {
				return err
			}
			disp.Redispatch(ctx, rec)
		}

		stale, err := s.store.ListByStatus(StatusDispatching)
		if err != nil {
			return err
		}
		for _, rec := range stale {
			if rec.Key.ChainID != sourceChain {
				continue
			}
			log.WithField("event", rec.Key.String()).Warn("stale claim from previous run, re-dispatching")
			disp.Redispatch(ctx, rec)
		}

		pending, err := s.store.ListByStatus(StatusPending)
		if err != nil {
			return err
		}
		for _, rec := range pending {
			if rec.Key.ChainID != sourceChain {
				continue
			}
			ev := rec.Event
			disp.Handle(ctx, &ev)
		}
	}
	return nil
}

// runTimers drives the periodic duties until ctx is cancelled.
func (s *Supervisor) runTimers(ctx context.Context) {
	cleanup := time.NewTicker(s.opts.CleanupInterval)
	defer cleanup.Stop()
	stats := time.NewTicker(s.opts.StatsInterval)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			removed, err := s.store.Cleanup(s.opts.KeepDoneRecords)
			if err != nil {
				s.log.WithError(err).Error("state store cleanup failed")
			} else if removed > 0 {
				s.log.WithField("removed", removed).Info("state store cleaned")
			}
		case <-stats.C:
			s.snapshotStats()
			go s.sweepPending(ctx)
		}
	}
}

// snapshotStats logs the per-status counts and refreshes the gauge.
func (s *Supervisor) snapshotStats() {
	counts, err := s.store.Stats()
	if err != nil {
		s.log.WithError(err).Error("stats snapshot failed")
		return
	}
	fields := logrus.Fields{}
	flat := make(map[string]int, len(counts))
	for status, n := range counts {
		fields[string(status)] = n
		flat[string(status)] = n
	}
	s.metrics.SetStatusCounts(flat)
	s.log.WithFields(fields).Info("processing stats")

	health := s.metrics.GetHealthStatus(s.opts.HealthStaleAfter)
	if !health.IsHealthy() {
		s.log.WithField("stale", health.StaleChains).Warn(health.Message)
	}
}

// sweepPending re-dispatches records parked in Pending after an exhausted
// transient budget. Guarded so sweeps never overlap.
func (s *Supervisor) sweepPending(ctx context.Context) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer s.sweeping.Store(false)

	pending, err := s.store.ListByStatus(StatusPending)
	if err != nil {
		s.log.WithError(err).Error("pending sweep failed")
		return
	}
	for _, rec := range pending {
		for _, dir := range s.directions {
			if dir.Source.ChainID() == rec.Key.ChainID {
				ev := rec.Event
				s.dispatchers[dir.Name].Handle(ctx, &ev)
				break
			}
		}
	}
}

// serveMetrics starts the observability endpoint when configured.
func (s *Supervisor) serveMetrics() *http.Server {
	if s.opts.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprint(w, s.metrics.Export())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		health := s.metrics.GetHealthStatus(s.opts.HealthStaleAfter)
		if !health.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintln(w, health.Status+": "+health.Message)
	})
	srv := &http.Server{Addr: s.opts.MetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("metrics server failed")
		}
	}()
	s.log.WithField("addr", s.opts.MetricsAddr).Info("metrics endpoint up")
	return srv
}

// graceContext returns a context that is cancelled graceAfter the parent.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-parent.Done():
			timer := time.NewTimer(grace)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
