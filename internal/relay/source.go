// Package relay - Cursor-anchored event source
package relay

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/bridgerelay/internal/gateway"
	"github.com/yourusername/bridgerelay/internal/metrics"
)

// EventSource polls a gateway for events of one kind over monotonically
// advancing block ranges and emits normalized events downstream.
//
// The finality gate is embedded in the cursor policy: the cursor only
// advances up to head - requiredConfirmations, so no downstream handler
// ever sees a non-final event. Events observed inside the confirmation
// window are noted in the state store as awaiting finality and re-read on
// a later poll.
type EventSource struct {
	gw            gateway.Gateway
	store         ProcessingStore
	cursors       CursorStore
	kind          gateway.EventKind
	confirmations uint64
	pollInterval  time.Duration
	maxRange      uint64
	backoff       RetryPolicy

	log     *logrus.Entry
	metrics metrics.RelayMetrics
}

// EventSourceConfig collects the knobs for one source loop.
type EventSourceConfig struct {
	Kind          gateway.EventKind
	Confirmations uint64
	PollInterval  time.Duration
	MaxBlockRange uint64
}

// NewEventSource builds a source for one (gateway, kind) pair.
func NewEventSource(gw gateway.Gateway, store ProcessingStore, cursors CursorStore, cfg EventSourceConfig, log *logrus.Entry, m metrics.RelayMetrics) *EventSource {
	if m == nil {
		m = &metrics.NoOpMetrics{}
	}
	return &EventSource{
		gw:            gw,
		store:         store,
		cursors:       cursors,
		kind:          cfg.Kind,
		confirmations: cfg.Confirmations,
		pollInterval:  cfg.PollInterval,
		maxRange:      cfg.MaxBlockRange,
		backoff:       DefaultRetryPolicy(),
		log: log.WithFields(logrus.Fields{
			"chain": gw.ChainID(),
			"kind":  cfg.Kind,
		}),
		metrics: m,
	}
}

// Run polls until ctx is cancelled, sending finalized events to out.
// The cursor is persisted only after a batch has been handed downstream,
// so a crash re-emits rather than skips; dedup absorbs the replay.
func (s *EventSource) Run(ctx context.Context, out chan<- gateway.BridgeEvent) {
	s.log.WithField("interval", s.pollInterval).Info("event source started")

	errStreak := 0
	for {
		start := time.Now()
		err := s.poll(ctx, out)
		s.metrics.RecordPoll(s.gw.ChainID(), time.Since(start), err == nil)

		var wait time.Duration
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("event source stopped")
				return
			}
			errStreak++
			wait = s.backoff.Backoff(errStreak)
			s.log.WithError(err).WithField("backoff", wait).Warn("poll failed")
		} else {
			errStreak = 0
			wait = s.pollInterval
		}

		select {
		case <-ctx.Done():
			s.log.Info("event source stopped")
			return
		case <-time.After(wait):
		}
	}
}

// poll runs one scan cycle. The cursor does not advance on error.
func (s *EventSource) poll(ctx context.Context, out chan<- gateway.BridgeEvent) error {
	head, err := s.gw.CurrentHeight(ctx)
	if err != nil {
		return err
	}

	var safe uint64
	if head > s.confirmations {
		safe = head - s.confirmations
	}

	cursor, err := s.cursors.Cursor(s.gw.ChainID(), s.kind)
	if err != nil {
		return err
	}
	if head <= cursor {
		return nil
	}

	to := head
	if max := cursor + s.maxRange; to > max {
		to = max
	}

	raw, err := s.gw.QueryEvents(ctx, s.kind, cursor+1, to)
	if err != nil {
		return err
	}

	for i := range raw {
		ev := raw[i]
		if ev.FirstSeenAt.IsZero() {
			ev.FirstSeenAt = time.Now()
		}
		s.metrics.RecordEventObserved(s.gw.ChainID(), string(ev.Kind))

		if ev.BlockHeight > safe {
			// Inside the confirmation window; visible in stats, emitted
			// once a later poll finds it final.
			if err := s.store.NoteObserved(KeyOf(&ev), &ev); err != nil {
				return err
			}
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	next := to
	if next > safe {
		next = safe
	}
	if next > cursor {
		return s.cursors.SetCursor(s.gw.ChainID(), s.kind, next)
	}
	return nil
}
