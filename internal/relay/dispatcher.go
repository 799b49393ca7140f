// Package relay - Event routing and worker pool
package relay

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/bridgerelay/internal/gateway"
	"github.com/yourusername/bridgerelay/internal/metrics"
)

// Gas caps passed with each call. Mint-and-swap gets more headroom because
// the bridge may run the swap leg and still fall back to a plain transfer.
const (
	gasCapMint        = 400_000
	gasCapMintAndSwap = 900_000
	gasCapUnlock      = 300_000
)

// Dispatcher routes finalized events to the correct destination call and
// runs the bounded worker pool that processes them.
type Dispatcher struct {
	dest    gateway.Gateway
	store   ProcessingStore
	swap    *SwapProtection
	exec    *ActionExecutor
	workers int

	log     *logrus.Entry
	metrics metrics.RelayMetrics
}

// NewDispatcher builds a dispatcher for one direction.
func NewDispatcher(dest gateway.Gateway, store ProcessingStore, swap *SwapProtection, exec *ActionExecutor, workers int, log *logrus.Entry, m metrics.RelayMetrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if m == nil {
		m = &metrics.NoOpMetrics{}
	}
	return &Dispatcher{
		dest:    dest,
		store:   store,
		swap:    swap,
		exec:    exec,
		workers: workers,
		log:     log.WithField("dest", dest.ChainID()),
		metrics: m,
	}
}

// Run consumes events from in with the worker pool until in closes or ctx
// is cancelled. Blocks until all workers drain.
func (d *Dispatcher) Run(ctx context.Context, in <-chan gateway.BridgeEvent) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-in:
					if !ok {
						return
					}
					d.Handle(ctx, &ev)
				}
			}
		}(i)
	}
	wg.Wait()
}

// Handle claims and processes one event. Every delivery of an already
// claimed or finished event is absorbed here.
func (d *Dispatcher) Handle(ctx context.Context, ev *gateway.BridgeEvent) {
	key := KeyOf(ev)
	log := d.log.WithFields(logrus.Fields{
		"event": key.String(),
		"kind":  ev.Kind,
	})

	claim, err := d.store.BeginProcessing(key, ev)
	if err != nil {
		log.WithError(err).Error("claim failed")
		return
	}
	if claim != Fresh {
		log.WithField("claim", claim.String()).Debug("duplicate delivery absorbed")
		d.metrics.RecordDispatch(ev.SourceChainID, string(ev.Kind), "skipped")
		return
	}

	d.process(ctx, key, ev, log)
}

// Redispatch re-runs a record that boot reconciliation found in, or
// returned to, Dispatching. The caller has already re-claimed it.
func (d *Dispatcher) Redispatch(ctx context.Context, rec *ProcessingRecord) {
	log := d.log.WithFields(logrus.Fields{
		"event": rec.Key.String(),
		"kind":  rec.Event.Kind,
	})
	ev := rec.Event
	d.process(ctx, rec.Key, &ev, log)
}

func (d *Dispatcher) process(ctx context.Context, key EventKey, ev *gateway.BridgeEvent, log *logrus.Entry) {
	outcome := "failed"
	defer func() {
		d.metrics.RecordDispatch(ev.SourceChainID, string(ev.Kind), outcome)
	}()

	if err := ValidateEvent(ev); err != nil {
		log.WithError(err).Error("event failed validation")
		if merr := d.store.MarkFailed(key, err.Error()); merr != nil {
			log.WithError(merr).Error("mark failed errored")
		}
		return
	}

	// Double-guard: a prior process instance may have submitted and died
	// before marking the store.
	processed, err := d.dest.IsProcessed(ctx, ev.Nonce)
	if err != nil {
		log.WithError(err).Warn("processed check failed, releasing claim")
		if rerr := d.store.ReleaseClaim(key); rerr != nil {
			log.WithError(rerr).Error("release failed")
		}
		return
	}
	if processed {
		log.Info("nonce already processed on destination")
		if err := d.store.MarkDone(key); err != nil {
			log.WithError(err).Error("mark done errored")
			return
		}
		outcome = "done"
		return
	}

	call, err := d.buildCall(ctx, ev, log)
	if err != nil {
		if gateway.IsTransient(err) {
			log.WithError(err).Warn("call build failed transiently, releasing claim")
			if rerr := d.store.ReleaseClaim(key); rerr != nil {
				log.WithError(rerr).Error("release failed")
			}
		} else {
			log.WithError(err).Error("call build failed")
			if merr := d.store.MarkFailed(key, err.Error()); merr != nil {
				log.WithError(merr).Error("mark failed errored")
			}
		}
		return
	}

	auth, err := d.dest.SignAuthorization(call)
	if err != nil {
		log.WithError(err).Error("authorization signing failed")
		if merr := d.store.MarkFailed(key, err.Error()); merr != nil {
			log.WithError(merr).Error("mark failed errored")
		}
		return
	}
	call.Auth = auth

	if err := d.exec.Execute(ctx, key, call); err != nil {
		log.WithError(err).WithField("decision", call.Method).Warn("dispatch did not complete")
		return
	}
	outcome = "done"
}

// buildCall applies the routing table:
//
//	Lock, no target token  -> mint
//	Lock, target token set -> mintAndSwap with a fresh slippage floor
//	Burn                   -> unlock
func (d *Dispatcher) buildCall(ctx context.Context, ev *gateway.BridgeEvent, log *logrus.Entry) (*gateway.BridgeCall, error) {
	switch {
	case ev.Kind == gateway.EventBurn:
		return &gateway.BridgeCall{
			Method:    gateway.CallUnlock,
			Recipient: ev.Recipient,
			Amount:    ev.Amount,
			Nonce:     ev.Nonce,
			GasCap:    gasCapUnlock,
		}, nil

	case ev.TargetToken == "":
		return &gateway.BridgeCall{
			Method:    gateway.CallMint,
			Recipient: ev.Recipient,
			Amount:    ev.Amount,
			Nonce:     ev.Nonce,
			GasCap:    gasCapMint,
		}, nil

	default:
		wrapped, err := d.dest.WrappedToken(ctx)
		if err != nil {
			return nil, err
		}
		quote, err := d.swap.Quote(ctx, d.dest, wrapped, ev.TargetToken, ev.Amount)
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"expected_out": quote.ExpectedOut.String(),
			"min_out":      quote.MinOut.String(),
			"target_token": ev.TargetToken,
		}).Info("swap protection computed")

		return &gateway.BridgeCall{
			Method:      gateway.CallMintAndSwap,
			Recipient:   ev.Recipient,
			Amount:      ev.Amount,
			Nonce:       ev.Nonce,
			TargetToken: ev.TargetToken,
			MinOut:      quote.MinOut,
			GasCap:      gasCapMintAndSwap,
		}, nil
	}
}
