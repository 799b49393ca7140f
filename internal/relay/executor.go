// Package relay - Destination-chain action executor
package relay

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/bridgerelay/internal/gateway"
	"github.com/yourusername/bridgerelay/internal/metrics"
)

// ActionExecutor submits a bridge call, awaits inclusion, and classifies
// the outcome, retrying transient failures under its RetryPolicy.
type ActionExecutor struct {
	dest             gateway.Gateway
	store            ProcessingStore
	policy           RetryPolicy
	callTimeout      time.Duration
	inclusionTimeout time.Duration

	log     *logrus.Entry
	metrics metrics.RelayMetrics
}

// NewActionExecutor builds an executor for one destination gateway.
func NewActionExecutor(dest gateway.Gateway, store ProcessingStore, policy RetryPolicy, callTimeout time.Duration, log *logrus.Entry, m metrics.RelayMetrics) *ActionExecutor {
	if m == nil {
		m = &metrics.NoOpMetrics{}
	}
	return &ActionExecutor{
		dest:             dest,
		store:            store,
		policy:           policy,
		callTimeout:      callTimeout,
		inclusionTimeout: 2 * callTimeout,
		log:              log.WithField("dest", dest.ChainID()),
		metrics:          m,
	}
}

// Execute drives one claimed record to a terminal state. On entry the
// record is Dispatching; on return it is Done, Failed, back in Pending
// (transient budget exhausted before any submission reached the chain), or
// left Submitted for restart reconciliation.
func (x *ActionExecutor) Execute(ctx context.Context, key EventKey, call *gateway.BridgeCall) error {
	log := x.log.WithFields(logrus.Fields{
		"event":  key.String(),
		"method": call.Method,
	})

	for attempt := 1; ; attempt++ {
		txID, err := x.submit(ctx, call)
		if err != nil {
			if done, terr := x.settle(ctx, key, err, log); done || terr != nil {
				return terr
			}
			// Transient: retry within budget, else release the claim so a
			// later delivery reprocesses.
			if attempt >= x.policy.MaxAttempts {
				log.WithError(err).Error("retries exhausted before submission")
				if rerr := x.store.ReleaseClaim(key); rerr != nil {
					return rerr
				}
				return err
			}
			if werr := x.wait(ctx, attempt, err); werr != nil {
				return werr
			}
			continue
		}

		if err := x.store.MarkSubmitted(key, txID); err != nil {
			return err
		}
		log.WithField("dest_tx", txID).Info("submitted")

		rcpt, err := x.dest.AwaitInclusion(ctx, txID, x.inclusionTimeout)
		if err != nil {
			// The submission may still land. Consult the replay map before
			// deciding anything.
			processed, perr := x.dest.IsProcessed(ctx, call.Nonce)
			if perr == nil && processed {
				return x.store.MarkDone(key)
			}
			if attempt >= x.policy.MaxAttempts || ctx.Err() != nil {
				// Leave Submitted; boot reconciliation resolves it.
				log.WithError(err).Warn("inclusion unresolved, leaving record submitted")
				return err
			}
			if rerr := x.store.ReclaimSubmitted(key); rerr != nil {
				return rerr
			}
			if werr := x.wait(ctx, attempt, err); werr != nil {
				return werr
			}
			continue
		}

		return x.finish(ctx, key, call, rcpt, log)
	}
}

// submit sends the call under the per-call deadline.
func (x *ActionExecutor) submit(ctx context.Context, call *gateway.BridgeCall) (string, error) {
	submitCtx, cancel := context.WithTimeout(ctx, x.callTimeout)
	defer cancel()

	start := time.Now()
	txID, err := x.dest.Submit(submitCtx, call)
	x.metrics.RecordSubmission(x.dest.ChainID(), time.Since(start), err == nil)
	return txID, err
}

// settle resolves a submission error into a terminal store state where the
// classification allows it. Returns done=true when the record reached a
// terminal state (the returned error, if any, is the terminal diagnostic).
func (x *ActionExecutor) settle(ctx context.Context, key EventKey, err error, log *logrus.Entry) (bool, error) {
	switch gateway.ClassOf(err) {
	case gateway.AlreadyProcessed:
		// The nonce went through on a prior attempt or another path.
		log.Info("nonce already processed, marking done")
		return true, x.store.MarkDone(key)
	case gateway.SwapProtection:
		log.WithError(err).Warn("swap protection triggered")
		if merr := x.store.MarkFailed(key, "SwapProtectionTriggered: "+err.Error()); merr != nil {
			return true, merr
		}
		return true, err
	case gateway.Permanent, gateway.Invariant:
		log.WithError(err).Error("permanent submission failure")
		if merr := x.store.MarkFailed(key, err.Error()); merr != nil {
			return true, merr
		}
		return true, err
	default:
		return false, nil
	}
}

// finish interprets a mined receipt.
func (x *ActionExecutor) finish(ctx context.Context, key EventKey, call *gateway.BridgeCall, rcpt *gateway.Receipt, log *logrus.Entry) error {
	switch {
	case rcpt.Success && !rcpt.SwapFailed:
		log.WithField("dest_tx", rcpt.TxID).Info("done")
		return x.store.MarkDone(key)

	case rcpt.Success && rcpt.SwapFailed:
		// The bridge fell back to a plain wrapped-token transfer; the
		// user's swap intent was not honored. Not retried automatically.
		log.WithField("dest_tx", rcpt.TxID).Warn("swap failed on-chain, fallback transfer delivered")
		if err := x.store.MarkFailed(key, "SwapProtectionTriggered: SwapFailed outcome in receipt"); err != nil {
			return err
		}
		return gateway.NewError(gateway.ErrCodeSlippage, "swap output below minimum", gateway.SwapProtection, nil)

	default:
		// Reverted on-chain. A racing submission of the same nonce reverts
		// too, so check the replay map before declaring failure.
		processed, err := x.dest.IsProcessed(ctx, call.Nonce)
		if err == nil && processed {
			log.WithField("dest_tx", rcpt.TxID).Info("revert raced an earlier submission, nonce done")
			return x.store.MarkDone(key)
		}
		log.WithField("dest_tx", rcpt.TxID).Error("transaction reverted")
		reason := gateway.NewPermanentError(gateway.ErrCodeTxReverted, "destination call reverted", nil)
		if merr := x.store.MarkFailed(key, reason.Error()); merr != nil {
			return merr
		}
		return reason
	}
}

func (x *ActionExecutor) wait(ctx context.Context, attempt int, cause error) error {
	delay := x.policy.Backoff(attempt)
	var gwErr *gateway.Error
	if e, ok := cause.(*gateway.Error); ok {
		gwErr = e
	}
	if gwErr != nil && gwErr.RetryAfter != nil && *gwErr.RetryAfter > delay {
		delay = *gwErr.RetryAfter
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
