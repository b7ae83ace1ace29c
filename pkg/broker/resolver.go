package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/logging"
	"go.uber.org/zap"
)

// contractEvent is one item in a contract details slot: a candidate, an error or the end.
type contractEvent struct {
	inst *model.Instrument
	err  error
	end  bool
}

// GetInstrument resolves a stock symbol on SMART in USD.
func (b *Broker) GetInstrument(ctx context.Context, symbol string) (*model.Instrument, error) {
	return b.Resolve(ctx, model.NewContract(symbol))
}

// Resolve asks the gateway for every instrument matching c and picks one. Several
// futures resolve to the nearest expiry; any other multiple match is ambiguous.
func (b *Broker) Resolve(ctx context.Context, c model.Contract) (*model.Instrument, error) {
	ctx = logging.EnsureRequestID(ctx)
	c = c.WithDefaults()
	start := time.Now()

	waitCtx, cancel := b.withTimeout(ctx)
	defer cancel()

	var (
		reqID   int64
		slot    *queue[contractEvent]
		sendErr error
	)
	err := b.call(waitCtx, func() {
		reqID = b.nextReqID
		b.nextReqID++
		// the slot exists before the request leaves, so no answer can beat it
		slot = newQueue[contractEvent]()
		b.contractSlots[reqID] = slot
		if sendErr = b.transport.RequestContractDetails(reqID, c); sendErr != nil {
			delete(b.contractSlots, reqID)
		}
	})
	if err != nil {
		return nil, b.waitError(ctx, err, "resolve "+c.Key())
	}
	if sendErr != nil {
		return nil, fmt.Errorf("request contract details: %w", sendErr)
	}
	b.log.Debug(ctx, "resolving", zap.Int64("req_id", reqID), zap.Stringer("contract", c))

	var candidates []*model.Instrument
	for {
		ev, err := slot.Pop(waitCtx)
		if err != nil {
			b.post(func() { delete(b.contractSlots, reqID) })
			return nil, b.waitError(ctx, err, "resolve "+c.Key())
		}
		if ev.err != nil {
			return nil, ev.err
		}
		if ev.end {
			break
		}
		candidates = append(candidates, ev.inst)
	}
	ResolveLatency.Observe(time.Since(start).Seconds())

	inst, err := chooseInstrument(candidates)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", c.Key(), err)
	}
	b.log.Debug(ctx, "BEST", zap.Stringer("instrument", inst))
	return inst, nil
}

// waitError turns a failed wait into the error the caller should see.
func (b *Broker) waitError(ctx context.Context, err error, what string) error {
	switch {
	case errors.Is(err, errQueueClosed), errors.Is(err, ErrDisconnected):
		return ErrDisconnected
	case errors.Is(err, context.DeadlineExceeded):
		b.log.Warn(ctx, "timed out", zap.String("op", what), zap.Duration("timeout", b.cfg.Timeout))
		return fmt.Errorf("%s: %w", what, ErrTimeout)
	default:
		return err
	}
}

// chooseInstrument applies the disambiguation rule to a candidate list.
func chooseInstrument(candidates []*model.Instrument) (*model.Instrument, error) {
	seen := make(map[int64]struct{}, len(candidates))
	unique := candidates[:0:0]
	for _, c := range candidates {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		unique = append(unique, c)
	}

	switch len(unique) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return unique[0], nil
	}

	best := unique[0]
	for _, c := range unique {
		if c.SecType != model.SecTypeFuture || c.Expiration() == "" {
			return nil, fmt.Errorf("%w: %d candidates", ErrAmbiguousInstrument, len(unique))
		}
		if c.Expiration() < best.Expiration() {
			best = c
		}
	}
	return best, nil
}
