package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/logging"
	"go.uber.org/zap"
)

// tickEntry is either a user handler or the sentinel of a pending first subscription.
type tickEntry struct {
	fn       TickHandler
	sentinel *queue[error]
}

// handshake is the outcome of a first subscription, shared with Register calls
// that arrive while it is pending. err is written before done is closed.
type handshake struct {
	done chan struct{}
	err  error
}

type subscription struct {
	inst       *model.Instrument
	tickerID   int64 // 0 until market data was requested
	outsideRTH bool
	pending    *handshake
	ticks      []tickEntry
	orders     []OrderHandler
}

func (s *subscription) fanOut(b *Broker, tick model.Tick) {
	for _, e := range s.ticks {
		if e.sentinel != nil {
			e.sentinel.Push(nil)
			continue
		}
		fn := e.fn
		b.emit(func() { fn(tick) })
	}
}

// removeSentinels drops sentinel entries and reports how many there were.
func (s *subscription) removeSentinels() int {
	n := 0
	kept := s.ticks[:0]
	for _, e := range s.ticks {
		if e.sentinel != nil {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.ticks = kept
	return n
}

func (b *Broker) subscription(inst *model.Instrument) *subscription {
	sub, ok := b.subs[inst.ID]
	if !ok {
		sub = &subscription{inst: inst}
		b.subs[inst.ID] = sub
	}
	return sub
}

// Register attaches callbacks to inst. The first tick handler for an instrument
// requests market data and waits up to the configured timeout for the gateway to
// reject it; silence or a first tick both count as success. Register calls that
// arrive during that wait share its result. Later tick handlers are appended
// without another request and receive ticks in registration order.
func (b *Broker) Register(ctx context.Context, inst *model.Instrument, h Handlers) error {
	if h.OnAlert != nil {
		return fmt.Errorf("alert handlers: %w", ErrNotImplemented)
	}
	if inst == nil || inst.ID == 0 {
		return ErrInvalidInstrument
	}
	ctx = logging.EnsureRequestID(ctx)

	onOrder := h.OnOrder
	for {
		var (
			own      *handshake
			other    *handshake
			relay    *queue[error]
			tickerID int64
			sendErr  error
		)
		err := b.call(ctx, func() {
			sub := b.subscription(inst)
			if onOrder != nil {
				sub.orders = append(sub.orders, onOrder)
			}
			if h.OnTick == nil {
				return
			}
			if sub.pending != nil {
				other = sub.pending
				return
			}
			if sub.tickerID != 0 {
				sub.ticks = append(sub.ticks, tickEntry{fn: h.OnTick})
				if h.Aftermarket != sub.outsideRTH {
					b.log.Debug(ctx, "aftermarket flag ignored, instrument already subscribed",
						zap.Stringer("instrument", inst), zap.Bool("aftermarket", sub.outsideRTH))
				}
				b.log.Debug(ctx, "REGISTER", zap.Stringer("instrument", inst), zap.Int64("ticker_id", sub.tickerID))
				return
			}

			tickerID = b.nextTickerID
			b.nextTickerID++
			relay = newQueue[error]()
			sub.tickerID = tickerID
			sub.outsideRTH = h.Aftermarket
			b.tickers[tickerID] = sub
			b.tickErrors[tickerID] = relay
			sub.ticks = append(sub.ticks, tickEntry{sentinel: relay})

			sendErr = b.transport.RequestMarketData(tickerID, inst, MarketDataOptions{
				TickList:   model.RTVolumeTickList,
				OutsideRTH: h.Aftermarket,
			})
			if sendErr != nil {
				b.unsubscribe(sub)
				return
			}
			own = &handshake{done: make(chan struct{})}
			sub.pending = own
		})
		if err != nil {
			return b.waitError(ctx, err, "register "+inst.String())
		}
		if sendErr != nil {
			return fmt.Errorf("request market data: %w", sendErr)
		}
		if other != nil {
			// order handler is attached, only the tick handler is retried
			onOrder = nil
			select {
			case <-other.done:
			case <-b.done:
				return ErrDisconnected
			case <-ctx.Done():
				return b.waitError(ctx, ctx.Err(), "register "+inst.String())
			}
			if errors.Is(other.err, ErrSubscription) {
				return other.err
			}
			// the first caller succeeded or gave up; try again against the new state
			continue
		}
		if own == nil {
			return nil
		}
		return b.awaitFirstTick(ctx, inst, h.OnTick, tickerID, relay, own)
	}
}

// awaitFirstTick waits for the gateway verdict on a new market data request and
// settles the subscription on the engine goroutine.
func (b *Broker) awaitFirstTick(ctx context.Context, inst *model.Instrument, fn TickHandler, tickerID int64, relay *queue[error], own *handshake) error {
	waitCtx, cancel := b.withTimeout(ctx)
	defer cancel()
	gwErr, popErr := relay.Pop(waitCtx)

	var subErr error
	switch {
	case popErr == nil && gwErr != nil:
		var ge *GatewayError
		if !errors.As(gwErr, &ge) {
			ge = &GatewayError{ID: tickerID, Msg: gwErr.Error()}
		}
		subErr = &SubscriptionError{Instrument: inst.String(), Err: ge}
	case popErr != nil && ctx.Err() != nil:
		// caller gave up before the verdict
		subErr = b.waitError(ctx, ctx.Err(), "register "+inst.String())
	case popErr != nil && !errors.Is(popErr, context.DeadlineExceeded):
		subErr = b.waitError(ctx, popErr, "register "+inst.String())
	}

	var finishErr error
	err := b.call(context.Background(), func() {
		sub := b.subs[inst.ID]
		delete(b.tickErrors, tickerID)
		if n := sub.removeSentinels(); n != 1 {
			finishErr = fmt.Errorf("%w: %d sentinel tick handlers for %s", ErrInconsistentState, n, inst)
		}
		if subErr != nil {
			b.unsubscribe(sub)
		} else {
			sub.ticks = append(sub.ticks, tickEntry{fn: fn})
			b.log.Debug(ctx, "REGISTER", zap.Stringer("instrument", inst), zap.Int64("ticker_id", tickerID))
		}
		own.err = subErr
		if sub.pending == own {
			sub.pending = nil
		}
		close(own.done)
	})
	switch {
	case subErr != nil:
		b.log.Error(ctx, "subscription failed", zap.Error(subErr))
		return subErr
	case err != nil:
		return b.waitError(ctx, err, "register "+inst.String())
	}
	return finishErr
}

// unsubscribe forgets the market data request so the next Register retries it.
func (b *Broker) unsubscribe(sub *subscription) {
	delete(b.tickers, sub.tickerID)
	delete(b.tickErrors, sub.tickerID)
	sub.removeSentinels()
	sub.tickerID = 0
}
