package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/logging"
	"go.uber.org/zap"
)

// Prices of an order. Zero Limit and Stop means a market order.
type Prices struct {
	Limit  float64
	Stop   float64
	Target float64 // profit target leg, not supported
}

// PlaceOrder sends an order for a signed quantity and returns a snapshot of its ledger
// record. A zero quantity places nothing and returns nil, nil. Rejections and fills
// arrive later through order callbacks.
func (b *Broker) PlaceOrder(ctx context.Context, inst *model.Instrument, quantity int64, p Prices) (*model.Order, error) {
	if err := b.checkOrder(inst, p); err != nil {
		return nil, err
	}
	ctx = logging.EnsureRequestID(ctx)

	var (
		order    *model.Order
		placeErr error
	)
	if err := b.call(ctx, func() { order, placeErr = b.placeOrder(ctx, inst, quantity, p) }); err != nil {
		return nil, b.waitError(ctx, err, "place order")
	}
	return order, placeErr
}

// OrderTarget places whatever order brings the position in inst to target.
func (b *Broker) OrderTarget(ctx context.Context, inst *model.Instrument, target int64, p Prices) (*model.Order, error) {
	if err := b.checkOrder(inst, p); err != nil {
		return nil, err
	}
	ctx = logging.EnsureRequestID(ctx)

	var (
		order    *model.Order
		placeErr error
	)
	err := b.call(ctx, func() {
		order, placeErr = b.placeOrder(ctx, inst, target-b.position(ctx, inst), p)
	})
	if err != nil {
		return nil, b.waitError(ctx, err, "order target")
	}
	return order, placeErr
}

// Exit targets a flat position in inst.
func (b *Broker) Exit(ctx context.Context, inst *model.Instrument) (*model.Order, error) {
	return b.OrderTarget(ctx, inst, 0, Prices{})
}

func (b *Broker) checkOrder(inst *model.Instrument, p Prices) error {
	if p.Target != 0 {
		return fmt.Errorf("target orders: %w", ErrNotImplemented)
	}
	if inst == nil || inst.ID == 0 {
		return ErrInvalidInstrument
	}
	return nil
}

// placeOrder runs on the engine goroutine. The ledger record exists before the
// request is sent.
func (b *Broker) placeOrder(ctx context.Context, inst *model.Instrument, quantity int64, p Prices) (*model.Order, error) {
	if quantity == 0 {
		return nil, nil
	}
	spec := model.NewOrderSpec(quantity, p.Limit, p.Stop)
	spec.Account = b.account
	for _, rule := range b.rules {
		if err := rule.Check(inst, spec); err != nil {
			b.log.Warn(ctx, "order refused", zap.Stringer("instrument", inst), zap.Int64("quantity", quantity), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrRiskRule, err)
		}
	}

	order := &model.Order{
		ID:         b.allocOrderID(),
		Instrument: inst,
		Price:      p.Limit,
		Stop:       p.Stop,
		Quantity:   quantity,
		Open:       true,
	}
	b.ledger.add(order)
	b.log.Info(ctx, "ORDER", zap.Stringer("order", order), zap.String("type", string(spec.Type)))

	if err := b.transport.PlaceOrder(order.ID, inst, spec); err != nil {
		order.Open = false
		order.Cancelled = true
		order.Message = err.Error()
		b.log.Error(ctx, "place order failed", zap.Int64("order_id", order.ID), zap.Error(err))
		return order.Snapshot(), fmt.Errorf("place order %d: %w", order.ID, err)
	}
	OrdersPlacedTotal.WithLabelValues(string(spec.Side), string(spec.Type)).Inc()
	return order.Snapshot(), nil
}

// Cancel asks the gateway to cancel order. The ledger changes when the gateway confirms.
func (b *Broker) Cancel(ctx context.Context, order *model.Order) error {
	if order == nil {
		return ErrOrderNotFound
	}
	ctx = logging.EnsureRequestID(ctx)
	var cancelErr error
	if err := b.call(ctx, func() { cancelErr = b.cancel(ctx, order.ID) }); err != nil {
		return b.waitError(ctx, err, "cancel")
	}
	return cancelErr
}

func (b *Broker) cancel(ctx context.Context, orderID int64) error {
	o, ok := b.ledger.get(orderID)
	if !ok {
		return fmt.Errorf("cancel %d: %w", orderID, ErrOrderNotFound)
	}
	b.log.Info(ctx, "CANCEL", zap.Stringer("order", o))
	return b.transport.CancelOrder(orderID)
}

// CancelAll cancels every open order, or only those for inst when it is not nil.
// It returns how many cancel requests were sent.
func (b *Broker) CancelAll(ctx context.Context, inst *model.Instrument) (int, error) {
	ctx = logging.EnsureRequestID(ctx)
	var (
		n         int
		cancelErr error
	)
	if err := b.call(ctx, func() { n, cancelErr = b.cancelAll(ctx, inst) }); err != nil {
		return 0, b.waitError(ctx, err, "cancel all")
	}
	return n, cancelErr
}

func (b *Broker) cancelAll(ctx context.Context, inst *model.Instrument) (int, error) {
	var errs []error
	n := 0
	for _, o := range b.ledger.list(inst, true) {
		if err := b.cancel(ctx, o.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Flatten cancels outstanding orders and closes positions with market orders, for inst
// or for every instrument when inst is nil. hardGlobalCancel cancels every order on the
// account through the gateway instead of only the ones this engine placed.
func (b *Broker) Flatten(ctx context.Context, inst *model.Instrument, hardGlobalCancel bool) ([]*model.Order, error) {
	ctx = logging.EnsureRequestID(ctx)
	var (
		orders []*model.Order
		errs   []error
	)
	err := b.call(ctx, func() {
		if hardGlobalCancel {
			b.log.Warn(ctx, "global cancel")
			if err := b.transport.RequestGlobalCancel(); err != nil {
				errs = append(errs, fmt.Errorf("global cancel: %w", err))
			}
		} else if _, err := b.cancelAll(ctx, inst); err != nil {
			errs = append(errs, err)
		}

		for _, pos := range b.positions.snapshot() {
			if pos.Quantity == 0 || (inst != nil && !pos.Instrument.Equal(inst)) {
				continue
			}
			o, err := b.placeOrder(ctx, pos.Instrument, -pos.Quantity, Prices{})
			if err != nil {
				errs = append(errs, err)
			}
			if o != nil {
				orders = append(orders, o)
			}
		}
	})
	if err != nil {
		return nil, b.waitError(ctx, err, "flatten")
	}
	return orders, errors.Join(errs...)
}

// GetPosition returns the signed quantity held in inst, 0 with a warning if the gateway
// never reported one.
func (b *Broker) GetPosition(ctx context.Context, inst *model.Instrument) (int64, error) {
	if inst == nil {
		return 0, ErrInvalidInstrument
	}
	var qty int64
	if err := b.call(ctx, func() { qty = b.position(ctx, inst) }); err != nil {
		return 0, b.waitError(ctx, err, "get position")
	}
	return qty, nil
}

func (b *Broker) position(ctx context.Context, inst *model.Instrument) int64 {
	qty, ok := b.positions.get(inst.ID)
	if !ok {
		b.log.Warn(ctx, "position for unknown instrument", zap.Stringer("instrument", inst))
		return 0
	}
	return qty
}

// Positions returns every position the gateway reported.
func (b *Broker) Positions(ctx context.Context) ([]PositionEntry, error) {
	var out []PositionEntry
	if err := b.call(ctx, func() { out = b.positions.snapshot() }); err != nil {
		return nil, b.waitError(ctx, err, "positions")
	}
	return out, nil
}

// Orders returns snapshots of every order placed in this session, or only those for inst.
func (b *Broker) Orders(ctx context.Context, inst *model.Instrument) ([]*model.Order, error) {
	var out []*model.Order
	if err := b.call(ctx, func() { out = b.ledger.list(inst, false) }); err != nil {
		return nil, b.waitError(ctx, err, "orders")
	}
	return out, nil
}

// Order returns a snapshot of one order.
func (b *Broker) Order(ctx context.Context, id int64) (*model.Order, error) {
	var out *model.Order
	if err := b.call(ctx, func() {
		if o, ok := b.ledger.get(id); ok {
			out = o.Snapshot()
		}
	}); err != nil {
		return nil, b.waitError(ctx, err, "order")
	}
	if out == nil {
		return nil, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	return out, nil
}
