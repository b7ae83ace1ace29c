package broker

import (
	"context"
	"sort"
	"time"

	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/logging"
	"go.uber.org/zap"
)

// Gateway commission and realized PnL values outside these bounds are placeholders
// (the gateway reports DBL_MAX for "unset") and are not accumulated.
const (
	DefaultMaxCommission = 1_000_000.0
	DefaultMaxProfit     = 1_000_000.0
)

// Bounds is the plausibility window for commission reports.
type Bounds struct {
	MaxCommission float64
	MaxProfit     float64
}

func (b Bounds) withDefaults() Bounds {
	if b.MaxCommission <= 0 {
		b.MaxCommission = DefaultMaxCommission
	}
	if b.MaxProfit <= 0 {
		b.MaxProfit = DefaultMaxProfit
	}
	return b
}

func (b Bounds) validCommission(c float64) bool {
	return c >= 0 && c < b.MaxCommission
}

func (b Bounds) validProfit(p float64) bool {
	return p > -b.MaxProfit && p < b.MaxProfit
}

var cancelStatuses = map[string]struct{}{
	"ApiCanceled":  {},
	"ApiCancelled": {},
	"Cancelled":    {},
	"Canceled":     {},
}

// IsCancelStatus reports whether a gateway status string means the order is cancelled.
func IsCancelStatus(status string) bool {
	_, ok := cancelStatuses[status]
	return ok
}

type execution struct {
	orderID      int64
	commissioned bool
}

// ledger is only touched from the engine goroutine.
type ledger struct {
	orders map[int64]*model.Order
	execs  map[string]*execution
	bounds Bounds
	log    *logging.Logger
	now    func() time.Time
}

func newLedger(bounds Bounds, log *logging.Logger) *ledger {
	return &ledger{
		orders: make(map[int64]*model.Order),
		execs:  make(map[string]*execution),
		bounds: bounds.withDefaults(),
		log:    log,
		now:    time.Now,
	}
}

func (l *ledger) add(order *model.Order) {
	l.orders[order.ID] = order
}

func (l *ledger) get(id int64) (*model.Order, bool) {
	o, ok := l.orders[id]
	return o, ok
}

// list returns snapshots ordered by id, optionally only for one instrument.
func (l *ledger) list(inst *model.Instrument, openOnly bool) []*model.Order {
	out := make([]*model.Order, 0, len(l.orders))
	for _, o := range l.orders {
		if openOnly && !o.Open {
			continue
		}
		if inst != nil && !o.Instrument.Equal(inst) {
			continue
		}
		out = append(out, o.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *ledger) markOpened(o *model.Order) {
	if o.OpenTime.IsZero() {
		o.OpenTime = l.now()
	}
}

// adoptFill applies a cumulative fill magnitude if it moves the order forward.
func (l *ledger) adoptFill(o *model.Order, cumulative, avgPrice float64) bool {
	filled := model.SignedFill(cumulative, o.Quantity)
	if model.Abs(filled) <= model.Abs(o.Filled) {
		return false
	}
	if model.Abs(filled) > model.Abs(o.Quantity) {
		l.log.Warn(context.Background(), "fill exceeds order quantity",
			zap.Int64("order_id", o.ID),
			zap.Int64("quantity", o.Quantity),
			zap.Float64("reported", cumulative))
		return false
	}
	o.Filled = filled
	o.AvgPrice = avgPrice
	if o.Complete() {
		o.Open = false
	}
	return true
}

func (l *ledger) cancel(o *model.Order) bool {
	if o.Cancelled {
		return false
	}
	if o.Complete() {
		l.log.Debug(context.Background(), "cancel for filled order ignored", zap.Int64("order_id", o.ID))
		return false
	}
	o.Cancelled = true
	o.Open = false
	l.log.Info(context.Background(), "CANCELLED", zap.Stringer("order", o))
	return true
}

// applyStatus reports whether order callbacks should run.
func (l *ledger) applyStatus(msg model.OrderStatus) (*model.Order, bool) {
	o, ok := l.orders[msg.OrderID]
	if !ok {
		l.log.Error(context.Background(), "orderStatus for unknown order", zap.Int64("order_id", msg.OrderID))
		return nil, false
	}
	l.markOpened(o)

	if IsCancelStatus(msg.Status) {
		return o, l.transitioned(o, l.cancel(o))
	}
	return o, l.transitioned(o, l.adoptFill(o, msg.Filled, msg.AvgFillPrice))
}

// applyOpenOrder mirrors the gateway order state. Only a new cancellation asks for callbacks.
func (l *ledger) applyOpenOrder(msg model.OpenOrder) (*model.Order, bool) {
	o, ok := l.orders[msg.OrderID]
	if !ok {
		l.log.Error(context.Background(), "openOrder for unknown order", zap.Int64("order_id", msg.OrderID))
		return nil, false
	}
	if msg.Contract.Symbol != "" && msg.Contract.Symbol != o.Instrument.Symbol {
		l.log.Error(context.Background(), "openOrder symbol mismatch",
			zap.Int64("order_id", o.ID),
			zap.String("want", o.Instrument.Symbol),
			zap.String("got", msg.Contract.Symbol))
		return o, false
	}
	l.markOpened(o)

	notify := false
	switch {
	case IsCancelStatus(msg.State):
		notify = l.transitioned(o, l.cancel(o))
	case msg.State == "Filled":
		if o.Open && !o.Cancelled {
			o.Open = false
			l.log.Info(context.Background(), "COMPLETE", zap.Stringer("order", o), zap.Float64("avg_price", o.AvgPrice))
		}
	}
	if msg.Warning != "" {
		l.log.Warn(context.Background(), "order warning", zap.Int64("order_id", o.ID), zap.String("warning", msg.Warning))
		o.Message = msg.Warning
	}
	return o, notify
}

// applyExecution records the execution join and any fill progress. Callbacks wait for the
// commission report, which carries the complete picture of the fill.
func (l *ledger) applyExecution(msg model.ExecDetails) *model.Order {
	o, ok := l.orders[msg.OrderID]
	if !ok {
		l.log.Error(context.Background(), "execDetails for unknown order", zap.Int64("order_id", msg.OrderID))
		return nil
	}
	l.markOpened(o)
	if _, seen := l.execs[msg.ExecID]; !seen {
		l.execs[msg.ExecID] = &execution{orderID: o.ID}
	}

	l.log.Info(context.Background(), "EXEC",
		zap.String("symbol", o.Instrument.Symbol),
		zap.Int64("qty", model.SignedFill(msg.Shares, o.Quantity)),
		zap.Float64("price", msg.Price),
		zap.Int64("total_qty", model.SignedFill(msg.CumQty, o.Quantity)),
		zap.Int64("order_id", o.ID))

	if l.adoptFill(o, msg.CumQty, msg.AvgPrice) {
		if !msg.Time.IsZero() {
			o.FillTime = msg.Time
		} else {
			o.FillTime = l.now()
		}
		l.transitioned(o, true)
	}
	return o
}

// applyCommission accumulates sane values once per execution.
func (l *ledger) applyCommission(msg model.CommissionReport) (*model.Order, bool) {
	exec, ok := l.execs[msg.ExecID]
	if !ok {
		l.log.Error(context.Background(), "no order found for execution", zap.String("exec_id", msg.ExecID))
		return nil, false
	}
	o, ok := l.orders[exec.orderID]
	if !ok {
		l.log.Error(context.Background(), "execution refers to unknown order",
			zap.String("exec_id", msg.ExecID),
			zap.Int64("order_id", exec.orderID))
		return nil, false
	}
	if exec.commissioned {
		l.log.Debug(context.Background(), "duplicate commission report", zap.String("exec_id", msg.ExecID))
		return o, false
	}
	exec.commissioned = true

	if l.bounds.validCommission(msg.Commission) {
		o.Commission += msg.Commission
	}
	if l.bounds.validProfit(msg.RealizedPNL) {
		o.Profit += msg.RealizedPNL
	}
	return o, true
}

// reject cancels a live order because of an order related gateway error.
func (l *ledger) reject(orderID int64, code int, text string) (*model.Order, bool) {
	o, ok := l.orders[orderID]
	if !ok {
		return nil, false
	}
	if o.Terminal() {
		if o.Cancelled && o.Message == "" {
			// explanation of a cancel the status already reported
			o.Message = text
			l.log.Warn(context.Background(), "ORDER ERR", zap.Int("code", code), zap.Stringer("order", o))
			return o, true
		}
		l.log.Debug(context.Background(), "order error after terminal state",
			zap.Int64("order_id", o.ID),
			zap.Int("code", code),
			zap.String("msg", text))
		return o, false
	}
	o.Cancelled = true
	o.Open = false
	o.Message = text
	l.log.Error(context.Background(), "ORDER ERR", zap.Int("code", code), zap.Stringer("order", o))
	return o, l.transitioned(o, true)
}

func (l *ledger) transitioned(o *model.Order, changed bool) bool {
	if changed {
		OrderTransitionsTotal.WithLabelValues(string(o.State())).Inc()
	}
	return changed
}
