package broker

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/logging"
	"go.uber.org/zap"
)

type handler func(msg model.Message) error

// addRoute registers fn for kind, checking the payload type on the way in.
func addRoute[T model.Message](routes map[model.Kind]handler, kind model.Kind, fn func(T)) {
	routes[kind] = func(msg model.Message) error {
		m, ok := msg.(T)
		if !ok {
			return fmt.Errorf("unexpected payload %T for kind %s", msg, kind)
		}
		fn(m)
		return nil
	}
}

func (b *Broker) newRouter() map[model.Kind]handler {
	routes := make(map[model.Kind]handler)
	addRoute(routes, model.KindError, b.onError)
	addRoute(routes, model.KindManagedAccounts, b.onManagedAccounts)
	addRoute(routes, model.KindNextValidID, b.onNextValidID)
	addRoute(routes, model.KindTickString, b.onTickString)
	addRoute(routes, model.KindContractDetails, b.onContractDetails)
	addRoute(routes, model.KindContractDetailsEnd, b.onContractDetailsEnd)
	addRoute(routes, model.KindOrderStatus, b.onOrderStatus)
	addRoute(routes, model.KindOpenOrder, b.onOpenOrder)
	addRoute(routes, model.KindExecDetails, b.onExecDetails)
	addRoute(routes, model.KindPosition, b.onPosition)
	addRoute(routes, model.KindCommissionReport, b.onCommissionReport)
	return routes
}

// route is the single entry point for inbound messages, always on the engine goroutine.
func (b *Broker) route(msg model.Message) {
	ctx := context.Background()
	if msg == nil {
		b.log.Error(ctx, "nil message dropped")
		return
	}
	kind := msg.Kind()
	if kind == "" {
		b.log.Error(ctx, "invalid message kind", zap.String("type", fmt.Sprintf("%T", msg)))
		return
	}
	if b.cfg.Verbose >= logging.TraceVerbose {
		b.log.Debug(ctx, "MSG", zap.String("kind", string(kind)), zap.Any("msg", msg))
	}

	// errors do not prove the session is up
	if kind != model.KindError {
		b.markConnected()
	}

	label := string(kind)
	if _, unknown := msg.(model.Unknown); unknown {
		label = "unknown"
	}
	MessagesTotal.WithLabelValues(label).Inc()

	h, ok := b.routes[kind]
	if !ok {
		b.defaultHandler(msg)
		return
	}
	if err := h(msg); err != nil {
		b.log.Error(ctx, "message dropped", zap.Error(err))
	}
}

func (b *Broker) defaultHandler(msg model.Message) {
	if b.cfg.Verbose < logging.TraceVerbose {
		b.log.Debug(context.Background(), "MSG", zap.String("kind", string(msg.Kind())), zap.Any("msg", msg))
	}
}

func (b *Broker) onError(msg model.Error) {
	ctx := context.Background()
	category := Classify(msg.Code)
	GatewayErrorsTotal.WithLabelValues(category.String()).Inc()
	fields := []zap.Field{zap.Int("code", msg.Code), zap.Int64("id", msg.ID), zap.String("msg", msg.Msg)}

	switch category {
	case CategoryBenign:
	case CategoryDisconnect:
		b.markLost()
		b.log.Warn(ctx, "gateway connection lost", fields...)
	case CategoryWarning:
		b.log.Warn(ctx, "gateway warning", fields...)
	case CategoryOrder:
		if o, notify := b.ledger.reject(msg.ID, msg.Code, msg.Msg); notify {
			b.notifyOrder(o)
		}
	case CategoryTicker:
		b.log.Error(ctx, "ticker error", fields...)
		relay, ok := b.tickErrors[msg.ID]
		if !ok {
			b.log.Warn(ctx, "ticker error for unexpected request id", fields...)
			return
		}
		relay.Push(&GatewayError{Code: msg.Code, ID: msg.ID, Msg: msg.Msg})
	case CategoryContract:
		b.log.Error(ctx, "contract details error", fields...)
		slot, ok := b.contractSlots[msg.ID]
		if !ok {
			b.log.Error(ctx, "no request slot for contract details", fields...)
			return
		}
		slot.Push(contractEvent{err: &GatewayError{Code: msg.Code, ID: msg.ID, Msg: msg.Msg}})
		slot.Push(contractEvent{end: true})
		delete(b.contractSlots, msg.ID)
	default:
		b.log.Error(ctx, "gateway error", fields...)
	}
}

func (b *Broker) onManagedAccounts(msg model.ManagedAccounts) {
	var accounts []string
	for _, a := range strings.Split(msg.Accounts, ",") {
		if a = strings.TrimSpace(a); a != "" {
			accounts = append(accounts, a)
		}
	}
	if len(accounts) != 1 {
		b.log.Error(context.Background(), "exactly one managed account is supported", zap.Strings("accounts", accounts))
	}
	if len(accounts) > 0 {
		b.account = accounts[0]
	}
}

func (b *Broker) onNextValidID(msg model.NextValidID) {
	if msg.OrderID < b.nextOrderID {
		b.log.Warn(context.Background(), "nextValidId less than current id",
			zap.Int64("next_valid_id", msg.OrderID),
			zap.Int64("current", b.nextOrderID))
		return
	}
	b.nextOrderID = msg.OrderID
}

func (b *Broker) onTickString(msg model.TickString) {
	ctx := context.Background()
	if msg.Field != model.TickTypeRTVolume {
		b.log.Warn(ctx, "unexpected tick string", zap.Int("field", int(msg.Field)), zap.String("value", msg.Value))
		return
	}
	tick, err := model.ParseRTVolume(msg.Value)
	if err != nil {
		b.log.Warn(ctx, "bad rt volume", zap.Error(err))
		return
	}
	sub, ok := b.tickers[msg.TickerID]
	if !ok {
		b.log.Warn(ctx, "no handler for ticker id", zap.Int64("ticker_id", msg.TickerID))
		return
	}
	tick.Instrument = sub.inst
	sub.fanOut(b, tick)
}

func (b *Broker) onContractDetails(msg model.ContractDetails) {
	ctx := context.Background()
	slot, ok := b.contractSlots[msg.ReqID]
	if !ok {
		b.log.Error(ctx, "no request slot for contract details", zap.Int64("req_id", msg.ReqID), zap.Stringer("contract", msg.Contract))
		return
	}
	if msg.ConID == 0 {
		b.log.Error(ctx, "contract details without gateway id", zap.Int64("req_id", msg.ReqID), zap.Stringer("contract", msg.Contract))
		return
	}
	b.log.Debug(ctx, "DETAILS", zap.Int64("req_id", msg.ReqID), zap.Int64("con_id", msg.ConID), zap.Stringer("contract", msg.Contract))
	slot.Push(contractEvent{inst: b.instrument(msg.Contract, msg.ConID, msg.ContractMonth)})
}

func (b *Broker) onContractDetailsEnd(msg model.ContractDetailsEnd) {
	slot, ok := b.contractSlots[msg.ReqID]
	if !ok {
		b.log.Error(context.Background(), "no request slot for contract details end", zap.Int64("req_id", msg.ReqID))
		return
	}
	slot.Push(contractEvent{end: true})
	delete(b.contractSlots, msg.ReqID)
}

func (b *Broker) onOrderStatus(msg model.OrderStatus) {
	if o, notify := b.ledger.applyStatus(msg); notify {
		b.notifyOrder(o)
	}
}

func (b *Broker) onOpenOrder(msg model.OpenOrder) {
	if o, notify := b.ledger.applyOpenOrder(msg); notify {
		b.notifyOrder(o)
	}
}

func (b *Broker) onExecDetails(msg model.ExecDetails) {
	b.ledger.applyExecution(msg)
}

func (b *Broker) onCommissionReport(msg model.CommissionReport) {
	if o, notify := b.ledger.applyCommission(msg); notify {
		b.notifyOrder(o)
	}
}

func (b *Broker) onPosition(msg model.Position) {
	if msg.ConID == 0 {
		b.log.Error(context.Background(), "position without gateway id", zap.Stringer("contract", msg.Contract))
		return
	}
	inst := b.instrument(msg.Contract, msg.ConID, "")
	qty := int64(math.Round(msg.Position))
	b.log.Debug(context.Background(), "POS", zap.Int64("con_id", msg.ConID), zap.Int64("position", qty))
	b.positions.set(PositionEntry{Instrument: inst, Quantity: qty, AvgCost: msg.AvgCost})
}

// notifyOrder hands every order callback of the instrument, then every observer,
// its own snapshot.
func (b *Broker) notifyOrder(o *model.Order) {
	var handlers []OrderHandler
	if sub, ok := b.subs[o.Instrument.ID]; ok {
		handlers = append(handlers, sub.orders...)
	}
	handlers = append(handlers, b.observers...)
	for _, h := range handlers {
		h, snapshot := h, o.Snapshot()
		b.emit(func() { h(snapshot) })
	}
}
