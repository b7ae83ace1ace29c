package broker

import (
	"context"

	"github.com/joripage/brokerlink/pkg/broker/model"
)

// MarketDataOptions tunes a market data request.
type MarketDataOptions struct {
	TickList   string
	Snapshot   bool
	OutsideRTH bool
}

// Transport owns the gateway session. It decodes inbound traffic and hands every
// message to deliver, one at a time and in arrival order. deliver never blocks.
type Transport interface {
	Connect(ctx context.Context, deliver func(model.Message)) error
	RequestContractDetails(reqID int64, contract model.Contract) error
	RequestMarketData(tickerID int64, inst *model.Instrument, opts MarketDataOptions) error
	PlaceOrder(orderID int64, inst *model.Instrument, spec model.OrderSpec) error
	CancelOrder(orderID int64) error
	RequestPositions() error
	RequestGlobalCancel() error
	Disconnect() error
}
