package model

import (
	"fmt"
	"math"
	"time"
)

type OrderState string

const (
	OrderStateOpen      OrderState = "Open"
	OrderStateFilled    OrderState = "Filled"
	OrderStateCancelled OrderState = "Cancelled"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket    OrderType = "MKT"
	OrderTypeLimit     OrderType = "LMT"
	OrderTypeStop      OrderType = "STP"
	OrderTypeStopLimit OrderType = "STP LMT"
)

type OrderTimeInForce string

const (
	OrderTimeInForceDAY OrderTimeInForce = "DAY"
	OrderTimeInForceGTC OrderTimeInForce = "GTC"
	OrderTimeInForceIOC OrderTimeInForce = "IOC"
)

// OrderSpec is what goes on the wire for a new order.
type OrderSpec struct {
	Side        OrderSide
	Type        OrderType
	Quantity    int64 // unsigned, Side carries the direction
	LimitPrice  float64
	StopPrice   float64
	TimeInForce OrderTimeInForce
	Account     string
	OutsideRTH  bool
}

// NewOrderSpec derives side and order type from a signed quantity and optional limit/stop prices.
func NewOrderSpec(quantity int64, limit, stop float64) OrderSpec {
	spec := OrderSpec{
		Side:        OrderSideBuy,
		Quantity:    quantity,
		LimitPrice:  limit,
		StopPrice:   stop,
		TimeInForce: OrderTimeInForceDAY,
	}
	if quantity < 0 {
		spec.Side = OrderSideSell
		spec.Quantity = -quantity
	}

	switch {
	case stop != 0 && limit != 0:
		spec.Type = OrderTypeStopLimit
	case stop != 0:
		spec.Type = OrderTypeStop
	case limit != 0:
		spec.Type = OrderTypeLimit
	default:
		spec.Type = OrderTypeMarket
	}
	return spec
}

// SignedQuantity is Quantity with the sign of Side.
func (s OrderSpec) SignedQuantity() int64 {
	if s.Side == OrderSideSell {
		return -s.Quantity
	}
	return s.Quantity
}

// Order is the ledger record of one placed order. Quantity and Filled share a sign:
// a sell of 5 has Quantity -5 and is complete only when Filled reaches -5.
type Order struct {
	ID         int64       `json:"id"`
	Instrument *Instrument `json:"instrument"`
	Price      float64     `json:"price"` // 0 for market orders
	Stop       float64     `json:"stop"`
	Quantity   int64       `json:"quantity"`
	Filled     int64       `json:"filled"`
	AvgPrice   float64     `json:"avg_price"`
	Open       bool        `json:"open"`
	Cancelled  bool        `json:"cancelled"`
	Commission float64     `json:"commission"`
	Profit     float64     `json:"profit"`
	OpenTime   time.Time   `json:"open_time"`
	FillTime   time.Time   `json:"fill_time"`
	Message    string      `json:"message,omitempty"`
}

func (o *Order) Complete() bool {
	return o.Filled == o.Quantity
}

func (o *Order) State() OrderState {
	switch {
	case o.Cancelled:
		return OrderStateCancelled
	case o.Complete():
		return OrderStateFilled
	default:
		return OrderStateOpen
	}
}

// Terminal reports whether no further transition may be applied.
func (o *Order) Terminal() bool {
	return o.Cancelled || o.Complete()
}

// Remaining is the signed quantity still to fill.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

// Snapshot returns a copy safe to hand to callbacks.
func (o *Order) Snapshot() *Order {
	bkOrder := *o
	return &bkOrder
}

func (o *Order) String() string {
	status := "open"
	if !o.Open {
		status = "closed"
	}
	if o.Cancelled {
		status += " cancelled"
	}
	price := "MKT"
	if o.Price != 0 {
		price = fmt.Sprintf("%.2f", o.Price)
	}
	return fmt.Sprintf("Order<%s %d/%d @ %s %s #%d>", o.Instrument, o.Filled, o.Quantity, price, status, o.ID)
}

// SignedFill gives magnitude the sign of quantity.
func SignedFill(magnitude float64, quantity int64) int64 {
	return int64(math.Copysign(math.Abs(magnitude), float64(quantity)))
}

func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
