package model

import (
	"time"

	"github.com/google/uuid"
	brokermodel "github.com/joripage/brokerlink/pkg/broker/model"
)

// OrderEvent is one snapshot of an order as seen by an order callback.
type OrderEvent struct {
	EventID      string    `json:"event_id" gorm:"primaryKey;column:event_id"`
	OrderID      int64     `json:"order_id" gorm:"index"`
	InstrumentID int64     `json:"instrument_id"`
	Instrument   string    `json:"instrument"`
	State        string    `json:"state"`
	Quantity     int64     `json:"quantity"`
	Filled       int64     `json:"filled"`
	Price        float64   `json:"price"`
	Stop         float64   `json:"stop"`
	AvgPrice     float64   `json:"avg_price"`
	Commission   float64   `json:"commission"`
	Profit       float64   `json:"profit"`
	Message      string    `json:"message"`
	OpenTime     time.Time `json:"open_time"`
	FillTime     time.Time `json:"fill_time"`
	Timestamp    time.Time `json:"timestamp" gorm:"column:ts"`
}

func (OrderEvent) TableName() string {
	return "order_events"
}

func NewOrderEvent(o *brokermodel.Order, ts time.Time) *OrderEvent {
	ev := &OrderEvent{
		EventID:    uuid.NewString(),
		OrderID:    o.ID,
		State:      string(o.State()),
		Quantity:   o.Quantity,
		Filled:     o.Filled,
		Price:      o.Price,
		Stop:       o.Stop,
		AvgPrice:   o.AvgPrice,
		Commission: o.Commission,
		Profit:     o.Profit,
		Message:    o.Message,
		OpenTime:   o.OpenTime,
		FillTime:   o.FillTime,
		Timestamp:  ts,
	}
	if o.Instrument != nil {
		ev.InstrumentID = o.Instrument.ID
		ev.Instrument = o.Instrument.Key()
	}
	return ev
}
