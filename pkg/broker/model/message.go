package model

import "time"

// Kind tags every inbound message.
type Kind string

const (
	KindError              Kind = "error"
	KindManagedAccounts    Kind = "managedAccounts"
	KindNextValidID        Kind = "nextValidId"
	KindTickPrice          Kind = "tickPrice"
	KindTickSize           Kind = "tickSize"
	KindTickString         Kind = "tickString"
	KindContractDetails    Kind = "contractDetails"
	KindContractDetailsEnd Kind = "contractDetailsEnd"
	KindOrderStatus        Kind = "orderStatus"
	KindOpenOrder          Kind = "openOrder"
	KindExecDetails        Kind = "execDetails"
	KindPosition           Kind = "position"
	KindCommissionReport   Kind = "commissionReport"
)

// Message is the closed set of decoded gateway messages plus Unknown.
type Message interface {
	Kind() Kind
}

// UnsetDouble marks a numeric field the gateway did not fill in.
const UnsetDouble = 1.7976931348623157e308

type Error struct {
	ID   int64  `json:"id"` // order, ticker or request id, -1 when not correlated
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (Error) Kind() Kind { return KindError }

type ManagedAccounts struct {
	Accounts string `json:"accounts"` // comma separated
}

func (ManagedAccounts) Kind() Kind { return KindManagedAccounts }

type NextValidID struct {
	OrderID int64 `json:"order_id"`
}

func (NextValidID) Kind() Kind { return KindNextValidID }

type TickPrice struct {
	TickerID int64    `json:"ticker_id"`
	Field    TickType `json:"field"`
	Price    float64  `json:"price"`
}

func (TickPrice) Kind() Kind { return KindTickPrice }

type TickSize struct {
	TickerID int64    `json:"ticker_id"`
	Field    TickType `json:"field"`
	Size     int64    `json:"size"`
}

func (TickSize) Kind() Kind { return KindTickSize }

type TickString struct {
	TickerID int64    `json:"ticker_id"`
	Field    TickType `json:"field"`
	Value    string   `json:"value"`
}

func (TickString) Kind() Kind { return KindTickString }

type ContractDetails struct {
	ReqID         int64    `json:"req_id"`
	Contract      Contract `json:"contract"`
	ConID         int64    `json:"con_id"`
	ContractMonth string   `json:"contract_month"`
}

func (ContractDetails) Kind() Kind { return KindContractDetails }

type ContractDetailsEnd struct {
	ReqID int64 `json:"req_id"`
}

func (ContractDetailsEnd) Kind() Kind { return KindContractDetailsEnd }

type OrderStatus struct {
	OrderID      int64   `json:"order_id"`
	Status       string  `json:"status"`
	Filled       float64 `json:"filled"` // cumulative, unsigned
	Remaining    float64 `json:"remaining"`
	AvgFillPrice float64 `json:"avg_fill_price"`
}

func (OrderStatus) Kind() Kind { return KindOrderStatus }

type OpenOrder struct {
	OrderID  int64    `json:"order_id"`
	Contract Contract `json:"contract"`
	ConID    int64    `json:"con_id"`
	Action   string   `json:"action"`
	Quantity float64  `json:"quantity"`
	State    string   `json:"state"` // Submitted, Cancelled, Filled, Inactive...
	Warning  string   `json:"warning"`
}

func (OpenOrder) Kind() Kind { return KindOpenOrder }

type ExecDetails struct {
	ReqID    int64     `json:"req_id"`
	OrderID  int64     `json:"order_id"`
	ExecID   string    `json:"exec_id"`
	ConID    int64     `json:"con_id"`
	Side     string    `json:"side"`
	Shares   float64   `json:"shares"`
	Price    float64   `json:"price"`
	CumQty   float64   `json:"cum_qty"`
	AvgPrice float64   `json:"avg_price"`
	Time     time.Time `json:"time"`
}

func (ExecDetails) Kind() Kind { return KindExecDetails }

type Position struct {
	Account  string   `json:"account"`
	Contract Contract `json:"contract"`
	ConID    int64    `json:"con_id"`
	Position float64  `json:"position"`
	AvgCost  float64  `json:"avg_cost"`
}

func (Position) Kind() Kind { return KindPosition }

type CommissionReport struct {
	ExecID      string  `json:"exec_id"`
	Commission  float64 `json:"commission"`
	Currency    string  `json:"currency"`
	RealizedPNL float64 `json:"realized_pnl"`
}

func (CommissionReport) Kind() Kind { return KindCommissionReport }

// Unknown carries anything the transport decoded but the engine has no type for.
// Type may be empty when the transport could not tell what it received.
type Unknown struct {
	Type   Kind              `json:"type"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (u Unknown) Kind() Kind { return u.Type }
