package model

import (
	"fmt"
	"strings"
)

type SecType string

const (
	SecTypeStock   SecType = "STK"
	SecTypeFuture  SecType = "FUT"
	SecTypeOption  SecType = "OPT"
	SecTypeForex   SecType = "CASH"
	SecTypeIndex   SecType = "IND"
	SecTypeFutOpt  SecType = "FOP"
	SecTypeUnknown SecType = ""
)

type OptType string

const (
	OptTypePut  OptType = "PUT"
	OptTypeCall OptType = "CALL"
)

const (
	DefaultSecType  = SecTypeStock
	DefaultExchange = "SMART"
	DefaultCurrency = "USD"
)

// Contract is the user supplied description of something tradeable. It carries no
// gateway identity until it has been resolved into an Instrument.
type Contract struct {
	Symbol   string  `json:"symbol"`
	SecType  SecType `json:"sec_type"`
	Exchange string  `json:"exchange"`
	Currency string  `json:"currency"`
	Expiry   string  `json:"expiry,omitempty"`
	Strike   float64 `json:"strike,omitempty"`
	OptType  OptType `json:"opt_type,omitempty"`
}

// NewContract returns a stock contract routed through SMART in USD.
func NewContract(symbol string) Contract {
	return Contract{
		Symbol:   symbol,
		SecType:  DefaultSecType,
		Exchange: DefaultExchange,
		Currency: DefaultCurrency,
	}
}

// WithDefaults fills empty security type, exchange and currency.
func (c Contract) WithDefaults() Contract {
	if c.SecType == SecTypeUnknown {
		c.SecType = DefaultSecType
	}
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}
	return c
}

// Key joins every descriptive field, e.g. ES-FUT-GLOBEX-USD-201612-0.0-.
func (c Contract) Key() string {
	return strings.Join([]string{
		c.Symbol,
		string(c.SecType),
		c.Exchange,
		c.Currency,
		c.Expiry,
		fmt.Sprintf("%.1f", c.Strike),
		string(c.OptType),
	}, "-")
}

func (c Contract) String() string {
	return c.Key()
}

// Instrument is a Contract resolved to a gateway identifier. Instruments are created
// by the engine, never mutated, and compared by ID only.
type Instrument struct {
	Contract
	ID            int64  `json:"id"`
	ContractMonth string `json:"contract_month,omitempty"`
}

func (i *Instrument) Equal(other *Instrument) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.ID == other.ID
}

// Expiration returns the contract month when the gateway reported one, otherwise the expiry.
func (i *Instrument) Expiration() string {
	if i.ContractMonth != "" {
		return i.ContractMonth
	}
	return i.Expiry
}

func (i *Instrument) String() string {
	if i == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s#%d", i.Contract.Key(), i.ID)
}
