package fixgateway

import (
	"strconv"
	"time"

	"github.com/joripage/brokerlink/pkg/broker"
	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
)

const (
	msgTypeNewOrderSingle       = "D"
	msgTypeMarketDataRequest    = "V"
	msgTypeSecurityListRequest  = "x"
	msgTypeRequestForPositions  = "AN"
	msgTypeOrderMassCancelReq   = "q"
	msgTypeLogon                = "A"
	securityListRequestBySymbol = "0"
	subscriptionSnapshot        = "0"
	subscriptionSnapshotUpdates = "1"
	mdUpdateIncremental         = "1"
	posReqTypePositions         = "0"
	accountTypeCustomer         = "1"
	massCancelAllOrders         = "7"
)

var mdEntryTypes = []enum.MDEntryType{
	enum.MDEntryType_BID,
	enum.MDEntryType_OFFER,
	enum.MDEntryType_TRADE,
	mdEntryVWAP,
	mdEntryTradeVolume,
}

// orderInfo is what a later cancel request has to repeat about the order.
type orderInfo struct {
	side     enum.Side
	quantity int64
	contract model.Contract
	conID    int64
}

func newMessage(msgType string) *quickfix.Message {
	m := quickfix.NewMessage()
	m.Header.SetString(tag.BeginString, quickfix.BeginStringFIX44)
	m.Header.SetString(tag.MsgType, msgType)
	return m
}

// decimalField returns v with the scale it was written with.
func decimalField(v float64) (decimal.Decimal, int32) {
	d := decimal.NewFromFloat(v)
	scale := -d.Exponent()
	if scale < 0 {
		scale = 0
	}
	return d, scale
}

func setIf(fm *quickfix.FieldMap, t quickfix.Tag, v string) {
	if v != "" {
		fm.SetString(t, v)
	}
}

func setInstrument(fm *quickfix.FieldMap, c model.Contract, conID int64) {
	fm.SetString(tag.Symbol, c.Symbol)
	if conID != 0 {
		fm.SetString(tag.SecurityID, strconv.FormatInt(conID, 10))
	}
	setIf(fm, tag.SecurityType, toSecurityType(c.SecType))
	setIf(fm, tag.SecurityExchange, c.Exchange)
	setIf(fm, tag.MaturityMonthYear, c.Expiry)
	if c.Strike != 0 {
		d, scale := decimalField(c.Strike)
		fm.SetString(tag.StrikePrice, d.StringFixed(scale))
	}
	setIf(fm, tag.PutOrCall, toPutOrCall(c.OptType))
}

func newOrderSingle(orderID int64, inst *model.Instrument, spec model.OrderSpec, now time.Time) *quickfix.Message {
	order := newordersingle.New(
		field.NewClOrdID(clOrdID(orderID)),
		field.NewSide(SideMapping[spec.Side]),
		field.NewTransactTime(now),
		field.NewOrdType(OrdTypeMapping[spec.Type]))
	order.SetOrderQty(decimal.NewFromInt(spec.Quantity), 0)
	if spec.LimitPrice != 0 {
		order.SetPrice(decimalField(spec.LimitPrice))
	}
	if tif, ok := TimeInForceMapping[spec.TimeInForce]; ok {
		order.SetTimeInForce(tif)
	}
	if spec.Account != "" {
		order.SetAccount(spec.Account)
	}

	msg := order.ToMessage()
	setInstrument(&msg.Body.FieldMap, inst.Contract, inst.ID)
	setIf(&msg.Body.FieldMap, tag.Currency, inst.Currency)
	if spec.StopPrice != 0 {
		d, scale := decimalField(spec.StopPrice)
		msg.Body.SetString(tag.StopPx, d.StringFixed(scale))
	}
	return msg
}

func orderCancelRequest(orderID int64, seq int64, info orderInfo, now time.Time) *quickfix.Message {
	cancel := ordercancelrequest.New(
		field.NewOrigClOrdID(clOrdID(orderID)),
		field.NewClOrdID(cancelClOrdID(orderID, seq)),
		field.NewSide(info.side),
		field.NewTransactTime(now))
	msg := cancel.ToMessage()
	setInstrument(&msg.Body.FieldMap, info.contract, info.conID)
	msg.Body.SetString(tag.OrderQty, strconv.FormatInt(info.quantity, 10))
	return msg
}

func securityListRequest(reqID int64, c model.Contract) *quickfix.Message {
	msg := newMessage(msgTypeSecurityListRequest)
	msg.Body.SetString(tag.SecurityReqID, strconv.FormatInt(reqID, 10))
	msg.Body.SetString(tag.SecurityListRequestType, securityListRequestBySymbol)
	setInstrument(&msg.Body.FieldMap, c, 0)
	setIf(&msg.Body.FieldMap, tag.Currency, c.Currency)
	return msg
}

// marketDataRequest subscribes to top of book, trades, VWAP and volume. The engine's
// generic tick list has no FIX equivalent and is not sent.
func marketDataRequest(tickerID int64, inst *model.Instrument, opts broker.MarketDataOptions) *quickfix.Message {
	msg := newMessage(msgTypeMarketDataRequest)
	msg.Body.SetString(tag.MDReqID, strconv.FormatInt(tickerID, 10))
	subscription := subscriptionSnapshotUpdates
	if opts.Snapshot {
		subscription = subscriptionSnapshot
	}
	msg.Body.SetString(tag.SubscriptionRequestType, subscription)
	msg.Body.SetInt(tag.MarketDepth, 1)
	msg.Body.SetString(tag.MDUpdateType, mdUpdateIncremental)

	entryTypes := quickfix.NewRepeatingGroup(tag.NoMDEntryTypes,
		quickfix.GroupTemplate{quickfix.GroupElement(tag.MDEntryType)})
	for _, t := range mdEntryTypes {
		entryTypes.Add().SetString(tag.MDEntryType, string(t))
	}
	msg.Body.SetGroup(entryTypes)

	symbols := quickfix.NewRepeatingGroup(tag.NoRelatedSym, quickfix.GroupTemplate{
		quickfix.GroupElement(tag.Symbol),
		quickfix.GroupElement(tag.SecurityID),
		quickfix.GroupElement(tag.SecurityType),
		quickfix.GroupElement(tag.MaturityMonthYear),
		quickfix.GroupElement(tag.StrikePrice),
		quickfix.GroupElement(tag.PutOrCall),
		quickfix.GroupElement(tag.SecurityExchange),
	})
	setInstrument(&symbols.Add().FieldMap, inst.Contract, inst.ID)
	msg.Body.SetGroup(symbols)
	return msg
}

func requestForPositions(reqID int64, account string, now time.Time) *quickfix.Message {
	msg := newMessage(msgTypeRequestForPositions)
	msg.Body.SetString(tag.PosReqID, "POS-"+strconv.FormatInt(reqID, 10))
	msg.Body.SetString(tag.PosReqType, posReqTypePositions)
	msg.Body.SetString(tag.SubscriptionRequestType, subscriptionSnapshotUpdates)
	msg.Body.SetString(tag.Account, account)
	msg.Body.SetString(tag.AccountType, accountTypeCustomer)
	msg.Body.SetString(tag.ClearingBusinessDate, now.UTC().Format("20060102"))
	msg.Body.Set(field.NewTransactTime(now))
	return msg
}

func orderMassCancelRequest(seq int64, now time.Time) *quickfix.Message {
	msg := newMessage(msgTypeOrderMassCancelReq)
	msg.Body.SetString(tag.ClOrdID, "MC-"+strconv.FormatInt(seq, 10))
	msg.Body.SetString(tag.MassCancelRequestType, massCancelAllOrders)
	msg.Body.Set(field.NewTransactTime(now))
	return msg
}
