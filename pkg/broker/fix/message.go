package fixgateway

import (
	"math"
	"strconv"
	"time"

	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/fix44/marketdataincrementalrefresh"
	"github.com/quickfixgo/fix44/marketdatasnapshotfullrefresh"
	"github.com/quickfixgo/fix44/positionreport"
	"github.com/quickfixgo/fix44/securitylist"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
)

// Gateway error codes the engine classifies. FIX rejects are translated onto them.
const (
	codeOrderRejected    = 201
	codeNoSecurityDef    = 200
	codeMarketDataReject = 354
	codeCancelRejected   = 10148
	codeConnectivityLost = 1100
)

// ExecType values outside the set the enum package names consistently.
const (
	execTypePartialFill = "1"
	execTypeFill        = "2"
	execTypeRejected    = "8"
	execTypeExpired     = "C"
)

type fieldSource interface {
	GetString(tag quickfix.Tag) (string, quickfix.MessageRejectError)
}

func getString(fs fieldSource, t quickfix.Tag) string {
	v, err := fs.GetString(t)
	if err != nil {
		return ""
	}
	return v
}

func getFloat(fs fieldSource, t quickfix.Tag) (float64, bool) {
	v, err := fs.GetString(t)
	if err != nil || v == "" {
		return 0, false
	}
	f, perr := strconv.ParseFloat(v, 64)
	if perr != nil {
		return 0, false
	}
	return f, true
}

func getFloatOr(fs fieldSource, t quickfix.Tag, def float64) float64 {
	if f, ok := getFloat(fs, t); ok {
		return f
	}
	return def
}

// decodeInstrument reads the Instrument component. The numeric SecurityID is the
// gateway identity of the contract; 0 means the counterparty did not send one.
func decodeInstrument(fs fieldSource) (c model.Contract, conID int64, month string) {
	month = getString(fs, tag.MaturityMonthYear)
	c = model.Contract{
		Symbol:   getString(fs, tag.Symbol),
		SecType:  fromSecurityType(getString(fs, tag.SecurityType)),
		Exchange: getString(fs, tag.SecurityExchange),
		Currency: getString(fs, tag.Currency),
		Expiry:   getString(fs, tag.MaturityDate),
		Strike:   getFloatOr(fs, tag.StrikePrice, 0),
		OptType:  fromPutOrCall(getString(fs, tag.PutOrCall)),
	}
	if c.Expiry == "" {
		c.Expiry = month
	}
	return c, parseID(getString(fs, tag.SecurityID)), month
}

func messageTime(msg *quickfix.Message, now time.Time) time.Time {
	if t, err := msg.Header.GetTime(tag.SendingTime); err == nil {
		return t
	}
	return now
}

// decodeExecutionReport maps one report onto the order lifecycle messages the engine
// reconciles. A trade becomes an execution, a status with the cumulative fill and,
// when tag 12 is present, a commission report for that execution.
func decodeExecutionReport(msg *quickfix.Message, now time.Time) []model.Message {
	body := &msg.Body
	orderID := parseOrderID(getString(body, tag.ClOrdID))
	if orig := getString(body, tag.OrigClOrdID); orig != "" {
		orderID = parseOrderID(orig)
	}
	execType := getString(body, tag.ExecType)
	ordStatus := getString(body, tag.OrdStatus)
	text := getString(body, tag.Text)
	cum := getFloatOr(body, tag.CumQty, 0)
	leaves := getFloatOr(body, tag.LeavesQty, 0)
	avg := getFloatOr(body, tag.AvgPx, 0)

	switch execType {
	case string(enum.ExecType_NEW), string(enum.ExecType_PENDING_NEW):
		c, conID, _ := decodeInstrument(body)
		return []model.Message{model.OpenOrder{
			OrderID:  orderID,
			Contract: c,
			ConID:    conID,
			Action:   fromSide(getString(body, tag.Side)),
			Quantity: getFloatOr(body, tag.OrderQty, 0),
			State:    "Submitted",
			Warning:  text,
		}}

	case string(enum.ExecType_TRADE), execTypePartialFill, execTypeFill:
		execID := getString(body, tag.ExecID)
		t, err := body.GetTime(tag.TransactTime)
		if err != nil {
			t = messageTime(msg, now)
		}
		_, conID, _ := decodeInstrument(body)
		status := "Submitted"
		if ordStatus == string(enum.OrdStatus_FILLED) {
			status = "Filled"
		}
		out := []model.Message{
			model.ExecDetails{
				ReqID:    -1,
				OrderID:  orderID,
				ExecID:   execID,
				ConID:    conID,
				Side:     fromSide(getString(body, tag.Side)),
				Shares:   getFloatOr(body, tag.LastQty, 0),
				Price:    getFloatOr(body, tag.LastPx, 0),
				CumQty:   cum,
				AvgPrice: avg,
				Time:     t,
			},
			model.OrderStatus{OrderID: orderID, Status: status, Filled: cum, Remaining: leaves, AvgFillPrice: avg},
		}
		if commission, ok := getFloat(body, tag.Commission); ok {
			out = append(out, model.CommissionReport{
				ExecID:      execID,
				Commission:  commission,
				Currency:    getString(body, tag.Currency),
				RealizedPNL: model.UnsetDouble,
			})
		}
		return out

	case string(enum.ExecType_CANCELED), execTypeExpired:
		return []model.Message{model.OrderStatus{OrderID: orderID, Status: "Cancelled", Filled: cum, Remaining: leaves, AvgFillPrice: avg}}

	case execTypeRejected:
		if text == "" {
			text = "Order rejected"
		}
		return []model.Message{model.Error{ID: orderID, Code: codeOrderRejected, Msg: text}}
	}

	return []model.Message{model.OrderStatus{OrderID: orderID, Status: ordStatusName(ordStatus), Filled: cum, Remaining: leaves, AvgFillPrice: avg}}
}

func ordStatusName(v string) string {
	switch enum.OrdStatus(v) {
	case enum.OrdStatus_PENDING_CANCEL:
		return "PendingCancel"
	case enum.OrdStatus_FILLED:
		return "Filled"
	case enum.OrdStatus_CANCELED:
		return "Cancelled"
	}
	return "Submitted"
}

// decodeSecurityList answers a contract details request. Fragmented lists only end on
// the last fragment.
func decodeSecurityList(msg *quickfix.Message) []model.Message {
	body := &msg.Body
	reqID := parseID(getString(body, tag.SecurityReqID))
	if result := getString(body, tag.SecurityRequestResult); result != "" && result != "0" {
		text := getString(body, tag.Text)
		if text == "" {
			text = "No security definition has been found for the request"
		}
		return []model.Message{model.Error{ID: reqID, Code: codeNoSecurityDef, Msg: text}}
	}

	var out []model.Message
	if group, err := securitylist.FromMessage(msg).GetNoRelatedSym(); err == nil {
		for i := 0; i < group.Len(); i++ {
			c, conID, month := decodeInstrument(group.Get(i))
			out = append(out, model.ContractDetails{ReqID: reqID, Contract: c, ConID: conID, ContractMonth: month})
		}
	}
	if getString(body, tag.LastFragment) != "N" {
		out = append(out, model.ContractDetailsEnd{ReqID: reqID})
	}
	return out
}

// mdBook accumulates one market data message. A trade is reported the way the
// real time volume tick carries it so the engine sees one format.
type mdBook struct {
	tickerID int64
	out      []model.Message
	tick     model.Tick
	traded   bool
}

func newMDBook(tickerID int64, t time.Time) *mdBook {
	nan := math.NaN()
	return &mdBook{
		tickerID: tickerID,
		tick: model.Tick{
			Time:   float64(t.UnixMilli()) / 1000.0,
			Price:  nan,
			Size:   nan,
			Volume: nan,
			VWAP:   nan,
		},
	}
}

func (b *mdBook) add(entry fieldSource) {
	px, hasPx := getFloat(entry, tag.MDEntryPx)
	size, hasSize := getFloat(entry, tag.MDEntrySize)
	switch enum.MDEntryType(getString(entry, tag.MDEntryType)) {
	case enum.MDEntryType_BID:
		b.price(model.TickTypeBid, px, hasPx)
		b.size(model.TickTypeBidSize, size, hasSize)
	case enum.MDEntryType_OFFER:
		b.price(model.TickTypeAsk, px, hasPx)
		b.size(model.TickTypeAskSize, size, hasSize)
	case enum.MDEntryType_TRADE:
		b.price(model.TickTypeLast, px, hasPx)
		b.size(model.TickTypeLastSize, size, hasSize)
		b.traded = true
		if hasPx {
			b.tick.Price = px
		}
		if hasSize {
			b.tick.Size = size
		}
	case mdEntryVWAP:
		if hasPx {
			b.tick.VWAP = px
		}
	case mdEntryTradeVolume:
		b.size(model.TickTypeVolume, size, hasSize)
		if hasSize {
			b.tick.Volume = size
		}
	}
}

func (b *mdBook) price(field model.TickType, v float64, ok bool) {
	if ok {
		b.out = append(b.out, model.TickPrice{TickerID: b.tickerID, Field: field, Price: v})
	}
}

func (b *mdBook) size(field model.TickType, v float64, ok bool) {
	if ok {
		b.out = append(b.out, model.TickSize{TickerID: b.tickerID, Field: field, Size: int64(math.Round(v))})
	}
}

func (b *mdBook) messages() []model.Message {
	if b.traded {
		b.out = append(b.out, model.TickString{TickerID: b.tickerID, Field: model.TickTypeRTVolume, Value: model.FormatRTVolume(b.tick)})
	}
	return b.out
}

func decodeMarketDataSnapshot(msg *quickfix.Message, now time.Time) []model.Message {
	book := newMDBook(parseID(getString(&msg.Body, tag.MDReqID)), messageTime(msg, now))
	if group, err := marketdatasnapshotfullrefresh.FromMessage(msg).GetNoMDEntries(); err == nil {
		for i := 0; i < group.Len(); i++ {
			book.add(group.Get(i))
		}
	}
	return book.messages()
}

func decodeMarketDataIncremental(msg *quickfix.Message, now time.Time) []model.Message {
	book := newMDBook(parseID(getString(&msg.Body, tag.MDReqID)), messageTime(msg, now))
	if group, err := marketdataincrementalrefresh.FromMessage(msg).GetNoMDEntries(); err == nil {
		for i := 0; i < group.Len(); i++ {
			entry := group.Get(i)
			if getString(entry, tag.MDUpdateAction) == mdUpdateDelete {
				continue
			}
			book.add(entry)
		}
	}
	return book.messages()
}

func decodeMarketDataReject(msg *quickfix.Message) []model.Message {
	text := getString(&msg.Body, tag.Text)
	if text == "" {
		text = "Market data request rejected"
	}
	return []model.Message{model.Error{ID: parseID(getString(&msg.Body, tag.MDReqID)), Code: codeMarketDataReject, Msg: text}}
}

// decodePositionReport nets every position quantity group into one signed position.
func decodePositionReport(msg *quickfix.Message) []model.Message {
	body := &msg.Body
	c, conID, _ := decodeInstrument(body)
	var qty float64
	if group, err := positionreport.FromMessage(msg).GetNoPositions(); err == nil {
		for i := 0; i < group.Len(); i++ {
			entry := group.Get(i)
			qty += getFloatOr(entry, tag.LongQty, 0) - getFloatOr(entry, tag.ShortQty, 0)
		}
	}
	return []model.Message{model.Position{
		Account:  getString(body, tag.Account),
		Contract: c,
		ConID:    conID,
		Position: qty,
		AvgCost:  getFloatOr(body, tag.SettlPrice, 0),
	}}
}

func decodeOrderCancelReject(msg *quickfix.Message) []model.Message {
	body := &msg.Body
	orderID := parseOrderID(getString(body, tag.OrigClOrdID))
	text := getString(body, tag.Text)
	if text == "" {
		text = "Cancel rejected"
	}
	return []model.Message{model.Error{ID: orderID, Code: codeCancelRejected, Msg: text}}
}

// decodeBusinessReject points the reject at whatever the rejected request was waiting on.
func decodeBusinessReject(msg *quickfix.Message) []model.Message {
	body := &msg.Body
	ref := getString(body, tag.BusinessRejectRefID)
	text := getString(body, tag.Text)
	e := model.Error{ID: -1, Msg: text}
	switch getString(body, tag.RefMsgType) {
	case msgTypeNewOrderSingle:
		e.ID, e.Code = parseOrderID(ref), codeOrderRejected
	case msgTypeMarketDataRequest:
		e.ID, e.Code = parseID(ref), codeMarketDataReject
	case msgTypeSecurityListRequest:
		e.ID, e.Code = parseID(ref), codeNoSecurityDef
	}
	if e.Msg == "" {
		e.Msg = "Business message rejected"
	}
	return []model.Message{e}
}
