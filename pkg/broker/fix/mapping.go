package fixgateway

import (
	"strconv"
	"strings"

	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/quickfixgo/enum"
)

// FIX 4.4 values the enum package names differently across versions.
const (
	ordTypeStop      enum.OrdType = "3"
	ordTypeStopLimit enum.OrdType = "4"

	mdEntryVWAP        enum.MDEntryType = "9"
	mdEntryTradeVolume enum.MDEntryType = "B"

	mdUpdateDelete = "2"

	putOrCallPut  = "0"
	putOrCallCall = "1"
)

var (
	SideMapping = map[model.OrderSide]enum.Side{
		model.OrderSideBuy:  enum.Side_BUY,
		model.OrderSideSell: enum.Side_SELL,
	}

	OrdTypeMapping = map[model.OrderType]enum.OrdType{
		model.OrderTypeMarket:    enum.OrdType_MARKET,
		model.OrderTypeLimit:     enum.OrdType_LIMIT,
		model.OrderTypeStop:      ordTypeStop,
		model.OrderTypeStopLimit: ordTypeStopLimit,
	}

	TimeInForceMapping = map[model.OrderTimeInForce]enum.TimeInForce{
		model.OrderTimeInForceDAY: enum.TimeInForce_DAY,
		model.OrderTimeInForceGTC: enum.TimeInForce_GOOD_TILL_CANCEL,
		model.OrderTimeInForceIOC: enum.TimeInForce_IMMEDIATE_OR_CANCEL,
	}

	SecTypeMapping = map[model.SecType]string{
		model.SecTypeStock:  "CS",
		model.SecTypeFuture: "FUT",
		model.SecTypeOption: "OPT",
		model.SecTypeForex:  "FOR",
		model.SecTypeFutOpt: "OOF",
	}

	secTypeReverse = func() map[string]model.SecType {
		m := make(map[string]model.SecType, len(SecTypeMapping))
		for k, v := range SecTypeMapping {
			m[v] = k
		}
		return m
	}()
)

// toSecurityType falls back to the raw value for types FIX 4.4 has no code for.
func toSecurityType(t model.SecType) string {
	if v, ok := SecTypeMapping[t]; ok {
		return v
	}
	return string(t)
}

func fromSecurityType(v string) model.SecType {
	if t, ok := secTypeReverse[v]; ok {
		return t
	}
	return model.SecType(v)
}

func toPutOrCall(t model.OptType) string {
	switch t {
	case model.OptTypePut:
		return putOrCallPut
	case model.OptTypeCall:
		return putOrCallCall
	}
	return ""
}

func fromPutOrCall(v string) model.OptType {
	switch v {
	case putOrCallPut:
		return model.OptTypePut
	case putOrCallCall:
		return model.OptTypeCall
	}
	return ""
}

func fromSide(v string) string {
	switch enum.Side(v) {
	case enum.Side_BUY:
		return string(model.OrderSideBuy)
	case enum.Side_SELL:
		return string(model.OrderSideSell)
	}
	return v
}

// Order ids travel as ClOrdID. Cancel requests use "<id>-C<n>" so they stay unique.
func clOrdID(orderID int64) string {
	return strconv.FormatInt(orderID, 10)
}

func cancelClOrdID(orderID int64, n int64) string {
	return clOrdID(orderID) + "-C" + strconv.FormatInt(n, 10)
}

func parseOrderID(v string) int64 {
	if i := strings.IndexByte(v, '-'); i >= 0 {
		v = v[:i]
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return id
}

func parseID(v string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
