package riskrule

import (
	"fmt"

	"github.com/joripage/brokerlink/pkg/broker/model"
)

// StopLimitRule rejects stop limit orders whose limit can never be reached once the
// stop triggers: a buy needs stop <= limit, a sell needs stop >= limit.
type StopLimitRule struct{}

func (r *StopLimitRule) Check(inst *model.Instrument, spec model.OrderSpec) error {
	if spec.LimitPrice < 0 || spec.StopPrice < 0 {
		return fmt.Errorf("negative price: limit %v stop %v", spec.LimitPrice, spec.StopPrice)
	}
	if spec.Type != model.OrderTypeStopLimit {
		return nil
	}
	if spec.Side == model.OrderSideBuy && spec.StopPrice > spec.LimitPrice {
		return fmt.Errorf("buy stop %v above limit %v", spec.StopPrice, spec.LimitPrice)
	}
	if spec.Side == model.OrderSideSell && spec.StopPrice < spec.LimitPrice {
		return fmt.Errorf("sell stop %v below limit %v", spec.StopPrice, spec.LimitPrice)
	}
	return nil
}
