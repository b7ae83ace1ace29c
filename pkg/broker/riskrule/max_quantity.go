package riskrule

import (
	"fmt"

	"github.com/joripage/brokerlink/pkg/broker/model"
)

// MaxQuantityRule caps the size of a single order. Zero means no cap.
type MaxQuantityRule struct {
	Max int64
}

func (r *MaxQuantityRule) Check(inst *model.Instrument, spec model.OrderSpec) error {
	if r.Max > 0 && spec.Quantity > r.Max {
		return fmt.Errorf("quantity %d exceeds max %d for %s", spec.Quantity, r.Max, inst.Symbol)
	}
	return nil
}
