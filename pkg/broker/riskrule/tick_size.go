package riskrule

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/joripage/brokerlink/pkg/broker/model"
)

type tickSizeConfig struct {
	MaxPrice float64 `json:"maxPrice"` // 0 = no limit
	Step     float64 `json:"step"`
}

// TickSizeRule holds price increments per exchange, checked in order of MaxPrice.
type TickSizeRule struct {
	Config map[string][]tickSizeConfig
}

// NewTickSizeRuleFromFile loads {"GLOBEX": [{"maxPrice": 0, "step": 0.25}], ...}.
func NewTickSizeRuleFromFile(path string) (*TickSizeRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg map[string][]tickSizeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &TickSizeRule{Config: cfg}, nil
}

func (r *TickSizeRule) Check(inst *model.Instrument, spec model.OrderSpec) error {
	rules, ok := r.Config[inst.Exchange]
	if !ok { // no config -> no rule
		return nil
	}

	for _, price := range []float64{spec.LimitPrice, spec.StopPrice} {
		if price == 0 {
			continue
		}
		if err := checkStep(rules, price); err != nil {
			return err
		}
	}
	return nil
}

func checkStep(rules []tickSizeConfig, price float64) error {
	for _, rule := range rules {
		if rule.MaxPrice == 0 || price <= rule.MaxPrice {
			if rule.Step <= 0 {
				return nil
			}
			steps := price / rule.Step
			if math.Abs(steps-math.Round(steps)) > 1e-9 {
				return fmt.Errorf("invalid tick size: %v is not a multiple of %v", price, rule.Step)
			}
			return nil
		}
	}
	return nil
}
