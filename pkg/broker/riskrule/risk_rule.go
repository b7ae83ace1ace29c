package riskrule

import "github.com/joripage/brokerlink/pkg/broker/model"

type RiskRule interface {
	Check(inst *model.Instrument, spec model.OrderSpec) error
}
