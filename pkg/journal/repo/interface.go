package repo

import (
	"context"

	"github.com/joripage/brokerlink/pkg/journal/model"
)

type IOrderEvent interface {
	Create(ctx context.Context, record *model.OrderEvent) (*model.OrderEvent, error)
	BulkCreate(ctx context.Context, records []*model.OrderEvent) ([]*model.OrderEvent, error)
	ListByOrder(ctx context.Context, orderID int64) ([]*model.OrderEvent, error)
}
