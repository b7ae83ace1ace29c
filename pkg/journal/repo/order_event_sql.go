package repo

import (
	"context"

	"github.com/joripage/brokerlink/pkg/journal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderEventSQLRepo struct {
	db *gorm.DB
}

func NewOrderEventSQLRepo(db *gorm.DB) *OrderEventSQLRepo {
	return &OrderEventSQLRepo{
		db: db,
	}
}

func (r *OrderEventSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// redelivered events keep their first row
func (r *OrderEventSQLRepo) ignoreDuplicates(ctx context.Context) *gorm.DB {
	return r.dbWithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	})
}

func (r *OrderEventSQLRepo) Create(ctx context.Context, record *model.OrderEvent) (*model.OrderEvent, error) {
	return record, r.ignoreDuplicates(ctx).Create(record).Error
}

func (r *OrderEventSQLRepo) BulkCreate(ctx context.Context, records []*model.OrderEvent) ([]*model.OrderEvent, error) {
	if len(records) == 0 {
		return records, nil
	}
	return records, r.ignoreDuplicates(ctx).Create(records).Error
}

func (r *OrderEventSQLRepo) ListByOrder(ctx context.Context, orderID int64) ([]*model.OrderEvent, error) {
	var out []*model.OrderEvent
	err := r.dbWithContext(ctx).
		Where("order_id = ?", orderID).
		Order("ts ASC").
		Find(&out).Error
	return out, err
}
