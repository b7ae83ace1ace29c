// Package journal streams order callbacks to Kafka and persists them from a consumer
// group into the order_events table.
package journal

import (
	"context"
	"strconv"
	"time"

	"github.com/joripage/brokerlink/pkg/broker"
	brokermodel "github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/journal/model"
	"github.com/joripage/brokerlink/pkg/logging"
	"go.uber.org/zap"
)

const DefaultPublishTimeout = 2 * time.Second

type eventPublisher interface {
	PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error
}

// Publisher turns order callbacks into OrderEvents on a topic keyed by order id, so
// one order's events stay on one partition.
type Publisher struct {
	producer eventPublisher
	topic    string
	log      *logging.Logger
	now      func() time.Time
}

func NewPublisher(producer eventPublisher, topic string, log *logging.Logger) *Publisher {
	if log == nil {
		log = logging.Nop()
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		log:      log.With(zap.String("component", "journal"), zap.String("topic", topic)),
		now:      time.Now,
	}
}

// Handler is meant for Broker.Observe.
func (p *Publisher) Handler() broker.OrderHandler {
	return func(o *brokermodel.Order) {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultPublishTimeout)
		defer cancel()
		if err := p.Publish(ctx, o); err != nil {
			p.log.Error(ctx, "publish order event", zap.Int64("order_id", o.ID), zap.Error(err))
		}
	}
}

func (p *Publisher) Publish(ctx context.Context, o *brokermodel.Order) error {
	ev := model.NewOrderEvent(o, p.now())
	headers := map[string]string{"state": ev.State}
	return p.producer.PublishJSON(ctx, p.topic, strconv.FormatInt(o.ID, 10), ev, headers)
}
