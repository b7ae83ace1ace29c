package journal

import (
	"context"
	"encoding/json"

	"github.com/joripage/brokerlink/pkg/journal/model"
	"github.com/joripage/brokerlink/pkg/journal/repo"
	kafkawrapper "github.com/joripage/brokerlink/pkg/kafka_wrapper"
	"github.com/joripage/brokerlink/pkg/logging"
	"go.uber.org/zap"
)

type batchConsumer interface {
	Run(ctx context.Context, handler func(context.Context, []kafkawrapper.Message) error) error
}

type Worker struct {
	orderEvent repo.IOrderEvent
	log        *logging.Logger
}

func NewWorker(r repo.IRepo, log *logging.Logger) *Worker {
	if log == nil {
		log = logging.Nop()
	}
	return &Worker{
		orderEvent: r.OrderEvent(),
		log:        log.With(zap.String("component", "journal-worker")),
	}
}

// Run stores batches from consumer until ctx is done.
func (w *Worker) Run(ctx context.Context, consumer batchConsumer) error {
	return consumer.Run(ctx, w.HandleBatch)
}

// HandleBatch stores every decodable event of msgs. Undecodable messages are logged
// and skipped so they do not block the partition.
func (w *Worker) HandleBatch(ctx context.Context, msgs []kafkawrapper.Message) error {
	events := make([]*model.OrderEvent, 0, len(msgs))
	for _, m := range msgs {
		var ev model.OrderEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			w.log.Warn(ctx, "undecodable order event",
				zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		if ev.EventID == "" {
			w.log.Warn(ctx, "order event without id", zap.Int64("offset", m.Offset))
			continue
		}
		events = append(events, &ev)
	}
	if len(events) == 0 {
		return nil
	}
	if _, err := w.orderEvent.BulkCreate(ctx, events); err != nil {
		return err
	}
	w.log.Debug(ctx, "order events stored", zap.Int("count", len(events)))
	return nil
}
