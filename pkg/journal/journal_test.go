package journal

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	brokermodel "github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/journal/model"
	"github.com/joripage/brokerlink/pkg/journal/repo"
	kafkawrapper "github.com/joripage/brokerlink/pkg/kafka_wrapper"
	"github.com/joripage/brokerlink/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type published struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeProducer) PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error {
	if f.err != nil {
		return f.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, key: key, value: b, headers: headers})
	return nil
}

type fakeConsumer struct {
	batches [][]kafkawrapper.Message
	errs    []error
}

func (f *fakeConsumer) Run(ctx context.Context, handler func(context.Context, []kafkawrapper.Message) error) error {
	for _, b := range f.batches {
		f.errs = append(f.errs, handler(ctx, b))
	}
	return nil
}

var aapl = &brokermodel.Instrument{Contract: brokermodel.NewContract("AAPL"), ID: 265598}

func sellOrder() *brokermodel.Order {
	return &brokermodel.Order{
		ID:         7,
		Instrument: aapl,
		Price:      190.5,
		Quantity:   -10,
		Filled:     -4,
		AvgPrice:   190.55,
		Open:       true,
		Commission: 1.25,
		OpenTime:   time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "journal.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.OrderEvent{}))
	return db
}

func TestNewOrderEvent(t *testing.T) {
	ts := time.Date(2024, 3, 1, 14, 31, 0, 0, time.UTC)
	ev := model.NewOrderEvent(sellOrder(), ts)

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, int64(7), ev.OrderID)
	assert.Equal(t, int64(265598), ev.InstrumentID)
	assert.Equal(t, "AAPL-STK-SMART-USD--0.0-", ev.Instrument)
	assert.Equal(t, "Open", ev.State)
	assert.Equal(t, int64(-10), ev.Quantity)
	assert.Equal(t, int64(-4), ev.Filled)
	assert.Equal(t, 1.25, ev.Commission)
	assert.Equal(t, ts, ev.Timestamp)

	other := model.NewOrderEvent(sellOrder(), ts)
	assert.NotEqual(t, ev.EventID, other.EventID)

	noInst := model.NewOrderEvent(&brokermodel.Order{ID: 1, Quantity: 1, Cancelled: true}, ts)
	assert.Equal(t, "Cancelled", noInst.State)
	assert.Empty(t, noInst.Instrument)
}

func TestPublisherKeysByOrderID(t *testing.T) {
	prod := &fakeProducer{}
	p := NewPublisher(prod, "order-events", logging.Nop())
	ts := time.Date(2024, 3, 1, 14, 31, 0, 0, time.UTC)
	p.now = func() time.Time { return ts }

	h := p.Handler()
	o := sellOrder()
	h(o)
	o.Filled = -10
	o.Open = false
	h(o)

	require.Len(t, prod.msgs, 2)
	assert.Equal(t, "order-events", prod.msgs[0].topic)
	assert.Equal(t, "7", prod.msgs[0].key)
	assert.Equal(t, "Open", prod.msgs[0].headers["state"])
	assert.Equal(t, "Filled", prod.msgs[1].headers["state"])

	var ev model.OrderEvent
	require.NoError(t, json.Unmarshal(prod.msgs[1].value, &ev))
	assert.Equal(t, int64(-10), ev.Filled)
	assert.True(t, ev.Timestamp.Equal(ts))
}

func TestPublisherHandlerSwallowsErrors(t *testing.T) {
	p := NewPublisher(&fakeProducer{err: errors.New("broker down")}, "order-events", logging.Nop())
	assert.NotPanics(t, func() { p.Handler()(sellOrder()) })
	assert.Error(t, p.Publish(context.Background(), sellOrder()))
}

func TestWorkerStoresBatchesOnce(t *testing.T) {
	db := openTestDB(t)
	w := NewWorker(repo.NewRepo(db), logging.Nop())

	prod := &fakeProducer{}
	p := NewPublisher(prod, "order-events", logging.Nop())
	base := time.Date(2024, 3, 1, 14, 31, 0, 0, time.UTC)
	o := sellOrder()
	for i := 0; i < 3; i++ {
		p.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		o.Filled = int64(-4 - 3*i)
		require.NoError(t, p.Publish(context.Background(), o))
	}

	var msgs []kafkawrapper.Message
	for i, m := range prod.msgs {
		msgs = append(msgs, kafkawrapper.Message{Offset: int64(i), Key: []byte(m.key), Value: m.value})
	}
	garbage := kafkawrapper.Message{Offset: 99, Value: []byte("{not json")}

	consumer := &fakeConsumer{batches: [][]kafkawrapper.Message{
		append(msgs[:2:2], garbage),
		msgs, // redelivery after a rebalance
	}}
	require.NoError(t, w.Run(context.Background(), consumer))
	assert.Equal(t, []error{nil, nil}, consumer.errs)

	events, err := repo.NewOrderEventSQLRepo(db).ListByOrder(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []int64{-4, -7, -10}, []int64{events[0].Filled, events[1].Filled, events[2].Filled})
	assert.Equal(t, "AAPL-STK-SMART-USD--0.0-", events[0].Instrument)
}

func TestWorkerEmptyBatch(t *testing.T) {
	w := NewWorker(repo.NewRepo(openTestDB(t)), logging.Nop())
	assert.NoError(t, w.HandleBatch(context.Background(), []kafkawrapper.Message{{Value: []byte(`{"order_id":1}`)}}))
	assert.NoError(t, w.HandleBatch(context.Background(), nil))
}
