package recorder

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/joripage/brokerlink/pkg/broker"
	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/logging"
	"github.com/joripage/go_util/pkg/shardqueue"
	"go.uber.org/zap"
)

const (
	DefaultShards     = 8
	DefaultQueueSize  = 100_000
	DefaultPrintEvery = 10000
)

var ErrClosed = errors.New("recorder closed")

type Config struct {
	Dir        string `yaml:"dir"`
	Shards     int    `yaml:"shards"`
	QueueSize  int    `yaml:"queue_size"`
	PrintEvery int    `yaml:"print_every"`
}

// Record is one changed field of one tick.
type Record struct {
	Time  float64
	Field string
	Value float64
}

// Sink persists the records of one instrument, in order.
type Sink interface {
	Write(ctx context.Context, key string, records []Record) error
	Close() error
}

type batch struct {
	key     string
	records []Record
}

type instrumentState struct {
	prev  map[string]float64
	count int
}

// Recorder writes changed tick fields to its sinks. Instruments are sharded over a
// fixed set of workers, so one instrument's records stay in order.
type Recorder struct {
	cfg   Config
	log   *logging.Logger
	sinks []Sink
	queue *shardqueue.Shardqueue

	mu      sync.Mutex
	states  map[string]*instrumentState
	closed  bool
	pending sync.WaitGroup
}

func New(cfg Config, log *logging.Logger, sinks ...Sink) *Recorder {
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PrintEvery <= 0 {
		cfg.PrintEvery = DefaultPrintEvery
	}
	if log == nil {
		log = logging.Nop()
	}

	r := &Recorder{
		cfg:    cfg,
		log:    log.With(zap.String("component", "recorder")),
		sinks:  sinks,
		queue:  shardqueue.NewShardQueue(cfg.Shards, cfg.QueueSize),
		states: make(map[string]*instrumentState),
	}
	r.queue.Start(func(msg interface{}) error {
		if b, ok := msg.(*batch); ok {
			defer r.pending.Done()
			return r.write(b)
		}
		return nil
	})
	return r
}

// Handler returns a tick callback recording inst.
func (r *Recorder) Handler(inst *model.Instrument) broker.TickHandler {
	key := inst.Key()
	r.log.Info(context.Background(), "recording", zap.String("instrument", key))
	return func(tick model.Tick) {
		if err := r.Record(key, tick); err != nil && !errors.Is(err, ErrClosed) {
			r.log.Error(context.Background(), "record tick", zap.String("instrument", key), zap.Error(err))
		}
	}
}

// Record queues the fields of tick that are finite and differ from the last value
// recorded for key.
func (r *Recorder) Record(key string, tick model.Tick) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	st, ok := r.states[key]
	if !ok {
		st = &instrumentState{prev: make(map[string]float64)}
		r.states[key] = st
	}
	records := changedFields(st.prev, tick)
	st.count++
	count := st.count
	if len(records) > 0 {
		r.pending.Add(1)
	}
	r.mu.Unlock()

	if count%r.cfg.PrintEvery == 0 {
		r.log.Info(context.Background(), "ticks recorded", zap.String("instrument", key), zap.Int("count", count))
	}
	if len(records) == 0 {
		return nil
	}
	r.queue.Shard(key, &batch{key: key, records: records})
	return nil
}

func changedFields(prev map[string]float64, tick model.Tick) []Record {
	fields := [...]struct {
		name  string
		value float64
	}{
		{"last", tick.Price},
		{"lastsize", tick.Size},
		{"lasttime", tick.Time},
		{"volume", tick.Volume},
		{"vwap", tick.VWAP},
	}

	var out []Record
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			continue
		}
		if p, seen := prev[f.name]; seen && p == f.value {
			continue
		}
		prev[f.name] = f.value
		out = append(out, Record{Time: tick.Time, Field: f.name, Value: f.value})
	}
	return out
}

func (r *Recorder) write(b *batch) error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Write(context.Background(), b.key, b.records); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.log.Error(context.Background(), "sink write", zap.String("instrument", b.key), zap.Error(err))
		return err
	}
	return nil
}

// Count reports how many ticks key has seen.
func (r *Recorder) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[key]; ok {
		return st.count
	}
	return 0
}

// Close waits for queued records to reach the sinks and closes them.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.pending.Wait()

	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
