// Package kafkawrapper publishes JSON events to Kafka and consumes a topic in batches
// with a pool of workers, retries and an optional dead letter topic.
package kafkawrapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/joripage/brokerlink/pkg/logging"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrNotInitialized = errors.New("kafka client not initialized")

// Config is the yaml section shared by producers and consumers of one topic.
type Config struct {
	Brokers        []string `yaml:"brokers"`
	Topic          string   `yaml:"topic"`
	GroupID        string   `yaml:"group_id"`
	DLQTopic       string   `yaml:"dlq_topic"`
	WorkerCount    int      `yaml:"worker_count"`
	MaxRetries     int      `yaml:"max_retries"`
	BatchSize      int      `yaml:"batch_size"`
	BatchTimeoutMs int      `yaml:"batch_timeout_ms"`
	RequireAcks    bool     `yaml:"require_acks"`
}

func (c Config) Producer() ProducerConfig {
	acks := kafka.RequireNone
	if c.RequireAcks {
		acks = kafka.RequireAll
	}
	return ProducerConfig{
		Brokers:      c.Brokers,
		BatchTimeout: time.Duration(c.BatchTimeoutMs) * time.Millisecond,
		RequiredAcks: acks,
	}
}

func (c Config) Consumer() ConsumerConfig {
	return ConsumerConfig{
		Brokers:      c.Brokers,
		GroupID:      c.GroupID,
		Topic:        c.Topic,
		WorkerCount:  c.WorkerCount,
		MaxRetries:   c.MaxRetries,
		DLQTopic:     c.DLQTopic,
		AutoCommit:   true,
		BatchSize:    c.BatchSize,
		BatchTimeout: time.Duration(c.BatchTimeoutMs) * time.Millisecond,
	}
}

type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
	Headers   map[string]string
	Raw       kafka.Message
}

type ProducerConfig struct {
	Brokers      []string
	Balancer     kafka.Balancer
	BatchSize    int
	BatchBytes   int64
	BatchTimeout time.Duration
	RequiredAcks kafka.RequiredAcks
}

type Producer struct {
	w *kafka.Writer
}

func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.Balancer == nil {
		cfg.Balancer = &kafka.Hash{}
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchBytes == 0 {
		cfg.BatchBytes = 1 << 20
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	wr := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               cfg.Balancer,
		BatchSize:              cfg.BatchSize,
		BatchBytes:             cfg.BatchBytes,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
		RequiredAcks:           cfg.RequiredAcks,
		// acks off means nobody waits for the broker
		Async: cfg.RequiredAcks == kafka.RequireNone,
	}
	return &Producer{w: wr}
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if p == nil || p.w == nil {
		return ErrNotInitialized
	}
	var kh []kafka.Header
	for k, v := range headers {
		kh = append(kh, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: kh,
		Time:    time.Now(),
	})
}

func (p *Producer) PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Publish(ctx, topic, []byte(key), b, headers)
}

func (p *Producer) Close(ctx context.Context) error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}

type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Topic       string
	WorkerCount int
	MaxRetries  int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	AutoCommit  bool
	// a batch is handed over when it is full or BatchTimeout after its first message
	BatchSize    int
	BatchTimeout time.Duration
}

type ConsumerGroup struct {
	r          *kafka.Reader
	cfg        ConsumerConfig
	log        *logging.Logger
	prodForDLQ *Producer
}

func NewConsumerGroup(cfg ConsumerConfig, log *logging.Logger) (*ConsumerGroup, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("consumer group: brokers and topic are required")
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffMin == 0 {
		cfg.BackoffMin = 100 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 200 * time.Millisecond
	}
	if log == nil {
		log = logging.Nop()
	}

	rd := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})

	var prod *Producer
	if cfg.DLQTopic != "" {
		prod = NewProducer(ProducerConfig{Brokers: cfg.Brokers, RequiredAcks: kafka.RequireAll})
	}

	return &ConsumerGroup{r: rd, cfg: cfg, log: log.With(zap.String("topic", cfg.Topic)), prodForDLQ: prod}, nil
}

func (cg *ConsumerGroup) Close() error {
	if cg == nil {
		return nil
	}
	if cg.prodForDLQ != nil {
		_ = cg.prodForDLQ.Close(context.Background())
	}
	if cg.r != nil {
		return cg.r.Close()
	}
	return nil
}

// Run hands batches to handler until ctx is done. A batch that keeps failing after
// MaxRetries goes to the dead letter topic and is committed.
func (cg *ConsumerGroup) Run(ctx context.Context, handler func(context.Context, []Message) error) error {
	if cg == nil || cg.r == nil {
		return ErrNotInitialized
	}

	batches := make(chan []kafka.Message, cg.cfg.WorkerCount)
	go cg.fetch(ctx, batches)

	done := make(chan struct{}, cg.cfg.WorkerCount)
	for i := 0; i < cg.cfg.WorkerCount; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for ms := range batches {
				if !cg.process(ctx, handler, ms) {
					return
				}
			}
		}()
	}

	for i := 0; i < cg.cfg.WorkerCount; i++ {
		<-done
	}
	return ctx.Err()
}

func (cg *ConsumerGroup) fetch(ctx context.Context, batches chan<- []kafka.Message) {
	defer close(batches)

	var buf []kafka.Message
	flush := func() bool {
		if len(buf) == 0 {
			return true
		}
		select {
		case batches <- buf:
			buf = nil
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		fetchCtx := ctx
		cancel := func() {}
		if len(buf) > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, cg.cfg.BatchTimeout)
		}
		m, err := cg.r.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if !flush() {
					return
				}
				continue
			}
			cg.log.Error(ctx, "fetch error", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}
		buf = append(buf, m)
		if len(buf) >= cg.cfg.BatchSize && !flush() {
			return
		}
	}
}

// process reports false once ctx is done.
func (cg *ConsumerGroup) process(ctx context.Context, handler func(context.Context, []Message) error, ms []kafka.Message) bool {
	wrapped := make([]Message, len(ms))
	for i, m := range ms {
		wrapped[i] = wrapMessage(m)
	}

	for attempt := 1; ; attempt++ {
		err := handler(ctx, wrapped)
		if err == nil {
			break
		}
		cg.log.Warn(ctx, "batch failed", zap.Int("attempt", attempt), zap.Int("size", len(ms)), zap.Error(err))
		if attempt > cg.cfg.MaxRetries {
			if cg.prodForDLQ != nil {
				for _, m := range ms {
					if err := cg.prodForDLQ.Publish(ctx, cg.cfg.DLQTopic, m.Key, m.Value, headersToMap(m.Headers)); err != nil {
						cg.log.Error(ctx, "dead letter publish", zap.Error(err))
					}
				}
			}
			break
		}
		select {
		case <-time.After(backoffDuration(cg.cfg.BackoffMin, cg.cfg.BackoffMax, attempt)):
		case <-ctx.Done():
			return false
		}
	}

	if cg.cfg.AutoCommit {
		if err := cg.r.CommitMessages(ctx, ms...); err != nil {
			cg.log.Error(ctx, "commit", zap.Error(err))
		}
	}
	return true
}

func wrapMessage(m kafka.Message) Message {
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
		Headers:   headersToMap(m.Headers),
		Raw:       m,
	}
}

func headersToMap(hs []kafka.Header) map[string]string {
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		out[h.Key] = string(h.Value)
	}
	return out
}

// backoffDuration is full jitter over an exponential window capped at max.
func backoffDuration(min, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	pow := math.Pow(2, float64(attempt-1))
	d := time.Duration(float64(min) * pow)
	if d > max {
		d = max
	}
	if d > 0 {
		d = time.Duration(rand.Int63n(int64(d)))
	}
	return d
}
