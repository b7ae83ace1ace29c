package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/broker/riskrule"
	"github.com/joripage/brokerlink/pkg/logging"
	"go.uber.org/zap"
)

const (
	DefaultTimeout        = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

type Config struct {
	Timeout          time.Duration `yaml:"timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	MaxCommission    float64       `yaml:"max_commission"`
	MaxProfit        float64       `yaml:"max_profit"`
	MaxOrderQuantity int64         `yaml:"max_order_quantity"`
	TickSizeFile     string        `yaml:"tick_size_file"`
	Verbose          int           `yaml:"verbose"`
}

// ConnState is the connectivity tri-state callers can poll.
type ConnState int32

const (
	NeverConnected ConnState = iota
	ConnectionLost
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connected:
		return "connected"
	case ConnectionLost:
		return "connection lost"
	default:
		return "never connected"
	}
}

type (
	TickHandler  func(tick model.Tick)
	OrderHandler func(order *model.Order)
	AlertHandler func(alert string)
)

// Handlers are the callbacks one Register call attaches to an instrument.
type Handlers struct {
	OnTick      TickHandler
	OnOrder     OrderHandler
	OnAlert     AlertHandler
	// Aftermarket also delivers ticks outside regular trading hours. Only the
	// registration that opens the market data subscription decides it.
	Aftermarket bool
}

// Broker reconciles the asynchronous gateway message stream into ledger, position and
// subscription state, and exposes blocking, timeout bounded calls on top of it.
//
// Every field below the inbox is owned by the engine goroutine (run). Callers reach it
// only by submitting closures through call/post. Callbacks run on a separate
// dispatcher goroutine so they may call back into the Broker.
type Broker struct {
	cfg       Config
	transport Transport
	log       *logging.Logger
	rules     []riskrule.RiskRule

	state        atomic.Int32
	connectedCh  chan struct{}
	connectOnce  sync.Once
	closeOnce    sync.Once
	done         chan struct{}
	dispatchDone chan struct{}

	inbox     *queue[func()]
	callbacks *queue[func()]

	routes        map[model.Kind]handler
	account       string
	nextReqID     int64
	nextTickerID  int64
	nextOrderID   int64
	instruments   map[int64]*model.Instrument
	subs          map[int64]*subscription
	tickers       map[int64]*subscription
	tickErrors    map[int64]*queue[error]
	contractSlots map[int64]*queue[contractEvent]
	observers     []OrderHandler
	ledger        *ledger
	positions     *positionTable
}

// New builds a Broker and starts its engine goroutine. Call Connect before use and
// Disconnect when done.
func New(cfg Config, transport Transport, log *logging.Logger, rules ...riskrule.RiskRule) *Broker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if log == nil {
		log = logging.Nop()
	}

	b := &Broker{
		cfg:       cfg,
		transport: transport,
		log:       log,
		rules: append([]riskrule.RiskRule{
			&riskrule.StopLimitRule{},
			&riskrule.MaxQuantityRule{Max: cfg.MaxOrderQuantity},
		}, rules...),

		connectedCh:  make(chan struct{}),
		done:         make(chan struct{}),
		dispatchDone: make(chan struct{}),
		inbox:        newQueue[func()](),
		callbacks:    newQueue[func()](),

		nextReqID:     1,
		nextTickerID:  1,
		nextOrderID:   1,
		instruments:   make(map[int64]*model.Instrument),
		subs:          make(map[int64]*subscription),
		tickers:       make(map[int64]*subscription),
		tickErrors:    make(map[int64]*queue[error]),
		contractSlots: make(map[int64]*queue[contractEvent]),
		ledger:        newLedger(Bounds{MaxCommission: cfg.MaxCommission, MaxProfit: cfg.MaxProfit}, log),
		positions:     newPositionTable(),
	}
	b.routes = b.newRouter()

	go b.run()
	go b.dispatch()
	return b
}

// Connect opens the transport and blocks until the gateway sends its first non-error
// message, then asks for positions.
func (b *Broker) Connect(ctx context.Context) error {
	ctx = logging.EnsureRequestID(ctx)
	b.log.Info(ctx, "connecting", zap.Duration("timeout", b.cfg.ConnectTimeout))

	if err := b.transport.Connect(ctx, b.deliver); err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()
	select {
	case <-b.connectedCh:
	case <-b.done:
		return ErrDisconnected
	case <-waitCtx.Done():
		b.log.Error(ctx, "no message from gateway", zap.Duration("timeout", b.cfg.ConnectTimeout))
		return fmt.Errorf("%w: no message within %s", ErrConnect, b.cfg.ConnectTimeout)
	}

	var err error
	if callErr := b.call(ctx, func() { err = b.transport.RequestPositions() }); callErr != nil {
		return callErr
	}
	if err != nil {
		return fmt.Errorf("request positions: %w", err)
	}
	b.log.Info(ctx, "connected")
	return nil
}

// Connected reports the connectivity tri-state.
func (b *Broker) Connected() ConnState {
	return ConnState(b.state.Load())
}

// Disconnect closes the transport and stops the engine. Later calls fail with ErrDisconnected.
// Blocked Resolve and Register calls are released. Must not be called from a callback.
func (b *Broker) Disconnect() error {
	var err error
	b.closeOnce.Do(func() {
		callErr := b.call(context.Background(), func() {
			err = b.transport.Disconnect()
			b.releaseWaiters()
		})
		if err == nil && callErr != nil {
			err = callErr
		}
		b.inbox.Close()
		<-b.done
		b.callbacks.Close()
		<-b.dispatchDone

		b.state.CompareAndSwap(int32(Connected), int32(ConnectionLost))
		b.log.Info(context.Background(), "disconnected")
	})
	return err
}

// Account is the single managed account reported by the gateway.
func (b *Broker) Account(ctx context.Context) (string, error) {
	var account string
	err := b.call(ctx, func() { account = b.account })
	return account, err
}

// Observe adds an order callback that fires for orders of every instrument.
func (b *Broker) Observe(ctx context.Context, h OrderHandler) error {
	return b.call(ctx, func() { b.observers = append(b.observers, h) })
}

// deliver is handed to the transport. It never blocks.
func (b *Broker) deliver(msg model.Message) {
	if !b.inbox.Push(func() { b.route(msg) }) {
		b.log.Debug(context.Background(), "message after disconnect dropped")
	}
}

func (b *Broker) run() {
	defer close(b.done)
	for {
		fn, err := b.inbox.Pop(context.Background())
		if err != nil {
			return
		}
		fn()
	}
}

func (b *Broker) dispatch() {
	defer close(b.dispatchDone)
	for {
		fn, err := b.callbacks.Pop(context.Background())
		if err != nil {
			return
		}
		b.safeCall(fn)
	}
}

func (b *Broker) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error(context.Background(), "callback panic", zap.Any("panic", r))
		}
	}()
	fn()
}

const (
	callPending int32 = iota
	callRunning
	callAbandoned
)

// call runs fn on the engine goroutine and waits for it. A call whose caller gave
// up before the engine reached it is skipped, so an error return means fn had no
// effect.
func (b *Broker) call(ctx context.Context, fn func()) error {
	var state atomic.Int32
	finished := make(chan struct{})
	if !b.inbox.Push(func() {
		if !state.CompareAndSwap(callPending, callRunning) {
			return
		}
		defer close(finished)
		fn()
	}) {
		return ErrDisconnected
	}

	select {
	case <-finished:
		return nil
	case <-b.done:
		if state.CompareAndSwap(callPending, callAbandoned) {
			return ErrDisconnected
		}
		<-finished
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(callPending, callAbandoned) {
			return ctx.Err()
		}
		// already running, its effects stand
		<-finished
		return nil
	}
}

// post runs fn on the engine goroutine without waiting.
func (b *Broker) post(fn func()) {
	b.inbox.Push(fn)
}

// emit queues a user callback.
func (b *Broker) emit(fn func()) {
	b.callbacks.Push(fn)
}

func (b *Broker) markConnected() {
	if ConnState(b.state.Swap(int32(Connected))) != Connected {
		b.connectOnce.Do(func() { close(b.connectedCh) })
	}
}

func (b *Broker) markLost() {
	b.state.CompareAndSwap(int32(Connected), int32(ConnectionLost))
}

// releaseWaiters unblocks every pending Resolve and Register.
func (b *Broker) releaseWaiters() {
	for id, slot := range b.contractSlots {
		slot.Close()
		delete(b.contractSlots, id)
	}
	for id, relay := range b.tickErrors {
		relay.Close()
		delete(b.tickErrors, id)
	}
}

func (b *Broker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.cfg.Timeout)
}

// instrument returns the canonical Instrument for a gateway id.
func (b *Broker) instrument(c model.Contract, conID int64, contractMonth string) *model.Instrument {
	if inst, ok := b.instruments[conID]; ok {
		return inst
	}
	inst := &model.Instrument{Contract: c, ID: conID, ContractMonth: contractMonth}
	b.instruments[conID] = inst
	return inst
}

func (b *Broker) allocOrderID() int64 {
	id := b.nextOrderID
	b.nextOrderID++
	return id
}
