package fixgateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joripage/brokerlink/pkg/broker"
	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/logging"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/log/file"
	"go.uber.org/zap"
)

var (
	ErrNotLoggedOn  = errors.New("fix session not logged on")
	ErrUnknownOrder = errors.New("order was not placed through this session")
	ErrStarted      = errors.New("fix gateway already started")
)

const defaultQueueSize = 100_000

type Config struct {
	SettingsFile string `yaml:"settings_file"`
	Account      string `yaml:"account"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password" json:"-"`
	NextOrderID  int64  `yaml:"next_order_id"`
	QueueSize    int    `yaml:"queue_size"`
}

// Gateway is a broker.Transport over a FIX 4.4 initiator session.
type Gateway struct {
	cfg Config
	log *logging.Logger

	mu        sync.Mutex
	app       *Application
	initiator *quickfix.Initiator

	// send is replaced in tests
	send func(m *quickfix.Message) error
	now  func() time.Time

	orderMapping sync.Map // order id -> orderInfo
	seq          atomic.Int64
}

var _ broker.Transport = (*Gateway)(nil)

func NewGateway(cfg Config, log *logging.Logger) *Gateway {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if log == nil {
		log = logging.Nop()
	}
	g := &Gateway{
		cfg: cfg,
		log: log.With(zap.String("component", "fixgateway")),
		now: time.Now,
	}
	g.send = g.sendToTarget
	return g
}

func loadSettings(path string) (*quickfix.Settings, error) {
	cfg, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %v, %v", path, err)
	}
	defer cfg.Close() // nolint

	stringData, readErr := io.ReadAll(cfg)
	if readErr != nil {
		return nil, fmt.Errorf("error reading cfg: %s,", readErr)
	}

	return quickfix.ParseSettings(bytes.NewReader(stringData))
}

// Connect starts the initiator. Logon completes asynchronously and shows up on deliver.
func (g *Gateway) Connect(ctx context.Context, deliver func(model.Message)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initiator != nil {
		return ErrStarted
	}

	settings, err := loadSettings(g.cfg.SettingsFile)
	if err != nil {
		return err
	}

	app := newApplication(g.cfg, g.log, deliver)
	logFactory, err := file.NewLogFactory(settings)
	if err != nil {
		app.close()
		return fmt.Errorf("unable to create log factory: %w", err)
	}
	initiator, err := quickfix.NewInitiator(app, quickfix.NewMemoryStoreFactory(), settings, logFactory)
	if err != nil {
		app.close()
		return fmt.Errorf("unable to create initiator: %w", err)
	}
	if err := initiator.Start(); err != nil {
		app.close()
		return fmt.Errorf("unable to start FIX initiator: %w", err)
	}

	g.app = app
	g.initiator = initiator
	g.log.Info(ctx, "initiator started", zap.String("settings", g.cfg.SettingsFile))
	return nil
}

func (g *Gateway) sendToTarget(m *quickfix.Message) error {
	g.mu.Lock()
	app := g.app
	g.mu.Unlock()
	if app == nil {
		return ErrNotLoggedOn
	}
	sid, ok := app.session()
	if !ok {
		return ErrNotLoggedOn
	}
	return quickfix.SendToTarget(m, sid)
}

func (g *Gateway) RequestContractDetails(reqID int64, contract model.Contract) error {
	return g.send(securityListRequest(reqID, contract))
}

func (g *Gateway) RequestMarketData(tickerID int64, inst *model.Instrument, opts broker.MarketDataOptions) error {
	return g.send(marketDataRequest(tickerID, inst, opts))
}

func (g *Gateway) PlaceOrder(orderID int64, inst *model.Instrument, spec model.OrderSpec) error {
	if spec.OutsideRTH {
		g.log.Debug(context.Background(), "outside RTH flag is not carried over FIX", zap.Int64("order_id", orderID))
	}
	g.orderMapping.Store(orderID, orderInfo{
		side:     SideMapping[spec.Side],
		quantity: spec.Quantity,
		contract: inst.Contract,
		conID:    inst.ID,
	})
	if err := g.send(newOrderSingle(orderID, inst, spec, g.now())); err != nil {
		g.orderMapping.Delete(orderID)
		return err
	}
	return nil
}

func (g *Gateway) CancelOrder(orderID int64) error {
	v, ok := g.orderMapping.Load(orderID)
	if !ok {
		return fmt.Errorf("cancel %d: %w", orderID, ErrUnknownOrder)
	}
	return g.send(orderCancelRequest(orderID, g.seq.Add(1), v.(orderInfo), g.now()))
}

func (g *Gateway) RequestPositions() error {
	return g.send(requestForPositions(g.seq.Add(1), g.cfg.Account, g.now()))
}

func (g *Gateway) RequestGlobalCancel() error {
	return g.send(orderMassCancelRequest(g.seq.Add(1), g.now()))
}

// Disconnect logs out and stops the initiator. The dispatcher is closed after the
// session goroutines are gone.
func (g *Gateway) Disconnect() error {
	g.mu.Lock()
	initiator, app := g.initiator, g.app
	g.initiator, g.app = nil, nil
	g.mu.Unlock()

	if initiator == nil {
		return nil
	}
	initiator.Stop()
	app.close()
	g.log.Info(context.Background(), "initiator stopped")
	return nil
}
