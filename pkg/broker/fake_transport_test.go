package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/logging"
	"github.com/stretchr/testify/require"
)

type placedOrder struct {
	id   int64
	inst *model.Instrument
	spec model.OrderSpec
}

// fakeTransport records outbound calls and lets tests script the gateway side.
// The on* hooks run on the engine goroutine and may call deliver.
type fakeTransport struct {
	mu      sync.Mutex
	deliver func(model.Message)

	connectMsgs  []model.Message
	connectErr   error
	contractReqs []model.Contract
	mdReqs       []int64
	mdOpts       []MarketDataOptions
	placed       []placedOrder
	cancels      []int64
	positionReqs int
	globalCancel int
	disconnected bool
	placeErr     error

	onContractDetails func(reqID int64, c model.Contract)
	onMarketData      func(tickerID int64, inst *model.Instrument)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connectMsgs: []model.Message{
			model.ManagedAccounts{Accounts: "DU123"},
			model.NextValidID{OrderID: 1},
		},
	}
}

func (f *fakeTransport) Connect(ctx context.Context, deliver func(model.Message)) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.deliver = deliver
	f.mu.Unlock()
	for _, m := range f.connectMsgs {
		deliver(m)
	}
	return nil
}

func (f *fakeTransport) send(msgs ...model.Message) {
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	for _, m := range msgs {
		deliver(m)
	}
}

func (f *fakeTransport) RequestContractDetails(reqID int64, c model.Contract) error {
	f.mu.Lock()
	f.contractReqs = append(f.contractReqs, c)
	hook := f.onContractDetails
	f.mu.Unlock()
	if hook != nil {
		hook(reqID, c)
	}
	return nil
}

func (f *fakeTransport) RequestMarketData(tickerID int64, inst *model.Instrument, opts MarketDataOptions) error {
	f.mu.Lock()
	f.mdReqs = append(f.mdReqs, tickerID)
	f.mdOpts = append(f.mdOpts, opts)
	hook := f.onMarketData
	f.mu.Unlock()
	if hook != nil {
		hook(tickerID, inst)
	}
	return nil
}

func (f *fakeTransport) PlaceOrder(orderID int64, inst *model.Instrument, spec model.OrderSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return f.placeErr
	}
	f.placed = append(f.placed, placedOrder{id: orderID, inst: inst, spec: spec})
	return nil
}

func (f *fakeTransport) CancelOrder(orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, orderID)
	return nil
}

func (f *fakeTransport) RequestPositions() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positionReqs++
	return nil
}

func (f *fakeTransport) RequestGlobalCancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.globalCancel++
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}

func (f *fakeTransport) placedOrders() []placedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]placedOrder(nil), f.placed...)
}

func (f *fakeTransport) marketDataRequests() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.mdReqs...)
}

func (f *fakeTransport) cancelled() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.cancels...)
}

const testTimeout = 200 * time.Millisecond

func newTestBroker(t *testing.T, ft *fakeTransport) *Broker {
	t.Helper()
	b := New(Config{Timeout: testTimeout, ConnectTimeout: testTimeout}, ft, logging.Nop())
	t.Cleanup(func() { _ = b.Disconnect() })
	require.NoError(t, b.Connect(context.Background()))
	return b
}

// flush waits until every message delivered so far is processed and every callback
// it produced has run.
func flush(t *testing.T, b *Broker) {
	t.Helper()
	require.NoError(t, b.call(context.Background(), func() {}))
	done := make(chan struct{})
	b.emit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callbacks did not drain")
	}
}

// blockEngine keeps the engine goroutine busy until the returned func is called.
func blockEngine(t *testing.T, b *Broker) func() {
	t.Helper()
	started := make(chan struct{})
	hold := make(chan struct{})
	b.post(func() {
		close(started)
		<-hold
	})
	<-started
	var once sync.Once
	release := func() { once.Do(func() { close(hold) }) }
	t.Cleanup(release)
	return release
}

// orderRecorder collects order callbacks.
type orderRecorder struct {
	mu     sync.Mutex
	orders []*model.Order
}

func (r *orderRecorder) handle(o *model.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, o)
}

func (r *orderRecorder) all() []*model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Order(nil), r.orders...)
}

var (
	aapl = &model.Instrument{Contract: model.NewContract("AAPL"), ID: 265598}
	msft = &model.Instrument{Contract: model.NewContract("MSFT"), ID: 272093}
)
