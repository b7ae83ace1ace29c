package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	assert.Equal(t, Connected, b.Connected())
	account, err := b.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "DU123", account)

	ft.mu.Lock()
	assert.Equal(t, 1, ft.positionReqs)
	ft.mu.Unlock()
}

func TestConnectTimesOutOnErrorsOnly(t *testing.T) {
	ft := newFakeTransport()
	ft.connectMsgs = []model.Message{model.Error{ID: -1, Code: 2104, Msg: "Market data farm connection is OK"}}

	b := New(Config{Timeout: testTimeout, ConnectTimeout: 50 * time.Millisecond}, ft, logging.Nop())
	defer b.Disconnect()

	err := b.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnect)
	assert.Equal(t, NeverConnected, b.Connected())
}

func TestConnectTransportError(t *testing.T) {
	ft := newFakeTransport()
	ft.connectErr = errors.New("dial tcp: connection refused")

	b := New(Config{}, ft, logging.Nop())
	defer b.Disconnect()

	assert.ErrorIs(t, b.Connect(context.Background()), ErrConnect)
}

func TestDisconnectCodesFlipConnectivity(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	ft.send(model.Error{ID: -1, Code: 1100, Msg: "Connectivity between IB and TWS has been lost."})
	flush(t, b)
	assert.Equal(t, ConnectionLost, b.Connected())

	ft.send(model.Error{ID: -1, Code: 2106, Msg: "HMDS data farm connection is OK"})
	flush(t, b)
	assert.Equal(t, ConnectionLost, b.Connected())

	ft.send(model.NextValidID{OrderID: 1})
	flush(t, b)
	assert.Equal(t, Connected, b.Connected())
}

func TestDisconnectStopsEngine(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	require.NoError(t, b.Disconnect())
	assert.True(t, ft.disconnected)
	assert.Equal(t, ConnectionLost, b.Connected())

	_, err := b.GetPosition(context.Background(), aapl)
	assert.ErrorIs(t, err, ErrDisconnected)
	_, err = b.Resolve(context.Background(), model.NewContract("AAPL"))
	assert.ErrorIs(t, err, ErrDisconnected)

	// second call is a no-op
	assert.NoError(t, b.Disconnect())
}

func TestDisconnectReleasesBlockedResolve(t *testing.T) {
	ft := newFakeTransport()
	b := New(Config{Timeout: 5 * time.Second, ConnectTimeout: testTimeout}, ft, logging.Nop())
	require.NoError(t, b.Connect(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Resolve(context.Background(), model.NewContract("AAPL"))
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		return len(ft.contractReqs) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Disconnect())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("resolve still blocked after disconnect")
	}
}

func TestNextValidIDOnlyMovesForward(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	ft.send(model.NextValidID{OrderID: 100})
	flush(t, b)
	o, err := b.PlaceOrder(context.Background(), aapl, 1, Prices{})
	require.NoError(t, err)
	assert.Equal(t, int64(100), o.ID)

	ft.send(model.NextValidID{OrderID: 50})
	flush(t, b)
	o, err = b.PlaceOrder(context.Background(), aapl, 1, Prices{})
	require.NoError(t, err)
	assert.Equal(t, int64(101), o.ID)
}

func TestManagedAccountsKeepsFirstOfMany(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	ft.send(model.ManagedAccounts{Accounts: "U1, U2"})
	flush(t, b)
	account, err := b.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "U1", account)
}

func TestRouterDropsMalformedMessages(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	assert.NotPanics(t, func() {
		ft.send(nil)
		ft.send(model.Unknown{})
		ft.send(model.Unknown{Type: "accountSummary", Fields: map[string]string{"tag": "NetLiquidation"}})
		ft.send(&model.OrderStatus{OrderID: 1, Status: "Filled"})
		ft.send(model.TickPrice{TickerID: 9, Field: model.TickTypeBid, Price: 1})
		flush(t, b)
	})
	assert.Equal(t, Connected, b.Connected())
}

func TestResolve(t *testing.T) {
	ft := newFakeTransport()
	ft.onContractDetails = func(reqID int64, c model.Contract) {
		ft.send(
			model.ContractDetails{ReqID: reqID, Contract: c, ConID: 265598},
			model.ContractDetailsEnd{ReqID: reqID},
		)
	}
	b := newTestBroker(t, ft)

	inst, err := b.GetInstrument(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(265598), inst.ID)
	assert.Equal(t, model.SecTypeStock, inst.SecType)
	assert.Equal(t, "SMART", inst.Exchange)

	// same gateway id resolves to the same shared instrument
	again, err := b.Resolve(context.Background(), model.Contract{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Same(t, inst, again)
}

func TestResolveFuturesPicksNearestExpiry(t *testing.T) {
	ft := newFakeTransport()
	ft.onContractDetails = func(reqID int64, c model.Contract) {
		for i, month := range []string{"202406", "202403", "202409"} {
			fut := c
			fut.Expiry = month
			ft.send(model.ContractDetails{ReqID: reqID, Contract: fut, ConID: int64(1000 + i), ContractMonth: month})
		}
		ft.send(model.ContractDetailsEnd{ReqID: reqID})
	}
	b := newTestBroker(t, ft)

	inst, err := b.Resolve(context.Background(), model.Contract{Symbol: "ES", SecType: model.SecTypeFuture, Exchange: "GLOBEX"})
	require.NoError(t, err)
	assert.Equal(t, "202403", inst.ContractMonth)
	assert.Equal(t, int64(1001), inst.ID)
}

func TestResolveMixedTypesIsAmbiguous(t *testing.T) {
	ft := newFakeTransport()
	ft.onContractDetails = func(reqID int64, c model.Contract) {
		stk := c
		opt := c
		opt.SecType = model.SecTypeOption
		ft.send(
			model.ContractDetails{ReqID: reqID, Contract: stk, ConID: 1},
			model.ContractDetails{ReqID: reqID, Contract: opt, ConID: 2},
			model.ContractDetailsEnd{ReqID: reqID},
		)
	}
	b := newTestBroker(t, ft)

	_, err := b.GetInstrument(context.Background(), "XYZ")
	assert.ErrorIs(t, err, ErrAmbiguousInstrument)
}

func TestResolveNotFound(t *testing.T) {
	ft := newFakeTransport()
	ft.onContractDetails = func(reqID int64, c model.Contract) {
		ft.send(model.ContractDetailsEnd{ReqID: reqID})
	}
	b := newTestBroker(t, ft)

	_, err := b.GetInstrument(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveGatewayError(t *testing.T) {
	ft := newFakeTransport()
	ft.onContractDetails = func(reqID int64, c model.Contract) {
		ft.send(model.Error{ID: reqID, Code: 200, Msg: "No security definition has been found for the request"})
	}
	b := newTestBroker(t, ft)

	_, err := b.GetInstrument(context.Background(), "NOPE")
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, 200, ge.Code)

	// the slot is gone, a late end is only logged
	ft.send(model.ContractDetailsEnd{ReqID: 1})
	flush(t, b)
}

func TestResolveTimeout(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	start := time.Now()
	_, err := b.GetInstrument(context.Background(), "SLOW")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), testTimeout)

	require.NoError(t, b.call(context.Background(), func() {
		assert.Empty(t, b.contractSlots)
	}))
}

func TestRegisterFirstSubscribeUnblocksOnTick(t *testing.T) {
	ft := newFakeTransport()
	ft.onMarketData = func(tickerID int64, inst *model.Instrument) {
		ft.send(model.TickString{TickerID: tickerID, Field: model.TickTypeRTVolume, Value: "1.0;1;1000;1;1.0;true"})
	}
	b := New(Config{Timeout: 5 * time.Second, ConnectTimeout: testTimeout}, ft, logging.Nop())
	t.Cleanup(func() { _ = b.Disconnect() })
	require.NoError(t, b.Connect(context.Background()))

	var got []model.Tick
	var mu sync.Mutex
	start := time.Now()
	err := b.Register(context.Background(), aapl, Handlers{OnTick: func(tick model.Tick) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, tick)
	}, Aftermarket: true})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	// the first tick went to the sentinel, not to the handler
	ft.send(model.TickString{TickerID: 1, Field: model.TickTypeRTVolume, Value: "2.5;10;2000;11;2.4;false"})
	flush(t, b)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, 2.5, got[0].Price)
	assert.Equal(t, 2.0, got[0].Time)
	assert.Same(t, aapl, got[0].Instrument)

	ft.mu.Lock()
	assert.Equal(t, model.RTVolumeTickList, ft.mdOpts[0].TickList)
	assert.True(t, ft.mdOpts[0].OutsideRTH)
	ft.mu.Unlock()
}

func TestRegisterSubscriptionError(t *testing.T) {
	ft := newFakeTransport()
	ft.onMarketData = func(tickerID int64, inst *model.Instrument) {
		ft.send(model.Error{ID: tickerID, Code: 354, Msg: "Requested market data is not subscribed."})
	}
	b := newTestBroker(t, ft)

	err := b.Register(context.Background(), aapl, Handlers{OnTick: func(model.Tick) {}})
	require.ErrorIs(t, err, ErrSubscription)
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, 354, ge.Code)

	// a failed first subscription is retried by the next Register
	ft.onMarketData = nil
	require.NoError(t, b.Register(context.Background(), aapl, Handlers{OnTick: func(model.Tick) {}}))
	assert.Len(t, ft.marketDataRequests(), 2)
}

func TestRegisterTwiceSkipsHandshakeAndFansOutInOrder(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	var mu sync.Mutex
	var calls []int
	handler := func(n int) TickHandler {
		return func(model.Tick) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, n)
		}
	}

	require.NoError(t, b.Register(context.Background(), aapl, Handlers{OnTick: handler(1)}))
	start := time.Now()
	require.NoError(t, b.Register(context.Background(), aapl, Handlers{OnTick: handler(2)}))
	assert.Less(t, time.Since(start), testTimeout)

	reqs := ft.marketDataRequests()
	require.Len(t, reqs, 1)

	ft.send(model.TickString{TickerID: reqs[0], Field: model.TickTypeRTVolume, Value: "1;1;1;1;1;1"})
	flush(t, b)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, calls)
}

func TestRegisterAlertNotImplemented(t *testing.T) {
	b := newTestBroker(t, newFakeTransport())
	err := b.Register(context.Background(), aapl, Handlers{OnAlert: func(string) {}})
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestTickerErrorWithoutPendingSubscriptionIsLogged(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	assert.NotPanics(t, func() {
		ft.send(model.Error{ID: 77, Code: 354, Msg: "not subscribed"})
		ft.send(model.TickString{TickerID: 77, Field: model.TickTypeRTVolume, Value: "1;1;1;1;1;1"})
		flush(t, b)
	})
}

func TestPlaceOrderTimedOutWhileEngineBusyIsNotSent(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	release := blockEngine(t, b)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	o, err := b.PlaceOrder(ctx, aapl, 10, Prices{})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, o)

	release()
	flush(t, b)
	assert.Empty(t, ft.placedOrders())
	orders, err := b.Orders(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, orders)

	// retrying after the timeout places exactly one order
	o, err = b.PlaceOrder(context.Background(), aapl, 10, Prices{})
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Len(t, ft.placedOrders(), 1)
}

func TestCancelTimedOutWhileEngineBusyIsNotSent(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)
	o, err := b.PlaceOrder(context.Background(), aapl, 10, Prices{Limit: 1})
	require.NoError(t, err)

	release := blockEngine(t, b)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, b.Cancel(ctx, o), ErrTimeout)
	_, err = b.CancelAll(ctx, nil)
	require.ErrorIs(t, err, ErrTimeout)

	release()
	flush(t, b)
	assert.Empty(t, ft.cancelled())
}

func TestCallAfterEngineStartedRunningCompletes(t *testing.T) {
	b := newTestBroker(t, newFakeTransport())

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	err := b.call(ctx, func() {
		cancel()
		time.Sleep(10 * time.Millisecond)
		ran = true
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRegisterTimedOutWhileEngineBusyInstallsNothing(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	release := blockEngine(t, b)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Register(ctx, aapl, Handlers{OnTick: func(model.Tick) {}})
	require.ErrorIs(t, err, ErrTimeout)

	release()
	flush(t, b)
	assert.Empty(t, ft.marketDataRequests())
	require.NoError(t, b.call(context.Background(), func() {
		assert.Empty(t, b.tickers)
		assert.Empty(t, b.tickErrors)
	}))

	// the next Register performs the first-subscribe handshake itself
	require.NoError(t, b.Register(context.Background(), aapl, Handlers{OnTick: func(model.Tick) {}}))
	reqs := ft.marketDataRequests()
	require.Len(t, reqs, 1)

	ft.send(model.TickString{TickerID: reqs[0], Field: model.TickTypeRTVolume, Value: "1;1;1;1;1;1"})
	flush(t, b)
	require.NoError(t, b.call(context.Background(), func() {
		assert.Empty(t, b.tickErrors)
		sub := b.subs[aapl.ID]
		require.Len(t, sub.ticks, 1)
		assert.Nil(t, sub.ticks[0].sentinel)
		assert.Nil(t, sub.pending)
	}))
}

// startOverlappingRegisters runs a first Register for aapl, waits for its market data
// request, then runs a second Register and waits until it has joined the pending
// handshake. It returns the gateway ticker id and both results.
func startOverlappingRegisters(t *testing.T, b *Broker, ft *fakeTransport, first, second TickHandler) (int64, chan error, chan error) {
	t.Helper()
	errA := make(chan error, 1)
	errB := make(chan error, 1)

	go func() { errA <- b.Register(context.Background(), aapl, Handlers{OnTick: first}) }()
	require.Eventually(t, func() bool { return len(ft.marketDataRequests()) == 1 }, time.Second, time.Millisecond)

	go func() {
		errB <- b.Register(context.Background(), aapl, Handlers{OnTick: second, OnOrder: func(*model.Order) {}})
	}()
	require.Eventually(t, func() bool {
		joined := false
		_ = b.call(context.Background(), func() {
			sub := b.subs[aapl.ID]
			joined = len(sub.orders) == 1 && sub.pending != nil
		})
		return joined
	}, time.Second, time.Millisecond)

	return ft.marketDataRequests()[0], errA, errB
}

func receive(t *testing.T, ch chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Register did not return")
		return nil
	}
}

func TestRegisterOverlappingFirstSubscribesShareFailure(t *testing.T) {
	ft := newFakeTransport()
	b := New(Config{Timeout: 5 * time.Second, ConnectTimeout: testTimeout}, ft, logging.Nop())
	t.Cleanup(func() { _ = b.Disconnect() })
	require.NoError(t, b.Connect(context.Background()))

	tickerID, errA, errB := startOverlappingRegisters(t, b, ft, func(model.Tick) {}, func(model.Tick) {})
	ft.send(model.Error{ID: tickerID, Code: 354, Msg: "Requested market data is not subscribed."})

	assert.ErrorIs(t, receive(t, errA), ErrSubscription)
	assert.ErrorIs(t, receive(t, errB), ErrSubscription)
	assert.Len(t, ft.marketDataRequests(), 1)

	require.NoError(t, b.call(context.Background(), func() {
		sub := b.subs[aapl.ID]
		assert.Empty(t, sub.ticks)
		assert.Zero(t, sub.tickerID)
		assert.Nil(t, sub.pending)
		assert.Empty(t, b.tickers)
	}))
}

func TestRegisterOverlappingFirstSubscribesShareSuccess(t *testing.T) {
	ft := newFakeTransport()
	b := New(Config{Timeout: 5 * time.Second, ConnectTimeout: testTimeout}, ft, logging.Nop())
	t.Cleanup(func() { _ = b.Disconnect() })
	require.NoError(t, b.Connect(context.Background()))

	var mu sync.Mutex
	var calls []int
	handler := func(n int) TickHandler {
		return func(model.Tick) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, n)
		}
	}

	tickerID, errA, errB := startOverlappingRegisters(t, b, ft, handler(1), handler(2))
	ft.send(model.TickString{TickerID: tickerID, Field: model.TickTypeRTVolume, Value: "1;1;1;1;1;1"})

	require.NoError(t, receive(t, errA))
	require.NoError(t, receive(t, errB))
	assert.Len(t, ft.marketDataRequests(), 1)

	ft.send(model.TickString{TickerID: tickerID, Field: model.TickTypeRTVolume, Value: "2;1;2;1;2;1"})
	flush(t, b)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, calls)
}

func TestRegisterExtraSentinelIsInconsistentState(t *testing.T) {
	ft := newFakeTransport()
	var b *Broker
	// runs on the engine goroutine while the first subscription is pending
	ft.onMarketData = func(tickerID int64, inst *model.Instrument) {
		sub := b.tickers[tickerID]
		sub.ticks = append(sub.ticks, tickEntry{sentinel: newQueue[error]()})
	}
	b = newTestBroker(t, ft)

	err := b.Register(context.Background(), aapl, Handlers{OnTick: func(model.Tick) {}})
	require.ErrorIs(t, err, ErrInconsistentState)
	assert.Contains(t, err.Error(), "2 sentinel")
}

func TestRegisterLaterAftermarketDoesNotResubscribe(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	require.NoError(t, b.Register(context.Background(), aapl, Handlers{OnTick: func(model.Tick) {}}))
	require.NoError(t, b.Register(context.Background(), aapl, Handlers{OnTick: func(model.Tick) {}, Aftermarket: true}))

	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.Len(t, ft.mdOpts, 1)
	assert.False(t, ft.mdOpts[0].OutsideRTH)
}
