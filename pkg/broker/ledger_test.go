package broker

import (
	"math/rand"
	"testing"

	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(orders ...*model.Order) *ledger {
	l := newLedger(Bounds{}, logging.Nop())
	for _, o := range orders {
		l.add(o)
	}
	return l
}

func openOrder(id, qty int64) *model.Order {
	return &model.Order{ID: id, Instrument: aapl, Quantity: qty, Open: true}
}

func TestLedgerStatusIsIdempotent(t *testing.T) {
	l := newTestLedger(openOrder(1, 10))

	updates := []struct {
		filled float64
		notify bool
	}{
		{3, true},
		{3, false},  // duplicate
		{2, false},  // stale
		{7, true},
		{7, false},
		{10, true},
		{10, false},
	}
	for i, u := range updates {
		_, notify := l.applyStatus(model.OrderStatus{OrderID: 1, Status: "Filled", Filled: u.filled, AvgFillPrice: u.filled})
		assert.Equal(t, u.notify, notify, "update %d", i)
	}

	o, _ := l.get(1)
	assert.Equal(t, int64(10), o.Filled)
	assert.Equal(t, 10.0, o.AvgPrice)
	assert.False(t, o.Open)
	assert.Equal(t, model.OrderStateFilled, o.State())
	assert.False(t, o.OpenTime.IsZero())
}

func TestLedgerReplayMatchesSortedSequence(t *testing.T) {
	type update struct {
		exec   bool
		filled float64
		avg    float64
	}
	base := []update{
		{false, 2, 100.0},
		{true, 2, 100.0},
		{false, 5, 100.5},
		{true, 5, 100.5},
		{true, 8, 100.7},
		{false, 8, 100.7},
		{false, 8, 100.7},
		{true, 3, 100.2},
	}

	apply := func(seq []update) *model.Order {
		l := newTestLedger(openOrder(1, -8))
		for i, u := range seq {
			if u.exec {
				l.applyExecution(model.ExecDetails{OrderID: 1, ExecID: string(rune('a' + i)), CumQty: u.filled, AvgPrice: u.avg})
			} else {
				l.applyStatus(model.OrderStatus{OrderID: 1, Status: "Submitted", Filled: u.filled, AvgFillPrice: u.avg})
			}
		}
		o, _ := l.get(1)
		return o
	}

	want := apply([]update{{false, 2, 100.0}, {false, 3, 100.2}, {false, 5, 100.5}, {false, 8, 100.7}})
	require.Equal(t, int64(-8), want.Filled)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		seq := append([]update(nil), base...)
		rng.Shuffle(len(seq), func(a, b int) { seq[a], seq[b] = seq[b], seq[a] })
		// replay a random prefix on top
		seq = append(seq, seq[:rng.Intn(len(seq))]...)

		got := apply(seq)
		assert.Equal(t, want.Filled, got.Filled)
		assert.Equal(t, want.AvgPrice, got.AvgPrice)
		assert.Equal(t, want.State(), got.State())
		assert.Equal(t, want.Open, got.Open)
	}
}

func TestLedgerShortSaleCompletesOnlyAtNegativeFill(t *testing.T) {
	l := newTestLedger(openOrder(1, -5))

	l.applyStatus(model.OrderStatus{OrderID: 1, Status: "PreSubmitted", Filled: 4, AvgFillPrice: 9})
	o, _ := l.get(1)
	assert.Equal(t, int64(-4), o.Filled)
	assert.False(t, o.Complete())
	assert.True(t, o.Open)

	l.applyStatus(model.OrderStatus{OrderID: 1, Status: "Filled", Filled: 5, AvgFillPrice: 9})
	assert.Equal(t, int64(-5), o.Filled)
	assert.True(t, o.Complete())
	assert.False(t, o.Open)
}

func TestLedgerRejectsOverfill(t *testing.T) {
	l := newTestLedger(openOrder(1, 5))
	_, notify := l.applyStatus(model.OrderStatus{OrderID: 1, Status: "Filled", Filled: 6})
	assert.False(t, notify)
	o, _ := l.get(1)
	assert.Zero(t, o.Filled)
}

func TestLedgerCancelSpellings(t *testing.T) {
	for _, status := range []string{"ApiCanceled", "ApiCancelled", "Cancelled", "Canceled"} {
		t.Run(status, func(t *testing.T) {
			l := newTestLedger(openOrder(1, 10))

			_, notify := l.applyStatus(model.OrderStatus{OrderID: 1, Status: status})
			assert.True(t, notify)
			_, notify = l.applyStatus(model.OrderStatus{OrderID: 1, Status: status})
			assert.False(t, notify)

			o, _ := l.get(1)
			assert.True(t, o.Cancelled)
			assert.False(t, o.Open)
			assert.Equal(t, model.OrderStateCancelled, o.State())
		})
	}
	assert.False(t, IsCancelStatus("Inactive"))
}

func TestLedgerNoTransitionOutOfTerminal(t *testing.T) {
	l := newTestLedger(openOrder(1, 2))
	l.applyStatus(model.OrderStatus{OrderID: 1, Status: "Filled", Filled: 2})

	_, notify := l.applyStatus(model.OrderStatus{OrderID: 1, Status: "Cancelled"})
	assert.False(t, notify)
	_, notify = l.reject(1, 201, "Order rejected")
	assert.False(t, notify)

	o, _ := l.get(1)
	assert.False(t, o.Cancelled)
	assert.Equal(t, model.OrderStateFilled, o.State())
	assert.Empty(t, o.Message)
}

func TestLedgerErrorAfterCancelStatusAttachesMessage(t *testing.T) {
	l := newTestLedger(openOrder(1, 10))
	_, notify := l.applyStatus(model.OrderStatus{OrderID: 1, Status: "Cancelled"})
	require.True(t, notify)

	o, notify := l.reject(1, 202, "Order Canceled - reason: outside trading hours")
	assert.True(t, notify)
	assert.True(t, o.Cancelled)
	assert.Equal(t, model.OrderStateCancelled, o.State())
	assert.Equal(t, "Order Canceled - reason: outside trading hours", o.Message)

	_, notify = l.reject(1, 202, "Order Canceled - reason: outside trading hours")
	assert.False(t, notify)
}

func TestLedgerLateFillOnCancelledOrder(t *testing.T) {
	l := newTestLedger(openOrder(1, 10))
	l.applyStatus(model.OrderStatus{OrderID: 1, Status: "Cancelled"})
	l.applyExecution(model.ExecDetails{OrderID: 1, ExecID: "e1", CumQty: 4, AvgPrice: 3})

	o, _ := l.get(1)
	assert.Equal(t, int64(4), o.Filled)
	assert.Equal(t, model.OrderStateCancelled, o.State())
	assert.False(t, o.Open)
}

func TestLedgerOpenOrder(t *testing.T) {
	l := newTestLedger(openOrder(1, 10), openOrder(2, 10))

	_, notify := l.applyOpenOrder(model.OpenOrder{OrderID: 1, Contract: aapl.Contract, State: "Submitted", Warning: "repriced"})
	assert.False(t, notify)
	o, _ := l.get(1)
	assert.False(t, o.OpenTime.IsZero())
	assert.Equal(t, "repriced", o.Message)
	assert.True(t, o.Open)
	assert.Zero(t, o.Filled)

	opened := o.OpenTime
	_, notify = l.applyOpenOrder(model.OpenOrder{OrderID: 1, Contract: aapl.Contract, State: "Cancelled"})
	assert.True(t, notify)
	assert.Equal(t, opened, o.OpenTime)
	assert.True(t, o.Cancelled)

	// symbol mismatch is ignored
	_, notify = l.applyOpenOrder(model.OpenOrder{OrderID: 2, Contract: msft.Contract, State: "Cancelled"})
	assert.False(t, notify)
	o2, _ := l.get(2)
	assert.False(t, o2.Cancelled)

	l.applyOpenOrder(model.OpenOrder{OrderID: 2, Contract: aapl.Contract, State: "Filled"})
	assert.False(t, o2.Open)

	_, notify = l.applyOpenOrder(model.OpenOrder{OrderID: 99, State: "Submitted"})
	assert.False(t, notify)
}

func TestLedgerCommission(t *testing.T) {
	l := newTestLedger(openOrder(1, 10))
	l.applyExecution(model.ExecDetails{OrderID: 1, ExecID: "e1", Shares: 4, CumQty: 4, AvgPrice: 10})
	l.applyExecution(model.ExecDetails{OrderID: 1, ExecID: "e2", Shares: 6, CumQty: 10, AvgPrice: 10})

	o, notify := l.applyCommission(model.CommissionReport{ExecID: "e1", Commission: 1.25, RealizedPNL: model.UnsetDouble})
	require.True(t, notify)
	assert.Equal(t, 1.25, o.Commission)
	assert.Zero(t, o.Profit)

	// duplicate report for the same execution
	_, notify = l.applyCommission(model.CommissionReport{ExecID: "e1", Commission: 1.25})
	assert.False(t, notify)
	assert.Equal(t, 1.25, o.Commission)

	_, notify = l.applyCommission(model.CommissionReport{ExecID: "e2", Commission: DefaultMaxCommission, RealizedPNL: -12.5})
	assert.True(t, notify)
	assert.Equal(t, 1.25, o.Commission)
	assert.Equal(t, -12.5, o.Profit)
}

func TestLedgerCommissionForUnknownExecution(t *testing.T) {
	l := newTestLedger(openOrder(1, 10))
	before := *l.orders[1]

	var notify bool
	assert.NotPanics(t, func() {
		_, notify = l.applyCommission(model.CommissionReport{ExecID: "nope", Commission: 1})
	})
	assert.False(t, notify)
	assert.Equal(t, before, *l.orders[1])
}

func TestLedgerConfigurableBounds(t *testing.T) {
	l := newLedger(Bounds{MaxCommission: 10, MaxProfit: 100}, logging.Nop())
	l.add(openOrder(1, 1))
	l.applyExecution(model.ExecDetails{OrderID: 1, ExecID: "e1", CumQty: 1})
	o, _ := l.applyCommission(model.CommissionReport{ExecID: "e1", Commission: 11, RealizedPNL: 150})
	assert.Zero(t, o.Commission)
	assert.Zero(t, o.Profit)
}

func TestLedgerReject(t *testing.T) {
	l := newTestLedger(openOrder(1, 10))

	o, notify := l.reject(1, 201, "Order rejected - reason: margin")
	require.True(t, notify)
	assert.True(t, o.Cancelled)
	assert.False(t, o.Open)
	assert.Equal(t, "Order rejected - reason: margin", o.Message)

	o, notify = l.reject(1, 202, "Order cancelled")
	assert.False(t, notify)
	assert.Equal(t, "Order rejected - reason: margin", o.Message)

	_, notify = l.reject(42, 201, "unknown")
	assert.False(t, notify)
}

func TestLedgerListSnapshots(t *testing.T) {
	a, b := openOrder(2, 1), openOrder(1, 1)
	b.Open = false
	c := &model.Order{ID: 3, Instrument: msft, Quantity: 1, Open: true}
	l := newTestLedger(a, b, c)

	all := l.list(nil, false)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{all[0].ID, all[1].ID, all[2].ID})

	open := l.list(aapl, true)
	require.Len(t, open, 1)
	assert.Equal(t, int64(2), open[0].ID)

	open[0].Filled = 99
	assert.Zero(t, a.Filled)
}
