package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/joripage/brokerlink/pkg/app"
	"github.com/joripage/brokerlink/pkg/broker"
	"github.com/joripage/brokerlink/pkg/broker/model"
	"go.uber.org/zap"
)

func main() {
	var (
		configFile string
		symbol     string
		duration   time.Duration
		quantity   int64
		limit      float64
	)
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.StringVar(&symbol, "symbol", "AAPL", "Stock symbol to watch")
	flag.DurationVar(&duration, "duration", 10*time.Second, "How long to print ticks")
	flag.Int64Var(&quantity, "quantity", 0, "Signed quantity of a demo order, 0 for none")
	flag.Float64Var(&limit, "limit", 0, "Limit price of the demo order, 0 for market")
	flag.Parse()

	ctx, cancel := app.SignalContext()
	defer cancel()

	a, err := app.Start(ctx, configFile)
	if err != nil {
		panic(err)
	}
	defer a.Close()

	inst, err := a.Broker.GetInstrument(ctx, symbol)
	if err != nil {
		a.Log.Fatal(ctx, "resolve", zap.String("symbol", symbol), zap.Error(err))
	}

	err = a.Broker.Register(ctx, inst, broker.Handlers{
		OnTick: func(t model.Tick) {
			fmt.Printf("%.3f\t%v\t%v\t%v\t%v\n", t.Time, t.Price, t.Size, t.Volume, t.VWAP)
		},
		OnOrder: func(o *model.Order) {
			fmt.Println(o)
		},
	})
	if err != nil {
		a.Log.Fatal(ctx, "register", zap.Stringer("instrument", inst), zap.Error(err))
	}

	if quantity != 0 {
		o, err := a.Broker.PlaceOrder(ctx, inst, quantity, broker.Prices{Limit: limit})
		if err != nil {
			a.Log.Error(ctx, "demo order", zap.Error(err))
		} else {
			fmt.Println("placed", o)
		}
	}

	select {
	case <-time.After(duration):
	case <-ctx.Done():
	}

	pos, err := a.Broker.GetPosition(context.Background(), inst)
	if err == nil {
		fmt.Printf("position %s: %d\n", inst, pos)
	}
}
