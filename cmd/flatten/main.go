// Command flatten cancels every outstanding order on the account, including ones placed
// by other clients, and closes all positions with market orders. Use with caution.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/joripage/brokerlink/pkg/app"
	"go.uber.org/zap"
)

func main() {
	var (
		configFile string
		wait       time.Duration
	)
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.DurationVar(&wait, "wait", 3*time.Second, "Time to wait for fills before disconnecting")
	flag.Parse()

	ctx, cancel := app.SignalContext()
	defer cancel()

	a, err := app.Start(ctx, configFile)
	if err != nil {
		panic(err)
	}
	defer a.Close()

	orders, err := a.Broker.Flatten(ctx, nil, true)
	if err != nil {
		a.Log.Error(ctx, "flatten", zap.Error(err))
	}
	for _, o := range orders {
		fmt.Println(o)
	}

	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
