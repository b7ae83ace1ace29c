// Command recordticks records tick data for futures to <dir>/<instrument key>.tsv, and
// to redis when a redis section is configured. Existing files are appended to.
package main

import (
	"flag"
	"strings"
	"time"

	"github.com/joripage/brokerlink/pkg/app"
	"github.com/joripage/brokerlink/pkg/broker"
	"github.com/joripage/brokerlink/pkg/broker/model"
	redis_wrapper "github.com/joripage/brokerlink/pkg/infra/redis"
	"github.com/joripage/brokerlink/pkg/recorder"
	"go.uber.org/zap"
)

func main() {
	var (
		configFile string
		symbols    string
		secType    string
		exchange   string
		currency   string
	)
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.StringVar(&symbols, "symbols", "ES", "Comma separated symbols")
	flag.StringVar(&secType, "sec-type", string(model.SecTypeFuture), "Security type")
	flag.StringVar(&exchange, "exchange", "GLOBEX", "Exchange")
	flag.StringVar(&currency, "currency", "USD", "Currency")
	flag.Parse()

	ctx, cancel := app.SignalContext()
	defer cancel()

	a, err := app.Start(ctx, configFile)
	if err != nil {
		panic(err)
	}
	defer a.Close()
	cfg := a.Config

	fileSink, err := recorder.NewFileSink(cfg.Recorder.Dir)
	if err != nil {
		a.Log.Fatal(ctx, "file sink", zap.Error(err))
	}
	sinks := []recorder.Sink{fileSink}
	if cfg.Redis != nil && cfg.Redis.ConnectionURL != "" {
		client, err := redis_wrapper.InitRedis(ctx, cfg.Redis)
		if err != nil {
			a.Log.Fatal(ctx, "redis", zap.Error(err))
		}
		defer client.Close()
		sinks = append(sinks, recorder.NewRedisSink(client, cfg.Redis.TickPrefix, cfg.Redis.TickTTL()))
	}

	rec := recorder.New(cfg.Recorder, a.Log, sinks...)
	defer func() {
		if err := rec.Close(); err != nil {
			a.Log.Error(ctx, "close recorder", zap.Error(err))
		}
	}()

	for _, symbol := range strings.Split(symbols, ",") {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		inst, err := a.Broker.Resolve(ctx, model.Contract{
			Symbol:   symbol,
			SecType:  model.SecType(secType),
			Exchange: exchange,
			Currency: currency,
		})
		if err != nil {
			a.Log.Error(ctx, "resolve", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if err := a.Broker.Register(ctx, inst, broker.Handlers{OnTick: rec.Handler(inst)}); err != nil {
			a.Log.Error(ctx, "register", zap.Stringer("instrument", inst), zap.Error(err))
		}
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for a.Broker.Connected() == broker.Connected {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	a.Log.Warn(ctx, "gateway connection lost, stopping")
}
