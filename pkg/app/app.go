// Package app wires configuration, logging, metrics and a connected Broker for the
// commands under cmd/.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/joripage/brokerlink/config"
	"github.com/joripage/brokerlink/pkg/broker"
	fixgateway "github.com/joripage/brokerlink/pkg/broker/fix"
	"github.com/joripage/brokerlink/pkg/broker/riskrule"
	"github.com/joripage/brokerlink/pkg/journal"
	kafkawrapper "github.com/joripage/brokerlink/pkg/kafka_wrapper"
	"github.com/joripage/brokerlink/pkg/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type App struct {
	Config *config.AppConfig
	Log    *logging.Logger
	Broker *broker.Broker

	producer *kafkawrapper.Producer
}

// LoadConfig loads the config and dumps it at debug level.
func LoadConfig(configFile string) (*config.AppConfig, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	configBytes, err := json.MarshalIndent(cfg, "", "   ")
	if err != nil {
		zap.S().Warnf("could not convert config to JSON: %v", err)
	} else {
		zap.S().Debugf("load config %s", string(configBytes))
	}
	return cfg, nil
}

// NewLogger builds the process logger from the config verbosity and makes it the zap
// global, so zap.S() in the infra packages writes through it.
func NewLogger(cfg *config.AppConfig) *logging.Logger {
	log := logging.NewVerboseLogger(cfg.Verbose).With(zap.String("service", cfg.ServiceName))
	zap.ReplaceGlobals(log.Zap())
	return log
}

// StartDebugServer serves pprof and /metrics on addr in the background.
func StartDebugServer(addr string, log *logging.Logger) {
	if addr == "" {
		return
	}
	broker.InitMetrics()
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Warn(context.Background(), "debug server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Start loads configFile and returns an App with a connected Broker. When a kafka
// section is configured every order callback is also journaled.
func Start(ctx context.Context, configFile string) (*App, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	log := NewLogger(cfg)
	StartDebugServer(cfg.DebugAddr, log)

	var rules []riskrule.RiskRule
	if cfg.Engine.TickSizeFile != "" {
		rule, err := riskrule.NewTickSizeRuleFromFile(cfg.Engine.TickSizeFile)
		if err != nil {
			return nil, fmt.Errorf("tick size rules: %w", err)
		}
		rules = append(rules, rule)
	}

	gateway := fixgateway.NewGateway(cfg.Gateway, log)
	b := broker.New(cfg.Engine, gateway, log, rules...)
	a := &App{Config: cfg, Log: log, Broker: b}

	if err := b.Connect(ctx); err != nil {
		_ = b.Disconnect()
		return nil, err
	}

	if cfg.Kafka != nil && len(cfg.Kafka.Brokers) > 0 {
		a.producer = kafkawrapper.NewProducer(cfg.Kafka.Producer())
		publisher := journal.NewPublisher(a.producer, cfg.Kafka.Topic, log)
		if err := b.Observe(ctx, publisher.Handler()); err != nil {
			a.Close()
			return nil, err
		}
		log.Info(ctx, "journaling orders", zap.String("topic", cfg.Kafka.Topic))
	}
	return a, nil
}

// Close disconnects the broker, then flushes the journal producer.
func (a *App) Close() {
	if err := a.Broker.Disconnect(); err != nil {
		a.Log.Warn(context.Background(), "disconnect", zap.Error(err))
	}
	if a.producer != nil {
		if err := a.producer.Close(context.Background()); err != nil {
			a.Log.Warn(context.Background(), "close journal producer", zap.Error(err))
		}
	}
	_ = a.Log.Sync()
}
