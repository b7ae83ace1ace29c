package main

import (
	"context"
	"errors"
	"flag"

	"github.com/joripage/brokerlink/pkg/app"
	postgres_wrapper "github.com/joripage/brokerlink/pkg/infra/postgres"
	"github.com/joripage/brokerlink/pkg/journal"
	"github.com/joripage/brokerlink/pkg/journal/repo"
	kafkawrapper "github.com/joripage/brokerlink/pkg/kafka_wrapper"
	"go.uber.org/zap"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := app.LoadConfig(configFile)
	if err != nil {
		panic(err)
	}
	log := app.NewLogger(cfg)
	app.StartDebugServer(cfg.DebugAddr, log)

	if cfg.JournalDB == nil || cfg.Kafka == nil {
		zap.S().Fatal("journal_db and kafka sections are required")
	}

	ctx, cancel := app.SignalContext()
	defer cancel()

	db, err := postgres_wrapper.InitPostgresWithBackoff(cfg.JournalDB)
	if err != nil {
		zap.S().Errorf("init db fail with err: %v", err)
		panic(err)
	}

	consumer, err := kafkawrapper.NewConsumerGroup(cfg.Kafka.Consumer(), log)
	if err != nil {
		panic(err)
	}
	defer consumer.Close()

	w := journal.NewWorker(repo.NewRepo(db), log)
	log.Info(ctx, "journal worker started", zap.String("topic", cfg.Kafka.Topic), zap.String("group", cfg.Kafka.GroupID))
	if err := w.Run(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, "journal worker", zap.Error(err))
	}
	log.Info(context.Background(), "journal worker stopped")
}
