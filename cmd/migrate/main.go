package main

import (
	"flag"

	"github.com/joripage/brokerlink/pkg/app"
	"github.com/joripage/brokerlink/pkg/infra"
	"go.uber.org/zap"
)

func main() {
	var (
		configFile string
		source     string
	)
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.StringVar(&source, "source", infra.DefaultMigrationSource, "Migration source URL")
	flag.Parse()

	cfg, err := app.LoadConfig(configFile)
	if err != nil {
		panic(err)
	}
	app.NewLogger(cfg)
	if cfg.JournalDB == nil {
		zap.S().Fatal("journal_db section is required")
	}

	if err := infra.GetMigrateTool().Migrate(source, cfg.JournalDB.MigrationConnURL); err != nil {
		zap.S().Fatalf("migrate: %v", err)
	}
}
