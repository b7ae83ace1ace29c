package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/joripage/brokerlink/pkg/broker"
	fixgateway "github.com/joripage/brokerlink/pkg/broker/fix"
	postgres_wrapper "github.com/joripage/brokerlink/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/brokerlink/pkg/infra/redis"
	kafkawrapper "github.com/joripage/brokerlink/pkg/kafka_wrapper"
	"github.com/joripage/brokerlink/pkg/recorder"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ServiceName string `yaml:"service_name"`
	// 0..5, see logging.LevelFromVerbose
	Verbose   int                              `yaml:"verbose"`
	DebugAddr string                           `yaml:"debug_addr"`
	Engine    broker.Config                    `yaml:"engine"`
	Gateway   fixgateway.Config                `yaml:"gateway"`
	Recorder  recorder.Config                  `yaml:"recorder"`
	Redis     *redis_wrapper.RedisConfig       `yaml:"redis"`
	JournalDB *postgres_wrapper.PostgresConfig `yaml:"journal_db"`
	Kafka     *kafkawrapper.Config             `yaml:"kafka"`
}

// Load reads a yaml file with ${VAR} references expanded from the environment.
// Variables from a .env file next to the working directory are loaded first and never
// override ones already set.
func Load(filePath string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	sugar := zap.S().With("func", "config.Load", "filePath", filePath)
	sugar.Debug("Load config...")

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}
	if err := yaml.Unmarshal(configBytes, cfg); err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}
	if cfg.Engine.Verbose == 0 {
		cfg.Engine.Verbose = cfg.Verbose
	}

	return cfg, nil
}
