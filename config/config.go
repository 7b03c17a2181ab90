// Package config loads the settings that select and configure the event store and event bus.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by Load
const EnvPrefix = "ESLITE"

// Store drivers
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"
	StoreMongo    = "mongo"
)

// Bus drivers
const (
	BusInProcess = "inprocess"
	BusRedis     = "redis"
	BusSQS       = "sqs"
)

// ErrConfigInvalid wraps every validation failure
var ErrConfigInvalid = errors.New("invalid configuration")

// Config holds the complete configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	AWS      AWSConfig      `yaml:"aws"`
	Store    StoreConfig    `yaml:"store"`
	Bus      BusConfig      `yaml:"bus"`
}

// LogConfig selects the logger
type LogConfig struct {
	// Mode is "production" (JSON) or "development" (console)
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

// SnapshotConfig controls the repository snapshot hook. Zero disables it.
type SnapshotConfig struct {
	Frequency uint64 `yaml:"frequency"`
}

// AWSConfig is shared by the DynamoDB store and the SQS bus.
// Endpoint points the clients at a local emulator; static credentials are used when set.
type AWSConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" split_words:"true"`
	SecretAccessKey string `yaml:"secret_access_key" split_words:"true"`
}

// StoreConfig selects the event store
type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Mongo    MongoConfig    `yaml:"mongo"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	HashKey  string `yaml:"hash_key" split_words:"true"`
	RangeKey string `yaml:"range_key" split_words:"true"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// BusConfig selects where committed events are published
type BusConfig struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
	SQS    SQSConfig   `yaml:"sqs"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix" split_words:"true"`
}

type SQSConfig struct {
	QueueURL string `yaml:"queue_url" split_words:"true"`
}

// Default returns the configuration used when nothing else is set
func Default() *Config {
	return &Config{
		Log: LogConfig{Mode: "production", Level: "info"},
		AWS: AWSConfig{Region: "us-east-1"},
		Store: StoreConfig{
			Driver: StoreMemory,
			SQLite: SQLiteConfig{Path: "events.db"},
			DynamoDB: DynamoDBConfig{
				HashKey:  "aggregate_id",
				RangeKey: "version",
			},
			Mongo: MongoConfig{Collection: "event_streams"},
		},
		Bus: BusConfig{
			Driver: BusInProcess,
			Redis:  RedisConfig{ChannelPrefix: "events:"},
		},
	}
}

// Load starts from Default, applies the YAML file at path when path is not empty and then
// the ESLITE_* environment variables, e.g. ESLITE_STORE_DRIVER or ESLITE_BUS_REDIS_ADDR.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or unknown setting of the selected drivers
func (c *Config) Validate() error {
	var errs []error

	switch c.Log.Mode {
	case "production", "development":
	default:
		errs = append(errs, fmt.Errorf("log.mode must be production or development, got %q", c.Log.Mode))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLite.Path == "" {
			errs = append(errs, errors.New("store.sqlite.path is required"))
		}
	case StoreDynamoDB:
		if c.Store.DynamoDB.Table == "" {
			errs = append(errs, errors.New("store.dynamodb.table is required"))
		}
		if c.Store.DynamoDB.HashKey == "" || c.Store.DynamoDB.RangeKey == "" {
			errs = append(errs, errors.New("store.dynamodb.hash_key and range_key are required"))
		}
		errs = c.validateAWS(errs)
	case StoreMongo:
		if c.Store.Mongo.URI == "" {
			errs = append(errs, errors.New("store.mongo.uri is required"))
		}
		if c.Store.Mongo.Database == "" {
			errs = append(errs, errors.New("store.mongo.database is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Bus.Driver {
	case BusInProcess:
	case BusRedis:
		if c.Bus.Redis.Addr == "" {
			errs = append(errs, errors.New("bus.redis.addr is required"))
		}
	case BusSQS:
		if c.Bus.SQS.QueueURL == "" {
			errs = append(errs, errors.New("bus.sqs.queue_url is required"))
		}
		errs = c.validateAWS(errs)
	default:
		errs = append(errs, fmt.Errorf("unknown bus.driver %q", c.Bus.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}

func (c *Config) validateAWS(errs []error) []error {
	if c.AWS.Region == "" {
		errs = append(errs, errors.New("aws.region is required"))
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		errs = append(errs, errors.New("aws.access_key_id and aws.secret_access_key must be set together"))
	}
	return errs
}
