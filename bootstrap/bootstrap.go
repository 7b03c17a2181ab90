// Package bootstrap turns a config.Config into a ready event store and event bus.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/cannahum/eventsourcing-lite/config"
	"github.com/cannahum/eventsourcing-lite/event"
	"github.com/cannahum/eventsourcing-lite/eventbus"
	"github.com/cannahum/eventsourcing-lite/eventsourcing"
	"github.com/cannahum/eventsourcing-lite/eventstore"
	"github.com/cannahum/eventsourcing-lite/logging"
)

const pingTimeout = 5 * time.Second

// Container holds the components built from a Config.
type Container struct {
	Config *config.Config
	Logger *zap.Logger
	Store  eventstore.EventStore
	Bus    event.Bus

	closers []func(context.Context) error
}

// New builds the logger, the event store and the event bus selected by cfg.
// Whatever was built before a failure is released again.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	c := &Container{Config: cfg, Logger: logger}
	c.closers = append(c.closers, func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	store, closeStore, err := NewEventStore(ctx, cfg, logger)
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("event store: %w", err)
	}
	c.Store = store
	c.closers = append(c.closers, closeStore)

	bus, closeBus, err := NewBus(ctx, cfg, logger)
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("event bus: %w", err)
	}
	c.Bus = bus
	c.closers = append(c.closers, closeBus)

	logger.Info("components ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("bus", cfg.Bus.Driver),
		zap.Uint64("snapshot_frequency", cfg.Snapshot.Frequency),
	)
	return c, nil
}

// RepositoryOptions carries the logger and snapshot frequency over to a Repository
func (c *Container) RepositoryOptions() []eventsourcing.RepositoryOption {
	return []eventsourcing.RepositoryOption{
		eventsourcing.WithLogger(c.Logger),
		eventsourcing.WithSnapshotFrequency(c.Config.Snapshot.Frequency),
	}
}

// NewRepository creates a repository on the container's store
func NewRepository[A eventsourcing.Aggregate](c *Container, factory func(id string) A) *eventsourcing.Repository[A] {
	return eventsourcing.NewRepository(factory, c.Store, c.RepositoryOptions()...)
}

// Close releases the components in reverse order of creation
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func noClose(context.Context) error { return nil }

// NewEventStore connects the store named by cfg.Store.Driver. The returned func releases it.
func NewEventStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (eventstore.EventStore, func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return eventstore.GetLocalStore(), noClose, nil

	case config.StoreSQLite:
		s, err := eventstore.OpenSQLite(cfg.Store.SQLite.Path, eventstore.WithSQLiteLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened sqlite event store", zap.String("path", cfg.Store.SQLite.Path))
		return s, func(context.Context) error { return s.Close() }, nil

	case config.StoreDynamoDB:
		awsCfg, err := NewAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, nil, err
		}
		d := cfg.Store.DynamoDB
		s := eventstore.GetDynamoDBStore(d.Table, d.HashKey, d.RangeKey, dynamodb.NewFromConfig(awsCfg),
			eventstore.WithDynamoDBLogger(logger))
		return s, noClose, nil

	case config.StoreMongo:
		m := cfg.Store.Mongo
		client, err := mongo.Connect(options.Client().ApplyURI(m.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("failed to ping mongodb: %w", err)
		}
		logger.Info("connected to MongoDB", zap.String("database", m.Database))

		opts := []eventstore.MongoOption{eventstore.WithMongoLogger(logger)}
		if m.Collection != "" {
			opts = append(opts, eventstore.WithMongoCollection(m.Collection))
		}
		return eventstore.NewMongoStore(client.Database(m.Database), opts...), client.Disconnect, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// NewBus creates the publisher named by cfg.Bus.Driver. The returned func releases it.
func NewBus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (event.Bus, func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Bus.Driver {
	case config.BusInProcess:
		return eventbus.NewInProcess(eventbus.WithLogger(logger)), noClose, nil

	case config.BusRedis:
		r := cfg.Bus.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", r.Addr))

		opts := []eventbus.Option{eventbus.WithLogger(logger)}
		if r.ChannelPrefix != "" {
			opts = append(opts, eventbus.WithChannelPrefix(r.ChannelPrefix))
		}
		return eventbus.NewRedisPublisher(client, opts...), func(context.Context) error { return client.Close() }, nil

	case config.BusSQS:
		awsCfg, err := NewAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, nil, err
		}
		return eventbus.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.Bus.SQS.QueueURL, eventbus.WithLogger(logger)), noClose, nil
	}
	return nil, nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
}

// NewAWSConfig loads the default AWS config for the region, with static credentials and
// a fixed endpoint when they are set.
func NewAWSConfig(ctx context.Context, conf config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(conf.Region),
	}
	if conf.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conf.AccessKeyID, conf.SecretAccessKey, "")))
	}
	if conf.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: conf.Endpoint, SigningRegion: region}, nil
			})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return awsCfg, nil
}
