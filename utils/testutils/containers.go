package testutils

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	containerStartupTimeout = 60 * time.Second
	setupTimeout            = 10 * time.Second
	pingTimeout             = 2 * time.Second
	pingRetryDelay          = 500 * time.Millisecond
	pingRetries             = 5
	maxDBNameLength         = 40
)

type sharedContainer struct {
	once sync.Once
	addr string
	err  error
}

var (
	mongoContainer sharedContainer
	redisContainer sharedContainer
)

func (c *sharedContainer) start(req testcontainers.ContainerRequest, port string) (string, error) {
	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), containerStartupTimeout)
		defer cancel()

		cont, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			c.err = fmt.Errorf("failed to start %s container: %w", req.Image, err)
			return
		}

		host, err := cont.Host(ctx)
		if err != nil {
			c.err = fmt.Errorf("failed to get container host: %w", err)
			return
		}
		mapped, err := cont.MappedPort(ctx, nat.Port(port))
		if err != nil {
			c.err = fmt.Errorf("failed to get container port: %w", err)
			return
		}
		c.addr = net.JoinHostPort(host, mapped.Port())
	})
	return c.addr, c.err
}

// SetupTestMongoDB returns an isolated database in a shared MongoDB container.
// The test is skipped in -short mode or when no container runtime is available.
func SetupTestMongoDB(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB test in short mode")
	}

	addr, err := mongoContainer.start(testcontainers.ContainerRequest{
		Image:        "mongo:8",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(containerStartupTimeout),
	}, "27017")
	if err != nil {
		t.Skipf("MongoDB unavailable: %v", err)
	}

	client, err := mongo.Connect(options.Client().ApplyURI("mongodb://" + addr))
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	if err := retryPing(func(ctx context.Context) error { return client.Ping(ctx, nil) }); err != nil {
		t.Fatalf("Failed to ping MongoDB after %d retries: %v", pingRetries, err)
	}

	db := client.Database(testDBName(t.Name()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}

// SetupTestRedis returns a client of a shared Redis container.
// The test is skipped in -short mode or when no container runtime is available.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis test in short mode")
	}

	addr, err := redisContainer.start(testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(containerStartupTimeout),
			wait.ForListeningPort("6379/tcp").WithStartupTimeout(containerStartupTimeout),
		),
	}, "6379")
	if err != nil {
		t.Skipf("Redis unavailable: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: addr, PoolSize: 10})
	if err := retryPing(func(ctx context.Context) error { return client.Ping(ctx).Err() }); err != nil {
		_ = client.Close()
		t.Fatalf("Failed to ping Redis after %d retries: %v", pingRetries, err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func retryPing(ping func(ctx context.Context) error) error {
	var err error
	for i := range pingRetries {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		err = ping(ctx)
		cancel()
		if err == nil {
			return nil
		}
		if i < pingRetries-1 {
			time.Sleep(pingRetryDelay)
		}
	}
	return err
}

// testDBName creates a unique database name from a test name (MongoDB limit: 63 chars)
func testDBName(testName string) string {
	name := strings.NewReplacer("/", "_", " ", "_", ".", "_").Replace(testName)
	if len(name) > maxDBNameLength {
		hash := sha256.Sum256([]byte(testName))
		name = name[:20] + "_" + hex.EncodeToString(hash[:])[:12]
	}
	return "eslite_" + name
}
