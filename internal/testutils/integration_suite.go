package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"finsight/internal/config"
)

type IntegrationSuite struct {
	T     *testing.T
	DB    *sql.DB
	Redis *redis.Client
	NSQ   *nsq.Producer

	dbHost    string
	dbPort    int
	redisAddr string
	nsqdAddr  string
	nsqdHTTP  string

	// Containers
	pgContainer    *postgres.PostgresContainer
	redisContainer testcontainers.Container
	nsqContainer   testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Postgres
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("finsight_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(s.T, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)
	s.dbHost = pgHost
	s.dbPort = pgPort.Int()

	// Run Migrations
	m, err := migrate.New(MigrationPath(), connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())

	// 2. Redis
	redisReq := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: redisReq,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.redisContainer = redisC

	redisHost, err := redisC.Host(ctx)
	require.NoError(s.T, err)
	redisPort, err := redisC.MappedPort(ctx, "6379")
	require.NoError(s.T, err)
	s.redisAddr = net.JoinHostPort(redisHost, redisPort.Port())

	s.Redis = redis.NewClient(&redis.Options{Addr: s.redisAddr})
	require.NoError(s.T, s.Redis.Ping(ctx).Err())

	// 3. NSQ
	nsqReq := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: nsqReq,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = nsqC

	nsqHost, err := nsqC.Host(ctx)
	require.NoError(s.T, err)
	nsqPort, err := nsqC.MappedPort(ctx, "4150")
	require.NoError(s.T, err)
	nsqHTTPPort, err := nsqC.MappedPort(ctx, "4151")
	require.NoError(s.T, err)
	s.nsqdAddr = net.JoinHostPort(nsqHost, nsqPort.Port())
	s.nsqdHTTP = net.JoinHostPort(nsqHost, nsqHTTPPort.Port())

	nsqCfg := nsq.NewConfig()
	s.NSQ, err = nsq.NewProducer(s.nsqdAddr, nsqCfg)
	require.NoError(s.T, err)
}

// GetConfig returns a gateway config pointed at the suite's containers.
func (s *IntegrationSuite) GetConfig() *config.Config {
	return &config.Config{
		DBHost: s.dbHost,
		DBPort: s.dbPort,
		DBUser: "test",
		DBPass: "test",
		DBName: "finsight_test",

		RedisAddr:      s.redisAddr,
		RedisKeyPrefix: "finsight_test",

		NSQDHost: s.nsqdAddr,
		NSQDHTTP: s.nsqdHTTP,

		ServerPort:      8081,
		UploadDir:       s.T.TempDir(),
		MaxUploadSizeMB: 50,
		MigrationPath:   MigrationPath(),

		EventHistorySize: 50,

		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
}

// MigrationPath resolves the migrations directory relative to this file, so
// tests work regardless of the package they run from.
func MigrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)
	return fmt.Sprintf("file://%s", filepath.Join(basepath, "..", "..", "migrations"))
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
	if s.redisContainer != nil {
		s.redisContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		s.nsqContainer.Terminate(ctx)
	}
}
