package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"ESStats/internal/domain/models"
	domrepo "ESStats/internal/domain/repository"
	"ESStats/internal/handler/api"
	internalrepo "ESStats/internal/repository"
	"ESStats/internal/usecase"
	"ESStats/pkg/cache"
	pkgch "ESStats/pkg/clickhouse"
	"ESStats/pkg/config"
	xhttp "ESStats/pkg/http"
	pkgkafka "ESStats/pkg/kafka"
	applogger "ESStats/pkg/logger"
	"ESStats/pkg/metrics"
	pkgpg "ESStats/pkg/postgres"
	"ESStats/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	format := "json"
	if cfg.Log.Pretty {
		format = "console"
	}
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: format,
		Output: "stdout",
	})
}

// ProvideStore creates the bar store for the configured backend.
func ProvideStore(cfg *config.Config) (domrepo.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Backend.Type {
	case "postgres":
		opts := []pkgpg.ClientOption{
			pkgpg.WithHost(cfg.Postgres.Host, cfg.Postgres.Port),
			pkgpg.WithCredentials(cfg.Postgres.User, cfg.Postgres.Password),
			pkgpg.WithDatabase(cfg.Postgres.Database),
			pkgpg.WithSSLMode(cfg.Postgres.SSLMode),
			pkgpg.WithPoolSize(cfg.Postgres.MinConns, cfg.Postgres.MaxConns),
			pkgpg.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
			pkgpg.WithConnectTimeout(cfg.Postgres.ConnectTimeout),
		}
		if cfg.Postgres.URL != "" {
			opts = append(opts, pkgpg.WithURL(cfg.Postgres.URL))
		}
		client, err := pkgpg.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("postgres client: %w", err)
		}
		return internalrepo.NewPostgresStore(client.Pool()), nil

	case "clickhouse":
		client, err := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
			pkgch.WithMaxExecutionTime(time.Minute),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		return internalrepo.NewClickHouseStore(client), nil

	case "memory":
		return internalrepo.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown backend: %s", cfg.Backend.Type)
}

// ProvideAuditPublisher creates the Kafka audit publisher, or a no-op
// when the audit topic is disabled.
func ProvideAuditPublisher(cfg *config.Config) (domrepo.AuditPublisher, error) {
	if !cfg.Kafka.Enabled {
		return internalrepo.NoopAuditPublisher{}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaAuditPublisher(producer, cfg.Kafka.AuditTopic), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideCache creates the coverage-response cache: Redis when enabled,
// in-process otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Cache.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	host, portStr, err := net.SplitHostPort(cfg.Cache.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("parse redis addr %q: %w", cfg.Cache.Redis.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse redis port %q: %w", portStr, err)
	}
	redisCache, err := cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Cache.Redis.Password),
		cache.WithRedisDB(cfg.Cache.Redis.DB),
		cache.WithRedisPrefix("esstats"),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(redisCache), nil
}

// ProvideSessions returns the configured windows used to label rebuilt
// 30-minute buckets.
func ProvideSessions(cfg *config.Config) ([]models.WindowSpec, error) {
	x, y, _, err := cfg.AnalysisWindows()
	if err != nil {
		return nil, err
	}
	return []models.WindowSpec{x, y}, nil
}

// ProvideImporter creates the CSV import use case.
func ProvideImporter(
	store domrepo.Store,
	audit domrepo.AuditPublisher,
	m domrepo.Metrics,
	cacheSvc cache.Service,
	log *applogger.Logger,
	sessions []models.WindowSpec,
) *usecase.Importer {
	return usecase.NewImporter(store, audit, m, cacheSvc, log, sessions)
}

// ProvideAnalyzer creates the coverage use case.
func ProvideAnalyzer(cfg *config.Config, store domrepo.Store, log *applogger.Logger) (*usecase.Analyzer, error) {
	x, y, _, err := cfg.AnalysisWindows()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	return usecase.NewAnalyzer(store, log, x, y, policy), nil
}

// ProvideHandler creates the HTTP read API handler.
func ProvideHandler(
	cfg *config.Config,
	log *applogger.Logger,
	store domrepo.Store,
	analyzer *usecase.Analyzer,
	cacheSvc cache.Service,
) xhttp.Handler {
	return api.NewStatsHandler(log, store, analyzer, cacheSvc, cfg.Cache.TTL)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	store domrepo.Store,
	audit domrepo.AuditPublisher,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, log, store, audit, handler)
}
