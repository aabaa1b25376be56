package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"SignalCast/internal/broadcast"
	"SignalCast/internal/broker"
	"SignalCast/internal/domain/repository"
	"SignalCast/internal/handler/api"
	"SignalCast/internal/instruments"
	"SignalCast/internal/queue"
	internalrepo "SignalCast/internal/repository"
	"SignalCast/internal/store"
	"SignalCast/internal/tokens"
	pkgch "SignalCast/pkg/clickhouse"
	"SignalCast/pkg/config"
	xhttp "SignalCast/pkg/http"
	pkgkafka "SignalCast/pkg/kafka"
	applogger "SignalCast/pkg/logger"
	"SignalCast/pkg/metrics"
	"SignalCast/pkg/server"
)

func journalNeedsClickHouse(backend string) bool {
	return backend == "clickhouse" || backend == "both"
}

func journalNeedsKafka(backend string) bool {
	return backend == "kafka" || backend == "both"
}

// ProvideKafkaProducer creates a Kafka producer, or nil when no brokers are
// configured and the journal backend does not require one.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		if journalNeedsKafka(cfg.Journal.Backend) {
			return nil, fmt.Errorf("journal backend %q requires kafka brokers", cfg.Journal.Backend)
		}
		return nil, nil
	}

	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger creates the application logger. When a Kafka producer and a
// log topic are available, aggregated error reports are shipped there.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	logCfg := &applogger.Config{Level: "debug", Format: "console", Output: "stdout"}
	if cfg.Environment == "production" {
		logCfg.Level = "info"
		logCfg.Format = "json"
	}

	lgr, err := applogger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	if producer != nil && cfg.Kafka.LogTopic != "" {
		lgr.AddCollector(&applogger.CollectorConfig{
			Topic:     cfg.Kafka.LogTopic,
			Publisher: producer,
		})
	}
	return lgr, nil
}

// ProvideClickHouseClient creates a ClickHouse client and initializes the
// journal schema. Returns nil when the journal backend does not use it.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !journalNeedsClickHouse(cfg.Journal.Backend) {
		return nil, nil
	}

	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, internalrepo.SchemaStatements); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideSignalStore creates the signal store.
func ProvideSignalStore() repository.SignalStore {
	return store.NewMemorySignals()
}

// ProvideCredentialStore creates the account credential store.
func ProvideCredentialStore() repository.CredentialStore {
	return store.NewMemoryCredentials()
}

// ProvideInstrumentStore creates the instrument master store.
func ProvideInstrumentStore() repository.InstrumentStore {
	return store.NewMemoryInstruments(nil)
}

// ProvideOutcomeStore selects the journal outcome backend.
func ProvideOutcomeStore(cfg *config.Config, chClient *pkgch.Client, producer *pkgkafka.Producer) (repository.OutcomeStore, error) {
	switch cfg.Journal.Backend {
	case "memory", "":
		return store.NewMemoryOutcomes(), nil
	case "clickhouse":
		return internalrepo.NewClickHouseOutcomes(chClient.DB()), nil
	case "kafka":
		return internalrepo.NewKafkaOutcomes(producer, cfg.Kafka.OutcomeTopic), nil
	case "both":
		return internalrepo.NewMultiOutcomes(
			internalrepo.NewClickHouseOutcomes(chClient.DB()),
			internalrepo.NewKafkaOutcomes(producer, cfg.Kafka.OutcomeTopic),
		), nil
	default:
		return nil, fmt.Errorf("unknown journal backend: %s", cfg.Journal.Backend)
	}
}

// ProvideAuditLogger selects the audit trail backend alongside the outcome
// store: ClickHouse when available, in-memory otherwise.
func ProvideAuditLogger(cfg *config.Config, chClient *pkgch.Client) repository.AuditLogger {
	if chClient != nil {
		return internalrepo.NewClickHouseAudit(chClient.DB())
	}
	return store.NewMemoryAudit()
}

// ProvideBroker creates the REST broker adapter.
func ProvideBroker(cfg *config.Config, lgr *applogger.Logger) repository.Broker {
	return broker.NewRESTBroker(cfg.Broker.BaseURL, cfg.Broker.Timeout, lgr)
}

// ProvideInstrumentCache builds the symbol lookup cache, layering a Redis L2
// over the in-process map when enabled.
func ProvideInstrumentCache(cfg *config.Config) instruments.Cache {
	l1 := instruments.NewMemoryCache()
	if !cfg.Instruments.Redis.Enabled {
		return l1
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Instruments.Redis.Addr,
		Password: cfg.Instruments.Redis.Password,
		DB:       cfg.Instruments.Redis.DB,
	})
	return instruments.NewLayeredCache(l1, instruments.NewRedisCache(client, "instruments"))
}

// ProvideResolver creates the instrument token resolver.
func ProvideResolver(istore repository.InstrumentStore, cache instruments.Cache, lgr *applogger.Logger, cfg *config.Config) *instruments.Resolver {
	return instruments.NewResolver(istore, cache, lgr, cfg.Instruments.CacheTTL)
}

// ProvideValidator creates the batch token validator.
func ProvideValidator(creds repository.CredentialStore, brk repository.Broker, m repository.Metrics, lgr *applogger.Logger, cfg *config.Config) *tokens.Validator {
	return tokens.NewValidator(creds, brk, m, lgr, tokens.ValidatorConfig{
		BatchSize:          cfg.Tokens.BatchSize,
		ExpiryBuffer:       cfg.Tokens.ExpiryBuffer,
		RefreshConcurrency: cfg.Tokens.RefreshConcurrency,
	})
}

// ProvideTokenManager creates the single-account token manager.
func ProvideTokenManager(creds repository.CredentialStore, brk repository.Broker, m repository.Metrics, lgr *applogger.Logger, cfg *config.Config) *tokens.Manager {
	return tokens.NewManager(creds, brk, m, lgr, cfg.Tokens.ExpiryBuffer)
}

// ProvideSweeper creates the scheduled token sweep.
func ProvideSweeper(manager *tokens.Manager, lgr *applogger.Logger, cfg *config.Config) *tokens.Sweeper {
	return tokens.NewSweeper(manager, lgr, cfg.Tokens.SweepSchedule)
}

// ProvideJournal creates the async outcome journal.
func ProvideJournal(outcomes repository.OutcomeStore, audit repository.AuditLogger, m repository.Metrics, lgr *applogger.Logger, cfg *config.Config) *broadcast.Journal {
	return broadcast.NewJournal(outcomes, audit, m, lgr, cfg.Broadcast.JournalBuffer)
}

// ProvideExecutor creates the fast broadcast executor.
func ProvideExecutor(
	signals repository.SignalStore,
	creds repository.CredentialStore,
	brk repository.Broker,
	resolver *instruments.Resolver,
	validator *tokens.Validator,
	journal *broadcast.Journal,
	m repository.Metrics,
	lgr *applogger.Logger,
	cfg *config.Config,
) *broadcast.Executor {
	return broadcast.NewExecutor(signals, creds, brk, resolver, validator, journal, m, lgr, broadcast.Config{
		GlobalDeadline: cfg.Broadcast.GlobalDeadline,
		AccountTimeout: cfg.Broadcast.AccountTimeout,
	})
}

// ProvideQueue creates the durable signal queue.
func ProvideQueue(
	signals repository.SignalStore,
	creds repository.CredentialStore,
	brk repository.Broker,
	resolver *instruments.Resolver,
	validator *tokens.Validator,
	journal *broadcast.Journal,
	m repository.Metrics,
	lgr *applogger.Logger,
	cfg *config.Config,
) *queue.Queue {
	return queue.New(signals, creds, brk, resolver, validator, journal, m, lgr, queue.Config{
		Concurrency:   cfg.Queue.Concurrency,
		PerJobTimeout: cfg.Queue.PerJobTimeout,
		MaxRetries:    cfg.Queue.MaxRetries,
	})
}

// ProvideHTTPHandler creates the ops API handler.
func ProvideHTTPHandler(
	lgr *applogger.Logger,
	executor *broadcast.Executor,
	q *queue.Queue,
	tm *tokens.Manager,
	signals repository.SignalStore,
) xhttp.Handler {
	return api.NewBroadcastHandler(lgr, executor, q, tm, signals)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	lgr *applogger.Logger,
	q *queue.Queue,
	sweeper *tokens.Sweeper,
	journal *broadcast.Journal,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
	handler xhttp.Handler,
) *server.App {
	app := server.New(cfg, lgr, q, sweeper, journal, chClient, producer)
	app.SetHTTPHandler(handler)
	return app
}
