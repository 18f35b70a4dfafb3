package infrastructure

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/harborfin/ledger/pkg/application"
	"github.com/harborfin/ledger/pkg/domain"
)

// Module provides every dependency the ledger process needs: configuration,
// logging, both store clients, the event log, the command service, the
// projection targets, and the stream consumer with its lifecycle.
var Module = fx.Options(
	fx.Provide(
		LoadConfig,
		LoggerProvider,
		MetricsProvider,
		DatabaseProvider,
		DynamoClientProvider,
		StreamsClientProvider,
		EventLogProvider,
		CheckpointStoreProvider,
		ProjectionTargetsProvider,
		ProjectorProvider,
		AccountServiceProvider,
		StreamConsumerProvider,
		BalanceReaderProvider,
		SummaryReaderProvider,
		QueryServiceProvider,
	),
	fx.Invoke(
		registerDatabaseLifecycle,
		registerConsumerLifecycle,
	),
)

// LoggerProvider builds the process logger from config.
func LoggerProvider(config *Config) domain.Logger {
	return NewLogger(config.Logging.Level, config.Logging.Format)
}

// MetricsProvider builds the in-memory metrics collector.
func MetricsProvider(logger domain.Logger) *LedgerMetrics {
	return NewLedgerMetrics(logger)
}

// DatabaseProvider opens the relational database and migrates the
// projection and checkpoint tables.
func DatabaseProvider(config *Config) (*gorm.DB, error) {
	db, err := NewDatabase(config.Database)
	if err != nil {
		return nil, err
	}
	if err := MigrateProjectionTables(db); err != nil {
		return nil, err
	}
	return db, nil
}

// DynamoClientProvider builds the DynamoDB client.
func DynamoClientProvider(config *Config) (DynamoAPI, error) {
	return NewDynamoDBClient(context.Background(), config.DynamoDB)
}

// StreamsClientProvider builds the DynamoDB Streams client.
func StreamsClientProvider(config *Config) (StreamsAPI, error) {
	return NewStreamsClient(context.Background(), config.DynamoDB)
}

// EventLogProvider builds the DynamoDB-backed event log.
func EventLogProvider(client DynamoAPI, config *Config, logger domain.Logger) domain.EventLog {
	return NewDynamoEventLog(client, config.DynamoDB.EventsTable, config.DynamoDB.VersionsTable, logger)
}

// CheckpointStoreProvider builds the relational checkpoint store.
func CheckpointStoreProvider(db *gorm.DB) CheckpointStore {
	return NewGormCheckpointStore(db)
}

// ProjectionTargetsProvider builds the KV and relational targets.
func ProjectionTargetsProvider(client DynamoAPI, db *gorm.DB, config *Config, logger domain.Logger) []application.ProjectionTarget {
	return []application.ProjectionTarget{
		NewKVProjection(client, config.DynamoDB.BalanceTable, config.DynamoDB.HistoryTable, logger),
		NewRelationalProjection(db, logger),
	}
}

// ProjectorProvider builds the projection service.
func ProjectorProvider(targets []application.ProjectionTarget, logger domain.Logger, metrics *LedgerMetrics) *application.Projector {
	return application.NewProjector(targets, logger, metrics)
}

// AccountServiceProvider builds the command service.
func AccountServiceProvider(log domain.EventLog, config *Config, logger domain.Logger, metrics *LedgerMetrics) *application.AccountService {
	return application.NewAccountService(log, logger, metrics, application.AccountServiceConfig{
		RetryMax:    config.Commands.RetryMax,
		CallTimeout: config.Timeouts.CallTimeout(),
	})
}

// StreamConsumerProvider builds the change-stream consumer.
func StreamConsumerProvider(streams StreamsAPI, checkpoints CheckpointStore, projector *application.Projector,
	config *Config, logger domain.Logger, metrics *LedgerMetrics) (*StreamConsumer, error) {
	policy, err := ParseIteratorPolicy(config.Consumer.IteratorInit)
	if err != nil {
		return nil, err
	}
	return NewStreamConsumer(streams, checkpoints, projector, StreamConsumerConfig{
		StreamARN:          config.DynamoDB.StreamARN,
		Policy:             policy,
		BatchLimit:         int32(config.Consumer.BatchLimit),
		PollInterval:       config.Consumer.PollInterval(),
		RedescribeInterval: config.Consumer.RedescribeInterval(),
	}, logger, metrics), nil
}

// BalanceReaderProvider builds the point-lookup reader.
func BalanceReaderProvider(client DynamoAPI, config *Config) application.BalanceReader {
	return NewKVReader(client, config.DynamoDB.BalanceTable, config.DynamoDB.HistoryTable)
}

// SummaryReaderProvider builds the analytical reader.
func SummaryReaderProvider(db *gorm.DB) application.SummaryReader {
	return NewRelationalReader(db)
}

// QueryServiceProvider builds the query facade.
func QueryServiceProvider(balances application.BalanceReader, summaries application.SummaryReader, logger domain.Logger) *application.QueryService {
	return application.NewQueryService(balances, summaries, logger)
}

func registerDatabaseLifecycle(lc fx.Lifecycle, db *gorm.DB, logger domain.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			if err := sqlDB.PingContext(ctx); err != nil {
				return err
			}
			logger.Info("database connection established")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			logger.Info("closing database connection")
			return sqlDB.Close()
		},
	})
}

// registerConsumerLifecycle runs the stream consumer for the lifetime of the
// process. Stopping cancels the consumer's context and waits for workers to
// finish their in-flight batch; if the stop deadline passes first, the hook
// logs a warning and returns without waiting further.
func registerConsumerLifecycle(lc fx.Lifecycle, consumer *StreamConsumer, metrics *LedgerMetrics, logger domain.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := consumer.Run(runCtx); err != nil {
					logger.Error("stream consumer stopped", "error", err)
				}
			}()
			logger.Info("stream consumer started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
				logger.Warn("shutdown deadline reached before consumer drained")
			}
			metrics.LogSummary()
			return nil
		},
	})
}
