// Package repository provides the durable OutcomeStore and AuditLogger
// backends: ClickHouse for queryable history, Kafka for downstream
// consumers, and a fan-out combining both.
package repository

import (
	"context"
	"database/sql"
	"time"

	"SignalCast/internal/domain/models"
	"SignalCast/internal/domain/repository"
	pkgkafka "SignalCast/pkg/kafka"
)

// Schema statements for the durable tables. Idempotent; applied at startup
// via clickhouse.Client.InitSchema.
var SchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS order_outcomes (
		signal_id String,
		account_id String,
		broker_order_id String,
		status String,
		error String,
		executed_at Nullable(DateTime),
		recorded_at DateTime DEFAULT now()
	) ENGINE = MergeTree() ORDER BY (signal_id, account_id)`,
	`CREATE TABLE IF NOT EXISTS audit_trail (
		ts DateTime,
		actor String,
		action String,
		signal_id String,
		account_id String,
		detail String
	) ENGINE = MergeTree() ORDER BY (ts, signal_id)`,
}

// ClickHouseOutcomes implements OutcomeStore on ClickHouse.
type ClickHouseOutcomes struct {
	db *sql.DB
}

func NewClickHouseOutcomes(db *sql.DB) repository.OutcomeStore {
	return &ClickHouseOutcomes{db: db}
}

func (s *ClickHouseOutcomes) SaveOutcome(ctx context.Context, o *models.OrderOutcome) error {
	q := `INSERT INTO order_outcomes
		(signal_id, account_id, broker_order_id, status, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	var executedAt interface{}
	if o.ExecutedAt != nil {
		executedAt = *o.ExecutedAt
	}
	_, err := s.db.ExecContext(ctx, q,
		o.SignalID,
		o.AccountID,
		o.BrokerOrderID,
		string(o.Status),
		o.Error,
		executedAt,
	)
	return err
}

// ClickHouseAudit implements AuditLogger on ClickHouse.
type ClickHouseAudit struct {
	db *sql.DB
}

func NewClickHouseAudit(db *sql.DB) repository.AuditLogger {
	return &ClickHouseAudit{db: db}
}

func (a *ClickHouseAudit) Append(ctx context.Context, e *models.AuditEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	q := `INSERT INTO audit_trail (ts, actor, action, signal_id, account_id, detail)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := a.db.ExecContext(ctx, q, ts, e.Actor, e.Action, e.SignalID, e.AccountID, e.Detail)
	return err
}

// KafkaOutcomes implements OutcomeStore by publishing each outcome, keyed
// by signal for per-signal ordering.
type KafkaOutcomes struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaOutcomes(producer *pkgkafka.Producer, topic string) repository.OutcomeStore {
	return &KafkaOutcomes{producer: producer, topic: topic}
}

func (p *KafkaOutcomes) SaveOutcome(ctx context.Context, o *models.OrderOutcome) error {
	payload := map[string]interface{}{
		"signal_id":       o.SignalID,
		"account_id":      o.AccountID,
		"broker_order_id": o.BrokerOrderID,
		"status":          string(o.Status),
		"error":           o.Error,
	}
	if o.ExecutedAt != nil {
		payload["executed_at"] = o.ExecutedAt.UTC().Format(time.RFC3339Nano)
	}
	return p.producer.Publish(ctx, p.topic, []byte(o.SignalID), payload)
}

// MultiOutcomes fans one outcome out to several stores. The first error
// wins but every store is still attempted.
type MultiOutcomes struct {
	stores []repository.OutcomeStore
}

func NewMultiOutcomes(stores ...repository.OutcomeStore) repository.OutcomeStore {
	return &MultiOutcomes{stores: stores}
}

func (m *MultiOutcomes) SaveOutcome(ctx context.Context, o *models.OrderOutcome) error {
	var firstErr error
	for _, s := range m.stores {
		if err := s.SaveOutcome(ctx, o); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
