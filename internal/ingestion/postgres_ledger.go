package ingestion

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"call-coach-go/internal/types"
)

const ledgerSchema = `CREATE TABLE IF NOT EXISTS ingestion_events (
	event_id    TEXT PRIMARY KEY,
	call_id     TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
)`

// PostgresLedger relies on the primary key: a conflicting insert affects zero
// rows instead of failing.
type PostgresLedger struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ Ledger = (*PostgresLedger)(nil)

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// OpenPostgres opens and pings a lib/pq connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

func (l *PostgresLedger) insertQuery(event types.IngestionEvent) (string, []any, error) {
	return l.sb.Insert("ingestion_events").
		Columns("event_id", "call_id", "received_at").
		Values(event.EventID, event.CallID, event.ReceivedAt.UTC()).
		Suffix("ON CONFLICT (event_id) DO NOTHING").
		ToSql()
}

func (l *PostgresLedger) Insert(ctx context.Context, event types.IngestionEvent) (bool, error) {
	query, args, err := l.insertQuery(event)
	if err != nil {
		return false, fmt.Errorf("build ledger insert: %w", err)
	}
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("ledger insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger rows affected: %w", err)
	}
	return n == 1, nil
}

func (l *PostgresLedger) Release(ctx context.Context, eventID string) error {
	query, args, err := l.sb.Delete("ingestion_events").Where(sq.Eq{"event_id": eventID}).ToSql()
	if err != nil {
		return fmt.Errorf("build ledger delete: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ledger release: %w", err)
	}
	return nil
}

// Purge deletes entries past the retention horizon and returns how many went.
func (l *PostgresLedger) Purge(ctx context.Context, now time.Time) (int64, error) {
	query, args, err := l.sb.Delete("ingestion_events").
		Where(sq.Lt{"received_at": now.Add(-Retention).UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build ledger purge: %w", err)
	}
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("ledger purge: %w", err)
	}
	return res.RowsAffected()
}
