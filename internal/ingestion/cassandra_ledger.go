package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"call-coach-go/internal/types"
)

const cassandraLedgerTable = `CREATE TABLE IF NOT EXISTS ingestion_events (
	event_id text PRIMARY KEY,
	call_id text,
	received_at timestamp
)`

// CassandraLedger uses a lightweight transaction (IF NOT EXISTS) for the
// unique insert. Entries expire through a row TTL.
type CassandraLedger struct {
	session *gocql.Session
}

var _ Ledger = (*CassandraLedger)(nil)

func NewCassandraLedger(session *gocql.Session) *CassandraLedger {
	return &CassandraLedger{session: session}
}

// ConnectCassandra opens a session at QUORUM consistency.
func ConnectCassandra(hosts []string, keyspace string) (*gocql.Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.Serial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Cassandra: %w", err)
	}
	return session, nil
}

func (l *CassandraLedger) EnsureSchema(ctx context.Context) error {
	if err := l.session.Query(cassandraLedgerTable).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

func (l *CassandraLedger) Insert(ctx context.Context, event types.IngestionEvent) (bool, error) {
	query := `
		INSERT INTO ingestion_events (event_id, call_id, received_at)
		VALUES (?, ?, ?)
		IF NOT EXISTS
		USING TTL ?
	`
	existing := map[string]any{}
	applied, err := l.session.Query(query,
		event.EventID, event.CallID, event.ReceivedAt.UTC(), int(Retention/time.Second),
	).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return false, fmt.Errorf("cassandra ledger insert: %w", err)
	}
	return applied, nil
}

func (l *CassandraLedger) Release(ctx context.Context, eventID string) error {
	err := l.session.Query(`DELETE FROM ingestion_events WHERE event_id = ? IF EXISTS`, eventID).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("cassandra ledger release: %w", err)
	}
	return nil
}
