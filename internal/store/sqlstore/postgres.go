// Package sqlstore implements store.DeviceStore and store.RuleStore against
// a relational schema, selected at startup by config.StoreConfig.Driver.
// PostgresStore uses pgx/v5's native pgxpool rather than database/sql, the
// way the teacher favors a library's native API over the stdlib driver
// shim wherever the corpus shows it used natively; MySQLStore (mysql.go)
// has no such native pool client in the example pack, so it goes through
// database/sql + go-sql-driver/mysql instead (see DESIGN.md).
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podnet/rulevm/internal/store"
)

// PostgresStore is a pgxpool-backed store.DeviceStore and store.RuleStore.
// Rule change notifications are polled (Watch) rather than pushed, since
// the conditions/actions documents are stored as opaque JSONB blobs and a
// LISTEN/NOTIFY trigger is out of scope for this module.
type PostgresStore struct {
	pool      *pgxpool.Pool
	pollEvery time.Duration
}

// NewPostgresStore opens a connection pool against dsn.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlstore: ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool, pollEvery: 2 * time.Second}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// GetDevice implements store.DeviceStore.
func (s *PostgresStore) GetDevice(ctx context.Context, deviceID string) (*store.DeviceDocument, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT device_id, relay_status, relay_state, voltage, current, real_power,
		       apparent_power, power_factor, frequency, energy, temperature
		FROM devices WHERE device_id = $1`, deviceID)

	var doc store.DeviceDocument
	var relayStatus []byte
	var relayState *int
	if err := row.Scan(&doc.DeviceID, &relayStatus, &relayState,
		&doc.Voltage, &doc.Current, &doc.RealPower, &doc.ApparentPower,
		&doc.PowerFactor, &doc.Frequency, &doc.Energy, &doc.Temperature); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("sqlstore: device %q not found", deviceID)
		}
		return nil, fmt.Errorf("sqlstore: get device %q: %w", deviceID, err)
	}
	if len(relayStatus) > 0 {
		if err := json.Unmarshal(relayStatus, &doc.RelayStatus); err != nil {
			return nil, fmt.Errorf("sqlstore: decode relay_status for %q: %w", deviceID, err)
		}
	}
	doc.RelayState = relayState
	return &doc, nil
}

// GetGeneratedData implements store.DeviceStore.
func (s *PostgresStore) GetGeneratedData(ctx context.Context, deviceID string, limit int) ([]store.GeneratedDataRecord, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.pool.Query(ctx, `
		SELECT creation_timestamp, status, relays, temperature
		FROM generated_data
		WHERE device_id = $1
		ORDER BY creation_timestamp DESC
		LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get generated data for %q: %w", deviceID, err)
	}
	defer rows.Close()

	var out []store.GeneratedDataRecord
	for rows.Next() {
		var rec store.GeneratedDataRecord
		var relays []byte
		if err := rows.Scan(&rec.CreationTimestamp, &rec.Status, &relays, &rec.Temperature); err != nil {
			return nil, fmt.Errorf("sqlstore: scan generated data for %q: %w", deviceID, err)
		}
		if len(relays) > 0 {
			if err := json.Unmarshal(relays, &rec.Relays); err != nil {
				return nil, fmt.Errorf("sqlstore: decode relays for %q: %w", deviceID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// WriteRelayState implements store.DeviceStore.
func (s *PostgresStore) WriteRelayState(ctx context.Context, deviceID string, relayIndex, value int, scalar bool) error {
	if scalar {
		_, err := s.pool.Exec(ctx, `UPDATE devices SET relay_state = $2 WHERE device_id = $1`, deviceID, value)
		if err != nil {
			return fmt.Errorf("sqlstore: write scalar relay state for %q: %w", deviceID, err)
		}
		return nil
	}

	var current []byte
	if err := s.pool.QueryRow(ctx, `SELECT relay_status FROM devices WHERE device_id = $1`, deviceID).Scan(&current); err != nil {
		return fmt.Errorf("sqlstore: read relay_status for %q: %w", deviceID, err)
	}
	var relays []int
	if len(current) > 0 {
		if err := json.Unmarshal(current, &relays); err != nil {
			return fmt.Errorf("sqlstore: decode relay_status for %q: %w", deviceID, err)
		}
	}
	for len(relays) <= relayIndex {
		relays = append(relays, 0)
	}
	relays[relayIndex] = value

	encoded, err := json.Marshal(relays)
	if err != nil {
		return fmt.Errorf("sqlstore: encode relay_status for %q: %w", deviceID, err)
	}
	if _, err := s.pool.Exec(ctx, `UPDATE devices SET relay_status = $2 WHERE device_id = $1`, deviceID, encoded); err != nil {
		return fmt.Errorf("sqlstore: write relay_status for %q: %w", deviceID, err)
	}
	return nil
}

// LoadAllRules implements store.RuleStore.
func (s *PostgresStore) LoadAllRules(ctx context.Context) ([]store.RuleDocument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rule_id, name, description, enabled, periodic_execution, conditions,
		       actions, last_executed, execution_count
		FROM rules`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load rules: %w", err)
	}
	defer rows.Close()

	var out []store.RuleDocument
	for rows.Next() {
		doc, err := scanRuleRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// GetRuleDocument implements store.RuleStore.
func (s *PostgresStore) GetRuleDocument(ctx context.Context, ruleID string) (*store.RuleDocument, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT rule_id, name, description, enabled, periodic_execution, conditions,
		       actions, last_executed, execution_count
		FROM rules WHERE rule_id = $1`, ruleID)
	doc, err := scanRuleRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("sqlstore: rule %q not found", ruleID)
		}
		return nil, err
	}
	return &doc, nil
}

// UpdateExecutionInfo implements store.RuleStore.
func (s *PostgresStore) UpdateExecutionInfo(ctx context.Context, ruleID string, lastExecution time.Time, executionCount int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rules SET last_executed = $2, execution_count = $3 WHERE rule_id = $1`,
		ruleID, lastExecution, executionCount)
	if err != nil {
		return fmt.Errorf("sqlstore: update execution info for %q: %w", ruleID, err)
	}
	return nil
}

// DecrementOccurrence implements store.RuleStore.
func (s *PostgresStore) DecrementOccurrence(ctx context.Context, ruleID string, conditionIndex, newValue int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rules SET conditions = jsonb_set(conditions, $2, to_jsonb($3::int))
		WHERE rule_id = $1`,
		ruleID, fmt.Sprintf("{%d,occurrence}", conditionIndex), newValue)
	if err != nil {
		return fmt.Errorf("sqlstore: decrement occurrence for %q: %w", ruleID, err)
	}
	return nil
}

// Watch implements store.RuleStore by polling LoadAllRules every
// pollEvery and diffing against the previous snapshot.
func (s *PostgresStore) Watch(ctx context.Context) (<-chan store.RuleChange, error) {
	ch := make(chan store.RuleChange, 16)
	go pollRuleChanges(ctx, s.LoadAllRules, s.pollEvery, ch)
	return ch, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRuleRow(row rowScanner) (store.RuleDocument, error) {
	var doc store.RuleDocument
	var conditions, actions []byte
	var lastExecuted *time.Time
	if err := row.Scan(&doc.RuleID, &doc.Name, &doc.Description, &doc.Enabled,
		&doc.PeriodicExecution, &conditions, &actions, &lastExecuted, &doc.ExecutionCount); err != nil {
		return doc, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &doc.Conditions); err != nil {
			return doc, fmt.Errorf("sqlstore: decode conditions for %q: %w", doc.RuleID, err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &doc.Actions); err != nil {
			return doc, fmt.Errorf("sqlstore: decode actions for %q: %w", doc.RuleID, err)
		}
	}
	doc.LastExecuted = lastExecuted
	return doc, nil
}
