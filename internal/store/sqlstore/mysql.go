package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/podnet/rulevm/internal/store"
)

// MySQLStore is a database/sql-backed store.DeviceStore and
// store.RuleStore using the go-sql-driver/mysql driver.
type MySQLStore struct {
	db        *sql.DB
	pollEvery time.Duration
}

// NewMySQLStore opens a connection pool against dsn.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open mysql: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping mysql: %w", err)
	}
	return &MySQLStore{db: db, pollEvery: 2 * time.Second}, nil
}

// Close releases the pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

// GetDevice implements store.DeviceStore.
func (s *MySQLStore) GetDevice(ctx context.Context, deviceID string) (*store.DeviceDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, relay_status, relay_state, voltage, current, real_power,
		       apparent_power, power_factor, frequency, energy, temperature
		FROM devices WHERE device_id = ?`, deviceID)

	var doc store.DeviceDocument
	var relayStatus []byte
	var relayState sql.NullInt64
	if err := row.Scan(&doc.DeviceID, &relayStatus, &relayState,
		&doc.Voltage, &doc.Current, &doc.RealPower, &doc.ApparentPower,
		&doc.PowerFactor, &doc.Frequency, &doc.Energy, &doc.Temperature); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("sqlstore: device %q not found", deviceID)
		}
		return nil, fmt.Errorf("sqlstore: get device %q: %w", deviceID, err)
	}
	if len(relayStatus) > 0 {
		if err := json.Unmarshal(relayStatus, &doc.RelayStatus); err != nil {
			return nil, fmt.Errorf("sqlstore: decode relay_status for %q: %w", deviceID, err)
		}
	}
	if relayState.Valid {
		v := int(relayState.Int64)
		doc.RelayState = &v
	}
	return &doc, nil
}

// GetGeneratedData implements store.DeviceStore.
func (s *MySQLStore) GetGeneratedData(ctx context.Context, deviceID string, limit int) ([]store.GeneratedDataRecord, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT creation_timestamp, status, relays, temperature
		FROM generated_data
		WHERE device_id = ?
		ORDER BY creation_timestamp DESC
		LIMIT ?`, deviceID, limit)
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
func (s *MySQLStore) WriteRelayState(ctx context.Context, deviceID string, relayIndex, value int, scalar bool) error {
	if scalar {
		_, err := s.db.ExecContext(ctx, `UPDATE devices SET relay_state = ? WHERE device_id = ?`, value, deviceID)
		if err != nil {
			return fmt.Errorf("sqlstore: write scalar relay state for %q: %w", deviceID, err)
		}
		return nil
	}

	var current []byte
	if err := s.db.QueryRowContext(ctx, `SELECT relay_status FROM devices WHERE device_id = ?`, deviceID).Scan(&current); err != nil {
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
	if _, err := s.db.ExecContext(ctx, `UPDATE devices SET relay_status = ? WHERE device_id = ?`, encoded, deviceID); err != nil {
		return fmt.Errorf("sqlstore: write relay_status for %q: %w", deviceID, err)
	}
	return nil
}

// LoadAllRules implements store.RuleStore.
func (s *MySQLStore) LoadAllRules(ctx context.Context) ([]store.RuleDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, name, description, enabled, periodic_execution, conditions,
		       actions, last_executed, execution_count
		FROM rules`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load rules: %w", err)
	}
	defer rows.Close()

	var out []store.RuleDocument
	for rows.Next() {
		doc, err := scanMySQLRuleRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// GetRuleDocument implements store.RuleStore.
func (s *MySQLStore) GetRuleDocument(ctx context.Context, ruleID string) (*store.RuleDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT rule_id, name, description, enabled, periodic_execution, conditions,
		       actions, last_executed, execution_count
		FROM rules WHERE rule_id = ?`, ruleID)
	doc, err := scanMySQLRuleRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("sqlstore: rule %q not found", ruleID)
		}
		return nil, err
	}
	return &doc, nil
}

// UpdateExecutionInfo implements store.RuleStore.
func (s *MySQLStore) UpdateExecutionInfo(ctx context.Context, ruleID string, lastExecution time.Time, executionCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rules SET last_executed = ?, execution_count = ? WHERE rule_id = ?`,
		lastExecution, executionCount, ruleID)
	if err != nil {
		return fmt.Errorf("sqlstore: update execution info for %q: %w", ruleID, err)
	}
	return nil
}

// DecrementOccurrence implements store.RuleStore. MySQL's JSON_SET takes a
// path expression rather than Postgres' jsonb_set array-index syntax.
func (s *MySQLStore) DecrementOccurrence(ctx context.Context, ruleID string, conditionIndex, newValue int) error {
	path := fmt.Sprintf("$[%d].occurrence", conditionIndex)
	_, err := s.db.ExecContext(ctx, `
		UPDATE rules SET conditions = JSON_SET(conditions, ?, ?) WHERE rule_id = ?`,
		path, newValue, ruleID)
	if err != nil {
		return fmt.Errorf("sqlstore: decrement occurrence for %q: %w", ruleID, err)
	}
	return nil
}

// Watch implements store.RuleStore by polling LoadAllRules.
func (s *MySQLStore) Watch(ctx context.Context) (<-chan store.RuleChange, error) {
	ch := make(chan store.RuleChange, 16)
	go pollRuleChanges(ctx, s.LoadAllRules, s.pollEvery, ch)
	return ch, nil
}

func scanMySQLRuleRow(row rowScanner) (store.RuleDocument, error) {
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
