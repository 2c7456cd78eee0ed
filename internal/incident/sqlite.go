package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/straja-ai/vlaguard/internal/incident/migrations"
)

// SQLiteStore persists incidents in a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the incident database and applies migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts one incident.
func (s *SQLiteStore) Record(ctx context.Context, inc Incident) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "record", Err: err}
	}
	if err := inc.Prepare(s.now()); err != nil {
		return &StorageError{Op: "record", Err: err}
	}

	checks, err := json.Marshal(inc.ViolatedChecks)
	if err != nil {
		return &StorageError{Op: "record", Err: fmt.Errorf("encode violated checks: %w", err)}
	}
	raw, err := json.Marshal(inc.RawAction)
	if err != nil {
		return &StorageError{Op: "record", Err: fmt.Errorf("encode raw action: %w", err)}
	}
	var clamped sql.NullString
	if inc.ClampedAction != nil {
		b, err := json.Marshal(inc.ClampedAction)
		if err != nil {
			return &StorageError{Op: "record", Err: fmt.Errorf("encode clamped action: %w", err)}
		}
		clamped = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO incidents (
		   id,
		   occurred_at,
		   request_id,
		   customer_id,
		   robot_type,
		   environment_type,
		   session_id,
		   severity,
		   action_taken,
		   safety_score,
		   violated_checks,
		   raw_action,
		   clamped_action
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID,
		inc.Timestamp.UnixMilli(),
		inc.RequestID,
		inc.CustomerID,
		inc.RobotType,
		inc.EnvironmentType,
		inc.SessionID,
		inc.Severity,
		inc.ActionTaken,
		inc.SafetyScore,
		string(checks),
		string(raw),
		clamped,
	)
	if err != nil {
		return &StorageError{Op: "record", Err: fmt.Errorf("insert incident %s: %w", inc.ID, err)}
	}
	return nil
}

// List returns incidents newest first, optionally scoped to one customer.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Incident, error) {
	query := `SELECT id, occurred_at, request_id, customer_id, robot_type, environment_type,
	       session_id, severity, action_taken, safety_score, violated_checks, raw_action, clamped_action
	  FROM incidents`
	args := []any{}
	if f.CustomerID != "" {
		query += ` WHERE customer_id = ?`
		args = append(args, f.CustomerID)
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	args = append(args, f.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, &StorageError{Op: "list", Err: err}
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return out, nil
}

// Get returns one incident by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Incident, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, occurred_at, request_id, customer_id, robot_type, environment_type,
		        session_id, severity, action_taken, safety_score, violated_checks, raw_action, clamped_action
		   FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return Incident{}, false, nil
	}
	if err != nil {
		return Incident{}, false, &StorageError{Op: "get", Err: err}
	}
	return inc, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIncident(sc scanner) (Incident, error) {
	var (
		inc         Incident
		occurredAt  int64
		checks, raw string
		clamped     sql.NullString
	)
	if err := sc.Scan(
		&inc.ID,
		&occurredAt,
		&inc.RequestID,
		&inc.CustomerID,
		&inc.RobotType,
		&inc.EnvironmentType,
		&inc.SessionID,
		&inc.Severity,
		&inc.ActionTaken,
		&inc.SafetyScore,
		&checks,
		&raw,
		&clamped,
	); err != nil {
		return Incident{}, err
	}
	inc.Timestamp = time.UnixMilli(occurredAt).UTC()
	if err := json.Unmarshal([]byte(checks), &inc.ViolatedChecks); err != nil {
		return Incident{}, fmt.Errorf("decode violated checks: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &inc.RawAction); err != nil {
		return Incident{}, fmt.Errorf("decode raw action: %w", err)
	}
	if clamped.Valid {
		if err := json.Unmarshal([]byte(clamped.String), &inc.ClampedAction); err != nil {
			return Incident{}, fmt.Errorf("decode clamped action: %w", err)
		}
	}
	return inc, nil
}
