package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"x12ack/internal/domain"
	"x12ack/internal/rules"
	"x12ack/internal/storage"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS rule_sets (
	transaction_id TEXT PRIMARY KEY,
	profile_json TEXT,
	updated_at_utc_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_mandatory (
	transaction_id TEXT NOT NULL REFERENCES rule_sets(transaction_id) ON DELETE CASCADE,
	ordinal INTEGER NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (transaction_id, ordinal)
);

CREATE TABLE IF NOT EXISTS rule_max_use (
	transaction_id TEXT NOT NULL REFERENCES rule_sets(transaction_id) ON DELETE CASCADE,
	ordinal INTEGER NOT NULL,
	tag TEXT NOT NULL,
	max_limit INTEGER NOT NULL,
	PRIMARY KEY (transaction_id, ordinal)
);

CREATE TABLE IF NOT EXISTS validation_runs (
	run_id TEXT PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	transaction_id TEXT NOT NULL,
	ack_status TEXT NOT NULL,
	status TEXT NOT NULL,
	fatal_error_count INTEGER NOT NULL,
	error_count INTEGER NOT NULL,
	result_json TEXT NOT NULL,
	ack_997 TEXT NOT NULL,
	report TEXT NOT NULL,
	source TEXT NOT NULL,
	source_ref TEXT NOT NULL,
	created_at_utc_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_correlation ON validation_runs(correlation_id, created_at_utc_ns);
CREATE INDEX IF NOT EXISTS idx_runs_transaction ON validation_runs(transaction_id, created_at_utc_ns);

CREATE TRIGGER IF NOT EXISTS trg_runs_no_update
BEFORE UPDATE ON validation_runs
BEGIN
	SELECT RAISE(ABORT, 'validation_runs are append-only: UPDATE forbidden');
END;

CREATE TRIGGER IF NOT EXISTS trg_runs_no_delete
BEFORE DELETE ON validation_runs
BEGIN
	SELECT RAISE(ABORT, 'validation_runs are append-only: DELETE forbidden');
END;
`

// Store keeps rule sets and the run archive in one SQLite database.
type Store struct {
	db *sql.DB
}

var (
	_ storage.RuleStore  = (*Store)(nil)
	_ storage.RunArchive = (*Store)(nil)
	_ rules.Lookup       = (*Store)(nil)
)

func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir store dir: %w", err)
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutRuleSet replaces the stored rule set for rs.TransactionID. The compare
// block is stored as written; a resolved Profile is not persisted.
func (s *Store) PutRuleSet(ctx context.Context, rs domain.RuleSet) error {
	if rs.TransactionID == "" {
		return errors.New("transaction id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var profile any
	if rs.Compare != nil {
		data, err := rules.EncodeProfileJSON(*rs.Compare)
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}
		profile = string(data)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO rule_sets(transaction_id, profile_json, updated_at_utc_ns) VALUES(?, ?, ?)
ON CONFLICT(transaction_id) DO UPDATE SET profile_json=excluded.profile_json, updated_at_utc_ns=excluded.updated_at_utc_ns`,
		rs.TransactionID, profile, time.Now().UTC().UnixNano()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_mandatory WHERE transaction_id=?`, rs.TransactionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_max_use WHERE transaction_id=?`, rs.TransactionID); err != nil {
		return err
	}
	for i, tag := range rs.MandatorySegments {
		if _, err := tx.ExecContext(ctx, `INSERT INTO rule_mandatory(transaction_id, ordinal, tag) VALUES(?, ?, ?)`, rs.TransactionID, i, tag); err != nil {
			return err
		}
	}
	for i, mu := range rs.MaxUse {
		if _, err := tx.ExecContext(ctx, `INSERT INTO rule_max_use(transaction_id, ordinal, tag, max_limit) VALUES(?, ?, ?, ?)`, rs.TransactionID, i, mu.Tag, mu.Limit); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ImportRuleSets stores every set in one transaction per set.
func (s *Store) ImportRuleSets(ctx context.Context, sets []domain.RuleSet) error {
	for _, rs := range sets {
		if err := s.PutRuleSet(ctx, rs); err != nil {
			return fmt.Errorf("import %s: %w", rs.TransactionID, err)
		}
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, transactionID string) (domain.RuleSet, bool, error) {
	var profile sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT profile_json FROM rule_sets WHERE transaction_id=?`, transactionID).Scan(&profile)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RuleSet{}, false, nil
	}
	if err != nil {
		return domain.RuleSet{}, false, err
	}
	rs := domain.RuleSet{TransactionID: transactionID}
	if profile.Valid {
		o, err := rules.ParseProfileJSON([]byte(profile.String))
		if err != nil {
			return domain.RuleSet{}, false, fmt.Errorf("decode profile for %s: %w", transactionID, err)
		}
		rs.Compare = o
	}

	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM rule_mandatory WHERE transaction_id=? ORDER BY ordinal`, transactionID)
	if err != nil {
		return domain.RuleSet{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return domain.RuleSet{}, false, err
		}
		rs.MandatorySegments = append(rs.MandatorySegments, tag)
	}
	if err := rows.Err(); err != nil {
		return domain.RuleSet{}, false, err
	}

	limits, err := s.db.QueryContext(ctx, `SELECT tag, max_limit FROM rule_max_use WHERE transaction_id=? ORDER BY ordinal`, transactionID)
	if err != nil {
		return domain.RuleSet{}, false, err
	}
	defer limits.Close()
	for limits.Next() {
		var mu domain.MaxUse
		if err := limits.Scan(&mu.Tag, &mu.Limit); err != nil {
			return domain.RuleSet{}, false, err
		}
		rs.MaxUse = append(rs.MaxUse, mu)
	}
	return rs, true, limits.Err()
}

func (s *Store) ListTransactions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT transaction_id FROM rule_sets ORDER BY transaction_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AppendRun archives out. Re-appending an existing run id is a no-op.
func (s *Store) AppendRun(ctx context.Context, out domain.Outcome) error {
	rec, err := toRecord(out)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO validation_runs(
	run_id, correlation_id, transaction_id, ack_status, status,
	fatal_error_count, error_count, result_json, ack_997, report,
	source, source_ref, created_at_utc_ns
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO NOTHING`,
		rec.RunID, rec.CorrelationID, rec.TransactionID, rec.AckStatus, rec.Status,
		rec.FatalErrorCount, rec.ErrorCount, rec.ResultJSON, rec.Ack997, rec.Report,
		rec.Source, rec.SourceRef, rec.CreatedAtUTCNs)
	return err
}

func (s *Store) GetRun(ctx context.Context, runID string) (domain.Outcome, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, correlation_id, transaction_id, ack_status, status,
	fatal_error_count, error_count, result_json, ack_997, report,
	source, source_ref, created_at_utc_ns
FROM validation_runs WHERE run_id=?`, runID)
	var rec storage.RunRecord
	err := row.Scan(&rec.RunID, &rec.CorrelationID, &rec.TransactionID, &rec.AckStatus, &rec.Status,
		&rec.FatalErrorCount, &rec.ErrorCount, &rec.ResultJSON, &rec.Ack997, &rec.Report,
		&rec.Source, &rec.SourceRef, &rec.CreatedAtUTCNs)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Outcome{}, false, nil
	}
	if err != nil {
		return domain.Outcome{}, false, err
	}
	out, err := fromRecord(rec)
	if err != nil {
		return domain.Outcome{}, false, err
	}
	return out, true, nil
}

func toRecord(out domain.Outcome) (storage.RunRecord, error) {
	if out.RunID == "" {
		return storage.RunRecord{}, errors.New("run id is required")
	}
	result, err := json.Marshal(out.Result)
	if err != nil {
		return storage.RunRecord{}, fmt.Errorf("encode result: %w", err)
	}
	return storage.RunRecord{
		RunID:           out.RunID,
		CorrelationID:   out.CorrelationID,
		TransactionID:   out.Result.Transaction(),
		AckStatus:       string(out.Result.AckStatus),
		Status:          string(out.Status),
		FatalErrorCount: out.FatalErrorCount,
		ErrorCount:      out.ErrorCount,
		ResultJSON:      string(result),
		Ack997:          out.Ack,
		Report:          out.Report,
		Source:          out.Source,
		SourceRef:       out.SourceRef,
		CreatedAtUTCNs:  out.CreatedAtUTC.UTC().UnixNano(),
	}, nil
}

func fromRecord(rec storage.RunRecord) (domain.Outcome, error) {
	var result domain.ValidationResult
	if err := json.Unmarshal([]byte(rec.ResultJSON), &result); err != nil {
		return domain.Outcome{}, fmt.Errorf("decode result %s: %w", rec.RunID, err)
	}
	return domain.Outcome{
		RunID:           rec.RunID,
		CorrelationID:   rec.CorrelationID,
		Result:          result,
		Status:          domain.Status(rec.Status),
		FatalErrorCount: rec.FatalErrorCount,
		ErrorCount:      rec.ErrorCount,
		Ack:             rec.Ack997,
		Report:          rec.Report,
		Source:          rec.Source,
		SourceRef:       rec.SourceRef,
		CreatedAtUTC:    time.Unix(0, rec.CreatedAtUTCNs).UTC(),
	}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}
