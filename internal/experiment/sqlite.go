package experiment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore persists experiments in SQLite so state-machine invariants and
// wait timestamps survive process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and runs migrations.
// An empty path uses an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under the engine's read-modify-write pattern.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS experiments (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			state TEXT NOT NULL,
			config TEXT NOT NULL,
			variants TEXT NOT NULL,
			next_variant INTEGER NOT NULL DEFAULT 0,
			winner INTEGER,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			last_published_at INTEGER,
			concluded_at INTEGER,
			next_action_at INTEGER
		)
	`)
	if err != nil {
		return fmt.Errorf("create experiments table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_experiments_campaign ON experiments(campaign_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_experiments_due ON experiments(next_action_at) WHERE next_action_at IS NOT NULL",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Create stores a new experiment.
func (s *SQLiteStore) Create(ctx context.Context, exp *Experiment) error {
	cfg, variants, err := marshalExperiment(exp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO experiments
			(id, campaign_id, state, config, variants, next_variant, winner,
			 failure_reason, created_at, last_published_at, concluded_at, next_action_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exp.ID, exp.CampaignID, string(exp.State), cfg, variants, exp.NextVariant,
		nullableInt(exp.Winner), exp.FailureReason, exp.CreatedAt.UnixNano(),
		nullableTime(exp.LastPublishedAt), nullableTime(exp.ConcludedAt),
		nextActionNano(exp),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert experiment: %w", err)
	}
	return nil
}

// Get returns the experiment by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" FROM experiments WHERE id = ?", id)
	exp, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return exp, err
}

// Update replaces the stored record.
func (s *SQLiteStore) Update(ctx context.Context, exp *Experiment) error {
	cfg, variants, err := marshalExperiment(exp)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE experiments
		SET state = ?, config = ?, variants = ?, next_variant = ?, winner = ?,
			failure_reason = ?, last_published_at = ?, concluded_at = ?, next_action_at = ?
		WHERE id = ?
	`,
		string(exp.State), cfg, variants, exp.NextVariant, nullableInt(exp.Winner),
		exp.FailureReason, nullableTime(exp.LastPublishedAt),
		nullableTime(exp.ConcludedAt), nextActionNano(exp), exp.ID,
	)
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByCampaign returns the campaign's experiments, most recent first.
func (s *SQLiteStore) ListByCampaign(ctx context.Context, campaignID string) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+" FROM experiments WHERE campaign_id = ? ORDER BY created_at DESC",
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()
	return scanExperiments(rows)
}

// Due returns non-terminal experiments whose next action time has arrived.
func (s *SQLiteStore) Due(ctx context.Context, now time.Time, limit int) ([]*Experiment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM experiments
		 WHERE next_action_at IS NOT NULL AND next_action_at <= ?
		 ORDER BY next_action_at ASC LIMIT ?`,
		now.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due experiments: %w", err)
	}
	defer rows.Close()
	return scanExperiments(rows)
}

// CountByState returns the number of experiments per state.
func (s *SQLiteStore) CountByState(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT state, COUNT(*) FROM experiments GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("count experiments: %w", err)
	}
	defer rows.Close()
	counts := make(map[State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[State(state)] = n
	}
	return counts, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, campaign_id, state, config, variants, next_variant,
	winner, failure_reason, created_at, last_published_at, concluded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var (
		exp          Experiment
		state        string
		cfgJSON      string
		variantsJSON string
		winner       sql.NullInt64
		createdAt    int64
		lastPub      sql.NullInt64
		concluded    sql.NullInt64
	)
	err := row.Scan(&exp.ID, &exp.CampaignID, &state, &cfgJSON, &variantsJSON,
		&exp.NextVariant, &winner, &exp.FailureReason, &createdAt, &lastPub, &concluded)
	if err != nil {
		return nil, err
	}
	exp.State = State(state)
	if err := json.Unmarshal([]byte(cfgJSON), &exp.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := json.Unmarshal([]byte(variantsJSON), &exp.Variants); err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}
	if winner.Valid {
		w := int(winner.Int64)
		exp.Winner = &w
	}
	exp.CreatedAt = time.Unix(0, createdAt).UTC()
	if lastPub.Valid {
		t := time.Unix(0, lastPub.Int64).UTC()
		exp.LastPublishedAt = &t
	}
	if concluded.Valid {
		t := time.Unix(0, concluded.Int64).UTC()
		exp.ConcludedAt = &t
	}
	return &exp, nil
}

func scanExperiments(rows *sql.Rows) ([]*Experiment, error) {
	var out []*Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}

func marshalExperiment(exp *Experiment) (cfg string, variants string, err error) {
	cfgBytes, err := json.Marshal(exp.Config)
	if err != nil {
		return "", "", fmt.Errorf("encode config: %w", err)
	}
	variantBytes, err := json.Marshal(exp.Variants)
	if err != nil {
		return "", "", fmt.Errorf("encode variants: %w", err)
	}
	return string(cfgBytes), string(variantBytes), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nextActionNano(exp *Experiment) any {
	at, ok := exp.NextActionAt()
	if !ok {
		return nil
	}
	return at.UnixNano()
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
