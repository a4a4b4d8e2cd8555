package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Search status values.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

var (
	// ErrConflict is returned with the active search sharing an idempotency key.
	ErrConflict = errors.New("idempotent search already active")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
)

// Store wraps SQLite access for searches and payments.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: concurrent sqlite writers otherwise fail with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS searches (
			id TEXT PRIMARY KEY,
			query TEXT,
			location TEXT,
			radius INTEGER,
			status TEXT,
			idempotency_key TEXT,
			result_count INTEGER DEFAULT 0,
			results_json TEXT,
			error TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_searches_idem ON searches(idempotency_key, status);`,
		`CREATE INDEX IF NOT EXISTS idx_searches_created ON searches(created_at);`,
		`CREATE TABLE IF NOT EXISTS search_logs (
			search_id TEXT,
			line TEXT,
			created_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_search_logs_search ON search_logs(search_id);`,
		`CREATE TABLE IF NOT EXISTS payments (
			intent_id TEXT PRIMARY KEY,
			status TEXT,
			amount_cents INTEGER,
			currency TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Search is one analysis request and, once finished, its results.
type Search struct {
	ID             string     `json:"search_id"`
	Query          string     `json:"query"`
	Location       string     `json:"location"`
	Radius         int        `json:"radius"`
	Status         string     `json:"status"`
	IdempotencyKey string     `json:"-"`
	ResultCount    int        `json:"result_count"`
	ResultsJSON    *string    `json:"-"`
	Error          *string    `json:"error"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
}

// Payment is a processor intent this service has seen succeed or fail.
type Payment struct {
	IntentID    string    `json:"intent_id"`
	Status      string    `json:"status"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const searchColumns = `id, query, location, radius, status, idempotency_key, result_count, results_json, error, created_at, updated_at, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSearch(row scanner) (*Search, error) {
	var sr Search
	var idem, results, errMsg sql.NullString
	var started, finished sql.NullTime
	if err := row.Scan(&sr.ID, &sr.Query, &sr.Location, &sr.Radius, &sr.Status, &idem, &sr.ResultCount, &results, &errMsg, &sr.CreatedAt, &sr.UpdatedAt, &started, &finished); err != nil {
		return nil, err
	}
	sr.IdempotencyKey = idem.String
	if results.Valid {
		sr.ResultsJSON = &results.String
	}
	if errMsg.Valid {
		sr.Error = &errMsg.String
	}
	if started.Valid {
		sr.StartedAt = &started.Time
	}
	if finished.Valid {
		sr.FinishedAt = &finished.Time
	}
	return &sr, nil
}

// CreateSearch inserts sr as given.
func (s *Store) CreateSearch(ctx context.Context, sr *Search) (*Search, error) {
	if sr.Status == "" {
		sr.Status = StatusQueued
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO searches(id, query, location, radius, status, idempotency_key, result_count, results_json, error, created_at, updated_at, started_at, finished_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sr.ID, sr.Query, sr.Location, sr.Radius, sr.Status, sr.IdempotencyKey, sr.ResultCount, sr.ResultsJSON, sr.Error, sr.CreatedAt, sr.UpdatedAt, sr.StartedAt, sr.FinishedAt)
	if err != nil {
		return nil, err
	}
	return sr, nil
}

// FetchActiveByIdempotency returns the queued or running search with key, or nil.
func (s *Store) FetchActiveByIdempotency(ctx context.Context, key string) (*Search, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+searchColumns+` FROM searches WHERE idempotency_key=? AND status IN (?, ?) ORDER BY created_at DESC LIMIT 1`,
		key, StatusQueued, StatusRunning)
	sr, err := scanSearch(row)
	switch {
	case err == nil:
		return sr, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	default:
		return nil, err
	}
}

// InsertSearchIdempotent records sr unless an active search shares its key.
// Finished searches never block a new one.
func (s *Store) InsertSearchIdempotent(ctx context.Context, sr *Search) (*Search, error) {
	existing, err := s.FetchActiveByIdempotency(ctx, sr.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrConflict
	}
	return s.CreateSearch(ctx, sr)
}

func (s *Store) GetSearch(ctx context.Context, id string) (*Search, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+searchColumns+` FROM searches WHERE id=?`, id)
	sr, err := scanSearch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sr, err
}

func (s *Store) ListSearches(ctx context.Context, limit int) ([]Search, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+searchColumns+` FROM searches ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Search
	for rows.Next() {
		sr, err := scanSearch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sr)
	}
	return out, rows.Err()
}

func (s *Store) MarkSearchStarted(ctx context.Context, id string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE searches SET status=?, started_at=?, updated_at=? WHERE id=?`, StatusRunning, ts, ts, id)
	return err
}

// FinishSearch stores the terminal status, the serialized results and an optional error.
func (s *Store) FinishSearch(ctx context.Context, id, status string, count int, resultsJSON, errMsg *string, ts time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE searches SET status=?, result_count=?, results_json=?, error=?, finished_at=?, updated_at=? WHERE id=?`,
		status, count, resultsJSON, errMsg, ts, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailActiveSearches marks every queued or running search failed with errMsg.
// It returns how many searches were changed.
func (s *Store) FailActiveSearches(ctx context.Context, errMsg string, ts time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE searches SET status=?, error=?, finished_at=?, updated_at=? WHERE status IN (?, ?)`,
		StatusFailed, errMsg, ts, ts, StatusQueued, StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) AppendSearchLog(ctx context.Context, id, line string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO search_logs(search_id, line, created_at) VALUES(?,?,?)`, id, line, ts)
	return err
}

func (s *Store) SearchLogs(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT line FROM search_logs WHERE search_id=? ORDER BY created_at ASC, rowid ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// RecordPayment upserts the latest known state of a payment intent.
func (s *Store) RecordPayment(ctx context.Context, p Payment) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO payments(intent_id, status, amount_cents, currency, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(intent_id) DO UPDATE SET status=excluded.status, amount_cents=excluded.amount_cents, currency=excluded.currency, updated_at=excluded.updated_at`,
		p.IntentID, p.Status, p.AmountCents, p.Currency, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *Store) GetPayment(ctx context.Context, intentID string) (*Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT intent_id, status, amount_cents, currency, created_at, updated_at FROM payments WHERE intent_id=?`, intentID)
	var p Payment
	if err := row.Scan(&p.IntentID, &p.Status, &p.AmountCents, &p.Currency, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// PurgeSearchesBefore deletes finished searches created before cutoff, with their logs.
func (s *Store) PurgeSearchesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM search_logs WHERE search_id IN (SELECT id FROM searches WHERE created_at < ? AND status IN (?, ?))`,
		cutoff, StatusSucceeded, StatusFailed); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM searches WHERE created_at < ? AND status IN (?, ?)`, cutoff, StatusSucceeded, StatusFailed)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}
