// Package audit persists one row per proxied exchange in SQLite.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/aiswitch/pkg/models"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("audit record not found")

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02 15:04:05.000000000"

// Observer is notified of failed store operations.
type Observer interface {
	ObserveAuditError(op string)
}

// Option configures a Store.
type Option func(*Store)

// WithObserver reports failures to o.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store serializes all access through one connection and one mutex so that
// the id returned by Insert always belongs to the row just written.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	now      func() time.Time
	observer Observer
}

// Open opens (creating if needed) the audit database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if file := dbFile(path); file != "" && file != ":memory:" {
		if dir := filepath.Dir(file); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create audit dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

const pragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// dsn appends the store pragmas to path, which may already carry a query
// string or be a file: URI.
func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return path + "?" + pragmas
}

// dbFile strips a file: scheme and any query from path.
func dbFile(path string) string {
	file, _, _ := strings.Cut(path, "?")
	return strings.TrimPrefix(file, "file:")
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS requests (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		provider_id           TEXT NOT NULL,
		is_chat               INTEGER NOT NULL,
		request_body          TEXT NOT NULL,
		response_body         TEXT,
		request_started_at    TEXT NOT NULL,
		response_completed_at TEXT,
		model                 TEXT NOT NULL,
		prompt_tokens         INTEGER,
		completion_tokens     INTEGER,
		tokens_per_second     INTEGER
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_requests_started ON requests(request_started_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_requests_provider_model ON requests(provider_id, model)`)
	return err
}

// Insert records a new exchange with no completion fields and returns its id.
func (s *Store) Insert(ctx context.Context, providerID string, isChat bool, requestBody, model string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (provider_id, is_chat, request_body, request_started_at, model)
		 VALUES (?, ?, ?, ?, ?)`,
		providerID, isChat, requestBody, s.stamp(), model)
	if err != nil {
		s.fail("insert")
		return 0, fmt.Errorf("insert audit record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		s.fail("insert")
		return 0, fmt.Errorf("insert audit record: %w", err)
	}
	return id, nil
}

// Complete stamps the row with its outcome. It is best-effort: failures are
// logged and swallowed, a nil store or zero id is a no-op, and a row that
// was already completed is left untouched.
func (s *Store) Complete(ctx context.Context, id int64, c models.Completion) {
	if s == nil || s.db == nil || id <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET response_body = ?, response_completed_at = ?,
		 prompt_tokens = ?, completion_tokens = ?, tokens_per_second = ?
		 WHERE id = ? AND response_completed_at IS NULL`,
		c.ResponseBody, s.stamp(),
		nullable(c.PromptTokens), nullable(c.CompletionTokens), nullable(c.TokensPerSecond),
		id)
	if err != nil {
		s.fail("complete")
		log.Warn().Err(err).Int64("log_id", id).Msg("audit complete failed")
		return
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		log.Debug().Int64("log_id", id).Msg("audit record missing or already completed")
	}
}

var sortColumns = map[string]string{
	"id":                "id",
	"timestamp":         "request_started_at",
	"request_time":      "request_started_at",
	"response_time":     "response_completed_at",
	"provider_id":       "provider_id",
	"is_chat":           "is_chat",
	"chat":              "is_chat",
	"model":             "model",
	"prompt_tokens":     "prompt_tokens",
	"completion_tokens": "completion_tokens",
	"tokens_per_second": "tokens_per_second",
	"speed":             "tokens_per_second",
}

const selectColumns = `id, provider_id, is_chat, request_body, response_body,
	request_started_at, response_completed_at, model,
	prompt_tokens, completion_tokens, tokens_per_second`

// List returns one zero-based page of completed records and the total
// completed count. Unknown sort columns fall back to newest first.
func (s *Store) List(ctx context.Context, q models.LogQuery) ([]models.AuditRecord, int64, error) {
	page, size := q.Page, q.Size
	if page < 0 {
		page = 0
	}
	if size < 1 {
		size = 10
	}
	if size > 1000 {
		size = 1000
	}
	order := "request_started_at DESC"
	if col, ok := sortColumns[strings.ToLower(q.SortBy)]; ok {
		dir := "ASC"
		if q.SortDesc {
			dir = "DESC"
		}
		order = col + " " + dir + ", id " + dir
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM requests WHERE response_completed_at IS NOT NULL`).Scan(&total); err != nil {
		s.fail("list")
		return nil, 0, fmt.Errorf("count audit records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM requests
		 WHERE response_completed_at IS NOT NULL
		 ORDER BY `+order+` LIMIT ? OFFSET ?`,
		size, page*size)
	if err != nil {
		s.fail("list")
		return nil, 0, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// Get returns a record by id, completed or not.
func (s *Store) Get(ctx context.Context, id int64) (models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM requests WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AuditRecord{}, ErrNotFound
	}
	if err != nil {
		s.fail("get")
	}
	return rec, err
}

// Stats aggregates completed records per provider and model.
func (s *Store) Stats(ctx context.Context) ([]models.UsageStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT provider_id, model, count(*),
		        COALESCE(sum(prompt_tokens), 0), COALESCE(sum(completion_tokens), 0),
		        COALESCE(avg(tokens_per_second), 0.0)
		 FROM requests WHERE response_completed_at IS NOT NULL
		 GROUP BY provider_id, model ORDER BY count(*) DESC, provider_id, model`)
	if err != nil {
		s.fail("stats")
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.UsageStat
	for rows.Next() {
		var st models.UsageStat
		if err := rows.Scan(&st.ProviderID, &st.Model, &st.Requests,
			&st.PromptTokens, &st.CompletionTokens, &st.AvgTokensPerSec); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

func (s *Store) fail(op string) {
	if s.observer != nil {
		s.observer.ObserveAuditError(op)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (models.AuditRecord, error) {
	var (
		rec                          models.AuditRecord
		isChat                       int64
		response, started, completed sql.NullString
		prompt, completion, tps      sql.NullInt64
	)
	if err := sc.Scan(&rec.ID, &rec.ProviderID, &isChat, &rec.RequestBody, &response,
		&started, &completed, &rec.Model, &prompt, &completion, &tps); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan audit record: %w", err)
	}
	rec.IsChat = isChat != 0
	rec.ResponseBody = response.String
	rec.RequestStartedAt = parseStamp(started.String)
	if completed.Valid {
		t := parseStamp(completed.String)
		rec.ResponseCompletedAt = &t
	}
	rec.PromptTokens = fromNull(prompt)
	rec.CompletionTokens = fromNull(completion)
	rec.TokensPerSecond = fromNull(tps)
	return rec, nil
}

func parseStamp(v string) time.Time {
	t, err := time.ParseInLocation(timeLayout, v, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullable(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
