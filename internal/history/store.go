package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/lexiqai/pronunciation-coach/internal/scoring"
	"github.com/lexiqai/pronunciation-coach/internal/session"
)

// Entry is one finished attempt. Exactly one of Score and ErrorCode is set.
type Entry struct {
	ID           int64                  `json:"id"`
	CycleID      string                 `json:"cycle_id"`
	Sentence     string                 `json:"sentence"`
	Score        *float64               `json:"score,omitempty"`
	Breakdown    []scoring.WordAccuracy `json:"breakdown,omitempty"`
	ErrorCode    string                 `json:"error_code,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Duration     time.Duration          `json:"duration"`
	AudioBytes   int                    `json:"audio_bytes"`
	FinishedAt   time.Time              `json:"finished_at"`
}

// Store keeps practice history in SQLite
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	clock  func() time.Time
}

// Open creates or opens the history database at path
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
		clock:  time.Now,
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id TEXT NOT NULL,
    sentence TEXT NOT NULL,
    score REAL,
    breakdown TEXT,
    error_code TEXT,
    error_message TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    audio_bytes INTEGER NOT NULL DEFAULT 0,
    finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_finished ON attempts(finished_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) (bool, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Record stores a finished attempt
func (s *Store) Record(ctx context.Context, attempt session.Attempt) error {
	finished := attempt.FinishedAt
	if finished.IsZero() {
		finished = s.clock()
	}

	var (
		score     sql.NullFloat64
		breakdown sql.NullString
		errCode   sql.NullString
		errMsg    sql.NullString
	)
	if attempt.Result != nil {
		score = sql.NullFloat64{Float64: attempt.Result.OverallScore, Valid: true}
		data, err := json.Marshal(attempt.Result.Breakdown)
		if err != nil {
			return fmt.Errorf("encode breakdown: %w", err)
		}
		breakdown = sql.NullString{String: string(data), Valid: true}
	}
	if attempt.Err != nil {
		errCode = sql.NullString{String: string(attempt.Err.Code), Valid: true}
		errMsg = sql.NullString{String: attempt.Err.Message, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts(cycle_id, sentence, score, breakdown, error_code, error_message, duration_ms, audio_bytes, finished_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.CycleID, attempt.Sentence, score, breakdown, errCode, errMsg,
		attempt.Duration.Milliseconds(), attempt.AudioBytes, finished.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	s.logger.Debug().Str("cycle_id", attempt.CycleID).Msg("Attempt recorded")
	return nil
}

// Recent returns up to limit attempts, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cycle_id, sentence, score, breakdown, error_code, error_message, duration_ms, audio_bytes, finished_at
		 FROM attempts ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			score      sql.NullFloat64
			breakdown  sql.NullString
			errCode    sql.NullString
			errMsg     sql.NullString
			durationMs int64
			finished   string
		)
		if err := rows.Scan(&e.ID, &e.CycleID, &e.Sentence, &score, &breakdown, &errCode, &errMsg, &durationMs, &e.AudioBytes, &finished); err != nil {
			return nil, err
		}

		if score.Valid {
			v := score.Float64
			e.Score = &v
		}
		if breakdown.Valid {
			if err := json.Unmarshal([]byte(breakdown.String), &e.Breakdown); err != nil {
				s.logger.Warn().Err(err).Int64("id", e.ID).Msg("Skipping unreadable breakdown")
			}
		}
		e.ErrorCode = errCode.String
		e.ErrorMessage = errMsg.String
		e.Duration = time.Duration(durationMs) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			e.FinishedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune keeps the newest keep attempts and deletes the rest
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM attempts WHERE id NOT IN (
		     SELECT id FROM attempts ORDER BY finished_at DESC, id DESC LIMIT ?
		 )`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
