// Package history keeps a bounded SQLite log of finished transcriptions.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/petems/voicetool/internal/config"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Entry is one transcription.
type Entry struct {
	ID        string
	Text      string
	Provider  string // "whisper", "deepgram" or "local"
	Duration  time.Duration
	Streaming bool
	AudioPath string
	CreatedAt time.Time
}

// Store wraps a SQLite-backed history.
type Store struct {
	db    *sql.DB
	max   int
	log   zerolog.Logger
	clock func() time.Time
}

// Open creates or opens the database at path.
func Open(ctx context.Context, path string, cfg config.HistoryConfig, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	s := &Store{db: db, max: maxEntries, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn().Err(err).Msg("History prune on start failed")
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcriptions (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    provider TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    streaming INTEGER NOT NULL DEFAULT 0,
    audio_path TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_created ON transcriptions(created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores e, filling in ID and CreatedAt when empty, and trims the history
// to its configured size.
func (s *Store) Add(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcriptions(id, text, provider, duration_ms, streaming, audio_path, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Text, e.Provider, e.Duration.Milliseconds(), e.Streaming, e.AudioPath, e.CreatedAt.UnixNano())
	if err != nil {
		return Entry{}, fmt.Errorf("insert history entry: %w", err)
	}

	if err := s.Prune(ctx); err != nil {
		s.log.Warn().Err(err).Msg("History prune failed")
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, provider, duration_ms, streaming, audio_path, created_at
		 FROM transcriptions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durationMS, created int64
		var audioPath sql.NullString
		if err := rows.Scan(&e.ID, &e.Text, &e.Provider, &durationMS, &e.Streaming, &audioPath, &created); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.AudioPath = audioPath.String
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes all but the newest entries.
func (s *Store) Prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transcriptions WHERE id IN (
		SELECT id FROM transcriptions ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?
	)`, s.max)
	return err
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transcriptions`)
	return err
}
