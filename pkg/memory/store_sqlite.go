package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/askelund/minne/pkg/embedding"
)

// SQLiteStore keeps facts, episodes and the message log in one database.
type SQLiteStore struct {
	db *sql.DB

	// Writes are serialized; SQLite has a single writer anyway and the
	// facade may be called from concurrent per-user turns.
	mu sync.Mutex
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection avoids writer lock contention between goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS facts (
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0.7,
			updated_ts INTEGER NOT NULL,
			PRIMARY KEY (user_id, key)
		);`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			text TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '',
			importance REAL NOT NULL DEFAULT 0.5,
			times_used INTEGER NOT NULL DEFAULT 0,
			last_used_ts INTEGER NOT NULL DEFAULT 0,
			embedding BLOB DEFAULT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_user_ts ON episodes(user_id, ts DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_ts ON messages(user_id, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return s.migrate()
}

// migrate adds columns that predate-embedding databases are missing.
// ALTER TABLE here is additive only.
func (s *SQLiteStore) migrate() error {
	rows, err := s.db.Query(`PRAGMA table_info(episodes)`)
	if err != nil {
		return fmt.Errorf("inspect episodes schema: %w", err)
	}
	defer rows.Close()

	existing := map[string]bool{}
	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("scan episodes schema: %w", err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read episodes schema: %w", err)
	}

	alters := map[string]string{
		"times_used":   `ALTER TABLE episodes ADD COLUMN times_used INTEGER NOT NULL DEFAULT 0`,
		"last_used_ts": `ALTER TABLE episodes ADD COLUMN last_used_ts INTEGER NOT NULL DEFAULT 0`,
		"embedding":    `ALTER TABLE episodes ADD COLUMN embedding BLOB DEFAULT NULL`,
	}
	for col, stmt := range alters {
		if existing[col] {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("add episodes column %s: %w", col, err)
		}
	}
	return nil
}

func nowTS() int64 { return time.Now().Unix() }

// -------------------------
// Facts
// -------------------------

func (s *SQLiteStore) UpsertFact(ctx context.Context, userID, key, value string, confidence float64) error {
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return nil
	}
	confidence = clamp01(confidence)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO facts(user_id, key, value, confidence, updated_ts)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(user_id, key) DO UPDATE SET
	value = excluded.value,
	confidence = excluded.confidence,
	updated_ts = excluded.updated_ts`,
		userID, key, value, confidence, nowTS())
	if err != nil {
		return fmt.Errorf("upsert fact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetFacts(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT key, value FROM facts WHERE user_id = ? ORDER BY updated_ts DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read facts: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListFacts(ctx context.Context, userID string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, key, value, confidence, updated_ts
FROM facts WHERE user_id = ? ORDER BY updated_ts DESC, key ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	out := []Fact{}
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.UserID, &f.Key, &f.Value, &f.Confidence, &f.UpdatedTS); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read facts: %w", err)
	}
	return out, nil
}

// -------------------------
// Episodes
// -------------------------

func (s *SQLiteStore) AddEpisode(ctx context.Context, ep Episode) error {
	ep.Text = strings.TrimSpace(ep.Text)
	if ep.Text == "" {
		return nil
	}
	ep.Importance = clamp01(ep.Importance)
	if ep.TS == 0 {
		ep.TS = nowTS()
	}

	var blob []byte
	if len(ep.Embedding) > 0 {
		blob = embedding.EncodeBlob(ep.Embedding)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO episodes(user_id, ts, text, tags, importance, embedding)
VALUES(?, ?, ?, ?, ?, ?)`,
		ep.UserID, ep.TS, ep.Text, ep.Tags, ep.Importance, blob)
	if err != nil {
		return fmt.Errorf("add episode: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CandidateEpisodes(ctx context.Context, userID string, limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = 160
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, ts, text, tags, importance, times_used, last_used_ts
FROM episodes WHERE user_id = ? ORDER BY ts DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("candidate episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows, false)
}

func (s *SQLiteStore) EmbeddedEpisodes(ctx context.Context, userID string, limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = 160
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, ts, text, tags, importance, times_used, last_used_ts, embedding
FROM episodes WHERE user_id = ? AND embedding IS NOT NULL
ORDER BY ts DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("embedded episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows, true)
}

func scanEpisodes(rows *sql.Rows, withEmbedding bool) ([]Episode, error) {
	out := []Episode{}
	for rows.Next() {
		var (
			ep   Episode
			blob []byte
		)
		var err error
		if withEmbedding {
			err = rows.Scan(&ep.ID, &ep.UserID, &ep.TS, &ep.Text, &ep.Tags, &ep.Importance, &ep.TimesUsed, &ep.LastUsedTS, &blob)
		} else {
			err = rows.Scan(&ep.ID, &ep.UserID, &ep.TS, &ep.Text, &ep.Tags, &ep.Importance, &ep.TimesUsed, &ep.LastUsedTS)
		}
		if err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		if len(blob) > 0 {
			ep.Embedding = embedding.DecodeBlob(blob)
		}
		out = append(out, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read episodes: %w", err)
	}
	return out, nil
}

// MarkEpisodesUsed bumps usage stats for every selected episode.
// Retrieval calls this exactly once per selection.
func (s *SQLiteStore) MarkEpisodesUsed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark episodes used begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowTS()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
UPDATE episodes SET times_used = times_used + 1, last_used_ts = ? WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("mark episode %d used: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark episodes used commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountEpisodes(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count episodes: %w", err)
	}
	return n, nil
}

// -------------------------
// Message log
// -------------------------

func (s *SQLiteStore) AddMessage(ctx context.Context, userID, role, content string) error {
	role = normalizeRole(strings.ToLower(strings.TrimSpace(role)))
	content = Redact(strings.TrimSpace(content))
	if content == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO messages(user_id, ts, role, content) VALUES(?, ?, ?, ?)`,
		userID, nowTS(), role, content)
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit messages, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, userID string, limit int) ([]LoggedMessage, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, ts, role, content
FROM messages WHERE user_id = ? ORDER BY ts DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	out := []LoggedMessage{}
	for rows.Next() {
		var m LoggedMessage
		if err := rows.Scan(&m.ID, &m.UserID, &m.TS, &m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) CountMessages(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// -------------------------
// Pruning
// -------------------------

// PruneUser keeps the newest keepEpisodes episodes and keepMessages messages
// for a user. Eviction is oldest-first by timestamp; importance is not a
// signal here, so a highly important old episode can be evicted.
func (s *SQLiteStore) PruneUser(ctx context.Context, userID string, keepEpisodes, keepMessages int) error {
	if keepEpisodes < 0 {
		keepEpisodes = 0
	}
	if keepMessages < 0 {
		keepMessages = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("prune begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM episodes
WHERE user_id = ?
  AND id NOT IN (
	SELECT id FROM episodes WHERE user_id = ? ORDER BY ts DESC, id DESC LIMIT ?
  )`, userID, userID, keepEpisodes); err != nil {
		return fmt.Errorf("prune episodes: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM messages
WHERE user_id = ?
  AND id NOT IN (
	SELECT id FROM messages WHERE user_id = ? ORDER BY ts DESC, id DESC LIMIT ?
  )`, userID, userID, keepMessages); err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("prune commit: %w", err)
	}
	return nil
}
