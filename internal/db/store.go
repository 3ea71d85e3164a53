package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jwulff/clinote/internal/note"
)

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		specialty TEXT NOT NULL DEFAULT '',
		backendMode TEXT NOT NULL DEFAULT '',
		startedAt REAL NOT NULL,
		endedAt REAL,
		status TEXT NOT NULL DEFAULT 'active',
		createdAt REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS segments (
		id TEXT PRIMARY KEY,
		sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		sequenceNumber INTEGER NOT NULL,
		createdAt REAL NOT NULL,
		UNIQUE(sessionId, sequenceNumber)
	);

	CREATE TABLE IF NOT EXISTS summaries (
		id TEXT PRIMARY KEY,
		sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		specialty TEXT NOT NULL,
		modelId TEXT NOT NULL,
		createdAt REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updatedAt REAL NOT NULL
	);
`

// Store provides access to the clinote SQLite database.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "Clinote", "clinote.db")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".clinote", "clinote.db")
}

// Open opens the database in read-only mode with WAL.
func Open(path string) (*Store, error) {
	return open(fmt.Sprintf("file:%s?mode=ro&_pragma=journal_mode(WAL)", path))
}

// OpenWritable opens or creates the database and applies the schema.
func OpenWritable(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	s, err := open(fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Each connection would get its own empty database.
		s.db.SetMaxOpenConns(1)
	}
	if _, err := s.db.Exec(schema); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadBlob returns the named settings blob.
func (s *Store) LoadBlob(ctx context.Context, name string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM settings WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", name, err)
	}
	return data, true, nil
}

// SaveBlob replaces the named settings blob.
func (s *Store) SaveBlob(ctx context.Context, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (name, data, updatedAt) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updatedAt = excluded.updatedAt
	`, name, data, unixTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// BeginSession records a session if it is not known yet.
func (s *Store) BeginSession(ctx context.Context, id, specialty, backendMode string) error {
	now := unixTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, specialty, backendMode, startedAt, status, createdAt)
		VALUES (?, ?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO NOTHING
	`, id, specialty, backendMode, now, now)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession marks an active session completed.
func (s *Store) EndSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'completed', endedAt = ?
		WHERE id = ? AND status = 'active'
	`, unixTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// AppendSegment stores the text of one finalized recording after the
// session's existing segments.
func (s *Store) AppendSegment(ctx context.Context, sessionID, text string) (Segment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Segment{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequenceNumber), 0) + 1 FROM segments WHERE sessionId = ?`,
		sessionID).Scan(&next); err != nil {
		return Segment{}, fmt.Errorf("next sequence: %w", err)
	}

	now := time.Now()
	seg := Segment{ID: uuid.NewString(), SessionID: sessionID, Text: text, SequenceNumber: next, CreatedAt: now}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO segments (id, sessionId, text, sequenceNumber, createdAt)
		VALUES (?, ?, ?, ?, ?)
	`, seg.ID, seg.SessionID, seg.Text, seg.SequenceNumber, unixTime(now)); err != nil {
		return Segment{}, fmt.Errorf("insert segment: %w", err)
	}
	return seg, tx.Commit()
}

// SaveSummary stores a generated note.
func (s *Store) SaveSummary(ctx context.Context, sessionID, specialty, modelID string, n note.StructuredNote) error {
	content, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode note: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO summaries (id, sessionId, content, specialty, modelId, createdAt)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), sessionID, string(content), specialty, modelID, unixTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

const sessionColumns = `id, specialty, backendMode, startedAt, endedAt, status, createdAt`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	var startedAt, createdAt float64
	var endedAt sql.NullFloat64

	if err := row.Scan(&sess.ID, &sess.Specialty, &sess.BackendMode, &startedAt, &endedAt,
		&sess.Status, &createdAt); err != nil {
		return nil, err
	}

	sess.StartedAt = timeFromUnix(startedAt)
	sess.CreatedAt = timeFromUnix(createdAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		sess.EndedAt = &t
	}
	return &sess, nil
}

// Session returns the session with id, or nil.
func (s *Store) Session(id string) (*Session, error) {
	sess, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return sess, nil
}

// ActiveSession returns the most recent active session, if any.
func (s *Store) ActiveSession() (*Session, error) {
	sess, err := scanSession(s.db.QueryRow(`
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE status = 'active'
		ORDER BY startedAt DESC
		LIMIT 1
	`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return sess, nil
}

// ListSessions returns up to limit sessions, newest first.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+`
		FROM sessions
		ORDER BY startedAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// SegmentsForSession returns all segments for a session in order.
func (s *Store) SegmentsForSession(sessionID string) ([]Segment, error) {
	rows, err := s.db.Query(`
		SELECT id, sessionId, text, sequenceNumber, createdAt
		FROM segments
		WHERE sessionId = ?
		ORDER BY sequenceNumber ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		var createdAt float64
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Text, &seg.SequenceNumber, &createdAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.CreatedAt = timeFromUnix(createdAt)
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// Transcript joins a session's segments the way the live transcript grows.
func (s *Store) Transcript(sessionID string) (string, error) {
	segments, err := s.SegmentsForSession(sessionID)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = seg.Text
	}
	return strings.Join(parts, "\n"), nil
}

// LatestSummary returns the newest note for a session, or nil.
func (s *Store) LatestSummary(sessionID string) (*Summary, error) {
	row := s.db.QueryRow(`
		SELECT id, sessionId, content, specialty, modelId, createdAt
		FROM summaries
		WHERE sessionId = ?
		ORDER BY createdAt DESC, rowid DESC
		LIMIT 1
	`, sessionID)

	var sum Summary
	var content string
	var createdAt float64
	if err := row.Scan(&sum.ID, &sum.SessionID, &content, &sum.Specialty, &sum.ModelID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan summary: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &sum.Note); err != nil {
		return nil, fmt.Errorf("decode note: %w", err)
	}
	sum.CreatedAt = timeFromUnix(createdAt)
	return &sum, nil
}

func unixTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
