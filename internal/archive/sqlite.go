// ABOUTME: SQLite transcript archive using modernc.org/sqlite
// ABOUTME: Persists closed conversations with their messages and reads them back

package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/fanlink/internal/chatlog"
	"github.com/2389/fanlink/internal/conversation"
)

var (
	// ErrNotFound means no transcript is stored under the id
	ErrNotFound = errors.New("transcript not found")

	// ErrDuplicate means a transcript with the same id was already stored
	ErrDuplicate = errors.New("transcript already archived")
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	// timeLayout is fixed-width so lexical order matches time order
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Summary describes a stored transcript without its messages
type Summary struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Subject        string    `json:"subject"`
	MessageCount   int       `json:"message_count"`
	ClosedAt       time.Time `json:"closed_at"`
}

// SQLiteArchive is a TranscriptSink backed by SQLite
type SQLiteArchive struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ conversation.TranscriptSink = (*SQLiteArchive)(nil)

// Open creates or opens the archive at path, creating parent directories
// and the schema as needed.
func Open(path string, logger *slog.Logger) (*SQLiteArchive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "archive")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	a := &SQLiteArchive{db: db, logger: logger}
	if err := a.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("transcript archive opened", "path", path)
	return a, nil
}

func (a *SQLiteArchive) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transcripts (
			id TEXT PRIMARY KEY,
			conversation_id TEXT,
			subject TEXT NOT NULL,
			message_count INTEGER NOT NULL,
			closed_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transcripts_closed_at
			ON transcripts(closed_at);

		CREATE TABLE IF NOT EXISTS transcript_messages (
			id TEXT NOT NULL,
			transcript_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			sources TEXT,
			fallback INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			PRIMARY KEY (transcript_id, position),
			FOREIGN KEY (transcript_id) REFERENCES transcripts(id) ON DELETE CASCADE
		);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Close closes the database
func (a *SQLiteArchive) Close() error {
	a.logger.Info("closing transcript archive")
	return a.db.Close()
}

// SaveTranscript stores t and its messages in one transaction
func (a *SQLiteArchive) SaveTranscript(ctx context.Context, t *conversation.Transcript) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transcripts (id, conversation_id, subject, message_count, closed_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		t.SurfaceID,
		nullString(t.ConversationID),
		t.Subject,
		len(t.Messages),
		formatTime(t.ClosedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, t.SurfaceID)
		}
		return fmt.Errorf("inserting transcript: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transcript_messages (id, transcript_id, position, role, content, sources, fallback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing message insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range t.Messages {
		sources, err := encodeSources(m.Sources)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			m.ID,
			t.SurfaceID,
			i,
			string(m.Role),
			m.Content,
			sources,
			m.Fallback,
			formatTime(m.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transcript: %w", err)
	}

	a.logger.Debug("archived transcript",
		"id", t.SurfaceID,
		"conversation_id", t.ConversationID,
		"messages", len(t.Messages))
	return nil
}

// GetTranscript loads a stored transcript with its messages in order
func (a *SQLiteArchive) GetTranscript(ctx context.Context, id string) (*conversation.Transcript, error) {
	var (
		t        conversation.Transcript
		convID   sql.NullString
		closedAt string
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, subject, closed_at
		FROM transcripts
		WHERE id = ?
	`, id).Scan(&t.SurfaceID, &convID, &t.Subject, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}
	t.ConversationID = convID.String
	if t.ClosedAt, err = time.Parse(timeLayout, closedAt); err != nil {
		return nil, fmt.Errorf("parsing closed_at: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, role, content, sources, fallback, created_at
		FROM transcript_messages
		WHERE transcript_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	t.Messages = []chatlog.Message{}
	for rows.Next() {
		var (
			m         chatlog.Message
			role      string
			sources   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &sources, &m.Fallback, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		m.Role = chatlog.Role(role)
		if m.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		if sources.Valid {
			if err := json.Unmarshal([]byte(sources.String), &m.Sources); err != nil {
				return nil, fmt.Errorf("decoding sources: %w", err)
			}
		}
		t.Messages = append(t.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return &t, nil
}

// ListTranscripts returns the most recently closed transcripts first.
// A limit of 0 or less uses the default of 100.
func (a *SQLiteArchive) ListTranscripts(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, conversation_id, subject, message_count, closed_at
		FROM transcripts
		ORDER BY closed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transcripts: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var (
			s        Summary
			convID   sql.NullString
			closedAt string
		)
		if err := rows.Scan(&s.ID, &convID, &s.Subject, &s.MessageCount, &closedAt); err != nil {
			return nil, fmt.Errorf("scanning transcript row: %w", err)
		}
		s.ConversationID = convID.String
		if s.ClosedAt, err = time.Parse(timeLayout, closedAt); err != nil {
			return nil, fmt.Errorf("parsing closed_at: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transcript rows: %w", err)
	}

	return summaries, nil
}

// DeleteTranscript removes a stored transcript and its messages
func (a *SQLiteArchive) DeleteTranscript(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM transcripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting transcript: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deleted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func encodeSources(sources []string) (any, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("encoding sources: %w", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isConstraintViolation(err error) bool {
	return strings.Contains(err.Error(), "constraint failed")
}
