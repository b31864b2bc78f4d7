package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shapeshift/agentic-chat/core"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

// SQLStore persists one row per message. Put replaces a thread's rows in a
// single transaction.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// Verify interface compliance.
var _ core.CheckpointStore = (*SQLStore)(nil)

// NewSQLite opens (or creates) a SQLite database at path and runs migrations.
func NewSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	return newSQLStore(db, DialectSQLite)
}

// NewMySQL connects to MySQL using dsn and runs migrations.
func NewMySQL(dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("mysql dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	return newSQLStore(db, DialectMySQL)
}

// NewSQLStore wraps an existing database handle.
func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	return newSQLStore(db, dialect)
}

func newSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	var stmts []string
	switch s.dialect {
	case DialectMySQL:
		stmts = []string{`CREATE TABLE IF NOT EXISTS checkpoint_messages (
			thread_id VARCHAR(191) NOT NULL,
			seq INT NOT NULL,
			message_id VARCHAR(191) NOT NULL,
			role VARCHAR(16) NOT NULL,
			content MEDIUMTEXT NOT NULL,
			tool_calls MEDIUMTEXT,
			tool_call_id VARCHAR(191) NOT NULL DEFAULT '',
			name VARCHAR(191) NOT NULL DEFAULT '',
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (thread_id, seq)
		)`}
	default:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS checkpoint_messages (
				thread_id TEXT NOT NULL,
				seq INTEGER NOT NULL,
				message_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				tool_calls TEXT,
				tool_call_id TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL DEFAULT '',
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (thread_id, seq)
			)`,
		}
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the thread log ordered by position.
func (s *SQLStore) Get(ctx context.Context, threadID string) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, role, content, tool_calls, tool_call_id, name
		 FROM checkpoint_messages WHERE thread_id = ? ORDER BY seq ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	defer rows.Close()

	log := []core.Message{}
	for rows.Next() {
		var (
			m         core.Message
			role      string
			toolCalls sql.NullString
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &toolCalls, &m.ToolCallID, &m.Name); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		m.Role = core.Role(role)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls of %s: %w", m.ID, err)
			}
		}
		log = append(log, m)
	}
	return log, rows.Err()
}

// Put replaces the thread log inside one transaction.
func (s *SQLStore) Put(ctx context.Context, threadID string, log []core.Message) error {
	if err := validate(threadID, log); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoint_messages WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO checkpoint_messages (thread_id, seq, message_id, role, content, tool_calls, tool_call_id, name, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixMilli()
	for i, m := range log {
		var toolCalls sql.NullString
		if len(m.ToolCalls) > 0 {
			calls := make([]core.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				calls[j] = tc.Clone()
				calls[j].Result = nil
			}
			b, err := json.Marshal(calls)
			if err != nil {
				return fmt.Errorf("encode tool calls of %s: %w", m.ID, err)
			}
			toolCalls = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, threadID, i, m.ID, string(m.Role), m.Content, toolCalls, m.ToolCallID, m.Name, now); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Threads returns the ids of all stored threads.
func (s *SQLStore) Threads(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT thread_id FROM checkpoint_messages`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
