// Package history mirrors conversation messages into a local SQLite
// transcript. The database is opened on first use; if opening it or running
// a query fails, the store keeps working from memory.
package history

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/tenant-chat/internal/chatlog"
	"github.com/comigor/tenant-chat/internal/logger"
)

// Record is one transcript row.
type Record struct {
	ID         string
	SessionID  string
	Sender     string
	Content    string
	TokenCount *int
	Synthetic  bool
	CreatedAt  time.Time
}

// Store implements chatlog.Sink.
type Store struct {
	path string

	mu       sync.Mutex
	messages []Record // in-memory fallback

	dbOnce  sync.Once
	db      *sql.DB
	initErr error
}

var _ chatlog.Sink = (*Store)(nil)

// Open returns a Store backed by the SQLite file at path. An empty path or
// ":memory:" keeps everything in process memory only.
func Open(path string) *Store {
	return &Store{path: path}
}

// initDB lazily opens the SQLite database and creates the messages table if it doesn't exist.
func (s *Store) initDB() {
	if s.path == "" || s.path == ":memory:" {
		s.initErr = fmt.Errorf("no transcript path configured")
		return
	}

	db, err := sql.Open("sqlite", "file:"+s.path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		s.initErr = err
		logger.L.Warn("sqlite open failed; using in-memory history", "error", err)
		return
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER,
		synthetic INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);`); err != nil {
		s.initErr = err
		db.Close()
		logger.L.Warn("sqlite table creation failed; using in-memory history", "error", err)
		return
	}
	s.db = db
	logger.L.Info("sqlite history DB initialized", "path", s.path)
}

// Save persists a message to the SQLite database when available and always
// keeps an in-memory copy as fallback.
func (s *Store) Save(sessionID string, msg chatlog.Message) error {
	s.dbOnce.Do(s.initDB)

	rec := Record{
		ID:         msg.ID,
		SessionID:  sessionID,
		Sender:     string(msg.Sender),
		Content:    msg.Content,
		TokenCount: msg.TokenCount,
		Synthetic:  msg.Synthetic,
		CreatedAt:  msg.CreatedAt.UTC(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, rec)
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	var tokens sql.NullInt64
	if rec.TokenCount != nil {
		tokens = sql.NullInt64{Int64: int64(*rec.TokenCount), Valid: true}
	}
	_, err := s.db.Exec(`INSERT INTO messages (id, session_id, sender, content, token_count, synthetic, created_at) VALUES (?,?,?,?,?,?,?);`,
		rec.ID, rec.SessionID, rec.Sender, rec.Content, tokens, rec.Synthetic, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("store message in sqlite: %w", err)
	}
	return nil
}

// List returns all messages of a session in the order they were saved.
func (s *Store) List(sessionID string) []Record {
	s.dbOnce.Do(s.initDB)

	if s.db != nil {
		out, err := s.query(sessionID)
		if err == nil {
			return out
		}
		logger.L.Warn("sqlite history query failed; reading memory", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) query(sessionID string) ([]Record, error) {
	rows, err := s.db.Query(`SELECT id, session_id, sender, content, token_count, synthetic, created_at FROM messages WHERE session_id = ? ORDER BY seq ASC;`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r      Record
			tokens sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Sender, &r.Content, &tokens, &r.Synthetic, &r.CreatedAt); err != nil {
			return nil, err
		}
		if tokens.Valid {
			tc := int(tokens.Int64)
			r.TokenCount = &tc
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Persistent reports whether messages reach SQLite.
func (s *Store) Persistent() bool {
	s.dbOnce.Do(s.initDB)
	return s.db != nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
