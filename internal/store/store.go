// Package store is the persistent state of the capture-to-memory pipeline:
// traces, activity sessions and their events, summaries, entities, chat
// history, and settings, all backed by a single SQLite database with a
// full-text index and a vector index.
//
// The database is a single-file SQLite database in WAL mode with foreign
// keys enabled. A single *sql.DB is held open with MaxOpenConns(1) and an
// explicit mutex around every operation: the store is a process-wide
// serialization point, not a connection pool. WAL mode is what lets a
// second process (the MCP server) open its own read connection to the
// same file safely.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/TokenRollAI/engram/internal/logging"
)

func init() {
	sqlite_vec.Auto() // registers the vec0 virtual table with go-sqlite3
}

// expectedSchemaVersion is compared against PRAGMA user_version on Open.
// A mismatch drops and recreates every data table: there is no per-version
// migration path, by design, for a single-user local tool.
const expectedSchemaVersion = 1

// Store wraps the SQLite connection and all durable state for one user.
type Store struct {
	mu           sync.Mutex
	db           *sql.DB
	path         string
	vecAvailable bool
	vecDim       int // 0 until the first embedding is written
	ftsAvailable bool
}

// Open opens (creating if necessary) the database at dbPath. dbPath is
// normally $DATA_DIR/engram.db.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single connection: the mutex is the only other guard we need

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, path: dbPath}

	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		logging.Warn("store", "sqlite-vec not available: %v (vector search disabled)", err)
	} else {
		logging.Info("store", "sqlite-vec %s loaded", vecVersion)
		s.vecAvailable = true
		if err := s.restoreVecDim(); err != nil {
			logging.Warn("store", "vec dimension restore: %v", err)
		}
	}

	if _, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS traces_fts_probe USING fts5(x)`); err != nil {
		logging.Warn("store", "fts5 not available: %v (keyword search disabled)", err)
	} else {
		db.Exec(`DROP TABLE traces_fts_probe`)
		s.ftsAvailable = true
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// dataTables lists every table owned by this store, in an order safe for
// DROP (children before parents; SQLite enforces FK only at statement
// boundaries with foreign_keys=on, so order still matters when it's on).
var dataTables = []string{
	"chat_messages",
	"chat_threads",
	"entity_traces",
	"entities",
	"summaries",
	"activity_session_events",
	"traces_vec",
	"traces_fts",
	"traces",
	"activity_sessions",
	"blacklist",
	"settings",
}

func (s *Store) ensureSchema() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	if version != 0 && version != expectedSchemaVersion {
		logging.Info("store", "schema version %d != expected %d: dropping and recreating all tables", version, expectedSchemaVersion)
		for _, t := range dataTables {
			if _, err := s.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", t)); err != nil {
				log.Printf("[store] warning: drop %s: %v", t, err)
			}
		}
	}

	if err := s.createTables(); err != nil {
		return err
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", expectedSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS traces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		image_path TEXT NOT NULL,
		app_name TEXT NOT NULL DEFAULT '',
		window_title TEXT NOT NULL DEFAULT '',
		is_fullscreen INTEGER NOT NULL DEFAULT 0,
		has_bounds INTEGER NOT NULL DEFAULT 0,
		bounds_x INTEGER NOT NULL DEFAULT 0,
		bounds_y INTEGER NOT NULL DEFAULT 0,
		bounds_w INTEGER NOT NULL DEFAULT 0,
		bounds_h INTEGER NOT NULL DEFAULT 0,
		is_idle INTEGER NOT NULL DEFAULT 0,
		phash BLOB NOT NULL,
		ocr_text TEXT,
		vlm_summary TEXT NOT NULL DEFAULT '',
		vlm_action_description TEXT NOT NULL DEFAULT '',
		vlm_activity_type TEXT NOT NULL DEFAULT '',
		vlm_confidence REAL NOT NULL DEFAULT 0,
		vlm_entities_json TEXT NOT NULL DEFAULT '[]',
		vlm_raw_json TEXT NOT NULL DEFAULT '',
		is_key_action INTEGER NOT NULL DEFAULT 0,
		embedding BLOB,
		activity_session_id INTEGER REFERENCES activity_sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_traces_timestamp ON traces(timestamp);
	CREATE INDEX IF NOT EXISTS idx_traces_app_name ON traces(app_name);
	CREATE INDEX IF NOT EXISTS idx_traces_session ON traces(activity_session_id);
	CREATE INDEX IF NOT EXISTS idx_traces_pending_ocr ON traces(id) WHERE ocr_text IS NULL;

	CREATE TABLE IF NOT EXISTS activity_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_name TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		start_trace_id INTEGER,
		end_trace_id INTEGER,
		trace_count INTEGER NOT NULL DEFAULT 0,
		context_text TEXT NOT NULL DEFAULT '',
		entities_json TEXT NOT NULL DEFAULT '{}',
		key_actions_json TEXT NOT NULL DEFAULT '[]',
		last_embedding BLOB,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_app_name ON activity_sessions(app_name);
	CREATE INDEX IF NOT EXISTS idx_sessions_end_time ON activity_sessions(end_time);

	CREATE TABLE IF NOT EXISTS activity_session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES activity_sessions(id) ON DELETE CASCADE,
		trace_id INTEGER NOT NULL REFERENCES traces(id) ON DELETE CASCADE,
		timestamp INTEGER NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		action_description TEXT NOT NULL DEFAULT '',
		activity_type TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		entities_json TEXT NOT NULL DEFAULT '[]',
		is_key_action INTEGER NOT NULL DEFAULT 0,
		raw_json TEXT NOT NULL DEFAULT '',
		UNIQUE(session_id, trace_id)
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON activity_session_events(session_id);

	CREATE TABLE IF NOT EXISTS summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		summary_type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		structured_data TEXT NOT NULL DEFAULT '{}',
		trace_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_type_time ON summaries(summary_type, start_time);

	CREATE TABLE IF NOT EXISTS entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		mention_count INTEGER NOT NULL DEFAULT 0,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS entity_traces (
		entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		trace_id INTEGER NOT NULL REFERENCES traces(id) ON DELETE CASCADE,
		PRIMARY KEY (entity_id, trace_id)
	);

	CREATE TABLE IF NOT EXISTS chat_threads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id INTEGER NOT NULL REFERENCES chat_threads(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		context_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_thread ON chat_messages(thread_id);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS blacklist (
		app_name TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	ftsSchema := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS traces_fts USING fts5(
			ocr_text, window_title, content='traces', content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS traces_ai AFTER INSERT ON traces BEGIN
			INSERT INTO traces_fts(rowid, ocr_text, window_title) VALUES (new.id, new.ocr_text, new.window_title);
		END`,
		`CREATE TRIGGER IF NOT EXISTS traces_ad AFTER DELETE ON traces BEGIN
			INSERT INTO traces_fts(traces_fts, rowid, ocr_text, window_title) VALUES('delete', old.id, old.ocr_text, old.window_title);
		END`,
		`CREATE TRIGGER IF NOT EXISTS traces_au AFTER UPDATE ON traces BEGIN
			INSERT INTO traces_fts(traces_fts, rowid, ocr_text, window_title) VALUES('delete', old.id, old.ocr_text, old.window_title);
			INSERT INTO traces_fts(rowid, ocr_text, window_title) VALUES (new.id, new.ocr_text, new.window_title);
		END`,
	}
	for _, stmt := range ftsSchema {
		if _, err := s.db.Exec(stmt); err != nil {
			logging.Warn("store", "fts5 setup skipped: %v", err)
			break
		}
	}

	return nil
}

// restoreVecDim determines the embedding dimension already in use (if any)
// and recreates traces_vec so in-memory state survives a restart.
func (s *Store) restoreVecDim() error {
	var embBytes []byte
	err := s.db.QueryRow(`SELECT embedding FROM traces WHERE embedding IS NOT NULL LIMIT 1`).Scan(&embBytes)
	if err != nil {
		return nil // no embeddings yet
	}
	dim := len(embBytes) / 4
	if dim == 0 {
		return nil
	}
	return s.ensureVecTable(dim)
}
