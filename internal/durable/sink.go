// Package durable implements the durable sink: a single background writer
// draining a process-wide queue of {db_path, sql, params} tuples against
// cached, WAL-mode SQLite connections, so producers (history append,
// metrics log) block only on queue-put, never on disk I/O. A plain
// database/sql writer over a driver registered via blank import, with an
// async single-writer queue in front of it so producers never block on
// disk I/O.
package durable

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/voicebridge/voicebridge/pkg/logging"
)

// write is one {db_path, sql, params} tuple.
type write struct {
	dbPath string
	query  string
	params []any
}

const defaultQueueCapacity = 1024

// Sink owns the single background writer goroutine and the per-db_path
// connection cache.
type Sink struct {
	queue  chan write
	logger *logging.Logger

	mu    sync.Mutex
	conns map[string]*sql.DB

	wg       sync.WaitGroup
	drainAck chan chan struct{}
}

// New constructs a Sink and starts its writer goroutine. queueCapacity<=0
// uses the default bounded size; once full, Enqueue drops the incoming
// item rather than blocking the caller.
func New(queueCapacity int, logger *logging.Logger) *Sink {
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	s := &Sink{
		queue:    make(chan write, queueCapacity),
		logger:   logger,
		conns:    make(map[string]*sql.DB),
		drainAck: make(chan chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue appends one write to the queue without blocking on disk I/O.
// If the queue is at capacity, the newest item is dropped and logged
// rather than the caller blocking.
func (s *Sink) Enqueue(dbPath, query string, params ...any) {
	w := write{dbPath: dbPath, query: query, params: params}
	select {
	case s.queue <- w:
	default:
		if s.logger != nil {
			s.logger.Warnf("durable: queue full, dropping write to %s", dbPath)
		}
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	for {
		select {
		case w, ok := <-s.queue:
			if !ok {
				return
			}
			s.apply(w)
		case ack := <-s.drainAck:
			// Drain whatever is already queued before acking, so a
			// test that calls WaitForDrain after Enqueue sees every
			// prior write applied.
			for {
				select {
				case w, ok := <-s.queue:
					if !ok {
						close(ack)
						return
					}
					s.apply(w)
					continue
				default:
				}
				break
			}
			close(ack)
		}
	}
}

func (s *Sink) apply(w write) {
	db, err := s.connFor(w.dbPath)
	if err != nil {
		if s.logger != nil {
			s.logger.Warnf("durable: opening %s: %v", w.dbPath, err)
		}
		return
	}
	// On writer error the item is logged and dropped, never retried:
	// liveness matters more here than forensic completeness for
	// non-critical telemetry.
	if _, err := db.Exec(w.query, w.params...); err != nil {
		if s.logger != nil {
			s.logger.Warnf("durable: write to %s failed, dropping: %v", w.dbPath, err)
		}
	}
}

func (s *Sink) connFor(dbPath string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.conns[dbPath]; ok {
		return db, nil
	}
	db, err := openConfigured(dbPath)
	if err != nil {
		return nil, err
	}
	s.conns[dbPath] = db
	return db, nil
}

// openConfigured opens dbPath with WAL journaling, NORMAL synchronous
// mode, and a 30s busy timeout, applied once at connection time.
func openConfigured(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("durable: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // SQLite: one writer connection per db_path
	return db, nil
}

// WaitForDrain is a test-only helper that blocks until every write
// enqueued so far has been applied.
func (s *Sink) WaitForDrain() {
	ack := make(chan struct{})
	s.drainAck <- ack
	<-ack
}

// Close stops the writer goroutine and closes every cached connection.
// Writes still queued when Close is called are applied before the writer
// goroutine exits.
func (s *Sink) Close() error {
	close(s.queue)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for path, db := range s.conns {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("durable: closing %s: %w", path, err)
		}
	}
	return firstErr
}

// PrepareHistoryInsert builds the {sql, params} tuple for one conversation
// history write against the conversation_history schema.
func PrepareHistoryInsert(sessionID, role, message, ttsProvider, voice string, createdAt time.Time) (string, []any) {
	return `INSERT INTO conversation_history (session_id, role, message, tts_provider, voice, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		[]any{sessionID, role, message, ttsProvider, voice, createdAt.UTC()}
}

// PrepareMetricsInsert builds the {sql, params} tuple for one per-request
// metrics row: timing plus success flags.
func PrepareMetricsInsert(sessionID string, gatewayID, ttsProvider string, gatewayMs, ttsMs, totalMs int64, fallbackUsed, success bool, createdAt time.Time) (string, []any) {
	return `INSERT INTO request_metrics (session_id, gateway_id, tts_provider, gateway_ms, tts_ms, total_ms, fallback_used, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{sessionID, gatewayID, ttsProvider, gatewayMs, ttsMs, totalMs, fallbackUsed, success, createdAt.UTC()}
}

// Schema is the DDL applied once at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS conversation_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	message TEXT NOT NULL,
	tts_provider TEXT,
	voice TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_session ON conversation_history(session_id);

CREATE TABLE IF NOT EXISTS request_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	gateway_id TEXT,
	tts_provider TEXT,
	gateway_ms INTEGER,
	tts_ms INTEGER,
	total_ms INTEGER,
	fallback_used BOOLEAN,
	success BOOLEAN,
	created_at DATETIME NOT NULL
);
`

// Migrate applies Schema to dbPath synchronously. Intended for startup,
// outside the async write path.
func Migrate(dbPath string) error {
	db, err := openConfigured(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(Schema)
	return err
}
