// Package capture records device events to a SQLite database so that a
// debugging session can be inspected after the device has gone.
package capture

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/serialdebug/internal/monitoring"
	"github.com/banshee-data/serialdebug/internal/project"
	"github.com/banshee-data/serialdebug/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a capture database.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Session is one recording run.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
}

// Record is one stored event.
type Record struct {
	ID         int64         `json:"id"`
	SessionID  string        `json:"session_id"`
	Event      project.Event `json:"event"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to timestamp sessions and events.
func WithClock(c timeutil.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open opens (creating if needed) the database at path and brings its schema
// up to date.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection also keeps :memory:
	// databases coherent
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	s := &Store{db: db, clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// m is not closed: that would close the shared *sql.DB

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	monitoring.Debugf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewSession starts a session called name.
func (s *Store) NewSession(name string) (Session, error) {
	sess := Session{ID: uuid.NewString(), Name: name, StartedAt: s.clock.Now().UTC()}
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, name, started_unix_nanos) VALUES (?, ?, ?)`,
		sess.ID, sess.Name, sess.StartedAt.UnixNano(),
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// Sessions lists sessions, oldest first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(`SELECT session_id, name, started_unix_nanos FROM sessions ORDER BY started_unix_nanos, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		var started int64
		if err := rows.Scan(&sess.ID, &sess.Name, &started); err != nil {
			return nil, err
		}
		sess.StartedAt = time.Unix(0, started).UTC()
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Record stores e under sessionID.
func (s *Store) Record(sessionID string, e project.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO events (session_id, type, payload, recorded_unix_nanos) VALUES (?, ?, ?, ?)`,
		sessionID, string(e.Type), string(payload), s.clock.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", e.Type, err)
	}
	return nil
}

// Events returns the events of sessionID in the order they were recorded.
func (s *Store) Events(sessionID string) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT event_id, payload, recorded_unix_nanos FROM events WHERE session_id = ? ORDER BY event_id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec := Record{SessionID: sessionID}
		var payload string
		var recorded int64
		if err := rows.Scan(&rec.ID, &payload, &recorded); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &rec.Event); err != nil {
			return nil, fmt.Errorf("event %d: %w", rec.ID, err)
		}
		rec.RecordedAt = time.Unix(0, recorded).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Recorder starts a session and returns an emitter that forwards each event
// to next and then records it. A forwarding failure is returned to the
// driver; a recording failure is only logged.
func (s *Store) Recorder(sessionName string, next project.Emitter) (project.Emitter, Session, error) {
	sess, err := s.NewSession(sessionName)
	if err != nil {
		return nil, Session{}, err
	}
	return project.EmitterFunc(func(e project.Event) error {
		if err := next.Send(e); err != nil {
			return err
		}
		if err := s.Record(sess.ID, e); err != nil {
			monitoring.Logf("capture %s: %v", sess.ID, err)
		}
		return nil
	}), sess, nil
}
