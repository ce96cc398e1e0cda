package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // The pure Go SQLite driver

	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/logger"
)

// Service is the SQLite document backend. Every document lives in a single
// `documents` table keyed by (collection, id), with the body stored as JSON
// text. Writes are serialised through a mutex-guarded transaction.
type Service struct {
	dbPath string
	db     *sql.DB
	// writeMu ensures only one write transaction is open at a time.
	writeMu sync.Mutex
}

// NewService opens (or creates) the SQLite database at dbPath and makes
// sure the schema exists. ":memory:" gives a private in-memory database,
// which is what the tests use.
func NewService(dbPath string) (*Service, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", dbPath, err)
	}
	// A single connection keeps an in-memory database alive and shared,
	// and SQLite only has one writer anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to %s: %w", dbPath, err)
	}

	s := &Service{dbPath: dbPath, db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialise schema: %w", err)
	}
	return s, nil
}

// WriteTx executes a write operation within a transaction, protected by a
// mutex to ensure serial access.
func (s *Service) WriteTx(ctx context.Context, writeFunc func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := writeFunc(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Get implements docstore.Backend.
func (s *Service) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	return getDocument(ctx, s.db, collection, id)
}

// Put implements docstore.Backend.
func (s *Service) Put(ctx context.Context, collection, id string, data []byte, now time.Time) error {
	return s.WriteTx(ctx, func(tx *sql.Tx) error {
		return putDocument(ctx, tx, collection, id, data, now)
	})
}

// Delete implements docstore.Backend.
func (s *Service) Delete(ctx context.Context, collection, id string) error {
	return s.WriteTx(ctx, func(tx *sql.Tx) error {
		return deleteDocument(ctx, tx, collection, id)
	})
}

// Query implements docstore.Backend.
func (s *Service) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	return queryDocuments(ctx, s.db, q)
}

// Close closes the database connection when the application shuts down.
func (s *Service) Close() error {
	err := s.db.Close()
	logger.Info.Printf("SQLite database %s closed.", s.dbPath)
	return err
}

// initSchema sets up the documents table if it doesn't exist. This is
// idempotent and safe to run on every application start.
func (s *Service) initSchema() error {
	return s.WriteTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS documents (
				collection TEXT NOT NULL,
				id TEXT NOT NULL,
				data TEXT NOT NULL,
				create_time TEXT NOT NULL,
				update_time TEXT NOT NULL,
				PRIMARY KEY (collection, id)
			);`)
		return err
	})
}
