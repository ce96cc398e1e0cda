package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/logger"
)

// PgService is the Postgres document backend, used when DATABASE_URL is
// set. Document bodies are stored as JSONB.
type PgService struct {
	pool *pgxpool.Pool
}

// NewPgService connects to Postgres and makes sure the schema exists.
func NewPgService(ctx context.Context, databaseURL string) (*PgService, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not connect to postgres: %w", err)
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL,
			create_time TIMESTAMPTZ NOT NULL,
			update_time TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (collection, id)
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not initialise schema: %w", err)
	}
	return &PgService{pool: pool}, nil
}

// Get implements docstore.Backend.
func (s *PgService) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var data []byte
	doc := docstore.Document{Collection: collection, ID: id}
	err := s.pool.QueryRow(ctx, `
		SELECT data, create_time, update_time
		FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id).Scan(&data, &doc.CreateTime, &doc.UpdateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, err
	}
	if doc.Fields, err = docstore.DecodeFields(data); err != nil {
		return docstore.Document{}, err
	}
	return doc, nil
}

// Put implements docstore.Backend.
func (s *PgService) Put(ctx context.Context, collection, id string, data []byte, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, data, create_time, update_time)
		VALUES ($1, $2, $3::jsonb, $4, $4)
		ON CONFLICT (collection, id) DO UPDATE SET
			data = EXCLUDED.data,
			update_time = EXCLUDED.update_time
	`, collection, id, string(data), now.UTC())
	return err
}

// Delete implements docstore.Backend.
func (s *PgService) Delete(ctx context.Context, collection, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	return err
}

// Query implements docstore.Backend.
func (s *PgService) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, data, create_time, update_time FROM documents WHERE collection = $1`)
	args := []interface{}{q.Collection}
	if q.DocID != "" {
		args = append(args, q.DocID)
		fmt.Fprintf(&sb, ` AND id = $%d`, len(args))
	}
	for _, f := range q.Filters {
		args = append(args, f.Field, f.Value)
		fmt.Fprintf(&sb, ` AND data->>$%d = $%d`, len(args)-1, len(args))
	}
	sb.WriteString(` ORDER BY create_time, id`)

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var data []byte
		doc := docstore.Document{Collection: q.Collection}
		if err := rows.Scan(&doc.ID, &data, &doc.CreateTime, &doc.UpdateTime); err != nil {
			return nil, err
		}
		if doc.Fields, err = docstore.DecodeFields(data); err != nil {
			return nil, fmt.Errorf("%s/%s: %w", q.Collection, doc.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Close closes the pool.
func (s *PgService) Close() error {
	s.pool.Close()
	logger.Info.Println("Postgres pool closed.")
	return nil
}
