package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/intermernet/climbsignups/internal/docstore"
)

// DBorTx is an interface that allows functions to accept either a `*sql.DB` for single queries
// or a `*sql.Tx` for operations within a transaction.
type DBorTx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func getDocument(ctx context.Context, db DBorTx, collection, id string) (docstore.Document, error) {
	query := `SELECT data, create_time, update_time FROM documents WHERE collection = ? AND id = ?;`
	var data, created, updated string
	err := db.QueryRowContext(ctx, query, collection, id).Scan(&data, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, err
	}
	return scanDocument(collection, id, data, created, updated)
}

// putDocument upserts a document. The create time of an existing document
// is preserved.
func putDocument(ctx context.Context, db DBorTx, collection, id string, data []byte, now time.Time) error {
	ts := now.UTC().Format(timeLayout)
	query := `
		INSERT INTO documents (collection, id, data, create_time, update_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			data = excluded.data,
			update_time = excluded.update_time;`
	_, err := db.ExecContext(ctx, query, collection, id, string(data), ts, ts)
	return err
}

func deleteDocument(ctx context.Context, db DBorTx, collection, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?;`, collection, id)
	return err
}

// queryDocuments runs an equality query. Filters compare the JSON text
// value of a top-level field; field names are validated by the caller.
func queryDocuments(ctx context.Context, db DBorTx, q docstore.Query) ([]docstore.Document, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, data, create_time, update_time FROM documents WHERE collection = ?`)
	args := []interface{}{q.Collection}
	if q.DocID != "" {
		sb.WriteString(` AND id = ?`)
		args = append(args, q.DocID)
	}
	for _, f := range q.Filters {
		sb.WriteString(` AND json_extract(data, ?) = ?`)
		args = append(args, "$."+f.Field, f.Value)
	}
	sb.WriteString(` ORDER BY create_time, id;`)

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var id, data, created, updated string
		if err := rows.Scan(&id, &data, &created, &updated); err != nil {
			return nil, err
		}
		doc, err := scanDocument(q.Collection, id, data, created, updated)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(collection, id, data, created, updated string) (docstore.Document, error) {
	fields, err := docstore.DecodeFields([]byte(data))
	if err != nil {
		return docstore.Document{}, fmt.Errorf("%s/%s: %w", collection, id, err)
	}
	doc := docstore.Document{Collection: collection, ID: id, Fields: fields}
	doc.CreateTime, _ = time.Parse(timeLayout, created)
	doc.UpdateTime, _ = time.Parse(timeLayout, updated)
	return doc, nil
}
