// Package docstore is the document database capability: JSON documents
// grouped in collections, equality queries, and live queries that push a
// fresh snapshot every time a watched collection changes.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrNotFound is returned by Get when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidField is returned for query fields that are not plain identifiers.
	ErrInvalidField = errors.New("invalid field name")
)

// Fields is the untyped body of a document.
type Fields map[string]interface{}

type serverTimestamp struct{}

// ServerTimestamp is a field value placeholder. The store replaces it with
// its own clock at write time.
var ServerTimestamp = serverTimestamp{}

// Document is a stored document with its store-assigned metadata.
type Document struct {
	Collection string
	ID         string
	Fields     Fields
	CreateTime time.Time
	UpdateTime time.Time
}

// Filter matches documents whose top-level Field equals Value.
type Filter struct {
	Field string
	Value string
}

// Query selects documents from one collection. An empty DocID and no
// filters select the whole collection.
type Query struct {
	Collection string
	DocID      string
	Filters    []Filter
}

// Collection starts a query over a whole collection.
func Collection(name string) Query {
	return Query{Collection: name}
}

// Doc starts a query for a single document.
func Doc(collection, id string) Query {
	return Query{Collection: collection, DocID: id}
}

// Where returns a copy of q with an extra equality filter.
func (q Query) Where(field, value string) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	filters = append(filters, q.Filters...)
	q.Filters = append(filters, Filter{Field: field, Value: value})
	return q
}

func (q Query) String() string {
	s := q.Collection
	if q.DocID != "" {
		s += "/" + q.DocID
	}
	for _, f := range q.Filters {
		s += fmt.Sprintf(" [%s == %q]", f.Field, f.Value)
	}
	return s
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (q Query) validate() error {
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return fmt.Errorf("%w: %q", ErrInvalidField, f.Field)
		}
	}
	return nil
}

// topic is the realtime topic that carries change notifications for a
// collection.
func topic(collection string) string {
	return "docs:" + collection
}

// Snapshot is one delivery of a live query: the full result set at the
// time it was read, or the error that prevented reading it.
type Snapshot struct {
	Docs     []Document
	Err      error
	ReadTime time.Time
}

// Exists reports whether a single-document snapshot found its document.
func (s Snapshot) Exists() bool {
	return s.Err == nil && len(s.Docs) > 0
}

// Database is the capability the view machines depend on.
type Database interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id string, fields Fields) error
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	Watch(ctx context.Context, q Query) *Subscription
}

// Backend persists documents. Implementations only need to be correct for
// concurrent use; live queries are layered on top by Store.
type Backend interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// Put creates or fully overwrites a document. An existing document
	// keeps its create time.
	Put(ctx context.Context, collection, id string, data []byte, now time.Time) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	Close() error
}
