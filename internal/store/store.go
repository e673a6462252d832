package store

import (
	"context"
	"errors"
)

// Collection names a logical document collection.
type Collection string

const (
	Products Collection = "products"
	Bills    Collection = "bills"
)

// IDField is the key under which every Record carries its identity.
const IDField = "id"

// ErrNotFound is returned by Update and Delete for unknown ids.
var ErrNotFound = errors.New("document not found")

// Record is one schemaless document.
type Record map[string]any

// ID returns the record identity, or "" when absent.
func (r Record) ID() string {
	id, _ := r[IDField].(string)
	return id
}

// Clone copies the top level of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type ChangeOp string

const (
	OpCreate ChangeOp = "create"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Change is pushed to subscribers after a write is applied.
type Change struct {
	Collection Collection `json:"collection"`
	ID         string     `json:"id"`
	Op         ChangeOp   `json:"op"`
}

// DocumentStore is the CRUD + query + subscription surface the engine and
// the catalog read and write through.
type DocumentStore interface {
	GetAll(ctx context.Context, c Collection) ([]Record, error)
	Create(ctx context.Context, c Collection, data Record) (string, error)
	Update(ctx context.Context, c Collection, id string, partial Record) error
	Delete(ctx context.Context, c Collection, id string) error
	Subscribe(ctx context.Context, c Collection, fn func(Change)) (func(), error)
}

// BulkCreator is implemented by stores that can insert a batch atomically.
type BulkCreator interface {
	CreateMany(ctx context.Context, c Collection, records []Record) ([]string, error)
}

// WithoutID strips the identity before a body is persisted.
func WithoutID(data Record) Record {
	out := data.Clone()
	delete(out, IDField)
	return out
}
