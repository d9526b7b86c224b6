// Package store persists one document per entity, grouped by kind.
//
// Backends deal in raw YAML bytes; GetRecord and PutRecord handle the
// encoding. Writes are all-or-nothing per record: a failed Save leaves the
// previous document intact.
//
// Cache sits in front of any backend and is the only in-memory copy of
// records. Reads may be served from it; read-modify-write sections must
// call Fresh under the entity's lock so they never act on a copy another
// process has since replaced.
package store

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/hookline/internal/errors"
)

// Kind groups records of one entity type.
type Kind string

const (
	Queues             Kind = "queues"
	WorkflowsActive    Kind = "workflows/active"
	WorkflowsCompleted Kind = "workflows/completed"
	WorkflowTemplates  Kind = "workflows/templates"
	Gates              Kind = "gates"
)

// Kinds lists every record kind.
func Kinds() []Kind {
	return []Kind{Queues, WorkflowsActive, WorkflowsCompleted, WorkflowTemplates, Gates}
}

// Store is a durable keyed document store.
type Store interface {
	// Load returns the record body, or a *errors.NotFoundError.
	Load(ctx context.Context, kind Kind, id string) ([]byte, error)
	// Save replaces the record atomically.
	Save(ctx context.Context, kind Kind, id string, data []byte) error
	// Delete removes the record, or returns a *errors.NotFoundError.
	Delete(ctx context.Context, kind Kind, id string) error
	// List returns the ids of every record of kind in lexical order.
	List(ctx context.Context, kind Kind) ([]string, error)
	Close() error
}

// Refresher is implemented by stores that keep an in-memory copy.
type Refresher interface {
	// Refresh reloads id from the backend, replacing any cached copy.
	Refresh(ctx context.Context, kind Kind, id string) ([]byte, error)
}

// Fresh loads id bypassing any cache in front of s.
func Fresh(ctx context.Context, s Store, kind Kind, id string) ([]byte, error) {
	if r, ok := s.(Refresher); ok {
		return r.Refresh(ctx, kind, id)
	}
	return s.Load(ctx, kind, id)
}

// GetRecord loads and decodes a record into out.
func GetRecord(ctx context.Context, s Store, kind Kind, id string, out any) error {
	data, err := s.Load(ctx, kind, id)
	if err != nil {
		return err
	}
	return decode(kind, id, data, out)
}

// GetFresh is GetRecord through Fresh.
func GetFresh(ctx context.Context, s Store, kind Kind, id string, out any) error {
	data, err := Fresh(ctx, s, kind, id)
	if err != nil {
		return err
	}
	return decode(kind, id, data, out)
}

// PutRecord encodes v and saves it.
func PutRecord(ctx context.Context, s Store, kind Kind, id string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.NewStorageError("encode record", string(kind), id, err)
	}
	return s.Save(ctx, kind, id, data)
}

// Move writes v under to and then deletes the copy under from. A crash
// between the two leaves the record in both kinds; readers look in the
// destination first.
func Move(ctx context.Context, s Store, from, to Kind, id string, v any) error {
	if err := PutRecord(ctx, s, to, id, v); err != nil {
		return err
	}
	if err := s.Delete(ctx, from, id); err != nil && !errors.Is(err, errors.ErrNotFound) {
		return err
	}
	return nil
}

func decode(kind Kind, id string, data []byte, out any) error {
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.NewStorageError("decode record", string(kind), id, err)
	}
	return nil
}

func notFound(kind Kind, id string) error {
	return errors.NewNotFoundError(fmt.Sprintf("%s record", kind), id)
}
