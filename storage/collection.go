package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"prism-tracker/domain"
)

const defaultUpdateAttempts = 5

// protectedFields are never overwritten by a partial update.
var protectedFields = map[string]struct{}{"id": {}, "createdAt": {}}

// Collection is the typed entity store for one kind.
type Collection[T any, PT domain.Entity[T]] struct {
	backend  Backend
	kind     domain.Kind
	attempts int
	now      func() time.Time
}

// NewCollection binds a kind to a backend.
func NewCollection[T any, PT domain.Entity[T]](b Backend, kind domain.Kind) *Collection[T, PT] {
	return &Collection[T, PT]{backend: b, kind: kind, attempts: defaultUpdateAttempts, now: time.Now}
}

// Kind returns the entity kind served by the collection.
func (c *Collection[T, PT]) Kind() domain.Kind { return c.kind }

// Get returns the entity or (nil, nil) when it does not exist.
func (c *Collection[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	doc, err := c.backend.Get(ctx, c.kind, id)
	if err != nil || doc == nil {
		return nil, err
	}
	return c.decode(*doc)
}

// List returns matching entities ordered by creation time.
func (c *Collection[T, PT]) List(ctx context.Context, filter Filter) ([]PT, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	docs, err := c.backend.List(ctx, c.kind, filter)
	if err != nil {
		return nil, err
	}
	out := make([]PT, 0, len(docs))
	for _, doc := range docs {
		v, err := c.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Base(), out[j].Base()
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// Create assigns an id when missing, stamps timestamps and inserts v.
func (c *Collection[T, PT]) Create(ctx context.Context, v PT) (PT, error) {
	m := v.Base()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := c.now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.kind, err)
	}
	doc, err := c.backend.Insert(ctx, c.kind, Document{ID: m.ID, Data: data})
	if err != nil {
		return nil, err
	}
	m.ETag = doc.ETag
	return v, nil
}

// Replace writes v conditionally on the version it was read at.
func (c *Collection[T, PT]) Replace(ctx context.Context, v PT) (PT, error) {
	m := v.Base()
	m.UpdatedAt = c.now().UTC()
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.kind, err)
	}
	doc, err := c.backend.Replace(ctx, c.kind, Document{ID: m.ID, ETag: m.ETag, Data: data})
	if err != nil {
		return nil, err
	}
	m.ETag = doc.ETag
	return v, nil
}

// Update merges patch into the stored entity. It returns (nil, nil) when the
// entity does not exist and retries when a concurrent writer wins the race.
func (c *Collection[T, PT]) Update(ctx context.Context, id string, patch map[string]any) (PT, error) {
	for attempt := 0; attempt < c.attempts; attempt++ {
		doc, err := c.backend.Get(ctx, c.kind, id)
		if err != nil || doc == nil {
			return nil, err
		}
		var fields map[string]any
		if err := sonic.Unmarshal(doc.Data, &fields); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", c.kind, id, err)
		}
		if fields == nil {
			fields = map[string]any{}
		}
		for k, v := range patch {
			if _, skip := protectedFields[k]; skip {
				continue
			}
			if v == nil {
				delete(fields, k)
				continue
			}
			fields[k] = v
		}
		fields["updatedAt"] = c.now().UTC()
		data, err := sonic.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", c.kind, id, err)
		}
		// Decoding into T rejects patches that break the entity's shape.
		if _, err := c.decode(Document{ID: id, Data: data}); err != nil {
			return nil, err
		}
		written, err := c.backend.Replace(ctx, c.kind, Document{ID: id, ETag: doc.ETag, Data: data})
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			continue
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return c.decode(written)
	}
	return nil, fmt.Errorf("update %s %s: %w", c.kind, id, domain.ErrConcurrencyConflict)
}

// Delete removes the entity and reports whether it existed.
func (c *Collection[T, PT]) Delete(ctx context.Context, id string) (bool, error) {
	return c.backend.Delete(ctx, c.kind, id)
}

func (c *Collection[T, PT]) decode(doc Document) (PT, error) {
	v := PT(new(T))
	if err := sonic.Unmarshal(doc.Data, v); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrInvalid, c.kind, doc.ID, err)
	}
	m := v.Base()
	m.ID = doc.ID
	m.ETag = doc.ETag
	return v, nil
}
