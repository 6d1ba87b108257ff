package storage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/bytedance/sonic"

	"prism-tracker/domain"
)

// Document is a stored entity body plus the version it was read or written at.
type Document struct {
	ID   string
	ETag string
	Data []byte
}

// Backend abstracts the persistence engine behind every entity kind.
//
// Get returns (nil, nil) for a missing id. Replace is conditional on
// doc.ETag unless it is empty, and fails with domain.ErrConcurrencyConflict
// when the stored version moved on, or domain.ErrNotFound when the entity is
// gone. Insert fails with domain.ErrAlreadyExists for a taken id.
type Backend interface {
	Get(ctx context.Context, kind domain.Kind, id string) (*Document, error)
	List(ctx context.Context, kind domain.Kind, filter Filter) ([]Document, error)
	Insert(ctx context.Context, kind domain.Kind, doc Document) (Document, error)
	Replace(ctx context.Context, kind domain.Kind, doc Document) (Document, error)
	Delete(ctx context.Context, kind domain.Kind, id string) (bool, error)
	Close() error
}

// Filter selects documents whose top-level fields equal the given values.
// A missing field compares equal to "".
type Filter map[string]string

var fieldName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Validate rejects field names that cannot be safely addressed by every backend.
func (f Filter) Validate() error {
	for k := range f {
		if !fieldName.MatchString(k) {
			return fmt.Errorf("%w: bad filter field %q", domain.ErrInvalid, k)
		}
	}
	return nil
}

// Match reports whether the JSON document satisfies the filter.
func (f Filter) Match(data []byte) bool {
	if len(f) == 0 {
		return true
	}
	var fields map[string]any
	if err := sonic.Unmarshal(data, &fields); err != nil {
		return false
	}
	for k, want := range f {
		if fieldString(fields[k]) != want {
			return false
		}
	}
	return true
}

func fieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
