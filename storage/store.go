package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"prism-tracker/domain"
)

// Records is the collection type for free-form kinds.
type Records = Collection[domain.Record, *domain.Record]

// Store groups the collections of every kind over a single backend.
type Store struct {
	backend  Backend
	Projects *Collection[domain.Project, *domain.Project]
	Epics    *Collection[domain.Epic, *domain.Epic]
	Stories  *Collection[domain.Story, *domain.Story]
	Tasks    *Collection[domain.Task, *domain.Task]
	records  map[domain.Kind]*Records
}

// NewStore wires collections for all kinds onto b.
func NewStore(b Backend) *Store {
	s := &Store{
		backend:  b,
		Projects: NewCollection[domain.Project](b, domain.KindProject),
		Epics:    NewCollection[domain.Epic](b, domain.KindEpic),
		Stories:  NewCollection[domain.Story](b, domain.KindStory),
		Tasks:    NewCollection[domain.Task](b, domain.KindTask),
		records:  make(map[domain.Kind]*Records),
	}
	for _, k := range domain.DocumentKinds() {
		s.records[k] = NewCollection[domain.Record](b, k)
	}
	return s
}

// Records returns the free-form collection for kind, or nil for typed kinds.
func (s *Store) Records(kind domain.Kind) *Records {
	return s.records[kind]
}

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }

// Options selects and configures a backend.
type Options struct {
	Backend          string
	SQLitePath       string
	Redis            *redis.Client
	RedisPrefix      string
	ConnectionString string
	Table            string
}

// Open builds the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch strings.ToLower(opts.Backend) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, opts.SQLitePath)
	case "redis":
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis backend requires REDIS_CONNECTION_STRING")
		}
		return NewRedis(opts.Redis, opts.RedisPrefix), nil
	case "aztables":
		return NewTables(ctx, opts.ConnectionString, opts.Table)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
