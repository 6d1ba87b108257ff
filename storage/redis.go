package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"prism-tracker/domain"
)

// watchRetries bounds how often a Replace is retried when an unrelated write
// to the same kind hash aborts the transaction.
const watchRetries = 10

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}

// envelope is the value stored per hash field.
type envelope struct {
	ETag string `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
}

// Redis keeps one hash per kind, keyed by entity id.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis stores documents under "<prefix>:<kind>" hashes.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "prism:entities"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(kind domain.Kind) string {
	return r.prefix + ":" + string(kind)
}

func (r *Redis) Get(ctx context.Context, kind domain.Kind, id string) (*Document, error) {
	raw, err := r.client.HGet(ctx, r.key(kind), id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s %s: %w", kind, id, err)
	}
	doc, err := unwrap(id, raw)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *Redis) List(ctx context.Context, kind domain.Kind, filter Filter) ([]Document, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	all, err := r.client.HGetAll(ctx, r.key(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", kind, err)
	}
	out := make([]Document, 0, len(all))
	for id, raw := range all {
		doc, err := unwrap(id, []byte(raw))
		if err != nil {
			return nil, err
		}
		if filter.Match(doc.Data) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (r *Redis) Insert(ctx context.Context, kind domain.Kind, doc Document) (Document, error) {
	doc.ETag = uuid.NewString()
	raw, err := encMode.Marshal(envelope{ETag: doc.ETag, Data: doc.Data})
	if err != nil {
		return Document{}, fmt.Errorf("encode %s: %w", kind, err)
	}
	ok, err := r.client.HSetNX(ctx, r.key(kind), doc.ID, raw).Result()
	if err != nil {
		return Document{}, fmt.Errorf("inserting %s: %w", kind, err)
	}
	if !ok {
		return Document{}, domain.ErrAlreadyExists
	}
	return doc, nil
}

func (r *Redis) Replace(ctx context.Context, kind domain.Kind, doc Document) (Document, error) {
	key := r.key(kind)
	next := uuid.NewString()
	raw, err := encMode.Marshal(envelope{ETag: next, Data: doc.Data})
	if err != nil {
		return Document{}, fmt.Errorf("encode %s: %w", kind, err)
	}
	txn := func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, doc.ID).Bytes()
		if err == redis.Nil {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		stored, err := unwrap(doc.ID, cur)
		if err != nil {
			return err
		}
		if doc.ETag != "" && doc.ETag != stored.ETag {
			return domain.ErrConcurrencyConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, doc.ID, raw)
			return nil
		})
		return err
	}
	for i := 0; i < watchRetries; i++ {
		err = r.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Document{}, err
		}
		doc.ETag = next
		return doc, nil
	}
	return Document{}, domain.ErrConcurrencyConflict
}

func (r *Redis) Delete(ctx context.Context, kind domain.Kind, id string) (bool, error) {
	n, err := r.client.HDel(ctx, r.key(kind), id).Result()
	if err != nil {
		return false, fmt.Errorf("deleting %s %s: %w", kind, id, err)
	}
	return n > 0, nil
}

// Close is a no-op; the client is owned by the caller.
func (r *Redis) Close() error { return nil }

func unwrap(id string, raw []byte) (Document, error) {
	var env envelope
	if err := decMode.Unmarshal(raw, &env); err != nil {
		return Document{}, fmt.Errorf("decode envelope %s: %w", id, err)
	}
	return Document{ID: id, ETag: env.ETag, Data: env.Data}, nil
}
