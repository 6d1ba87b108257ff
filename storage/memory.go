package storage

import (
	"context"
	"strconv"
	"sync"

	"prism-tracker/domain"
)

// Memory keeps documents in process. Used by default and in tests.
type Memory struct {
	mu   sync.RWMutex
	docs map[domain.Kind]map[string]Document
	seq  uint64
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[domain.Kind]map[string]Document)}
}

func (m *Memory) nextETag() string {
	m.seq++
	return strconv.FormatUint(m.seq, 10)
}

func (m *Memory) Get(_ context.Context, kind domain.Kind, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[kind][id]
	if !ok {
		return nil, nil
	}
	cp := clone(doc)
	return &cp, nil
}

func (m *Memory) List(_ context.Context, kind domain.Kind, filter Filter) ([]Document, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.docs[kind]))
	for _, doc := range m.docs[kind] {
		if filter.Match(doc.Data) {
			out = append(out, clone(doc))
		}
	}
	return out, nil
}

func (m *Memory) Insert(_ context.Context, kind domain.Kind, doc Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.docs[kind]
	if !ok {
		bucket = make(map[string]Document)
		m.docs[kind] = bucket
	}
	if _, exists := bucket[doc.ID]; exists {
		return Document{}, domain.ErrAlreadyExists
	}
	doc = clone(doc)
	doc.ETag = m.nextETag()
	bucket[doc.ID] = doc
	return clone(doc), nil
}

func (m *Memory) Replace(_ context.Context, kind domain.Kind, doc Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.docs[kind][doc.ID]
	if !ok {
		return Document{}, domain.ErrNotFound
	}
	if doc.ETag != "" && doc.ETag != cur.ETag {
		return Document{}, domain.ErrConcurrencyConflict
	}
	doc = clone(doc)
	doc.ETag = m.nextETag()
	m.docs[kind][doc.ID] = doc
	return clone(doc), nil
}

func (m *Memory) Delete(_ context.Context, kind domain.Kind, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[kind][id]; !ok {
		return false, nil
	}
	delete(m.docs[kind], id)
	return true, nil
}

func (m *Memory) Close() error { return nil }

func clone(doc Document) Document {
	doc.Data = append([]byte(nil), doc.Data...)
	return doc
}
