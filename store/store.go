// Package store holds recorded records between capture and export. A store
// is an ordered, append-only collection scoped to one recording session.
package store

import (
	"context"
	"sync"

	"github.com/hazyhaar/timecat/record"
)

// Store is what the recorder writes to and the player reads from.
type Store interface {
	// Clear drops every record of the session.
	Clear(ctx context.Context) error
	// Add appends r.
	Add(ctx context.Context, r record.Record) error
	// ReadAllRecords returns the session's records in insertion order.
	ReadAllRecords(ctx context.Context) ([]record.Record, error)
}

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu   sync.Mutex
	recs []record.Record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	m.recs = nil
	m.mu.Unlock()
	return nil
}

func (m *Memory) Add(_ context.Context, r record.Record) error {
	m.mu.Lock()
	m.recs = append(m.recs, r)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ReadAllRecords(context.Context) ([]record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]record.Record(nil), m.recs...), nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}
