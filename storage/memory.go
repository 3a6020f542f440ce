// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryEngine is a pure in-process Engine, used by the simulation harness
// (I4 strategy-equivalence checks) where many nodes are spun up in one
// process and a real badger file store would be unnecessary overhead.
type MemoryEngine struct {
	mu   sync.RWMutex
	data map[Column]map[string][]byte
}

// NewMemoryEngine creates an empty in-memory Engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{data: make(map[Column]map[string][]byte)}
}

func (e *MemoryEngine) column(c Column) map[string][]byte {
	m, ok := e.data[c]
	if !ok {
		m = make(map[string][]byte)
		e.data[c] = m
	}
	return m
}

func (e *MemoryEngine) Get(_ context.Context, column Column, key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.data[column][string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (e *MemoryEngine) Put(_ context.Context, column Column, key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.column(column)[string(key)] = append([]byte(nil), value...)
	return nil
}

func (e *MemoryEngine) Delete(_ context.Context, column Column, key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.column(column), string(key))
	return nil
}

func (e *MemoryEngine) Has(ctx context.Context, column Column, key []byte) (bool, error) {
	_, ok, err := e.Get(ctx, column, key)
	return ok, err
}

func (e *MemoryEngine) BatchPut(_ context.Context, column Column, kvs map[string][]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.column(column)
	for k, v := range kvs {
		m[k] = append([]byte(nil), v...)
	}
	return nil
}

func (e *MemoryEngine) BatchDelete(_ context.Context, column Column, keys [][]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.column(column)
	for _, k := range keys {
		delete(m, string(k))
	}
	return nil
}

func (e *MemoryEngine) Close() error { return nil }

type memoryIterator struct {
	entries []Entry
	idx     int
}

func (e *MemoryEngine) Iter(_ context.Context, column Column, prefix []byte) (Iterator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	m := e.data[column]
	keys := make([]string, 0, len(m))
	for k := range m {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == string(prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{Key: []byte(k), Value: append([]byte(nil), m[k]...)})
	}
	return &memoryIterator{entries: entries, idx: -1}, nil
}

func (it *memoryIterator) Next() bool {
	it.idx++
	return it.idx < len(it.entries)
}

func (it *memoryIterator) Entry() Entry { return it.entries[it.idx] }
func (it *memoryIterator) Err() error   { return nil }
func (it *memoryIterator) Close() error { return nil }
