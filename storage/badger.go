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
	"bytes"
	"context"

	badger "github.com/dgraph-io/badger/v3"

	"github.com/contextmesh/core/errors"
)

// BadgerEngine is an Engine backed by a single badger.DB, with column
// families implemented as a one-byte key prefix the way defradb's
// datastore/badger layer multiplexes logical stores onto one physical one.
type BadgerEngine struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger store at path. An empty path opens
// an in-memory store, mirroring defradb's "memory" datastore option.
func OpenBadger(path string) (*BadgerEngine, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap("failed to open badger store", err)
	}
	return &BadgerEngine{db: db}, nil
}

func prefixedKey(column Column, key []byte) []byte {
	out := make([]byte, 0, len(column)+1+len(key))
	out = append(out, []byte(column)...)
	out = append(out, 0x00)
	out = append(out, key...)
	return out
}

func (e *BadgerEngine) Get(_ context.Context, column Column, key []byte) ([]byte, bool, error) {
	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(prefixedKey(column, key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = append([]byte(nil), v...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap("badger get failed", err)
	}
	return value, true, nil
}

func (e *BadgerEngine) Put(_ context.Context, column Column, key, value []byte) error {
	err := e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(prefixedKey(column, key), value)
	})
	if err != nil {
		return errors.Wrap("badger put failed", err)
	}
	return nil
}

func (e *BadgerEngine) Delete(_ context.Context, column Column, key []byte) error {
	err := e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(prefixedKey(column, key))
	})
	if err != nil {
		return errors.Wrap("badger delete failed", err)
	}
	return nil
}

func (e *BadgerEngine) Has(ctx context.Context, column Column, key []byte) (bool, error) {
	_, ok, err := e.Get(ctx, column, key)
	return ok, err
}

func (e *BadgerEngine) BatchPut(_ context.Context, column Column, kvs map[string][]byte) error {
	wb := e.db.NewWriteBatch()
	defer wb.Cancel()
	for k, v := range kvs {
		if err := wb.Set(prefixedKey(column, []byte(k)), v); err != nil {
			return errors.Wrap("badger batch put failed", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return errors.Wrap("badger batch flush failed", err)
	}
	return nil
}

func (e *BadgerEngine) BatchDelete(_ context.Context, column Column, keys [][]byte) error {
	wb := e.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(prefixedKey(column, k)); err != nil {
			return errors.Wrap("badger batch delete failed", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return errors.Wrap("badger batch flush failed", err)
	}
	return nil
}

func (e *BadgerEngine) Close() error {
	return e.db.Close()
}

// badgerIterator adapts a badger.Iterator (snapshotted in a long-lived
// transaction) to the Iterator contract.
type badgerIterator struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
	column Column
	err    error
	cur    Entry
}

func (e *BadgerEngine) Iter(_ context.Context, column Column, prefix []byte) (Iterator, error) {
	txn := e.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	fullPrefix := prefixedKey(column, prefix)
	opts.Prefix = fullPrefix
	it := txn.NewIterator(opts)
	it.Seek(fullPrefix)
	return &badgerIterator{txn: txn, it: it, prefix: fullPrefix, column: column}, nil
}

func (it *badgerIterator) Next() bool {
	if !it.it.ValidForPrefix(it.prefix) {
		return false
	}
	item := it.it.Item()
	key := bytes.TrimPrefix(item.KeyCopy(nil), append([]byte(it.column), 0x00))
	err := item.Value(func(v []byte) error {
		it.cur = Entry{Key: key, Value: append([]byte(nil), v...)}
		return nil
	})
	if err != nil {
		it.err = err
		return false
	}
	it.it.Next()
	return true
}

func (it *badgerIterator) Entry() Entry { return it.cur }
func (it *badgerIterator) Err() error   { return it.err }

func (it *badgerIterator) Close() error {
	it.it.Close()
	it.txn.Discard()
	return nil
}
