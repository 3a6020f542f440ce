// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package logging wraps zap with the KV-pair helper style used throughout
// the core, so call sites read as log.Info(ctx, "msg", logging.NewKV(...)).
package logging

import (
	"context"

	"go.uber.org/zap"
)

// KV is a single structured logging field.
type KV struct {
	Key   string
	Value any
}

// NewKV builds a KV pair.
func NewKV(key string, value any) KV {
	return KV{Key: key, Value: value}
}

func toFields(kvs []KV) []zap.Field {
	fields := make([]zap.Field, 0, len(kvs))
	for _, kv := range kvs {
		fields = append(fields, zap.Any(kv.Key, kv.Value))
	}
	return fields
}

// Logger is a named, context-carrying structured logger.
type Logger struct {
	z *zap.Logger
}

// MustNewLogger creates a named production logger, panicking on misconfiguration.
func MustNewLogger(name string) *Logger {
	z, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return &Logger{z: z.Named(name)}
}

func (l *Logger) Debug(_ context.Context, msg string, kvs ...KV) {
	l.z.Debug(msg, toFields(kvs)...)
}

func (l *Logger) Info(_ context.Context, msg string, kvs ...KV) {
	l.z.Info(msg, toFields(kvs)...)
}

func (l *Logger) Error(_ context.Context, msg string, kvs ...KV) {
	l.z.Error(msg, toFields(kvs)...)
}

// ErrorE logs an error with its associated Go error value attached as a field.
func (l *Logger) ErrorE(ctx context.Context, msg string, err error, kvs ...KV) {
	l.Error(ctx, msg, append(kvs, NewKV("Error", err.Error()))...)
}

// FatalE logs at error level with the error attached; callers decide whether
// to terminate the process, since library code must never call os.Exit.
func (l *Logger) FatalE(ctx context.Context, msg string, err error, kvs ...KV) {
	l.ErrorE(ctx, msg, err, kvs...)
}

func (l *Logger) Sync() error { return l.z.Sync() }
