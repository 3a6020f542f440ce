// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package runtime

import (
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/contextmesh/core/errors"
)

// hostCtx is the per-invocation state shared between the Go host and the
// guest module's imported functions, mirroring a classic WASM "guest
// requests host services via imported functions operating on guest
// linear memory" bridge.
type hostCtx struct {
	mem       *wasmer.Memory
	prevState []byte
	nextState []byte
}

func (h *hostCtx) read(ptr, length int32) []byte {
	data := h.mem.Data()
	return append([]byte(nil), data[ptr:ptr+length]...)
}

func (h *hostCtx) write(ptr int32, data []byte) {
	copy(h.mem.Data()[ptr:], data)
}

// registerHost binds the host_get_state/host_set_state imports the guest
// uses to load its previously persisted state and persist the new state
// before returning from apply_next.
func registerHost(store *wasmer.Store, h *hostCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	hostStateLen := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			return []wasmer.Value{wasmer.NewI32(int32(len(h.prevState)))}, nil
		},
	)

	hostGetState := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
			wasmer.NewValueTypes(),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			dst := args[0].I32()
			h.write(dst, h.prevState)
			return nil, nil
		},
	)

	hostSetState := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)),
			wasmer.NewValueTypes(),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, length := args[0].I32(), args[1].I32()
			h.nextState = h.read(ptr, length)
			return nil, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_state_len": hostStateLen,
		"host_get_state": hostGetState,
		"host_set_state": hostSetState,
	})
	return imports
}

// invokeApplyNext compiles nothing (mod is already compiled); it creates a
// fresh instance bound to prevState, writes the serialized action payload
// into guest memory via the exported `alloc` function, calls
// `apply_next(ptr, len) -> ptr` and reads back the result buffer the
// guest wrote, taking its length from the guest's `result_len` export and
// decoding it into an Outcome plus the guest's new
// persisted state.
func (e *Engine) invokeApplyNext(mod *wasmer.Module, prevState, payload []byte) (Outcome, []byte, error) {
	store := wasmer.NewStore(e.wasmEngine)
	h := &hostCtx{prevState: prevState}
	imports := registerHost(store, h)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return Outcome{}, nil, errors.Wrap("failed to instantiate wasm module", err)
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return Outcome{}, nil, errors.Wrap("wasm module has no exported memory", err)
	}
	h.mem = mem

	alloc, err := instance.Exports.GetFunction("alloc")
	if err != nil {
		return Outcome{}, nil, errors.Wrap("wasm module missing alloc export", err)
	}
	applyNext, err := instance.Exports.GetFunction("apply_next")
	if err != nil {
		return Outcome{}, nil, errors.Wrap("wasm module missing apply_next export", err)
	}
	resultLen, err := instance.Exports.GetFunction("result_len")
	if err != nil {
		return Outcome{}, nil, errors.Wrap("wasm module missing result_len export", err)
	}

	ptrRaw, err := alloc(int32(len(payload)))
	if err != nil {
		return Outcome{}, nil, errors.Wrap("wasm alloc call failed", err)
	}
	ptr, ok := ptrRaw.(int32)
	if !ok {
		return Outcome{}, nil, errors.Decoding("wasm alloc did not return i32", nil)
	}
	h.write(ptr, payload)

	resultPtrRaw, err := applyNext(ptr, int32(len(payload)))
	if err != nil {
		return Outcome{}, nil, errors.Wrap("apply_next call trapped", err)
	}
	resultPtr, ok := resultPtrRaw.(int32)
	if !ok {
		return Outcome{}, nil, errors.Decoding("apply_next did not return i32", nil)
	}

	resultLenRaw, err := resultLen()
	if err != nil {
		return Outcome{}, nil, errors.Wrap("result_len call failed", err)
	}
	length, ok := resultLenRaw.(int32)
	if !ok {
		return Outcome{}, nil, errors.Decoding("result_len did not return i32", nil)
	}

	resultBytes := h.read(resultPtr, length)
	outcome, err := decodeOutcome(resultBytes)
	if err != nil {
		return Outcome{}, nil, err
	}

	return outcome, h.nextState, nil
}
