// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package wasm

import (
	"context"
	"fmt"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

type hostFunction struct {
	params  []api.ValueType
	results []api.ValueType
	build   func(inst *instance) api.GoModuleFunc
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// hostFunctions are the only functions a validation function may call.
var hostFunctions = map[string]hostFunction{
	"ext_allocator_malloc_version_1": {
		params:  []api.ValueType{i32},
		results: []api.ValueType{i32},
		build: func(inst *instance) api.GoModuleFunc {
			return func(_ context.Context, _ api.Module, stack []uint64) {
				pointer, err := inst.allocator.allocate(api.DecodeU32(stack[0]))
				if err != nil {
					panic(fmt.Sprintf("allocating: %s", err))
				}
				stack[0] = api.EncodeU32(pointer)
			}
		},
	},
	"ext_allocator_free_version_1": {
		params: []api.ValueType{i32},
		build: func(inst *instance) api.GoModuleFunc {
			return func(_ context.Context, _ api.Module, stack []uint64) {
				if err := inst.allocator.deallocate(api.DecodeU32(stack[0])); err != nil {
					panic(fmt.Sprintf("freeing: %s", err))
				}
			}
		},
	},
	"ext_logging_log_version_1": {
		params: []api.ValueType{i32, i64, i64},
		build: func(_ *instance) api.GoModuleFunc {
			return func(_ context.Context, m api.Module, stack []uint64) {
				level := api.DecodeI32(stack[0])
				target := readPointerSize(m, stack[1])
				message := readPointerSize(m, stack[2])
				logger.Tracef("pvf log level=%d target=%s message=%s", level, target, message)
			}
		},
	},
	"ext_logging_max_level_version_1": {
		results: []api.ValueType{i32},
		build: func(_ *instance) api.GoModuleFunc {
			return func(_ context.Context, _ api.Module, stack []uint64) {
				// off: validation functions must not depend on log output
				stack[0] = api.EncodeU32(0)
			}
		},
	},
}

// splitPointerSize splits a packed 64 bit value into its lower 32 bit
// pointer and upper 32 bit size.
func splitPointerSize(pointerSize uint64) (pointer, size uint32) {
	return uint32(pointerSize), uint32(pointerSize >> 32)
}

func readPointerSize(m api.Module, pointerSize uint64) string {
	pointer, size := splitPointerSize(pointerSize)
	data, ok := m.Memory().Read(pointer, size)
	if !ok {
		panic(fmt.Sprintf("out of bounds memory read at %d with size %d", pointer, size))
	}
	return string(data)
}

// exportHostFunctions instantiates the env module providing every function
// the compiled module imports. Unknown env functions are linked to stubs
// which trap when called, so a module only fails if it reaches them.
func exportHostFunctions(ctx context.Context, runtime wazero.Runtime,
	compiled wazero.CompiledModule, inst *instance) error {
	imports := compiled.ImportedFunctions()
	if len(imports) == 0 {
		return nil
	}

	builder := runtime.NewHostModuleBuilder(hostModuleName)
	exported := make(map[string]struct{}, len(imports))
	for _, definition := range imports {
		moduleName, name, _ := definition.Import()
		if moduleName != hostModuleName {
			return fmt.Errorf("%w: %s.%s", ErrUnsupportedImport, moduleName, name)
		}
		if _, ok := exported[name]; ok {
			continue
		}
		exported[name] = struct{}{}

		params, results := definition.ParamTypes(), definition.ResultTypes()
		function := missingHostFunction(name)
		if known, ok := hostFunctions[name]; ok {
			if !slices.Equal(known.params, params) || !slices.Equal(known.results, results) {
				return fmt.Errorf("%w: %s", ErrBadImportSignature, name)
			}
			function = known.build(inst)
		}

		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(function, params, results).
			Export(name)
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("instantiating host functions: %w", err)
	}
	return nil
}

func missingHostFunction(name string) api.GoModuleFunc {
	return func(context.Context, api.Module, []uint64) {
		panic(fmt.Errorf("%w: %s", ErrMissingHostFunction, name))
	}
}
