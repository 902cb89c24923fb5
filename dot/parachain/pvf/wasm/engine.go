// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

// Package wasm compiles and runs parachain validation functions with wazero.
// It is only used from inside worker processes.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"slices"

	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

var logger = log.NewFromGlobal(log.AddContext("pkg", "pvf-wasm"))

const (
	// DefaultMemoryPages is the linear memory limit used when the executor
	// params do not set one.
	DefaultMemoryPages = 4096

	validateBlockExport = "validate_block"
	heapBaseExport      = "__heap_base"
	memoryExport        = "memory"
	hostModuleName      = "env"
	pvfModuleName       = "pvf"
)

var (
	ErrMissingExport       = errors.New("missing export")
	ErrBadExportSignature  = errors.New("export has wrong signature")
	ErrUnsupportedImport   = errors.New("unsupported import")
	ErrBadImportSignature  = errors.New("import has wrong signature")
	ErrMissingHostFunction = errors.New("called host function is not provided")
)

// Config holds the worker-local engine settings.
type Config struct {
	// CompiledDir, if set, is the directory of the wazero compilation cache
	// shared by workers so a prepared module is compiled to machine code once.
	CompiledDir string
	// DefaultMemoryPages applies when ExecutorParams.MaxMemoryPages is unset.
	DefaultMemoryPages uint32
}

func (c Config) memoryPages(params parachaintypes.ExecutorParams) uint32 {
	defaultPages := c.DefaultMemoryPages
	if defaultPages == 0 {
		defaultPages = DefaultMemoryPages
	}
	return params.MemoryPages(defaultPages)
}

type engine struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
}

func newEngine(ctx context.Context, cfg Config, params parachaintypes.ExecutorParams) (*engine, error) {
	runtimeConfig := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(cfg.memoryPages(params)).
		WithCoreFeatures(api.CoreFeaturesV2)
	if params.DisableBulkMemory {
		runtimeConfig = runtimeConfig.WithCoreFeatures(api.CoreFeaturesV1)
	}

	e := &engine{}
	if cfg.CompiledDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(cfg.CompiledDir)
		if err != nil {
			return nil, fmt.Errorf("opening compilation cache: %w", err)
		}
		e.cache = cache
		runtimeConfig = runtimeConfig.WithCompilationCache(cache)
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	return e, nil
}

func (e *engine) close(ctx context.Context) {
	// the context may already be done, closing must still happen
	ctx = context.WithoutCancel(ctx)
	if err := e.runtime.Close(ctx); err != nil {
		logger.Debugf("closing wasm runtime: %s", err)
	}
	if e.cache != nil {
		if err := e.cache.Close(ctx); err != nil {
			logger.Debugf("closing compilation cache: %s", err)
		}
	}
}

// checkExports verifies the module exports validate_block(i32, i32) -> i64
// and its own linear memory.
func checkExports(compiled wazero.CompiledModule) error {
	validateBlock, ok := compiled.ExportedFunctions()[validateBlockExport]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingExport, validateBlockExport)
	}
	if !slices.Equal(validateBlock.ParamTypes(), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}) ||
		!slices.Equal(validateBlock.ResultTypes(), []api.ValueType{api.ValueTypeI64}) {
		return fmt.Errorf("%w: %s", ErrBadExportSignature, validateBlockExport)
	}

	if _, ok := compiled.ExportedMemories()[memoryExport]; !ok {
		return fmt.Errorf("%w: %s", ErrMissingExport, memoryExport)
	}
	if imported := compiled.ImportedMemories(); len(imported) > 0 {
		moduleName, name, _ := imported[0].Import()
		return fmt.Errorf("%w: memory %s.%s", ErrUnsupportedImport, moduleName, name)
	}
	return nil
}

// instance is one instantiated validation function with its allocator.
type instance struct {
	module    api.Module
	allocator *allocator
}

// instantiate links the compiled module against the host functions and
// instantiates it. The returned instance is closed with its runtime.
func (e *engine) instantiate(ctx context.Context, compiled wazero.CompiledModule) (*instance, error) {
	inst := &instance{}
	if err := exportHostFunctions(ctx, e.runtime, compiled, inst); err != nil {
		return nil, err
	}

	module, err := e.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(pvfModuleName).WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("instantiating module: %w", err)
	}

	heapBase := module.ExportedGlobal(heapBaseExport)
	if heapBase == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingExport, heapBaseExport)
	}
	if heapBase.Type() != api.ValueTypeI32 {
		return nil, fmt.Errorf("%w: %s", ErrBadExportSignature, heapBaseExport)
	}

	memory := module.ExportedMemory(memoryExport)
	if memory == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingExport, memoryExport)
	}

	inst.module = module
	inst.allocator = newAllocator(memory, api.DecodeU32(heapBase.Get()))
	return inst, nil
}
