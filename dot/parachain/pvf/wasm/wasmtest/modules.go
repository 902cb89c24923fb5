// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

// Package wasmtest holds hand assembled PVF modules for tests. Every module
// exports memory (17 pages unless stated otherwise) and __heap_base = 1MiB.
package wasmtest

// HeapBase is the __heap_base value of every module.
const HeapBase = 1 << 20

// Echo returns a validation result whose head data is the encoded validation
// parameters it was called with. It uses memory.copy from the bulk memory proposal.
var Echo = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x07, 0x01, 0x60,
	0x02, 0x7f, 0x7f, 0x01, 0x7e, 0x03, 0x02, 0x01, 0x00, 0x05, 0x03, 0x01,
	0x00, 0x11, 0x06, 0x09, 0x01, 0x7f, 0x00, 0x41, 0x80, 0x80, 0xc0, 0x00,
	0x0b, 0x07, 0x29, 0x03, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02,
	0x00, 0x0b, 0x5f, 0x5f, 0x68, 0x65, 0x61, 0x70, 0x5f, 0x62, 0x61, 0x73,
	0x65, 0x03, 0x00, 0x0e, 0x76, 0x61, 0x6c, 0x69, 0x64, 0x61, 0x74, 0x65,
	0x5f, 0x62, 0x6c, 0x6f, 0x63, 0x6b, 0x00, 0x00, 0x0a, 0x27, 0x01, 0x25,
	0x00, 0x41, 0x80, 0x08, 0x20, 0x01, 0x41, 0x02, 0x74, 0x3a, 0x00, 0x00,
	0x41, 0x81, 0x08, 0x20, 0x00, 0x20, 0x01, 0xfc, 0x0a, 0x00, 0x00, 0x20,
	0x01, 0x41, 0x0c, 0x6a, 0xad, 0x42, 0x20, 0x86, 0x42, 0x80, 0x08, 0x84,
	0x0b,
}

// Malloc allocates its result with ext_allocator_malloc_version_1 and returns
// head data 0xab.
var Malloc = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x0c, 0x02, 0x60,
	0x02, 0x7f, 0x7f, 0x01, 0x7e, 0x60, 0x01, 0x7f, 0x01, 0x7f, 0x02, 0x26,
	0x01, 0x03, 0x65, 0x6e, 0x76, 0x1e, 0x65, 0x78, 0x74, 0x5f, 0x61, 0x6c,
	0x6c, 0x6f, 0x63, 0x61, 0x74, 0x6f, 0x72, 0x5f, 0x6d, 0x61, 0x6c, 0x6c,
	0x6f, 0x63, 0x5f, 0x76, 0x65, 0x72, 0x73, 0x69, 0x6f, 0x6e, 0x5f, 0x31,
	0x00, 0x01, 0x03, 0x02, 0x01, 0x00, 0x05, 0x03, 0x01, 0x00, 0x11, 0x06,
	0x09, 0x01, 0x7f, 0x00, 0x41, 0x80, 0x80, 0xc0, 0x00, 0x0b, 0x07, 0x29,
	0x03, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x0b, 0x5f,
	0x5f, 0x68, 0x65, 0x61, 0x70, 0x5f, 0x62, 0x61, 0x73, 0x65, 0x03, 0x00,
	0x0e, 0x76, 0x61, 0x6c, 0x69, 0x64, 0x61, 0x74, 0x65, 0x5f, 0x62, 0x6c,
	0x6f, 0x63, 0x6b, 0x00, 0x01, 0x0a, 0x24, 0x01, 0x22, 0x01, 0x01, 0x7f,
	0x41, 0x0d, 0x10, 0x00, 0x22, 0x02, 0x41, 0x04, 0x3a, 0x00, 0x00, 0x20,
	0x02, 0x41, 0xab, 0x01, 0x3a, 0x00, 0x01, 0x20, 0x02, 0xad, 0x42, 0x80,
	0x80, 0x80, 0x80, 0xd0, 0x01, 0x84, 0x0b,
}

// MissingHostFunction calls the unknown import env.ext_missing_version_1.
var MissingHostFunction = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x0a, 0x02, 0x60,
	0x02, 0x7f, 0x7f, 0x01, 0x7e, 0x60, 0x00, 0x00, 0x02, 0x1d, 0x01, 0x03,
	0x65, 0x6e, 0x76, 0x15, 0x65, 0x78, 0x74, 0x5f, 0x6d, 0x69, 0x73, 0x73,
	0x69, 0x6e, 0x67, 0x5f, 0x76, 0x65, 0x72, 0x73, 0x69, 0x6f, 0x6e, 0x5f,
	0x31, 0x00, 0x01, 0x03, 0x02, 0x01, 0x00, 0x05, 0x03, 0x01, 0x00, 0x11,
	0x06, 0x09, 0x01, 0x7f, 0x00, 0x41, 0x80, 0x80, 0xc0, 0x00, 0x0b, 0x07,
	0x29, 0x03, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x0b,
	0x5f, 0x5f, 0x68, 0x65, 0x61, 0x70, 0x5f, 0x62, 0x61, 0x73, 0x65, 0x03,
	0x00, 0x0e, 0x76, 0x61, 0x6c, 0x69, 0x64, 0x61, 0x74, 0x65, 0x5f, 0x62,
	0x6c, 0x6f, 0x63, 0x6b, 0x00, 0x01, 0x0a, 0x08, 0x01, 0x06, 0x00, 0x10,
	0x00, 0x42, 0x00, 0x0b,
}

// Trap executes unreachable in validate_block.
var Trap = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x07, 0x01, 0x60,
	0x02, 0x7f, 0x7f, 0x01, 0x7e, 0x03, 0x02, 0x01, 0x00, 0x05, 0x03, 0x01,
	0x00, 0x11, 0x06, 0x09, 0x01, 0x7f, 0x00, 0x41, 0x80, 0x80, 0xc0, 0x00,
	0x0b, 0x07, 0x29, 0x03, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02,
	0x00, 0x0b, 0x5f, 0x5f, 0x68, 0x65, 0x61, 0x70, 0x5f, 0x62, 0x61, 0x73,
	0x65, 0x03, 0x00, 0x0e, 0x76, 0x61, 0x6c, 0x69, 0x64, 0x61, 0x74, 0x65,
	0x5f, 0x62, 0x6c, 0x6f, 0x63, 0x6b, 0x00, 0x00, 0x0a, 0x05, 0x01, 0x03,
	0x00, 0x00, 0x0b,
}

// InfiniteLoop never returns from validate_block.
var InfiniteLoop = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x07, 0x01, 0x60,
	0x02, 0x7f, 0x7f, 0x01, 0x7e, 0x03, 0x02, 0x01, 0x00, 0x05, 0x03, 0x01,
	0x00, 0x11, 0x06, 0x09, 0x01, 0x7f, 0x00, 0x41, 0x80, 0x80, 0xc0, 0x00,
	0x0b, 0x07, 0x29, 0x03, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02,
	0x00, 0x0b, 0x5f, 0x5f, 0x68, 0x65, 0x61, 0x70, 0x5f, 0x62, 0x61, 0x73,
	0x65, 0x03, 0x00, 0x0e, 0x76, 0x61, 0x6c, 0x69, 0x64, 0x61, 0x74, 0x65,
	0x5f, 0x62, 0x6c, 0x6f, 0x63, 0x6b, 0x00, 0x00, 0x0a, 0x0a, 0x01, 0x08,
	0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x00, 0x0b,
}

// BadReturn returns an empty result slice.
var BadReturn = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x07, 0x01, 0x60,
	0x02, 0x7f, 0x7f, 0x01, 0x7e, 0x03, 0x02, 0x01, 0x00, 0x05, 0x03, 0x01,
	0x00, 0x11, 0x06, 0x09, 0x01, 0x7f, 0x00, 0x41, 0x80, 0x80, 0xc0, 0x00,
	0x0b, 0x07, 0x29, 0x03, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02,
	0x00, 0x0b, 0x5f, 0x5f, 0x68, 0x65, 0x61, 0x70, 0x5f, 0x62, 0x61, 0x73,
	0x65, 0x03, 0x00, 0x0e, 0x76, 0x61, 0x6c, 0x69, 0x64, 0x61, 0x74, 0x65,
	0x5f, 0x62, 0x6c, 0x6f, 0x63, 0x6b, 0x00, 0x00, 0x0a, 0x07, 0x01, 0x05,
	0x00, 0x42, 0x80, 0x08, 0x0b,
}

// NoValidateBlock does not export validate_block.
var NoValidateBlock = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x07, 0x01, 0x60,
	0x02, 0x7f, 0x7f, 0x01, 0x7e, 0x03, 0x02, 0x01, 0x00, 0x05, 0x03, 0x01,
	0x00, 0x11, 0x06, 0x09, 0x01, 0x7f, 0x00, 0x41, 0x80, 0x80, 0xc0, 0x00,
	0x0b, 0x07, 0x18, 0x02, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02,
	0x00, 0x0b, 0x5f, 0x5f, 0x68, 0x65, 0x61, 0x70, 0x5f, 0x62, 0x61, 0x73,
	0x65, 0x03, 0x00, 0x0a, 0x05, 0x01, 0x03, 0x00, 0x00, 0x0b,
}

// BigMemory declares a 100 pages minimum memory.
var BigMemory = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x07, 0x01, 0x60,
	0x02, 0x7f, 0x7f, 0x01, 0x7e, 0x03, 0x02, 0x01, 0x00, 0x05, 0x03, 0x01,
	0x00, 0x64, 0x06, 0x09, 0x01, 0x7f, 0x00, 0x41, 0x80, 0x80, 0xc0, 0x00,
	0x0b, 0x07, 0x29, 0x03, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02,
	0x00, 0x0b, 0x5f, 0x5f, 0x68, 0x65, 0x61, 0x70, 0x5f, 0x62, 0x61, 0x73,
	0x65, 0x03, 0x00, 0x0e, 0x76, 0x61, 0x6c, 0x69, 0x64, 0x61, 0x74, 0x65,
	0x5f, 0x62, 0x6c, 0x6f, 0x63, 0x6b, 0x00, 0x00, 0x0a, 0x05, 0x01, 0x03,
	0x00, 0x00, 0x0b,
}
