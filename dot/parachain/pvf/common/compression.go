// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package common

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// An arbitrary prefix, that indicates a blob beginning with should be decompressed with
// Zstd compression.
//
// This differs from the WASM magic bytes, so real WASM blobs will not have this prefix.
var zstdPrefix = []byte{82, 188, 83, 118, 70, 219, 142, 5}

var (
	ErrBombLimitExceeded = errors.New("decompressed size exceeds bomb limit")
	ErrEmptyBlob         = errors.New("blob must not be empty")
)

// MaybeCompressedBlobDecompress decompresses blob if it carries the zstd
// prefix and returns it unchanged otherwise. The decompressed size is capped
// by bombLimit.
func MaybeCompressedBlobDecompress(blob []byte, bombLimit uint64) ([]byte, error) {
	if !bytes.HasPrefix(blob, zstdPrefix) {
		return blob, nil
	}

	decoder, err := zstd.NewReader(bytes.NewReader(blob[len(zstdPrefix):]),
		zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	// read one byte past the limit to detect bombs
	decompressed, err := io.ReadAll(io.LimitReader(decoder, int64(bombLimit)+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	if uint64(len(decompressed)) > bombLimit {
		return nil, fmt.Errorf("%w: limit %d", ErrBombLimitExceeded, bombLimit)
	}
	return decompressed, nil
}

// MaybeCompressedBlobCompress compresses blob and adds the zstd prefix.
func MaybeCompressedBlobCompress(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, ErrEmptyBlob
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer encoder.Close()

	out := append([]byte(nil), zstdPrefix...)
	return encoder.EncodeAll(blob, out), nil
}
