// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package common

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
)

// ArtifactExtension is the file extension of published artifacts.
const ArtifactExtension = ".pvf"

var ErrMalformedArtifactName = errors.New("malformed artifact file name")

// ArtifactID identifies one compiled unit: a validation code compiled
// under one executor parameter set.
type ArtifactID struct {
	CodeHash   parachaintypes.ValidationCodeHash
	ParamsHash parachaintypes.ExecutorParamsHash
}

// NewArtifactID computes the artifact identifier of the code and params.
func NewArtifactID(code parachaintypes.ValidationCode, params parachaintypes.ExecutorParams) (
	ArtifactID, error) {
	paramsHash, err := params.Hash()
	if err != nil {
		return ArtifactID{}, err
	}
	return ArtifactID{
		CodeHash:   code.Hash(),
		ParamsHash: paramsHash,
	}, nil
}

func (id ArtifactID) String() string {
	return fmt.Sprintf("%x_%x", id.CodeHash[:4], id.ParamsHash[:4])
}

// FileName returns the artifact file name, `<code hash>_<params hash>.pvf`.
func (id ArtifactID) FileName() string {
	return hex.EncodeToString(id.CodeHash[:]) + "_" +
		hex.EncodeToString(id.ParamsHash[:]) + ArtifactExtension
}

// ParseArtifactFileName is the inverse of ArtifactID.FileName.
func ParseArtifactFileName(name string) (id ArtifactID, err error) {
	trimmed, found := strings.CutSuffix(name, ArtifactExtension)
	if !found {
		return id, fmt.Errorf("%w: %s", ErrMalformedArtifactName, name)
	}

	codeHex, paramsHex, found := strings.Cut(trimmed, "_")
	if !found {
		return id, fmt.Errorf("%w: %s", ErrMalformedArtifactName, name)
	}

	if err := decodeHash(codeHex, id.CodeHash[:]); err != nil {
		return id, fmt.Errorf("%w: %s: code hash: %w", ErrMalformedArtifactName, name, err)
	}
	if err := decodeHash(paramsHex, id.ParamsHash[:]); err != nil {
		return id, fmt.Errorf("%w: %s: params hash: %w", ErrMalformedArtifactName, name, err)
	}
	return id, nil
}

func decodeHash(s string, dst []byte) error {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(decoded) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(decoded))
	}
	copy(dst, decoded)
	return nil
}
