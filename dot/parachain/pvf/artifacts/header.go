// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package artifacts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer/lib/common"
	"github.com/ChainSafe/gossamer/pkg/scale"
)

const (
	headerMagic   = "PVFA"
	headerVersion = 1
	// maxHeaderSize bounds the encoded header, mostly the fingerprint.
	maxHeaderSize = 4096
)

var (
	ErrCorruptArtifact     = errors.New("corrupt artifact")
	ErrFingerprintMismatch = errors.New("artifact fingerprint mismatch")
)

// Header prefixes every artifact file.
type Header struct {
	Magic       [4]byte
	Version     uint8
	ArtifactID  pvfcommon.ArtifactID
	Fingerprint string
	PayloadLen  uint64
	Checksum    common.Hash
}

// Artifact is a decoded artifact file.
type Artifact struct {
	Header  Header
	Payload []byte
}

// WriteArtifact writes the header and payload to a new file at path.
// The file must not exist. It is synced before returning.
func WriteArtifact(path string, id pvfcommon.ArtifactID, fingerprint string, payload []byte) (
	size uint64, err error) {
	checksum, err := common.Blake2bHash(payload)
	if err != nil {
		return 0, fmt.Errorf("hashing payload: %w", err)
	}

	header := Header{
		Version:     headerVersion,
		ArtifactID:  id,
		Fingerprint: fingerprint,
		PayloadLen:  uint64(len(payload)),
		Checksum:    checksum,
	}
	copy(header.Magic[:], headerMagic)

	encodedHeader, err := scale.Marshal(header)
	if err != nil {
		return 0, fmt.Errorf("encoding header: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(path)
		}
	}()

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(encodedHeader)))
	for _, chunk := range [][]byte{prefix[:], encodedHeader, payload} {
		if _, err = file.Write(chunk); err != nil {
			return 0, fmt.Errorf("writing artifact: %w", err)
		}
	}

	if err = file.Sync(); err != nil {
		return 0, fmt.Errorf("syncing artifact: %w", err)
	}
	if err = file.Close(); err != nil {
		return 0, fmt.Errorf("closing artifact: %w", err)
	}
	return uint64(len(prefix) + len(encodedHeader) + len(payload)), nil
}

// ReadHeader reads the header of the artifact file without its payload.
func ReadHeader(path string) (header Header, err error) {
	file, err := os.Open(path)
	if err != nil {
		return header, err
	}
	defer file.Close()

	header, _, err = readHeader(file)
	return header, err
}

// ReadArtifact reads and verifies a whole artifact file.
func ReadArtifact(path string) (artifact Artifact, err error) {
	file, err := os.Open(path)
	if err != nil {
		return artifact, err
	}
	defer file.Close()

	var headerSize int
	artifact.Header, headerSize, err = readHeader(file)
	if err != nil {
		return artifact, err
	}

	info, err := file.Stat()
	if err != nil {
		return artifact, err
	}
	if uint64(info.Size()) != uint64(headerSize)+artifact.Header.PayloadLen {
		return artifact, fmt.Errorf("%w: file size %d does not match header", ErrCorruptArtifact, info.Size())
	}

	artifact.Payload = make([]byte, artifact.Header.PayloadLen)
	if _, err = io.ReadFull(file, artifact.Payload); err != nil {
		return artifact, fmt.Errorf("%w: reading payload: %w", ErrCorruptArtifact, err)
	}

	checksum, err := common.Blake2bHash(artifact.Payload)
	if err != nil {
		return artifact, fmt.Errorf("hashing payload: %w", err)
	}
	if checksum != artifact.Header.Checksum {
		return artifact, fmt.Errorf("%w: checksum mismatch", ErrCorruptArtifact)
	}
	return artifact, nil
}

// Verify checks that the artifact at path is complete and was produced for
// id under fingerprint.
func Verify(path string, id pvfcommon.ArtifactID, fingerprint string) (size uint64, err error) {
	artifact, err := ReadArtifact(path)
	if err != nil {
		return 0, err
	}
	if err := artifact.Header.Check(id, fingerprint); err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// Check verifies the header belongs to id and was written under fingerprint.
func (h Header) Check(id pvfcommon.ArtifactID, fingerprint string) error {
	if h.ArtifactID != id {
		return fmt.Errorf("%w: header is for artifact %s", ErrCorruptArtifact, h.ArtifactID)
	}
	if h.Fingerprint != fingerprint {
		return fmt.Errorf("%w: %q", ErrFingerprintMismatch, h.Fingerprint)
	}
	return nil
}

func readHeader(r io.Reader) (header Header, size int, err error) {
	var prefix [4]byte
	if _, err = io.ReadFull(r, prefix[:]); err != nil {
		return header, 0, fmt.Errorf("%w: reading header size: %w", ErrCorruptArtifact, err)
	}

	headerSize := binary.LittleEndian.Uint32(prefix[:])
	if headerSize == 0 || headerSize > maxHeaderSize {
		return header, 0, fmt.Errorf("%w: header size %d", ErrCorruptArtifact, headerSize)
	}

	encoded := make([]byte, headerSize)
	if _, err = io.ReadFull(r, encoded); err != nil {
		return header, 0, fmt.Errorf("%w: reading header: %w", ErrCorruptArtifact, err)
	}

	if err = scale.Unmarshal(encoded, &header); err != nil {
		return header, 0, fmt.Errorf("%w: decoding header: %w", ErrCorruptArtifact, err)
	}
	if string(header.Magic[:]) != headerMagic || header.Version != headerVersion {
		return header, 0, fmt.Errorf("%w: bad magic or version", ErrCorruptArtifact)
	}
	return header, len(prefix) + int(headerSize), nil
}
