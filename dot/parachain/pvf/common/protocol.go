// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package common

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer/pkg/scale"
)

// MaxFrameSize bounds a single message between the host and a worker.
const MaxFrameSize = 64 << 20

var (
	ErrFrameTooLarge     = errors.New("frame too large")
	ErrEmptyFrame        = errors.New("empty frame")
	ErrUnexpectedMessage = errors.New("unexpected message")
)

// MessageKind is the first byte of every frame.
type MessageKind uint8

const (
	MessageHandshake MessageKind = iota + 1
	MessageHeartbeat
	MessagePrepareRequest
	MessagePrepareResponse
	MessageExecuteRequest
	MessageExecuteResponse
)

func (k MessageKind) String() string {
	switch k {
	case MessageHandshake:
		return "handshake"
	case MessageHeartbeat:
		return "heartbeat"
	case MessagePrepareRequest:
		return "prepare request"
	case MessagePrepareResponse:
		return "prepare response"
	case MessageExecuteRequest:
		return "execute request"
	case MessageExecuteResponse:
		return "execute response"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Handshake is the first message a worker sends after startup.
type Handshake struct {
	Fingerprint string
	Token       string
	PID         uint32
}

// PrepareRequest asks a prepare worker to compile code into an artifact
// written at OutputPath.
type PrepareRequest struct {
	ArtifactID     ArtifactID
	Code           []byte
	ExecutorParams parachaintypes.ExecutorParams
	Kind           parachaintypes.PrepareKind
	OutputPath     string
	CodeBombLimit  uint64
}

// PrepareResponse is the worker answer to a PrepareRequest.
type PrepareResponse struct {
	Error        *PrepareError
	ArtifactSize uint64
}

// ExecuteRequest asks an execute worker to run validate_block.
type ExecuteRequest struct {
	ArtifactID     ArtifactID
	ArtifactPath   string
	Params         parachaintypes.ValidationParameters
	MaxPoVSize     uint32
	TimeoutMillis  uint64
	ExecutorParams parachaintypes.ExecutorParams
}

// ExecuteResponse is the worker answer to an ExecuteRequest. Exactly one
// field is set.
type ExecuteResponse struct {
	Result  *parachaintypes.ValidationResult
	Invalid *InvalidCandidate
	Error   *ExecuteError
}

// WriteMessage writes one length prefixed frame holding the message kind
// followed by the SCALE encoded payload. A nil payload writes the kind only.
func WriteMessage(w io.Writer, kind MessageKind, payload any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = scale.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", kind, err)
		}
	}

	size := 1 + len(body)
	if size > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	frame := make([]byte, 4+size)
	binary.LittleEndian.PutUint32(frame, uint32(size))
	frame[4] = byte(kind)
	copy(frame[5:], body)

	_, err := w.Write(frame)
	if err != nil {
		return fmt.Errorf("writing %s: %w", kind, err)
	}
	return nil
}

// ReadMessage reads one frame and returns its kind and SCALE encoded body.
func ReadMessage(r io.Reader) (kind MessageKind, body []byte, err error) {
	var header [4]byte
	_, err = io.ReadFull(r, header[:])
	if err != nil {
		return 0, nil, err
	}

	size := binary.LittleEndian.Uint32(header[:])
	switch {
	case size == 0:
		return 0, nil, ErrEmptyFrame
	case size > MaxFrameSize:
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	frame := make([]byte, size)
	_, err = io.ReadFull(r, frame)
	if err != nil {
		return 0, nil, fmt.Errorf("reading frame body: %w", err)
	}
	return MessageKind(frame[0]), frame[1:], nil
}

// ReadExpected reads one frame, checks its kind and decodes it into dst.
func ReadExpected(r io.Reader, expected MessageKind, dst any) error {
	kind, body, err := ReadMessage(r)
	if err != nil {
		return err
	}
	if kind != expected {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, kind, expected)
	}
	err = scale.Unmarshal(body, dst)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", kind, err)
	}
	return nil
}

// MessageWriter serialises frames written from several goroutines.
type MessageWriter struct {
	mutex sync.Mutex
	w     io.Writer
}

// NewMessageWriter returns a MessageWriter writing to w.
func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{w: w}
}

// Write writes one frame.
func (mw *MessageWriter) Write(kind MessageKind, payload any) error {
	mw.mutex.Lock()
	defer mw.mutex.Unlock()
	return WriteMessage(mw.w, kind, payload)
}
