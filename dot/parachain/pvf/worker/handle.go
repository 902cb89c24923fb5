// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/sandbox"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
	"github.com/ChainSafe/gossamer/pkg/scale"
	"github.com/shirou/gopsutil/v3/process"
)

type message struct {
	kind pvfcommon.MessageKind
	body []byte
}

// Handle supervises one worker process. Jobs must not run concurrently on
// the same handle.
type Handle struct {
	cmd      *exec.Cmd
	pid      int
	stdin    io.WriteCloser
	writer   *pvfcommon.MessageWriter
	messages chan message
	exited   chan struct{}
	waitErr  error
	process  *process.Process
	killed   atomic.Bool
	jobs     int
	settings Settings
	logger   *log.Logger
}

var _ Worker = (*Handle)(nil)

// newHandle takes ownership of a started command and its pipes.
func newHandle(cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.ReadCloser,
	settings Settings) *Handle {
	pid := cmd.Process.Pid
	h := &Handle{
		cmd:      cmd,
		pid:      pid,
		stdin:    stdin,
		writer:   pvfcommon.NewMessageWriter(stdin),
		messages: make(chan message, 16),
		exited:   make(chan struct{}),
		settings: settings,
		logger:   logger.New(log.AddContext("worker", strconv.Itoa(pid))),
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		h.logger.Debugf("cannot observe worker resources: %s", err)
	}
	h.process = proc

	go h.readMessages(stdout)
	go h.forwardLogs(stderr)
	go func() {
		h.waitErr = cmd.Wait()
		close(h.exited)
	}()
	return h
}

func (h *Handle) readMessages(stdout io.ReadCloser) {
	defer close(h.messages)
	defer stdout.Close()
	for {
		kind, body, err := pvfcommon.ReadMessage(stdout)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				h.logger.Debugf("reading worker messages: %s", err)
			}
			return
		}
		h.messages <- message{kind: kind, body: body}
	}
}

// forwardLogs relays the worker log lines at their original level.
func (h *Handle) forwardLogs(stderr io.ReadCloser) {
	defer stderr.Close()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		level := log.Info
		// worker lines are "<time> <level> <message>"
		fields := strings.SplitN(line, " ", 3)
		if len(fields) == 3 {
			if parsed, err := log.ParseLevel(fields[1]); err == nil {
				level, line = parsed, fields[2]
			}
		}

		switch level {
		case log.Trace:
			h.logger.Trace(line)
		case log.Debug:
			h.logger.Debug(line)
		case log.Warn:
			h.logger.Warn(line)
		case log.Error, log.Critical:
			h.logger.Error(line)
		default:
			h.logger.Info(line)
		}
	}
}

// PID returns the worker process ID.
func (h *Handle) PID() int { return h.pid }

// Jobs returns the number of completed jobs.
func (h *Handle) Jobs() int { return h.jobs }

// Kill sends SIGKILL to the worker and its process group.
func (h *Handle) Kill() {
	if h.killed.Swap(true) {
		return
	}
	err := sandbox.Kill(h.cmd)
	if err != nil {
		h.logger.Warnf("killing worker: %s", err)
	}
}

// Close closes the worker standard input, which makes an idle worker exit,
// and kills it if it is still running after the exit timeout.
func (h *Handle) Close() {
	_ = h.stdin.Close()
	timer := time.NewTimer(h.settings.ExitTimeout)
	defer timer.Stop()
	select {
	case <-h.exited:
	case <-timer.C:
		h.Kill()
		<-h.exited
	}
}

// Prepare implements Worker.
func (h *Handle) Prepare(ctx context.Context, request pvfcommon.PrepareRequest, limits Limits) (
	response pvfcommon.PrepareResponse, err error) {
	err = h.run(ctx, pvfcommon.MessagePrepareRequest, request,
		pvfcommon.MessagePrepareResponse, &response, limits)
	return response, err
}

// Execute implements Worker.
func (h *Handle) Execute(ctx context.Context, request pvfcommon.ExecuteRequest, limits Limits) (
	response pvfcommon.ExecuteResponse, err error) {
	err = h.run(ctx, pvfcommon.MessageExecuteRequest, request,
		pvfcommon.MessageExecuteResponse, &response, limits)
	return response, err
}

// run sends one request and supervises the worker until its response.
// Any supervision failure kills the worker.
func (h *Handle) run(ctx context.Context, requestKind pvfcommon.MessageKind, request any,
	responseKind pvfcommon.MessageKind, response any, limits Limits) error {
	if h.killed.Load() {
		return ErrWorkerClosed
	}

	startCPU := h.cpuTime()
	err := h.writer.Write(requestKind, request)
	if err != nil {
		h.Kill()
		return fmt.Errorf("%w: sending %s: %s", ErrWorkerDied, requestKind, err)
	}

	var wallClock <-chan time.Time
	if limits.WallClock > 0 {
		timer := time.NewTimer(limits.WallClock)
		defer timer.Stop()
		wallClock = timer.C
	}
	ticker := time.NewTicker(h.settings.PollInterval)
	defer ticker.Stop()
	lastHeartbeat := time.Now()

	for {
		select {
		case <-ctx.Done():
			h.Kill()
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case <-wallClock:
			h.Kill()
			return fmt.Errorf("%w: wall clock %s", ErrTimeout, limits.WallClock)
		case msg, ok := <-h.messages:
			if !ok {
				return h.deathError()
			}
			switch msg.kind {
			case pvfcommon.MessageHeartbeat:
				lastHeartbeat = time.Now()
			case responseKind:
				err = scale.Unmarshal(msg.body, response)
				if err != nil {
					h.Kill()
					return fmt.Errorf("%w: decoding %s: %s", ErrWorkerDied, responseKind, err)
				}
				h.jobs++
				return nil
			default:
				h.Kill()
				return fmt.Errorf("%w: %w: %s", ErrWorkerDied, pvfcommon.ErrUnexpectedMessage, msg.kind)
			}
		case <-ticker.C:
			if silence := time.Since(lastHeartbeat); silence > h.settings.HeartbeatTimeout {
				h.Kill()
				return fmt.Errorf("%w: silent for %s", ErrHung, silence.Round(time.Millisecond))
			}
			if used := h.cpuTime() - startCPU; limits.CPUTime > 0 && used > limits.CPUTime {
				h.Kill()
				return fmt.Errorf("%w: used %s of cpu time", ErrTimeout, used.Round(time.Millisecond))
			}
			if rss := h.residentMemory(); limits.MaxMemory > 0 && rss > limits.MaxMemory {
				h.Kill()
				return fmt.Errorf("%w: resident memory %d bytes", ErrOutOfMemory, rss)
			}
		}
	}
}

// deathError classifies the exit of a worker which closed its output.
func (h *Handle) deathError() error {
	timer := time.NewTimer(h.settings.ExitTimeout)
	defer timer.Stop()
	select {
	case <-h.exited:
	case <-timer.C:
		h.Kill()
		<-h.exited
		return fmt.Errorf("%w: closed its output", ErrWorkerDied)
	}

	var exitErr *exec.ExitError
	if !errors.As(h.waitErr, &exitErr) {
		return fmt.Errorf("%w: exited: %v", ErrWorkerDied, h.waitErr)
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return fmt.Errorf("%w: %s", ErrWorkerDied, exitErr)
	}

	switch status.Signal() {
	case syscall.SIGKILL:
		if !h.killed.Load() {
			// not sent by us, most likely the kernel OOM killer
			return fmt.Errorf("%w: killed by the system", ErrOutOfMemory)
		}
	case syscall.SIGXCPU:
		return fmt.Errorf("%w: cpu time rlimit reached", ErrTimeout)
	}
	return fmt.Errorf("%w: %s", ErrWorkerDied, exitErr)
}

func (h *Handle) cpuTime() time.Duration {
	if h.process == nil {
		return 0
	}
	times, err := h.process.Times()
	if err != nil {
		return 0
	}
	seconds := times.User + times.System
	return time.Duration(seconds * float64(time.Second))
}

func (h *Handle) residentMemory() uint64 {
	if h.process == nil {
		return 0
	}
	memory, err := h.process.MemoryInfo()
	if err != nil {
		return 0
	}
	return memory.RSS
}
