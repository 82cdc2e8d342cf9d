package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/srg/hrmon/internal/testutils"
)

// Test device addresses for consistent fake device identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:FF"
	TestDeviceAddress2 = "11:22:33:44:55:66"
)

// syncBuffer is written by the client's delivery goroutine while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Lines() []string {
	var lines []string
	for _, l := range strings.Split(b.String(), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// runningCommand is a command executing in the background.
type runningCommand struct {
	Stdout *syncBuffer
	Stderr *syncBuffer
	done   chan error
}

// Wait reports whether the command finished in time, and its error.
func (r *runningCommand) Wait(timeout time.Duration) (bool, error) {
	err, ok := testutils.Receive(r.done, timeout)
	return ok, err
}

// CommandTestSuite extends FakeTransportSuite with command execution utilities.
// All cmd/hrmon test suites should embed this instead of FakeTransportSuite.
type CommandTestSuite struct {
	testutils.FakeTransportSuite
}

// StartCommand runs the root command with args in the background.
func (s *CommandTestSuite) StartCommand(ctx context.Context, args ...string) *runningCommand {
	run := &runningCommand{Stdout: &syncBuffer{}, Stderr: &syncBuffer{}, done: make(chan error, 1)}

	cmd := newRootCmd()
	cmd.SetOut(run.Stdout)
	cmd.SetErr(run.Stderr)
	cmd.SetArgs(args)

	go func() {
		run.done <- cmd.ExecuteContext(ctx)
	}()
	return run
}

// ExecuteCommand runs the root command with args to completion.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (stdout, stderr string, err error) {
	run := s.StartCommand(context.Background(), args...)
	ok, err := run.Wait(s.TestTimeout)
	s.Require().True(ok, "command MUST finish within %s", s.TestTimeout)
	return run.Stdout.String(), run.Stderr.String(), err
}

// WaitLines waits until stdout of run holds at least n non-empty lines.
func (s *CommandTestSuite) WaitLines(run *runningCommand, n int) []string {
	ok := s.Helper.WaitFor(s.TestTimeout, func() bool { return len(run.Stdout.Lines()) >= n })
	s.Require().Truef(ok, "stdout MUST hold %d lines, got:\n%s\nstderr:\n%s", n, run.Stdout.String(), run.Stderr.String())
	return run.Stdout.Lines()
}
