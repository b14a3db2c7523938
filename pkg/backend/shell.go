package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/strataregula/doe-runner/pkg/cases"
)

// Compile-time interface check.
var _ Backend = (*shellBackend)(nil)

type shellBackend struct {
	log logrus.FieldLogger
}

func newShellBackend(log logrus.FieldLogger) *shellBackend {
	return &shellBackend{
		log: log.WithField("backend", cases.BackendShell),
	}
}

func (b *shellBackend) Name() string {
	return cases.BackendShell
}

// Execute expands the case's command template and runs it under
// /bin/sh with timeout_s as a hard wall-clock bound. The command runs
// in its own process group so that on timeout the whole tree is killed;
// leaking a descendant process past the timeout is a correctness bug.
func (b *shellBackend) Execute(ctx context.Context, c *cases.Case) (*RawOutcome, error) {
	command := ExpandTemplate(c.CmdTemplate, c)

	return b.run(ctx, command, time.Duration(c.TimeoutS)*time.Second)
}

func (b *shellBackend) run(ctx context.Context, command string, timeout time.Duration) (*RawOutcome, error) {
	cmd := exec.Command("/bin/sh", "-c", command)

	// New process group: the timeout kill must reach descendants too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning process: %w", err)
	}

	done := make(chan error, 1)

	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		outcome := &RawOutcome{
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
			Elapsed: time.Since(start),
		}

		var exitErr *exec.ExitError

		switch {
		case err == nil:
			outcome.ExitCode = 0
		case errors.As(err, &exitErr):
			outcome.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("waiting for process: %w", err)
		}

		return outcome, nil

	case <-timer.C:
		b.killGroup(cmd)
		<-done // reap; buffers are safe to read after Wait returns

		b.log.WithField("timeout", timeout.String()).
			Debug("Process tree killed after timeout")

		return &RawOutcome{
			TimedOut: true,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Elapsed:  time.Since(start),
		}, nil

	case <-ctx.Done():
		b.killGroup(cmd)
		<-done

		return nil, ctx.Err()
	}
}

// killGroup force-terminates the command's whole process group.
func (b *shellBackend) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pid := cmd.Process.Pid

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		// Group kill can fail if the leader already exited; fall back
		// to the single process.
		if killErr := cmd.Process.Kill(); killErr != nil {
			b.log.WithError(killErr).WithField("pid", pid).
				Warn("Failed to kill process")
		}
	}
}
