package transport

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mcptap/mcptap/internal/id"
	"github.com/mcptap/mcptap/pkg/logging"
)

// termGrace is how long Close waits after the interrupt signal before
// killing the child.
const termGrace = 2 * time.Second

// Child is a spawned MCP server process and its three streams. The process
// lifecycle is tied 1:1 to the Child: once Close returns, the process has
// been reaped and all pipes released.
type Child struct {
	// ID identifies this transport; sessions key off it.
	ID string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	log    *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// Spawn launches command with args and the given extra environment (appended
// to the parent environment, passed through unmodified). The returned Child
// must be Closed by the caller on every path.
func Spawn(command string, args []string, env map[string]string) (*Child, error) {
	cmd := exec.Command(command, args...)

	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}

	return &Child{
		ID:     id.Short(),
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		log:    logging.Nop(),
	}, nil
}

// SetLogger sets the logger used for teardown diagnostics.
func (c *Child) SetLogger(log *slog.Logger) {
	if log != nil {
		c.log = log
	}
}

// Stdout returns the child's stdout stream.
func (c *Child) Stdout() io.Reader { return c.stdout }

// Stderr returns the child's stderr stream.
func (c *Child) Stderr() io.Reader { return c.stderr }

// Pid returns the child's process id, or 0 if unavailable.
func (c *Child) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Write sends bytes to the child's stdin. Returns a WriteError once the
// child has exited, the pipe is broken, or the Child is closed.
func (c *Child) Write(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return &WriteError{Err: fmt.Errorf("transport closed")}
	}
	if _, err := c.stdin.Write(p); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

// CloseStdin closes the child's stdin, giving the server its EOF without
// tearing the process down. Further Writes fail with a WriteError.
func (c *Child) CloseStdin() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.stdin.Close()
}

// Close tears the child down: stdin is closed (flushing the pipe and giving
// well-behaved servers their EOF), the process is interrupted, killed after
// a grace period if still running, and reaped. Close is
// idempotent and safe to call from any goroutine; repeated calls return the
// first result.
func (c *Child) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		c.writeMu.Unlock()

		_ = c.stdin.Close()

		if c.cmd.Process != nil {
			_ = c.cmd.Process.Signal(os.Interrupt)
		}

		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()

		select {
		case err := <-done:
			c.closeErr = ignoreExitSignal(err)
		case <-time.After(termGrace):
			c.log.Debug("child did not exit after signal, killing", "pid", c.Pid())
			if c.cmd.Process != nil {
				_ = c.cmd.Process.Kill()
			}
			c.closeErr = ignoreExitSignal(<-done)
		}

		// cmd.Wait closed stdout/stderr; nothing left to release.
		c.log.Debug("child released", "transport", c.ID)
	})
	return c.closeErr
}

// ignoreExitSignal filters out the expected "we terminated it" errors so
// Close only reports genuine teardown failures.
func ignoreExitSignal(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		return nil
	}
	return err
}
