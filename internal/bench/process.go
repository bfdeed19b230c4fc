package bench

import (
	"os"
	"os/exec"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Child supervises one forked process (a referee or a bot). It mirrors the
// sdk/spawner Process type's fork-then-monitor shape: Start launches the
// command and a dedicated goroutine waits on it, signalling completion over
// done so the scheduler's once-per-tick reap step can poll it without
// blocking (Go's replacement for a non-blocking waitpid(WNOHANG), since
// there is no SIGCHLD handler here either).
type Child struct {
	ID  string
	cmd *exec.Cmd

	logger zerolog.Logger

	mu      sync.Mutex
	done    chan struct{}
	exitErr error
}

// NewChild wraps cmd for supervised execution. cmd must not have been
// started yet.
func NewChild(cmd *exec.Cmd, logger zerolog.Logger) *Child {
	id := uuid.NewString()[:8]
	return &Child{
		ID:     id,
		cmd:    cmd,
		logger: logger.With().Str("child_id", id).Logger(),
		done:   make(chan struct{}),
	}
}

// Start launches the process and begins monitoring it.
func (c *Child) Start() error {
	if err := c.cmd.Start(); err != nil {
		return err
	}
	c.logger.Debug().Str("path", c.cmd.Path).Int("pid", c.cmd.Process.Pid).Msg("child started")
	go c.monitor()
	return nil
}

// PID returns the OS process id, valid once Start has returned nil.
func (c *Child) PID() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *Child) monitor() {
	err := c.cmd.Wait()

	c.mu.Lock()
	c.exitErr = err
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug().Err(err).Msg("child exited")
	} else {
		c.logger.Debug().Msg("child exited cleanly")
	}
	close(c.done)
}

// Reaped reports, without blocking, whether the child has exited.
func (c *Child) Reaped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Signal sends sig to the process. It is a no-op if the process has
// already been reaped.
func (c *Child) Signal(sig os.Signal) error {
	if c.Reaped() {
		return nil
	}
	return c.cmd.Process.Signal(sig)
}

// Wait blocks until the child has exited and returns its exit error, if
// any. Used only during graceful shutdown, never from the event loop.
func (c *Child) Wait() error {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}
