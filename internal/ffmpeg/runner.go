package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Command is a single ffmpeg invocation.
type Command struct {
	Binary string
	Args   []string

	// Dir, when set, becomes the working directory. Two-pass encodes drop
	// their rate-control logs there.
	Dir string

	mu          sync.RWMutex
	stderrLines []string
}

const stderrTailLines = 100

// NewCommand creates a command for the given argument list. An empty binary
// falls back to "ffmpeg" on PATH.
func NewCommand(binary string, args []string) *Command {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Command{Binary: binary, Args: args}
}

// String renders the command for logging.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Run executes the command to completion, keeping a stderr tail for error
// reporting.
func (c *Command) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Dir = c.Dir

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("getting stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			c.appendStderr(scanner.Text())
		}
	}()

	waitErr := cmd.Wait()
	<-stderrDone

	if waitErr != nil {
		return c.wrapExitError(waitErr)
	}
	return nil
}

// RunWithProgress executes the command, invoking onProgress for each complete
// progress block read from stdout.
func (c *Command) RunWithProgress(ctx context.Context, sourceFramerate float64, onProgress func(Progress)) error {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Dir = c.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("getting stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("getting stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			c.appendStderr(scanner.Text())
		}
	}()

	parser := ProgressParser{SourceFramerate: sourceFramerate}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if block, ok := parser.ParseLine(scanner.Text()); ok && onProgress != nil {
			onProgress(block)
		}
	}

	waitErr := cmd.Wait()
	<-stderrDone

	if waitErr != nil {
		return c.wrapExitError(waitErr)
	}
	return nil
}

// StderrTail returns the most recent stderr lines.
func (c *Command) StderrTail() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tail := make([]string, len(c.stderrLines))
	copy(tail, c.stderrLines)
	return tail
}

func (c *Command) appendStderr(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stderrLines) >= stderrTailLines {
		c.stderrLines = c.stderrLines[1:]
	}
	c.stderrLines = append(c.stderrLines, line)
}

func (c *Command) wrapExitError(waitErr error) error {
	tail := c.StderrTail()
	if len(tail) == 0 {
		return fmt.Errorf("ffmpeg: %w", waitErr)
	}
	last := tail[len(tail)-1]
	return fmt.Errorf("ffmpeg: %w: %s", waitErr, last)
}
