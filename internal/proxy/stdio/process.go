package stdio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const stopGracePeriod = 5 * time.Second

// Process wraps the upstream subprocess with access to its stdin/stdout.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// StartProcess launches the upstream subprocess and returns handles to its pipes.
func StartProcess(name string, args []string) (*Process, error) {
	cmd := exec.Command(name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	// The upstream's diagnostics share our stderr with the JSON logs.
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting subprocess %q: %w", name, err)
	}

	return &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
	}, nil
}

// Stop asks the subprocess to terminate and kills it if it is still
// running after grace. Reads from Stdout must be finished before calling
// Stop. It returns the exit error, if any.
func (p *Process) Stop(grace time.Duration) error {
	exited := make(chan error, 1)
	go func() { exited <- p.cmd.Wait() }()

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = p.cmd.Process.Kill()
	}

	var err error
	select {
	case err = <-exited:
	case <-time.After(grace):
		_ = p.cmd.Process.Kill()
		err = <-exited
	}
	if err != nil {
		return fmt.Errorf("subprocess %q: %w", p.cmd.Path, err)
	}
	return nil
}

// Stdin returns the write end of the subprocess stdin.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the read end of the subprocess stdout.
func (p *Process) Stdout() io.ReadCloser { return p.stdout }
