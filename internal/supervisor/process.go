package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Process is a spawned worker as seen by the Supervisor.
type Process interface {
	// Pid returns the operating system process id.
	Pid() int
	// Output is the worker's diagnostic stream. Closing it abandons the stream.
	Output() io.ReadCloser
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitErr returns the exit error; only meaningful after Done is closed.
	ExitErr() error
	// Terminate requests graceful shutdown.
	Terminate() error
	// Kill forces the process to exit.
	Kill() error
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(spec LaunchSpec) (Process, error)
}

// ExecSpawner spawns workers as local executables. Stdout is discarded and
// stderr is exposed through Process.Output.
type ExecSpawner struct{}

// Spawn starts spec.Binary and returns without waiting for it to become healthy.
func (ExecSpawner) Spawn(spec LaunchSpec) (Process, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe: %w", err)
	}

	cmd := exec.Command(spec.Binary, spec.Args...) //nolint:gosec
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}
	// The child holds its own copy of the write end; EOF arrives when it exits.
	_ = pw.Close()

	p := &execProcess{cmd: cmd, output: pr, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	output *os.File
	done   chan struct{}
	err    error
}

func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Output() io.ReadCloser { return p.output }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}
