package engine

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/matzehuels/umlpipe/pkg/errors"
)

// Process is a running engine instance as seen by the Supervisor.
type Process interface {
	// Stdin is the engine's input stream.
	Stdin() io.WriteCloser
	// Stdout is the engine's output stream. It reaches EOF when the process exits.
	Stdout() io.Reader
	// Stderr is the engine's diagnostic stream. It may be nil.
	Stderr() io.Reader
	// Wait blocks until the process exits. It is called once, after Stdout
	// has been drained.
	Wait() error
	// Kill terminates the process immediately.
	Kill() error
	// Pid returns the OS process id, or 0 when not applicable.
	Pid() int
}

// Launcher starts engine processes.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// ExecLauncher starts the engine as an OS subprocess.
type ExecLauncher struct {
	// Command is the executable, resolved through PATH.
	Command string
	// Args are passed to Command verbatim.
	Args []string
	// Artifact is a file that must exist before launching (the engine jar).
	// Empty skips the check.
	Artifact string
	// Dir is the working directory. Empty uses the current one.
	Dir string
}

// pipeModeArgs select streaming stdin/stdout mode with SVG output.
var pipeModeArgs = []string{"-pipe", "-tsvg", "-charset", "UTF-8"}

// NewPlantUMLLauncher returns a launcher for `java -jar plantuml.jar -pipe -tsvg`.
// extra is appended after the pipe-mode flags.
func NewPlantUMLLauncher(java, jar string, extra []string) *ExecLauncher {
	args := []string{"-Djava.awt.headless=true", "-jar", jar}
	args = append(args, pipeModeArgs...)
	args = append(args, extra...)
	return &ExecLauncher{
		Command:  java,
		Args:     args,
		Artifact: jar,
	}
}

// Launch checks the executable and artifact, then starts the process.
// A missing executable or artifact fails with ENGINE_BINARY_MISSING.
func (l *ExecLauncher) Launch(ctx context.Context) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := exec.LookPath(l.Command)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeEngineBinaryMissing, err, "engine executable %q not found", l.Command)
	}
	if l.Artifact != "" {
		if _, err := os.Stat(l.Artifact); err != nil {
			return nil, errors.Wrap(errors.ErrCodeEngineBinaryMissing, err, "engine artifact %q not found", l.Artifact)
		}
	}

	// Not CommandContext: the process outlives the request that started it.
	cmd := exec.Command(path, l.Args...)
	cmd.Dir = l.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "start engine")
	}

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }
func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }

func (p *execProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

var _ Launcher = (*ExecLauncher)(nil)
