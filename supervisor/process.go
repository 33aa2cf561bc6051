package supervisor

import (
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dermesser/zmp/log"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Environment variables handed to a child started by Process.
const (
	StartedFDEnv = "ZMP_STARTED_FD"
	WorkerEnv    = "ZMP_WORKER_NAME"
)

// the started pipe is the first of ExtraFiles
const startedFD = 3

// how long output is still copied after the child exited, for grandchildren
// that inherited its stdout or stderr
const outputWaitDelay = 5 * time.Second

// Process runs a worker as a child OS process. The child reports started by
// writing one byte to an inherited pipe (see RunChild), SIGTERM asks it to
// exit cooperatively and SIGKILL terminates it.
type Process struct {
	name   string
	path   string
	args   []string
	env    []string
	logger logger.Logger

	stdout, stderr io.Writer

	// serializes Start, including its restart
	startLock sync.Mutex

	lock  sync.Mutex
	state State
	child *child
}

// one spawned child
type child struct {
	cmd     *exec.Cmd
	started *Event
	done    *Event

	// closed once the started pipe hit EOF
	piped chan struct{}

	// valid once done is set
	code int
	err  error
}

func NewProcess(parentLogger logger.Logger, name, path string, args ...string) *Process {
	return &Process{
		name:   name,
		path:   path,
		args:   args,
		logger: log.Or(parentLogger).GetChild(name),
		stdout: os.Stdout,
		stderr: os.Stderr,
		state:  Idle,
	}
}

// WithEnv adds KEY=value pairs to the child's environment.
func (p *Process) WithEnv(env ...string) *Process {
	p.env = append(p.env, env...)
	return p
}

// WithOutput redirects the child's stdout and stderr.
func (p *Process) WithOutput(stdout, stderr io.Writer) *Process {
	p.stdout, p.stderr = stdout, stderr
	return p
}

func (p *Process) Name() string {
	return p.name
}

func (p *Process) State() State {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state
}

// Pid returns the pid of the current child, or 0.
func (p *Process) Pid() int {
	c := p.current()
	if c == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (p *Process) current() *child {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.child
}

func (p *Process) transition(c *child, state State) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.child != c || p.state == Stopped {
		return
	}
	if state == Running && p.state != Starting {
		return
	}
	p.state = state
}

// Start spawns the child and waits for its started byte. A running child is
// shut down and spawned again.
func (p *Process) Start(timeout time.Duration) error {
	p.startLock.Lock()
	defer p.startLock.Unlock()

	if p.IsAlive() {
		p.logger.DebugWith("Restarting process", "pid", p.Pid())

		p.Shutdown(true, timeout)
		if p.IsAlive() {
			return errors.Wrap(ErrJoinTimeout, "Failed to stop process for restart")
		}
	}

	reader, writer, err := os.Pipe()
	if err != nil {
		return errors.Wrap(err, "Failed to create started pipe")
	}

	cmd := exec.Command(p.path, p.args...)
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	cmd.WaitDelay = outputWaitDelay
	cmd.ExtraFiles = []*os.File{writer}
	cmd.Env = append(os.Environ(), p.env...)
	cmd.Env = append(cmd.Env,
		StartedFDEnv+"="+strconv.Itoa(startedFD),
		WorkerEnv+"="+p.name)

	c := &child{cmd: cmd, started: NewEvent(), done: NewEvent(), piped: make(chan struct{})}

	p.lock.Lock()
	p.child = c
	p.state = Starting
	p.lock.Unlock()

	if err := cmd.Start(); err != nil {
		reader.Close()
		writer.Close()

		c.err = err
		close(c.piped)
		c.done.Set()
		p.transition(c, Stopped)
		return errors.Wrapf(err, "Failed to start %s", p.path)
	}

	// the child holds its own copy now
	writer.Close()

	p.logger.DebugWith("Spawned process", "path", p.path, "pid", cmd.Process.Pid)

	go p.readStarted(c, reader)
	go p.waitExit(c)

	expired, stop := deadline(timeout)
	defer stop()

	select {
	case <-c.started.Done():
		p.logger.DebugWith("Process started", "pid", cmd.Process.Pid)
		return nil
	case <-c.done.Done():
		if c.started.IsSet() {
			return nil
		}
		return errors.Errorf("Process exited with code %d before it started", c.code)
	case <-expired:
		p.logger.WarnWith("Process did not start in time", "pid", cmd.Process.Pid, "timeout", timeout.String())
		return ErrStartupTimeout
	}
}

func (p *Process) readStarted(c *child, reader *os.File) {
	defer close(c.piped)
	defer reader.Close()

	buf := make([]byte, 1)
	if n, _ := reader.Read(buf); n == 1 {
		p.transition(c, Running)
		c.started.Set()
	}
}

func (p *Process) waitExit(c *child) {
	result := <-NewProcessWaiter().Wait(c.cmd)

	c.code, c.err = exitCode(result)

	// a child that started and exited right away must still count as started
	<-c.piped

	p.transition(c, Stopped)
	p.logger.DebugWith("Process exited", "pid", c.cmd.Process.Pid, "code", c.code)
	c.done.Set()
}

// exitCode follows the POSIX convention of a negative signal number for
// children killed by a signal.
func exitCode(result WaitResult) (int, error) {
	if result.Err != nil {
		return -1, result.Err
	}

	if status, ok := result.ProcessState.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return -int(status.Signal()), nil
	}
	return result.ProcessState.ExitCode(), nil
}

func (p *Process) IsAlive() bool {
	c := p.current()
	return c != nil && !c.done.IsSet()
}

func (p *Process) Join(timeout time.Duration) error {
	c := p.current()
	if c == nil {
		return ErrNotStarted
	}
	return joinChild(c, timeout)
}

func joinChild(c *child, timeout time.Duration) error {
	expired, stop := deadline(timeout)
	defer stop()

	select {
	case <-c.started.Done():
	case <-c.done.Done():
	case <-expired:
		return ErrJoinTimeout
	}

	select {
	case <-c.done.Done():
		return nil
	case <-expired:
		return ErrJoinTimeout
	}
}

// Shutdown sends SIGTERM, which the child maps to its exit flag.
func (p *Process) Shutdown(join bool, timeout time.Duration) (int, bool) {
	c := p.current()
	if c == nil {
		return 0, false
	}

	if !c.done.IsSet() {
		p.transition(c, ShuttingDown)

		if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			p.logger.DebugWith("Failed to signal process", "pid", c.cmd.Process.Pid, "err", err.Error())
		}
	}

	if join {
		if err := joinChild(c, timeout); err != nil {
			p.logger.WarnWith("Process did not exit in time", "pid", c.cmd.Process.Pid)
			return 0, false
		}
	}

	if !c.done.IsSet() {
		return 0, false
	}
	return c.code, true
}

// Terminate kills the child. Its teardown code does not run.
func (p *Process) Terminate() error {
	c := p.current()
	if c == nil {
		return ErrNotStarted
	}
	if c.done.IsSet() {
		return nil
	}

	if err := c.cmd.Process.Kill(); err != nil {
		return errors.Wrap(err, "Failed to kill process")
	}
	return nil
}

func (p *Process) ExitCode() (int, bool) {
	c := p.current()
	if c == nil || !c.done.IsSet() {
		return 0, false
	}
	return c.code, true
}
