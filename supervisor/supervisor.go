/*
Package supervisor starts and stops a worker loop, synchronizes on the worker
having started and guarantees at most one live worker per supervisor.

Two backends share the Worker contract: Supervisor runs the loop on a
goroutine, Process runs it in a child OS process (see process.go and
child.go).

Starting a running worker restarts it. Shutting down is cooperative: an exit
flag is raised and observed by the loop at the top of every iteration.
Shutdown may be called any number of times and always reports the same exit
code. Terminate stops a worker without running its teardown hooks.
*/
package supervisor

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dermesser/zmp/log"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

var (
	ErrStartupTimeout = errors.New("Worker did not signal started before the deadline")
	ErrJoinTimeout    = errors.New("Worker did not exit before the deadline")
	ErrNotStarted     = errors.New("Worker was never started")
)

// Exit code reported for a worker that was terminated, as for a process
// killed by SIGKILL.
const ExitKilled = -9

// Exit code reported for a worker whose loop panicked.
const ExitPanic = 1

// Worker is the lifecycle contract shared by the goroutine and process backends.
type Worker interface {
	Start(timeout time.Duration) error
	IsAlive() bool
	Join(timeout time.Duration) error
	Shutdown(join bool, timeout time.Duration) (int, bool)
	Terminate() error
}

// Loop is one iteration of a worker. delta is the time since the previous
// iteration. Returning done ends the loop with code as exit code.
type Loop func(delta time.Duration) (code int, done bool)

// one incarnation of the worker; every Start creates a new one
type run struct {
	started *Event
	exit    *Event
	done    *Event
	killed  int32

	// valid once done is set
	code int
	err  error
}

func newRun() *run {
	return &run{started: NewEvent(), exit: NewEvent(), done: NewEvent()}
}

func (r *run) isKilled() bool {
	return atomic.LoadInt32(&r.killed) == 1
}

// Supervisor runs a Loop on its own goroutine.
type Supervisor struct {
	name   string
	logger logger.Logger
	loop   Loop
	hooks  *Hooks

	release      []func()
	lockOSThread bool

	// serializes Start, including its restart
	startLock sync.Mutex

	lock  sync.Mutex
	state State
	run   *run
}

func NewSupervisor(parentLogger logger.Logger, name string, loop Loop) *Supervisor {
	loggerInstance := log.Or(parentLogger).GetChild(name)

	return &Supervisor{
		name:   name,
		logger: loggerInstance,
		loop:   loop,
		hooks:  NewHooks(loggerInstance),
		state:  Idle,
	}
}

// Use registers a setup/teardown hook. Hooks must be registered before Start.
func (s *Supervisor) Use(hook Hook) *Supervisor {
	s.hooks.Add(hook)
	return s
}

// Finally registers a function that runs whenever the worker exits,
// including after Terminate. It is the place to release OS resources.
func (s *Supervisor) Finally(release func()) *Supervisor {
	s.release = append(s.release, release)
	return s
}

// LockOSThread pins the worker goroutine to one OS thread, for loops that
// own thread-affine resources such as ZeroMQ sockets.
func (s *Supervisor) LockOSThread(lock bool) {
	s.lockOSThread = lock
}

func (s *Supervisor) Name() string {
	return s.name
}

func (s *Supervisor) Logger() logger.Logger {
	return s.logger
}

func (s *Supervisor) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

func (s *Supervisor) current() *run {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.run
}

// transition moves the state of the current run forward. Stopped is final
// for a run.
func (s *Supervisor) transition(r *run, state State) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.run != r || s.state == Stopped {
		return
	}
	if state == Running && s.state != Starting {
		return
	}
	s.state = state
}

/*
Start spawns the worker and blocks until it has begun its first loop
iteration. If the worker is already alive it is shut down and started again.

Returns ErrStartupTimeout when timeout elapses first, or an error wrapping the
cause when the worker exited before starting (for example a failed setup
hook). A timeout <= 0 waits indefinitely.
*/
func (s *Supervisor) Start(timeout time.Duration) error {
	s.startLock.Lock()
	defer s.startLock.Unlock()

	if s.IsAlive() {
		s.logger.DebugWith("Restarting worker", "state", s.State().String())

		s.Shutdown(true, timeout)
		if s.IsAlive() {
			return errors.Wrap(ErrJoinTimeout, "Failed to stop worker for restart")
		}
	}

	r := newRun()

	s.lock.Lock()
	s.run = r
	s.state = Starting
	s.lock.Unlock()

	go s.work(r)

	expired, stop := deadline(timeout)
	defer stop()

	select {
	case <-r.started.Done():
		s.logger.DebugWith("Worker started")
		return nil
	case <-r.done.Done():
		if r.started.IsSet() {
			return nil
		}
		if r.err != nil {
			return errors.Wrap(r.err, "Worker exited before it started")
		}
		return errors.New("Worker exited before it started")
	case <-expired:
		s.logger.WarnWith("Worker did not start in time", "timeout", timeout.String())
		return ErrStartupTimeout
	}
}

// IsAlive reports whether a worker was spawned and has not exited.
func (s *Supervisor) IsAlive() bool {
	r := s.current()
	return r != nil && !r.done.IsSet()
}

// Join blocks until the worker exits. A worker that has not signalled started
// yet is first waited for until it does (or exits). Returns ErrJoinTimeout if
// timeout elapses first.
func (s *Supervisor) Join(timeout time.Duration) error {
	r := s.current()
	if r == nil {
		return ErrNotStarted
	}
	return joinRun(r, timeout)
}

func joinRun(r *run, timeout time.Duration) error {
	expired, stop := deadline(timeout)
	defer stop()

	select {
	case <-r.started.Done():
	case <-r.done.Done():
	case <-expired:
		return ErrJoinTimeout
	}

	select {
	case <-r.done.Done():
		return nil
	case <-expired:
		return ErrJoinTimeout
	}
}

/*
Shutdown raises the exit flag and, if join is set, waits for the worker to
exit. Returns the exit code and true once the worker has exited; false if it
never ran or is still running. Calling Shutdown again returns the same result.
*/
func (s *Supervisor) Shutdown(join bool, timeout time.Duration) (int, bool) {
	r := s.current()
	if r == nil {
		return 0, false
	}

	if !r.exit.IsSet() {
		r.exit.Set()

		if !r.done.IsSet() {
			s.transition(r, ShuttingDown)
			s.logger.DebugWith("Exit requested")
		}
	}

	if join {
		if err := joinRun(r, timeout); err != nil {
			s.logger.WarnWith("Worker did not exit in time", "timeout", timeout.String())
			return 0, false
		}
	}

	if !r.done.IsSet() {
		return 0, false
	}
	return r.code, true
}

// Terminate stops the worker at its next loop boundary without running the
// teardown hooks. Functions registered with Finally still run. A loop body
// that blocks forever cannot be interrupted.
func (s *Supervisor) Terminate() error {
	r := s.current()
	if r == nil {
		return ErrNotStarted
	}

	atomic.StoreInt32(&r.killed, 1)
	r.exit.Set()
	s.logger.DebugWith("Worker terminated")
	return nil
}

// ExitCode returns the exit code of the last run, if it has exited.
func (s *Supervisor) ExitCode() (int, bool) {
	r := s.current()
	if r == nil || !r.done.IsSet() {
		return 0, false
	}
	return r.code, true
}

// Err returns the error that ended the last run early (a failed setup hook or
// a panic), if any.
func (s *Supervisor) Err() error {
	r := s.current()
	if r == nil || !r.done.IsSet() {
		return nil
	}
	return r.err
}

// Done is closed when the current run exits. It is nil before the first Start.
func (s *Supervisor) Done() <-chan struct{} {
	r := s.current()
	if r == nil {
		return nil
	}
	return r.done.Done()
}

// ExitRequested reports whether the current run was asked to exit. Loops
// that block inside an iteration can use it to return early.
func (s *Supervisor) ExitRequested() bool {
	r := s.current()
	return r != nil && r.exit.IsSet()
}

func (s *Supervisor) work(r *run) {
	if s.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	defer func() {
		for i := len(s.release) - 1; i >= 0; i-- {
			s.release[i]()
		}

		s.transition(r, Stopped)
		s.logger.DebugWith("Worker exited", "code", r.code, "killed", r.isKilled())
		r.done.Set()
	}()

	if err := s.hooks.Setup(); err != nil {
		r.code = ExitPanic
		r.err = err
		return
	}

	r.code, r.err = s.iterate(r)

	if r.isKilled() {
		r.code = ExitKilled
		return
	}

	if err := s.hooks.Teardown(); err != nil && r.err == nil {
		r.err = err
	}
}

func (s *Supervisor) iterate(r *run) (code int, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.ErrorWith("Worker loop panicked", "panic", recovered, "stack", string(debug.Stack()))
			code = ExitPanic
			err = errors.Errorf("Worker loop panicked: %v", recovered)
		}
	}()

	first := true
	last := time.Now()

	for !r.exit.IsSet() {
		if first {
			first = false
			s.transition(r, Running)
			r.started.Set()
		}

		now := time.Now()
		delta := now.Sub(last)
		last = now

		if code, done := s.loop(delta); done {
			return code, nil
		}
	}
	return 0, nil
}

/*
Scoped starts w if it is not alive, runs fn and always shuts w down on the way
out, whether fn returns, fails, panics or gives up because ctx was cancelled.
*/
func Scoped(ctx context.Context, w Worker, timeout time.Duration, fn func(ctx context.Context) error) error {
	if !w.IsAlive() {
		if err := w.Start(timeout); err != nil {
			return err
		}
	}
	defer w.Shutdown(true, timeout)

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
