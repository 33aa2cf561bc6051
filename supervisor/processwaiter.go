package supervisor

import (
	"os"
	"os/exec"
)

type WaitResult struct {
	ProcessState *os.ProcessState
	Err          error
}

// ProcessWaiter reaps one started command. It waits through exec rather than
// the bare os.Process, so output copied to writers that are not files is
// complete and its pipes are released when the result arrives. A waiter is
// single use.
type ProcessWaiter struct {
	resultChan chan WaitResult
}

func NewProcessWaiter() *ProcessWaiter {
	return &ProcessWaiter{
		resultChan: make(chan WaitResult, 1),
	}
}

// Wait returns a channel that receives exactly one result once cmd exited.
// Err is set only when the child could not be waited for at all; a non-zero
// exit status is part of ProcessState.
func (pw *ProcessWaiter) Wait(cmd *exec.Cmd) <-chan WaitResult {
	go func() {
		err := cmd.Wait()
		if cmd.ProcessState != nil {

			// exit status, copy errors and an exceeded WaitDelay all leave a
			// reaped child behind
			err = nil
		}

		pw.resultChan <- WaitResult{cmd.ProcessState, err}
		close(pw.resultChan)
	}()

	return pw.resultChan
}
