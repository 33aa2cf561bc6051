package supervisor

import (
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Hook is one setup/teardown pair around a worker's loop. Either function may
// be nil.
type Hook struct {
	Name     string
	Setup    func() error
	Teardown func() error
}

// Hooks runs setups in registration order and teardowns in reverse order.
type Hooks struct {
	logger logger.Logger
	hooks  []Hook

	// number of hooks whose setup succeeded
	active int
}

func NewHooks(parentLogger logger.Logger) *Hooks {
	return &Hooks{logger: parentLogger}
}

// Add appends a hook and returns h so calls can be chained.
func (h *Hooks) Add(hook Hook) *Hooks {
	h.hooks = append(h.hooks, hook)
	return h
}

func (h *Hooks) Len() int {
	return len(h.hooks)
}

// Setup runs every setup in order. When one fails, the hooks already set up
// are torn down in reverse and the setup error is returned.
func (h *Hooks) Setup() error {
	h.active = 0

	for _, hook := range h.hooks {
		if hook.Setup != nil {
			if err := hook.Setup(); err != nil {
				h.logger.WarnWith("Hook setup failed", "hook", hook.Name, "err", err.Error())

				if teardownErr := h.Teardown(); teardownErr != nil {
					h.logger.WarnWith("Rollback after failed setup was incomplete", "err", teardownErr.Error())
				}
				return errors.Wrapf(err, "Failed to set up %s", hook.Name)
			}
		}

		h.active++
		h.logger.DebugWith("Hook set up", "hook", hook.Name)
	}
	return nil
}

// Teardown runs the teardowns of all hooks that were set up, last first. All
// teardowns run even if one fails; the first error is returned.
func (h *Hooks) Teardown() error {
	var firstErr error

	for ; h.active > 0; h.active-- {
		hook := h.hooks[h.active-1]
		if hook.Teardown == nil {
			continue
		}

		if err := hook.Teardown(); err != nil {
			h.logger.WarnWith("Hook teardown failed", "hook", hook.Name, "err", err.Error())
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "Failed to tear down %s", hook.Name)
			}
			continue
		}
		h.logger.DebugWith("Hook torn down", "hook", hook.Name)
	}
	return firstErr
}
