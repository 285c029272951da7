// Package stepflow drives a linear multi-step form to a single submission.
package stepflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Outcome of the flow.
type Outcome int

const (
	Editing Outcome = iota
	Submitted
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Editing:
		return "editing"
	case Submitted:
		return "submitted"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

var (
	// ErrSubmitInFlight is returned by transitions attempted while the submit action runs.
	ErrSubmitInFlight = errors.New("submission in progress")
	// ErrClosed is returned once the controller has been closed.
	ErrClosed = errors.New("step flow closed")
)

// SubmitError wraps the error of a failed submit action.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string { return e.Err.Error() }
func (e *SubmitError) Cause() error  { return e.Err }
func (e *SubmitError) Unwrap() error { return e.Err }

// IsSubmitError reports whether err comes from a failed submit action.
func IsSubmitError(err error) bool {
	_, ok := err.(*SubmitError)
	return ok
}

type (
	// Step is one page of the flow. Validate returns nil when the step may be left forward.
	Step struct {
		Name     string
		Validate func() error
	}

	// SubmitFunc is the action run when advancing from the last step.
	SubmitFunc func(ctx context.Context) error

	// State is a snapshot of the controller. Step is 1-based.
	State struct {
		Step     int     `json:"step"`
		Total    int     `json:"total"`
		Name     string  `json:"name"`
		InFlight bool    `json:"inFlight"`
		Outcome  Outcome `json:"outcome"`
		Err      error   `json:"-"`
	}
)

// Controller is the state machine of a step flow. It is safe for concurrent use.
type Controller struct {
	steps  []Step
	submit SubmitFunc

	mu       sync.Mutex
	step     int
	inFlight bool
	outcome  Outcome
	err      error
	closed   bool
	cancel   context.CancelFunc // of the running submit
	gen      uint64
}

// New returns a controller at step 1. It panics without steps, as a programming error.
func New(steps []Step, submit SubmitFunc) *Controller {
	if len(steps) == 0 {
		panic("stepflow: no steps")
	}
	return &Controller{
		steps:  append([]Step(nil), steps...),
		submit: submit,
		step:   1,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{
		Step:     c.step,
		Total:    len(c.steps),
		Name:     c.steps[c.step-1].Name,
		InFlight: c.inFlight,
		Outcome:  c.outcome,
		Err:      c.err,
	}
}

// Advance validates the active step and moves to the next one.
// From the last step it runs the submit action instead; its failure is returned as a *SubmitError.
// A failed validation leaves the state unchanged and is returned.
// Once submitted, Advance does nothing.
func (c *Controller) Advance(ctx context.Context) (State, error) {
	c.mu.Lock()
	if err := c.checkLocked(); err != nil {
		s := c.stateLocked()
		c.mu.Unlock()
		return s, err
	}
	if c.outcome == Submitted {
		s := c.stateLocked()
		c.mu.Unlock()
		return s, nil
	}

	if validate := c.steps[c.step-1].Validate; validate != nil {
		if err := validate(); err != nil {
			s := c.stateLocked()
			c.mu.Unlock()
			return s, err
		}
	}

	if c.step < len(c.steps) {
		c.step++
		s := c.stateLocked()
		c.mu.Unlock()
		return s, nil
	}

	// last step: submit with the lock released
	c.inFlight = true
	c.err = nil
	c.gen++
	gen := c.gen
	submitCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	err := c.runSubmit(submitCtx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		// closed while submitting: the result is discarded
		return c.stateLocked(), ErrClosed
	}
	c.inFlight = false
	c.cancel = nil
	if err != nil {
		c.outcome = Failed
		c.err = err
		return c.stateLocked(), &SubmitError{Err: err}
	}
	c.outcome = Submitted
	return c.stateLocked(), nil
}

func (c *Controller) runSubmit(ctx context.Context) (err error) {
	if c.submit == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("submit panicked: %v", r)
		}
	}()
	return c.submit(ctx)
}

// Retreat moves back one step without validation. It does nothing at step 1 or once submitted.
func (c *Controller) Retreat() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return c.stateLocked(), err
	}
	if c.outcome == Submitted || c.step == 1 {
		return c.stateLocked(), nil
	}
	c.step--
	if c.outcome == Failed {
		c.outcome = Editing
		c.err = nil
	}
	return c.stateLocked(), nil
}

func (c *Controller) checkLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.inFlight {
		return ErrSubmitInFlight
	}
	return nil
}

// Close tears the controller down. A running submit has its context cancelled and its result discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.inFlight = false
}
