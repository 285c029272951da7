package stepflow_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core/stepflow"
)

var errInvalid = errors.New("invalid")

type form struct {
	valid   [3]bool
	submits int32
	result  error
}

func (f *form) controller() *stepflow.Controller {
	steps := make([]stepflow.Step, 0, len(f.valid))
	for i := range f.valid {
		i := i
		steps = append(steps, stepflow.Step{
			Name: []string{"personal", "profile", "motivation"}[i],
			Validate: func() error {
				if !f.valid[i] {
					return errInvalid
				}
				return nil
			},
		})
	}
	return stepflow.New(steps, func(ctx context.Context) error {
		atomic.AddInt32(&f.submits, 1)
		return f.result
	})
}

func validForm() *form {
	return &form{valid: [3]bool{true, true, true}}
}

func TestController_ThreeValidSteps(t *testing.T) {
	f := validForm()
	c := f.controller()
	ctx := context.Background()

	s, err := c.Retreat()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Step, "retreat at step 1 is a no-op")

	for i := 0; i < 3; i++ {
		_, err := c.Advance(ctx)
		require.NoError(t, err)
	}

	s = c.State()
	assert.Equal(t, int32(1), f.submits)
	assert.Equal(t, stepflow.Submitted, s.Outcome)
	assert.Equal(t, 3, s.Step)
	assert.Equal(t, 3, s.Total)
	assert.False(t, s.InFlight)
}

func TestController_Advance(t *testing.T) {
	tests := []struct {
		name      string
		valid     [3]bool
		advances  int
		wantStep  int
		wantErr   error
		wantCalls int32
	}{
		{name: "invalid first step", valid: [3]bool{false, true, true}, advances: 1, wantStep: 1, wantErr: errInvalid},
		{name: "valid first step", valid: [3]bool{true, false, true}, advances: 1, wantStep: 2},
		{name: "blocked on second step", valid: [3]bool{true, false, true}, advances: 3, wantStep: 2, wantErr: errInvalid},
		{name: "invalid last step never submits", valid: [3]bool{true, true, false}, advances: 5, wantStep: 3, wantErr: errInvalid},
		{name: "submit from last step", valid: [3]bool{true, true, true}, advances: 3, wantStep: 3, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &form{valid: tt.valid}
			c := f.controller()

			var err error
			for i := 0; i < tt.advances; i++ {
				_, err = c.Advance(context.Background())
			}
			assert.Equal(t, tt.wantErr, err)
			assert.Equal(t, tt.wantStep, c.State().Step)
			assert.Equal(t, tt.wantCalls, f.submits)
		})
	}
}

func TestController_InvalidAdvanceLeavesStateUnchanged(t *testing.T) {
	f := &form{valid: [3]bool{true, false, true}}
	c := f.controller()
	_, err := c.Advance(context.Background())
	require.NoError(t, err)

	before := c.State()
	after, err := c.Advance(context.Background())
	assert.Equal(t, errInvalid, err)
	assert.Equal(t, before, after)
	assert.Equal(t, before, c.State())
}

func TestController_RetreatSkipsValidation(t *testing.T) {
	f := validForm()
	c := f.controller()
	_, _ = c.Advance(context.Background())
	_, _ = c.Advance(context.Background())

	f.valid = [3]bool{false, false, false}
	s, err := c.Retreat()
	require.NoError(t, err)
	assert.Equal(t, 2, s.Step)
	s, err = c.Retreat()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Step)
	s, err = c.Retreat()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Step)
}

func TestController_SubmitFailure(t *testing.T) {
	f := validForm()
	f.result = errors.New("backend unavailable")
	c := f.controller()
	ctx := context.Background()
	_, _ = c.Advance(ctx)
	_, _ = c.Advance(ctx)

	s, err := c.Advance(ctx)
	assert.True(t, stepflow.IsSubmitError(err))
	assert.Equal(t, f.result, errors.Cause(err))
	assert.Equal(t, 3, s.Step)
	assert.Equal(t, stepflow.Failed, s.Outcome)
	assert.Equal(t, f.result, s.Err)
	assert.False(t, s.InFlight)

	// retry
	f.result = nil
	s, err = c.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, stepflow.Submitted, s.Outcome)
	assert.NoError(t, s.Err)
	assert.Equal(t, int32(2), f.submits)
}

func TestController_SubmittedIsTerminal(t *testing.T) {
	f := validForm()
	c := f.controller()
	for i := 0; i < 3; i++ {
		_, _ = c.Advance(context.Background())
	}

	s, err := c.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stepflow.Submitted, s.Outcome)
	s, err = c.Retreat()
	require.NoError(t, err)
	assert.Equal(t, 3, s.Step)
	assert.Equal(t, int32(1), f.submits)
}

func TestController_InFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var submits int32
	c := stepflow.New([]stepflow.Step{{Name: "only"}}, func(ctx context.Context) error {
		atomic.AddInt32(&submits, 1)
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := c.Advance(context.Background())
		done <- err
	}()
	<-started

	assert.True(t, c.State().InFlight)
	_, err := c.Advance(context.Background())
	assert.Equal(t, stepflow.ErrSubmitInFlight, err)
	_, err = c.Retreat()
	assert.Equal(t, stepflow.ErrSubmitInFlight, err)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), atomic.LoadInt32(&submits))
	assert.Equal(t, stepflow.Submitted, c.State().Outcome)
}

func TestController_CloseDuringSubmit(t *testing.T) {
	started := make(chan struct{})
	c := stepflow.New([]stepflow.Step{{Name: "only"}}, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan error, 1)
	go func() {
		_, err := c.Advance(context.Background())
		done <- err
	}()
	<-started
	c.Close()

	select {
	case err := <-done:
		assert.Equal(t, stepflow.ErrClosed, err)
	case <-time.After(time.Second):
		t.Fatal("submit was not cancelled")
	}
	s := c.State()
	assert.Equal(t, stepflow.Editing, s.Outcome, "the result of a discarded submit is not recorded")
	assert.False(t, s.InFlight)
}

func TestController_SubmitPanic(t *testing.T) {
	c := stepflow.New([]stepflow.Step{{Name: "only"}}, func(ctx context.Context) error {
		panic("oops")
	})
	s, err := c.Advance(context.Background())
	assert.EqualError(t, err, "submit panicked: oops")
	assert.Equal(t, stepflow.Failed, s.Outcome)
}
