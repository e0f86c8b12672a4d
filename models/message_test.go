package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusDelivered.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusDeadLetter.IsTerminal())

	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusSent.IsTerminal())
	assert.False(t, StatusWaiting.IsTerminal())
	// failed may still be rescheduled.
	assert.False(t, StatusFailed.IsTerminal())
}

func TestCanTransitionToForwardSteps(t *testing.T) {
	cases := []struct {
		from, to MessageStatus
		ok       bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusDelivered, false},

		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusWaiting, true},
		{StatusSent, StatusFailed, true},
		{StatusSent, StatusPending, false},

		{StatusWaiting, StatusDelivered, true},
		{StatusWaiting, StatusFailed, true},
		{StatusWaiting, StatusPending, false},

		{StatusFailed, StatusPending, true},
		{StatusFailed, StatusDeadLetter, true},
		{StatusFailed, StatusSent, false},
		{StatusFailed, StatusDelivered, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransitionTo(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTerminalStatesAllowNoTransitions(t *testing.T) {
	all := []MessageStatus{
		StatusPending, StatusSent, StatusWaiting, StatusDelivered,
		StatusFailed, StatusCancelled, StatusDeadLetter,
	}
	for _, terminal := range []MessageStatus{StatusDelivered, StatusCancelled, StatusDeadLetter} {
		for _, next := range all {
			assert.False(t, terminal.CanTransitionTo(next), "%s -> %s", terminal, next)
		}
	}
}
