// SPDX-License-Identifier: MIT
package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyRetriesUntilBudgetExhausted(t *testing.T) {
	p := New(5, WithBackoff(10*time.Millisecond))

	for i := 1; i <= 5; i++ {
		d := p.Fail()
		assert.True(t, d.Retry, "attempt %d should retry", i)
		assert.False(t, d.GiveUp)
		assert.Equal(t, i, d.Attempt)
		assert.Equal(t, 10*time.Millisecond, d.Backoff)
	}

	d := p.Fail()
	assert.False(t, d.Retry, "sixth failure must exhaust the budget")
	assert.True(t, d.GiveUp, "exhaustion must be reported exactly once")
	assert.Equal(t, 6, d.Attempt)
	assert.Zero(t, d.Backoff)
}

func TestPolicyGiveUpReportedOnlyOnce(t *testing.T) {
	p := New(2)
	p.Fail()
	p.Fail()

	d := p.Fail()
	assert.True(t, d.GiveUp)
	assert.Equal(t, 3, d.Attempt)

	// Failures racing in after exhaustion are absorbed: no retry, no
	// second give-up, counter frozen.
	for i := 0; i < 3; i++ {
		d = p.Fail()
		assert.False(t, d.Retry)
		assert.False(t, d.GiveUp)
		assert.Equal(t, 3, d.Attempt)
	}
	assert.Equal(t, 3, p.Attempts())
}

func TestPolicyAttemptIncrementsByExactlyOne(t *testing.T) {
	p := New(3)
	for i := 1; i <= 4; i++ {
		d := p.Fail()
		assert.Equal(t, i, d.Attempt)
		assert.Equal(t, i, p.Attempts())
	}
}

func TestPolicyResetClearsCounterAndLatch(t *testing.T) {
	p := New(5)
	p.Fail()
	p.Fail()
	p.Fail()
	assert.Equal(t, 3, p.Attempts())

	p.Reset()
	assert.Equal(t, 0, p.Attempts())

	// A fresh failure sequence starts at one again.
	d := p.Fail()
	assert.Equal(t, 1, d.Attempt)
	assert.True(t, d.Retry)
}

func TestPolicyResetAfterExhaustionAllowsNewRun(t *testing.T) {
	p := New(1)
	assert.True(t, p.Fail().Retry)
	assert.True(t, p.Fail().GiveUp)

	p.Reset()

	d := p.Fail()
	assert.True(t, d.Retry)
	assert.Equal(t, 1, d.Attempt)
}

func TestPolicyZeroBudgetNeverRetries(t *testing.T) {
	p := New(0)
	d := p.Fail()
	assert.False(t, d.Retry)
	assert.True(t, d.GiveUp)
	assert.Equal(t, 1, d.Attempt)
}

func TestPolicyDefaultBackoff(t *testing.T) {
	p := New(5)
	assert.Equal(t, 2*time.Second, p.Backoff())

	// Non-positive overrides are ignored.
	p2 := New(5, WithBackoff(0))
	assert.Equal(t, 2*time.Second, p2.Backoff())
}
