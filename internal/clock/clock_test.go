package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := Fake(start)
	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())

	c.Set(start.Add(-time.Minute))
	assert.Equal(t, start.Add(-time.Minute), c.Now())
}

func TestRealClockIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Real().Now().Location())
}
