package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	c := Fake(start)

	assert.Equal(t, start, c.Now())

	c.Advance(48 * time.Hour)
	assert.Equal(t, start.AddDate(0, 0, 2), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestRealClockMovesForward(t *testing.T) {
	c := Real()
	before := time.Now()
	assert.False(t, c.Now().Before(before))
}
