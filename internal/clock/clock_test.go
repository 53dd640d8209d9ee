package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowResetsOnExpiry(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))
	w := NewWindow(60*time.Second, fake)

	w.Increment()
	w.Increment()
	assert.Equal(t, 2, w.Count())

	fake.Advance(61 * time.Second)
	assert.Equal(t, 0, w.Count())
}

func TestWindowRemainingUntilReset(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))
	w := NewWindow(60*time.Second, fake)

	remaining := w.RemainingUntilReset()
	assert.Equal(t, 60*time.Second, remaining)

	fake.Advance(30 * time.Second)
	remaining = w.RemainingUntilReset()
	assert.Equal(t, 30*time.Second, remaining)
}

func TestWindowBoundS5(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))
	w := NewWindow(60*time.Second, fake)

	const maxPerMinute = 2
	dispatched := 0
	for i := 0; i < 3; i++ {
		if w.Count() >= maxPerMinute {
			fake.Advance(w.RemainingUntilReset())
		}
		w.Increment()
		dispatched++
	}
	assert.Equal(t, 3, dispatched)
	assert.True(t, fake.Now().Sub(time.Unix(0, 0)) >= 60*time.Second)
}
