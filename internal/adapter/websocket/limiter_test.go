package websocket

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestConnectionLimits_Global(t *testing.T) {
	limits := NewConnectionLimits(clockwork.NewFakeClock(), 3, 10, 100)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		ok, _ := limits.Acquire(ip)
		assert.True(t, ok)
	}

	ok, reason := limits.Acquire("10.0.0.9")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonGlobal, reason)
	assert.Equal(t, int64(3), limits.Current())

	limits.Release("10.0.0.1")
	ok, _ = limits.Acquire("10.0.0.9")
	assert.True(t, ok)
}

func TestConnectionLimits_PerIP(t *testing.T) {
	limits := NewConnectionLimits(clockwork.NewFakeClock(), 100, 2, 100)

	ok, _ := limits.Acquire("192.168.1.1")
	assert.True(t, ok)
	ok, _ = limits.Acquire("192.168.1.1")
	assert.True(t, ok)

	ok, reason := limits.Acquire("192.168.1.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)
	assert.Equal(t, int64(2), limits.Current(), "refused per-ip acquire must not hold a global slot")

	ok, _ = limits.Acquire("192.168.1.2")
	assert.True(t, ok)

	limits.Release("192.168.1.1")
	assert.Equal(t, 1, limits.CountFor("192.168.1.1"))
	limits.Release("192.168.1.1")
	assert.Equal(t, 0, limits.CountFor("192.168.1.1"))
}

func TestConnectionLimits_RateRefillsWithClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limits := NewConnectionLimits(clock, 100, 100, 1) // burst 2

	for range 2 {
		ok, _ := limits.Acquire("192.168.1.1")
		assert.True(t, ok)
	}
	ok, reason := limits.Acquire("192.168.1.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonRate, reason)

	ok, _ = limits.Acquire("192.168.1.2")
	assert.True(t, ok, "other addresses have their own bucket")

	clock.Advance(time.Second)
	ok, _ = limits.Acquire("192.168.1.1")
	assert.True(t, ok)
}

func TestConnectionLimits_Concurrent(t *testing.T) {
	limits := NewConnectionLimits(clockwork.NewFakeClock(), 50, 1000, 10000)
	var accepted atomic.Int64

	start := make(chan struct{})
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if ok, _ := limits.Acquire("10.1.1.1"); ok {
				accepted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(50), accepted.Load())
	assert.Equal(t, int64(50), limits.Current())
}
