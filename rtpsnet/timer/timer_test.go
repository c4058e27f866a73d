package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleFires(t *testing.T) {
	s := NewScheduler(5 * time.Millisecond)
	s.Start()
	defer func() { s.Halt(); s.Wait() }()

	var fired atomic.Bool
	s.After(10*time.Millisecond, KindHeartbeat, func() { fired.Store(true) })

	require.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
}

func TestCancelPreventsFire(t *testing.T) {
	s := NewScheduler(5 * time.Millisecond)
	s.Start()
	defer func() { s.Halt(); s.Wait() }()

	var fired atomic.Bool
	h := s.After(20*time.Millisecond, KindNackResponse, func() { fired.Store(true) })
	h.Cancel()

	time.Sleep(50 * time.Millisecond)
	require.False(t, fired.Load())
	require.Equal(t, 0, s.Len())
}

func TestResetReschedules(t *testing.T) {
	s := NewScheduler(5 * time.Millisecond)
	s.Start()
	defer func() { s.Halt(); s.Wait() }()

	var count atomic.Int32
	h := s.After(200*time.Millisecond, KindLiveness, func() { count.Add(1) })
	ok := h.Reset(time.Now().Add(10 * time.Millisecond))
	require.True(t, ok)

	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestOrderingFiresEarliestFirst(t *testing.T) {
	s := NewScheduler(2 * time.Millisecond)
	s.Start()
	defer func() { s.Halt(); s.Wait() }()

	var order []int
	done := make(chan struct{})
	s.After(30*time.Millisecond, KindHeartbeat, func() { order = append(order, 2); close(done) })
	s.After(10*time.Millisecond, KindHeartbeat, func() { order = append(order, 1) })

	<-done
	require.Equal(t, []int{1, 2}, order)
}
