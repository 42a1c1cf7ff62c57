package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWheelFiresAfterDelay(t *testing.T) {
	w := NewWheel()
	defer w.Stop()

	var fired atomic.Bool
	done := make(chan struct{})
	w.AfterFunc(10*time.Millisecond, func() {
		fired.Store(true)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for task to fire")
	}

	assert.True(t, fired.Load())
}

func TestWheelCancelPreventsFiring(t *testing.T) {
	w := NewWheel()
	defer w.Stop()

	var fired atomic.Bool
	h := w.AfterFunc(30*time.Millisecond, func() {
		fired.Store(true)
	})
	h.Cancel()

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.True(t, h.IsCancelled())
}

func TestWheelCancelIsIdempotent(t *testing.T) {
	w := NewWheel()
	defer w.Stop()

	h := w.AfterFunc(time.Hour, func() {})
	h.Cancel()
	require.NotPanics(t, func() {
		h.Cancel()
		h.Cancel()
	})
	assert.True(t, h.IsCancelled())
}

func TestWheelStopDropsArmedTimeouts(t *testing.T) {
	w := NewWheel()

	var fired atomic.Bool
	w.AfterFunc(20*time.Millisecond, func() {
		fired.Store(true)
	})
	w.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestWheelAfterFuncAfterStopIsAlreadyCancelled(t *testing.T) {
	w := NewWheel()
	w.Stop()

	var fired atomic.Bool
	h := w.AfterFunc(time.Millisecond, func() {
		fired.Store(true)
	})
	assert.True(t, h.IsCancelled())

	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired.Load())
}
