package connection

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			32 * time.Second,
			60 * time.Second,
			60 * time.Second,
		}
		for i, exp := range expected {
			base := b.Current()
			delay := b.Next()

			if base != exp {
				t.Errorf("attempt %d: base = %v, want %v", i, base, exp)
			}
			if delay < base || delay > base+base/4 {
				t.Errorf("attempt %d: delay %v outside [%v, %v]", i, delay, base, base+base/4)
			}
		}
		if b.Attempts() != len(expected) {
			t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(expected))
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		b.Next()
		b.Next()
		b.Reset()

		if b.Current() != InitialBackoff {
			t.Errorf("Current() = %v after reset, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    10 * time.Millisecond,
			Max:        35 * time.Millisecond,
			Multiplier: 3,
		})

		want := []time.Duration{10 * time.Millisecond, 30 * time.Millisecond, 35 * time.Millisecond}
		for i, w := range want {
			if got := b.Next(); got != w {
				t.Errorf("Next() #%d = %v, want %v", i, got, w)
			}
		}
	})

	t.Run("Fixed", func(t *testing.T) {
		b := NewFixedBackoff(250 * time.Millisecond)
		for i := 0; i < 5; i++ {
			if got := b.Next(); got != 250*time.Millisecond {
				t.Errorf("Next() #%d = %v, want 250ms", i, got)
			}
		}
	})
}
