package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestManager(t *testing.T) {
	t.Run("InitialState", func(t *testing.T) {
		m := NewManager(func(context.Context) error { return nil })
		defer m.Close()

		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
	})

	t.Run("SuccessfulConnect", func(t *testing.T) {
		var connected atomic.Bool
		m := NewManager(func(context.Context) error { return nil })
		defer m.Close()
		m.OnConnected(func() { connected.Store(true) })

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if !m.IsConnected() {
			t.Error("IsConnected() = false")
		}
		if !connected.Load() {
			t.Error("OnConnected not called")
		}
		if err := m.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
		}
	})

	t.Run("FailedConnect", func(t *testing.T) {
		boom := errors.New("refused")
		m := NewManager(func(context.Context) error { return boom })
		defer m.Close()

		if err := m.Connect(context.Background()); !errors.Is(err, boom) {
			t.Errorf("Connect() error = %v, want %v", err, boom)
		}
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
	})

	t.Run("ConnectAfterClose", func(t *testing.T) {
		m := NewManager(func(context.Context) error { return nil })
		m.Close()
		m.Close()

		if err := m.Connect(context.Background()); !errors.Is(err, ErrClosed) {
			t.Errorf("Connect() error = %v, want ErrClosed", err)
		}
	})

	t.Run("ConnectTimeout", func(t *testing.T) {
		m := NewManagerWithConfig(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}, ManagerConfig{ConnectTimeout: 10 * time.Millisecond})
		defer m.Close()

		if err := m.Connect(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Connect() error = %v, want DeadlineExceeded", err)
		}
	})
}

func TestManagerStartRetriesUntilConnected(t *testing.T) {
	var calls atomic.Int32
	m := NewManagerWithConfig(func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("switcher offline")
		}
		return nil
	}, ManagerConfig{Backoff: fastBackoff()})
	defer m.Close()

	var mu sync.Mutex
	var lastErrs []error
	m.OnReconnecting(func(_ int, _ time.Duration, err error) {
		mu.Lock()
		lastErrs = append(lastErrs, err)
		mu.Unlock()
	})

	m.Start()
	waitFor(t, m.IsConnected)

	if calls.Load() != 3 {
		t.Errorf("connect called %d times, want 3", calls.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(lastErrs) != 2 || lastErrs[0] == nil {
		t.Errorf("OnReconnecting errors = %v, want two failures", lastErrs)
	}
	if m.Attempts() != 0 {
		t.Errorf("Attempts() = %d after success, want 0", m.Attempts())
	}
}

func TestManagerReconnectAfterLoss(t *testing.T) {
	var calls atomic.Int32
	m := NewManagerWithConfig(func(context.Context) error {
		calls.Add(1)
		return nil
	}, ManagerConfig{Backoff: fastBackoff()})
	defer m.Close()

	var mu sync.Mutex
	var transitions []State
	m.OnStateChange(func(_, s State) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	m.NotifyConnectionLost()
	waitFor(t, func() bool { return calls.Load() == 2 && m.IsConnected() })

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateReconnecting, StateConnected}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestManagerCloseStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	m := NewManagerWithConfig(func(context.Context) error {
		calls.Add(1)
		return errors.New("down")
	}, ManagerConfig{Backoff: NewFixedBackoff(time.Hour)})

	m.Start()
	waitFor(t, func() bool { return calls.Load() == 1 })
	m.Close()

	if m.State() != StateClosed {
		t.Errorf("State() = %v, want CLOSED", m.State())
	}
	if calls.Load() != 1 {
		t.Errorf("connect called %d times, want 1", calls.Load())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
