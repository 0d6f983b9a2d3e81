package observe

import (
	"testing"
	"time"
)

func recv[T any](t *testing.T, ch <-chan T) (T, bool) {
	t.Helper()
	select {
	case v, ok := <-ch:
		return v, ok
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero, false
}

func TestValue_ReplaysCurrent(t *testing.T) {
	v := NewValue("disconnected")
	v.Set("connecting")

	ch, cancel := v.Subscribe()
	defer cancel()
	if got, _ := recv(t, ch); got != "connecting" {
		t.Errorf("first value = %q, want connecting", got)
	}
}

func TestValue_LatestWins(t *testing.T) {
	v := NewValue(0)
	ch, cancel := v.Subscribe()
	defer cancel()

	for i := 1; i <= 10; i++ {
		v.Set(i)
	}
	if got, _ := recv(t, ch); got != 10 {
		t.Errorf("got %d, want latest 10", got)
	}
	if v.Get() != 10 {
		t.Errorf("Get = %d", v.Get())
	}
}

func TestValue_CloseEndsSubscriptions(t *testing.T) {
	v := NewValue(1)
	ch, cancel := v.Subscribe()
	recv(t, ch)

	v.Close()
	if _, ok := recv(t, ch); ok {
		t.Error("channel still open after Close")
	}
	v.Set(2)
	cancel()
	v.Close()

	late, _ := v.Subscribe()
	if _, ok := recv(t, late); ok {
		t.Error("subscribe after Close should yield a closed channel")
	}
}

func TestStream_DeliversInOrderAndDropsWhenFull(t *testing.T) {
	s := NewStream[int](2)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Publish(1)
	s.Publish(2)
	s.Publish(3)

	if a, _ := recv(t, ch); a != 1 {
		t.Errorf("first = %d", a)
	}
	if b, _ := recv(t, ch); b != 2 {
		t.Errorf("second = %d", b)
	}
	if s.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", s.Dropped())
	}
}

func TestStream_CancelUnsubscribes(t *testing.T) {
	s := NewStream[string](0)
	ch, cancel := s.Subscribe()
	cancel()
	cancel()
	s.Publish("x")
	if _, ok := recv(t, ch); ok {
		t.Error("cancelled channel should be closed")
	}
	s.Close()
	s.Publish("after close")
}
