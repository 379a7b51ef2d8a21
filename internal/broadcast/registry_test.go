package broadcast

import "testing"

func TestRegistry_NotifyInvokesSubscriber(t *testing.T) {
	r := New()
	called := false
	r.Subscribe("presence:p1", func() { called = true })

	r.Notify("presence:p1")
	if !called {
		t.Error("expected handler to be invoked")
	}
}

func TestRegistry_NotifyDoesNotCrossTopics(t *testing.T) {
	r := New()
	called := false
	r.Subscribe("presence:p1", func() { called = true })

	r.Notify("presence:p2")
	if called {
		t.Error("expected handler for a different topic not to fire")
	}
}

func TestRegistry_UnsubscribeStopsDelivery(t *testing.T) {
	r := New()
	count := 0
	unsub := r.Subscribe("sessions:p1", func() { count++ })

	r.Notify("sessions:p1")
	unsub()
	r.Notify("sessions:p1")

	if count != 1 {
		t.Errorf("expected exactly 1 delivery before unsubscribe, got %d", count)
	}
}

func TestRegistry_UnsubscribeIsIdempotent(t *testing.T) {
	r := New()
	unsub := r.Subscribe("sessions:p1", func() {})
	unsub()
	unsub()
}

func TestRegistry_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	r := New()
	secondCalled := false
	r.Subscribe("sessions:p1", func() { panic("boom") })
	r.Subscribe("sessions:p1", func() { secondCalled = true })

	r.Notify("sessions:p1")
	if !secondCalled {
		t.Error("expected second handler to run despite first panicking")
	}
}

func TestRegistry_MultipleSubscribersAllNotified(t *testing.T) {
	r := New()
	count := 0
	r.Subscribe("presence:p1", func() { count++ })
	r.Subscribe("presence:p1", func() { count++ })
	r.Subscribe("presence:p1", func() { count++ })

	r.Notify("presence:p1")
	if count != 3 {
		t.Errorf("expected 3 invocations, got %d", count)
	}
}
