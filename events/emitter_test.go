package events

import "testing"

func TestSubscribeEmitDeliversToMatchingType(t *testing.T) {
	e := NewEmitter()
	var got []Event
	e.Subscribe(EventOperationDecided, func(ev Event) { got = append(got, ev) })
	e.Subscribe(EventLeaderChanged, func(ev Event) { t.Error("wrong-type subscriber should not fire") })

	e.Emit(Event{Type: EventOperationDecided, Depth: 3})
	if len(got) != 1 || got[0].Depth != 3 {
		t.Errorf("got %+v, want one event with Depth=3", got)
	}
}

func TestEmitRecoversFromHandlerPanic(t *testing.T) {
	e := NewEmitter()
	called := false
	e.Subscribe(EventLinkFailed, func(Event) { panic("boom") })
	e.Subscribe(EventLinkFailed, func(Event) { called = true })

	e.Emit(Event{Type: EventLinkFailed})
	if !called {
		t.Error("a panicking handler should not prevent later subscribers from running")
	}
}

func TestEmitWithNoSubscribersIsNoop(t *testing.T) {
	e := NewEmitter()
	e.Emit(Event{Type: EventRecoveryApplied}) // must not panic
}
