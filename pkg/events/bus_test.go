package events

import (
	"testing"
	"time"
)

func TestEmitDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus(nil)
	var order []int
	bus.Subscribe(KindTranscript, func(Event) { order = append(order, 1) })
	bus.Subscribe(KindTranscript, func(Event) { order = append(order, 2) })
	bus.Subscribe(KindTranscript, func(Event) { order = append(order, 3) })

	bus.Emit(Transcript{Base: Base{CallSID: "CA1", At: time.Now()}, Text: "hi", Final: true})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected delivery order [1 2 3], got %v", order)
	}
}

func TestEmitFiltersByKind(t *testing.T) {
	bus := NewBus(nil)
	var got int
	bus.Subscribe(KindUtterance, func(Event) { got++ })

	bus.Emit(Transcript{Text: "not for you"})
	bus.Emit(Utterance{})

	if got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(nil)
	var after bool
	bus.Subscribe(KindClear, func(Event) { panic("boom") })
	bus.Subscribe(KindClear, func(Event) { after = true })

	bus.Emit(Clear{})

	if !after {
		t.Fatalf("expected handler after panic to still run")
	}
}

func TestSubscribeAllSeesEveryKind(t *testing.T) {
	bus := NewBus(nil)
	var kinds []Kind
	bus.SubscribeAll(func(ev Event) { kinds = append(kinds, ev.EventKind()) })

	bus.Emit(Utterance{})
	bus.Emit(AudioChunk{Seq: 0, Last: true})
	bus.Emit(CallEnded{Reason: "hangup"})

	want := []Kind{KindUtterance, KindAudioChunk, KindCallEnded}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(kinds))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestTapRunsAfterKindSubscribers(t *testing.T) {
	bus := NewBus(nil)
	var order []string
	bus.SubscribeAll(func(Event) { order = append(order, "tap") })
	bus.Subscribe(KindReplyDone, func(Event) { order = append(order, "sub") })

	bus.Emit(ReplyDone{TurnID: 1, Fragments: 2})

	if len(order) != 2 || order[0] != "sub" || order[1] != "tap" {
		t.Fatalf("expected [sub tap], got %v", order)
	}
}
