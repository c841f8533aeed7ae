package priority

import (
	"context"
	"testing"
	"time"

	"github.com/andityas/swara/pkg/frames"
)

func audio(b byte) frames.Frame {
	return frames.NewAudioFrame("MZ1", 0, []byte{b}, 8000, 1, nil)
}

func control(code frames.ControlCode) frames.Frame {
	return frames.NewControlFrame("MZ1", 0, code, nil)
}

func TestHighLanePopsFirst(t *testing.T) {
	q := New(4, 4, 3)
	ctx := context.Background()

	if !q.TryPushLow(audio(1)) {
		t.Fatal("low push failed")
	}
	if !q.PushHigh(ctx, control(frames.ControlClear)) {
		t.Fatal("high push failed")
	}

	f, ok := q.Pop(ctx)
	if !ok {
		t.Fatal("pop failed")
	}
	if f.Kind() != frames.KindControl {
		t.Fatalf("expected control frame first, got %v", f.Kind())
	}
	f, ok = q.Pop(ctx)
	if !ok || f.Kind() != frames.KindAudio {
		t.Fatalf("expected audio frame second")
	}
}

func TestFairnessAdmitsLowUnderHighBurst(t *testing.T) {
	q := New(16, 16, 2)
	ctx := context.Background()

	q.TryPushLow(audio(1))
	for i := 0; i < 4; i++ {
		q.PushHigh(ctx, control(frames.ControlMark))
	}

	kinds := make([]frames.Kind, 0, 5)
	for i := 0; i < 5; i++ {
		f, ok := q.Pop(ctx)
		if !ok {
			t.Fatal("pop failed")
		}
		kinds = append(kinds, f.Kind())
	}
	sawAudioEarly := false
	for _, k := range kinds[:3] {
		if k == frames.KindAudio {
			sawAudioEarly = true
		}
	}
	if !sawAudioEarly {
		t.Fatalf("audio starved behind control burst: %v", kinds)
	}
}

func TestLowLaneDropsWhenFull(t *testing.T) {
	q := New(1, 2, 3)
	if !q.TryPushLow(audio(1)) || !q.TryPushLow(audio(2)) {
		t.Fatal("expected room for two audio frames")
	}
	if q.TryPushLow(audio(3)) {
		t.Fatal("expected full low lane to reject")
	}
	if got := q.Stats().AudioDropped; got != 1 {
		t.Fatalf("AudioDropped = %d, want 1", got)
	}
}

func TestPopReturnsBufferedAfterClose(t *testing.T) {
	q := New(4, 4, 3)
	ctx := context.Background()
	q.TryPushLow(audio(9))
	q.Close()

	f, ok := q.Pop(ctx)
	if !ok || f.Kind() != frames.KindAudio {
		t.Fatal("expected buffered frame after close")
	}
	done := make(chan struct{})
	go func() {
		_, ok := q.Pop(ctx)
		if ok {
			t.Error("expected pop to report empty after drain")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pop did not return after close")
	}
}
