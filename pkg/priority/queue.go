// Package priority orders inbound transport traffic so control and
// call lifecycle frames are not starved behind bulk audio.
package priority

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/andityas/swara/pkg/frames"
)

type Stats struct {
	HighPush     int64
	LowPush      int64
	HighPop      int64
	LowPop       int64
	AudioDropped int64
}

// FrameQueue is a two-lane queue. Control and system frames travel the
// high lane, audio travels the low lane. Pop favors the high lane but
// takes a low frame after `fairness` consecutive high pops so audio
// still flows under a burst of control traffic.
type FrameQueue struct {
	high      chan frames.Frame
	low       chan frames.Frame
	fairness  int
	highRun   int
	closeOnce sync.Once
	done      chan struct{}
	highPush  int64
	lowPush   int64
	highPop   int64
	lowPop    int64
	dropped   int64
}

func New(highCap, lowCap, fairness int) *FrameQueue {
	if fairness <= 0 {
		fairness = 3
	}
	return &FrameQueue{
		high:     make(chan frames.Frame, highCap),
		low:      make(chan frames.Frame, lowCap),
		fairness: fairness,
		done:     make(chan struct{}),
	}
}

// PushHigh blocks until the frame is enqueued or ctx is canceled.
// Lifecycle frames must not be dropped under load.
func (q *FrameQueue) PushHigh(ctx context.Context, f frames.Frame) bool {
	select {
	case q.high <- f:
		atomic.AddInt64(&q.highPush, 1)
		return true
	case <-ctx.Done():
		return false
	case <-q.done:
		return false
	}
}

// TryPushLow enqueues an audio frame if there is room. A full low lane
// means the dispatcher is behind; dropping a 20ms audio slice is
// preferable to delaying a clear or a call teardown.
func (q *FrameQueue) TryPushLow(f frames.Frame) bool {
	select {
	case q.low <- f:
		atomic.AddInt64(&q.lowPush, 1)
		return true
	default:
		atomic.AddInt64(&q.dropped, 1)
		return false
	}
}

// Pop returns the next frame, blocking until one is available. It
// returns false once the queue is closed and both lanes are drained,
// or when ctx is canceled. Pop is single-consumer.
func (q *FrameQueue) Pop(ctx context.Context) (frames.Frame, bool) {
	for {
		if q.highRun >= q.fairness {
			select {
			case f := <-q.low:
				q.highRun = 0
				atomic.AddInt64(&q.lowPop, 1)
				return f, true
			default:
				q.highRun = 0
			}
		}
		select {
		case f := <-q.high:
			atomic.AddInt64(&q.highPop, 1)
			q.highRun++
			return f, true
		default:
		}
		select {
		case f := <-q.high:
			atomic.AddInt64(&q.highPop, 1)
			q.highRun++
			return f, true
		case f := <-q.low:
			q.highRun = 0
			atomic.AddInt64(&q.lowPop, 1)
			return f, true
		case <-q.done:
			// Drain whatever is already buffered before reporting empty.
			select {
			case f := <-q.high:
				atomic.AddInt64(&q.highPop, 1)
				return f, true
			case f := <-q.low:
				atomic.AddInt64(&q.lowPop, 1)
				return f, true
			default:
				return nil, false
			}
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Close stops the queue. Buffered frames remain poppable.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *FrameQueue) Stats() Stats {
	return Stats{
		HighPush:     atomic.LoadInt64(&q.highPush),
		LowPush:      atomic.LoadInt64(&q.lowPush),
		HighPop:      atomic.LoadInt64(&q.highPop),
		LowPop:       atomic.LoadInt64(&q.lowPop),
		AudioDropped: atomic.LoadInt64(&q.dropped),
	}
}
