package agent

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aibridge/internal/domain"
)

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	select {
	case <-q.Idle():
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}
}

func TestQueue_FIFOWhileBusy(t *testing.T) {
	var (
		mu      sync.Mutex
		order   []int64
		started = make(chan struct{})
		release = make(chan struct{})
	)
	q := NewQueue(func(m domain.InboundMessage) {
		if m.ID == 4 {
			close(started)
			<-release
		}
		mu.Lock()
		order = append(order, m.ID)
		mu.Unlock()
	}, testLogger())

	q.Push(domain.InboundMessage{ID: 4})
	<-started
	q.Push(domain.InboundMessage{ID: 5}, domain.InboundMessage{ID: 6})
	q.Push(domain.InboundMessage{ID: 7})
	close(release)
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	want := []int64{4, 5, 6, 7}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestQueue_SingleConsumer(t *testing.T) {
	var running, peak atomic.Int32
	q := NewQueue(func(m domain.InboundMessage) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
	}, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			q.Push(domain.InboundMessage{ID: id})
		}(int64(i))
	}
	wg.Wait()
	waitIdle(t, q)

	if peak.Load() != 1 {
		t.Fatalf("expected one handler at a time, saw %d", peak.Load())
	}
}

func TestQueue_RecoversFromPanic(t *testing.T) {
	var handled atomic.Int32
	q := NewQueue(func(m domain.InboundMessage) {
		if m.ID == 1 {
			panic("boom")
		}
		handled.Add(1)
	}, testLogger())

	q.Push(domain.InboundMessage{ID: 1}, domain.InboundMessage{ID: 2})
	waitIdle(t, q)
	if handled.Load() != 1 {
		t.Fatalf("expected the consumer to keep draining, handled %d", handled.Load())
	}
}

func TestQueue_CloseDropsPending(t *testing.T) {
	var handled atomic.Int32
	release := make(chan struct{})
	q := NewQueue(func(m domain.InboundMessage) {
		<-release
		handled.Add(1)
	}, testLogger())

	q.Push(domain.InboundMessage{ID: 1}, domain.InboundMessage{ID: 2}, domain.InboundMessage{ID: 3})
	time.Sleep(20 * time.Millisecond)
	q.Close()
	close(release)
	waitIdle(t, q)

	if handled.Load() != 1 {
		t.Fatalf("only the in-flight message should finish, handled %d", handled.Load())
	}
	q.Push(domain.InboundMessage{ID: 4})
	if q.Len() != 0 {
		t.Fatal("push after close should be ignored")
	}
}
