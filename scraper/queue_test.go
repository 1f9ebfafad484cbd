package scraper

import (
	"testing"
	"time"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

func TestTaskQueuePriorityThenFIFO(t *testing.T) {
	q := newTaskQueue()
	q.Push(&job{url: "low", priority: models.PriorityLow})
	q.Push(&job{url: "high-1", priority: models.PriorityHigh})
	q.Push(&job{url: "normal", priority: models.PriorityNormal})
	q.Push(&job{url: "high-2", priority: models.PriorityHigh})

	done := make(chan struct{})
	want := []string{"high-1", "high-2", "normal", "low"}
	for _, url := range want {
		j, ok := q.Pop(done)
		if !ok || j.url != url {
			t.Fatalf("pop = %v, want %s", j, url)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty")
	}
}

func TestTaskQueueRaise(t *testing.T) {
	q := newTaskQueue()
	low := &job{url: "low", priority: models.PriorityLow}
	lifted := &job{url: "lifted", priority: models.PriorityLow}
	q.Push(low)
	q.Push(lifted)
	q.Push(&job{url: "normal", priority: models.PriorityNormal})

	if q.Raise(lifted, models.PriorityLow) {
		t.Fatalf("raise to the same priority should be a no-op")
	}
	if !q.Raise(lifted, models.PriorityHigh) {
		t.Fatalf("raise to a higher priority should apply")
	}

	done := make(chan struct{})
	for _, url := range []string{"lifted", "normal", "low"} {
		j, ok := q.Pop(done)
		if !ok || j.url != url {
			t.Fatalf("pop = %v, want %s", j, url)
		}
	}

	// A popped job waiting on a retry keeps the raised priority on requeue.
	if !q.Raise(low, models.PriorityHigh) || low.index != -1 {
		t.Fatalf("raise of an unqueued job: priority=%d index=%d", low.priority, low.index)
	}
	q.Push(&job{url: "normal-2", priority: models.PriorityNormal})
	q.Push(low)
	if j, _ := q.Pop(done); j != low {
		t.Fatalf("pop = %v, want the raised job", j)
	}
}

func TestTaskQueuePopUnblocks(t *testing.T) {
	q := newTaskQueue()
	done := make(chan struct{})

	got := make(chan *job, 1)
	go func() {
		j, _ := q.Pop(done)
		got <- j
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(&job{url: "late"})
	select {
	case j := <-got:
		if j == nil || j.url != "late" {
			t.Fatalf("pop = %v", j)
		}
	case <-time.After(time.Second):
		t.Fatalf("pop did not wake on push")
	}

	closed := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(done)
		closed <- ok
	}()
	close(done)
	select {
	case ok := <-closed:
		if ok {
			t.Fatalf("pop on an empty closed queue should report false")
		}
	case <-time.After(time.Second):
		t.Fatalf("pop did not return after done")
	}
}

func TestTaskQueueDrain(t *testing.T) {
	q := newTaskQueue()
	for i := 0; i < 3; i++ {
		q.Push(&job{priority: i})
	}
	drained := q.Drain()
	if len(drained) != 3 || drained[0].priority != 2 {
		t.Fatalf("drained = %d jobs, first priority %d", len(drained), drained[0].priority)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty after drain")
	}
}
