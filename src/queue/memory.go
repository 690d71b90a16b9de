package queue

import (
	"context"
	"sync"
	"time"
)

// An in-process Queue for dev mode and tests.
type MemoryQueue struct {
	mu      sync.Mutex
	lists   map[string][][]byte
	arrived chan struct{}
	closed  bool
}

var _ Queue = &MemoryQueue{}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		lists:   make(map[string][][]byte),
		arrived: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, name string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.lists[name] = append(q.lists[name], append([]byte(nil), payload...))

	// Wake every waiting consumer; they race for the new entry.
	close(q.arrived)
	q.arrived = make(chan struct{})
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if list := q.lists[name]; len(list) > 0 {
			payload := list[0]
			q.lists[name] = list[1:]
			q.mu.Unlock()
			return payload, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, nil
		}
		arrived := q.arrived
		q.mu.Unlock()

		select {
		case <-arrived:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, nil
		}
	}
}

// Returns the number of entries waiting in the named list.
func (q *MemoryQueue) Len(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lists[name])
}

// Returns a copy of the entries waiting in the named list, oldest first,
// without removing them.
func (q *MemoryQueue) Peek(name string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.lists[name]...)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.arrived)
		q.arrived = make(chan struct{})
	}
	return nil
}
