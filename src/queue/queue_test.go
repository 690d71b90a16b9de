package queue

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"git.handmade.network/hmn/assetpipe/src/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	require.Nil(t, q.Enqueue(ctx, "preview", []byte("a")))
	require.Nil(t, q.Enqueue(ctx, "preview", []byte("b")))
	require.Nil(t, q.Enqueue(ctx, "other", []byte("c")))
	assert.Equal(t, 2, q.Len("preview"))

	first, err := q.Dequeue(ctx, "preview", time.Second)
	require.Nil(t, err)
	second, err := q.Dequeue(ctx, "preview", time.Second)
	require.Nil(t, err)
	assert.Equal(t, "a", string(first))
	assert.Equal(t, "b", string(second))
	assert.Equal(t, 1, q.Len("other"))
}

func TestMemoryQueueTimeout(t *testing.T) {
	q := NewMemoryQueue()
	start := time.Now()
	payload, err := q.Dequeue(context.Background(), "preview", 50*time.Millisecond)
	assert.Nil(t, err)
	assert.Nil(t, payload)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryQueueBlockingPop(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Enqueue(ctx, "preview", []byte("late"))
	}()

	payload, err := q.Dequeue(ctx, "preview", 2*time.Second)
	require.Nil(t, err)
	assert.Equal(t, "late", string(payload))
}

func TestMemoryQueueAtMostOnce(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	const n = 100
	for i := 0; i < n; i++ {
		require.Nil(t, q.Enqueue(ctx, "preview", []byte{byte(i)}))
	}

	var mu sync.Mutex
	seen := map[byte]int{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				payload, _ := q.Dequeue(ctx, "preview", 20*time.Millisecond)
				if payload == nil {
					return
				}
				mu.Lock()
				seen[payload[0]]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for _, count := range seen {
		assert.Equal(t, 1, count)
	}
}

func TestMemoryQueueCancel(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	payload, err := q.Dequeue(ctx, "preview", time.Minute)
	assert.Nil(t, err)
	assert.Nil(t, payload)
}

func TestMessages(t *testing.T) {
	id := uuid.New()
	q := NewMemoryQueue()
	require.Nil(t, EnqueueJSON(context.Background(), q, "preview", RenderJob{VersionID: id}))

	raw := q.Peek("preview")[0]
	assert.JSONEq(t, `{"versionId": "`+id.String()+`"}`, string(raw))

	var job RenderJob
	require.Nil(t, json.Unmarshal(raw, &job))
	assert.Equal(t, id, job.VersionID)
}

// Runs against a real Redis when ASSETPIPE_TEST_REDIS names one.
func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("ASSETPIPE_TEST_REDIS")
	if addr == "" {
		t.Skip("ASSETPIPE_TEST_REDIS not set")
	}

	ctx := context.Background()
	q, err := NewRedisQueue(ctx, config.QueueConfig{RedisAddr: addr})
	require.Nil(t, err)
	defer q.Close()

	name := "test:" + uuid.NewString()
	require.Nil(t, q.Enqueue(ctx, name, []byte("one")))
	require.Nil(t, q.Enqueue(ctx, name, []byte("two")))

	first, err := q.Dequeue(ctx, name, time.Second)
	require.Nil(t, err)
	assert.Equal(t, "one", string(first))
	second, err := q.Dequeue(ctx, name, time.Second)
	require.Nil(t, err)
	assert.Equal(t, "two", string(second))

	empty, err := q.Dequeue(ctx, name, time.Second)
	assert.Nil(t, err)
	assert.Nil(t, empty)
}
