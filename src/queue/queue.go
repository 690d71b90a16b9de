package queue

import (
	"context"
	"encoding/json"
	"time"

	"git.handmade.network/hmn/assetpipe/src/config"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/google/uuid"
)

/*
Queue is a durable FIFO of opaque payloads, addressed by name. Dequeue blocks
for at most timeout and returns a nil payload if nothing arrived. A payload is
handed to at most one consumer; there is no acknowledgement or redelivery.
*/
type Queue interface {
	Enqueue(ctx context.Context, name string, payload []byte) error
	Dequeue(ctx context.Context, name string, timeout time.Duration) ([]byte, error)
	Close() error
}

func Open(ctx context.Context, cfg config.QueueConfig) (Queue, error) {
	switch cfg.Backend {
	case config.QueueRedis:
		return NewRedisQueue(ctx, cfg)
	case config.QueueAMQP:
		return NewAMQPQueue(cfg)
	case config.QueueMemory:
		return NewMemoryQueue(), nil
	}
	return nil, oops.New(nil, "unknown queue backend %q", cfg.Backend)
}

// The message on the work queue asking for renditions of one asset version.
type RenderJob struct {
	VersionID uuid.UUID `json:"versionId"`
}

// The message pushed to the dead-letter queue when a render job fails.
// VersionID is kept as a string so that undecodable jobs can still be reported.
type DeadLetter struct {
	VersionID string `json:"versionId"`
	Error     string `json:"error"`
	Stack     string `json:"stack"`
	Timestamp string `json:"timestamp"`
}

func EnqueueJSON(ctx context.Context, q Queue, name string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return oops.New(err, "failed to encode message for %s", name)
	}
	return q.Enqueue(ctx, name, payload)
}
