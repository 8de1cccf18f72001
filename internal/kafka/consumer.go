package kafka

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message was processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Consumer fans messages out to a fixed set of workers. All messages of one
// topic partition go to the same worker, so offsets are handled and
// committed in order. A message whose handler fails is retried until it
// succeeds or the context ends; it is never skipped.
type Consumer struct {
	r       reader
	workers int
	backoff time.Duration
}

func NewConsumer(brokers []string, group string, topics []string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers)
}

func newConsumer(r reader, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, backoff: defaultBackoff}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 256)
		wg.Add(1)
		go func(id int, jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if !c.process(ctx, id, m, h) {
					// cancelled mid-retry; leave the rest uncommitted
					return
				}
			}
		}(i, queues[i])
	}
	stop := func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case queues[c.slot(m)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) slot(m kafka.Message) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(m.Topic))
	return int((h.Sum32() + uint32(m.Partition)) % uint32(c.workers))
}

// process runs h until it succeeds, then commits. It reports false when ctx
// ended before the message could be committed.
func (c *Consumer) process(ctx context.Context, worker int, m kafka.Message, h Handler) bool {
	wait := c.backoff
	if wait <= 0 {
		wait = defaultBackoff
	}
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		slog.ErrorContext(ctx, "handler failed, retrying", "worker", worker, "topic", m.Topic,
			"partition", m.Partition, "offset", m.Offset, "attempt", attempt, "backoff", wait, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		if wait *= 2; wait > maxBackoff {
			wait = maxBackoff
		}
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		// the message is redelivered after a rebalance; handlers are idempotent
		slog.ErrorContext(ctx, "commit failed", "worker", worker, "topic", m.Topic,
			"partition", m.Partition, "offset", m.Offset, "error", err)
		return ctx.Err() == nil
	}
	return true
}
