package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu      sync.Mutex
	queue   []kafka.Message
	commits []kafka.Message
	closed  bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		f.mu.Lock()
		if len(f.queue) > 0 {
			m := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			return m, nil
		}
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) committed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.commits))
	for _, m := range f.commits {
		out = append(out, m.Offset)
	}
	return out
}

func startConsumer(t *testing.T, c *Consumer, h Handler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("consumer did not stop")
		}
	})
	return cancel
}

func TestConsumerRetriesFailedMessageBeforeLaterOffsets(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Partition: 0, Offset: 10, Value: []byte("a")},
		{Partition: 0, Offset: 11, Value: []byte("b")},
	}}
	c := newConsumer(r, 1)
	c.backoff, c.maxBackoff = time.Millisecond, 2*time.Millisecond

	var (
		mu    sync.Mutex
		seen  []int64
		fails = 2
	)
	startConsumer(t, c, func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, m.Offset)
		if m.Offset == 10 && fails > 0 {
			fails--
			return errors.New("db down")
		}
		return nil
	})

	require.Eventually(t, func() bool { return len(r.committed()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{10, 11}, r.committed())
	mu.Lock()
	assert.Equal(t, []int64{10, 10, 10, 11}, seen)
	mu.Unlock()
}

func TestConsumerFailingPartitionDoesNotBlockOthers(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Partition: 0, Offset: 1},
		{Partition: 1, Offset: 7},
	}}
	c := newConsumer(r, 2)
	c.backoff, c.maxBackoff = time.Millisecond, time.Millisecond

	startConsumer(t, c, func(_ context.Context, m kafka.Message) error {
		if m.Partition == 0 {
			return errors.New("always failing")
		}
		return nil
	})

	require.Eventually(t, func() bool { return len(r.committed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []int64{7}, r.committed())
}
