package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stockbridge/internal/apperr"
	"stockbridge/internal/service"
	"stockbridge/pkg/logger"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	drained   chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{pending: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.pending) == 0 {
		select {
		case <-r.drained:
		default:
			close(r.drained)
		}
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type scriptedHandler struct {
	mu    sync.Mutex
	calls map[int64]int
	errs  map[int64][]error
	seen  []service.Message
}

func (h *scriptedHandler) Handle(ctx context.Context, msg service.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[msg.Offset]++
	h.seen = append(h.seen, msg)
	if errs := h.errs[msg.Offset]; len(errs) > 0 {
		h.errs[msg.Offset] = errs[1:]
		return errs[0]
	}
	return nil
}

func runUntilDrained(t *testing.T, c *Consumer, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-r.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain the reader")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestConsumer_RetriesInPlaceThenCommits(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Topic: "po", Offset: 1, Value: []byte(`{}`), Headers: []kafka.Header{{Key: "source", Value: []byte("SAP")}}},
		kafka.Message{Topic: "po", Offset: 2},
		kafka.Message{Topic: "po", Offset: 3},
	)
	transient := errors.New("db unavailable")
	handler := &scriptedHandler{
		calls: map[int64]int{},
		errs: map[int64][]error{
			1: {transient},
			2: {transient, transient, transient, transient},
		},
	}
	runUntilDrained(t, New(reader, handler, 3, 0), reader)

	assert.Equal(t, 2, handler.calls[1], "succeeds on the second attempt")
	assert.Equal(t, 3, handler.calls[2], "bounded by max attempts")
	assert.Equal(t, 1, handler.calls[3])
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
	assert.Equal(t, "SAP", handler.seen[0].Headers["source"])
}

func TestConsumer_TerminalErrorsAreNotRetried(t *testing.T) {
	reader := newFakeReader(kafka.Message{Topic: "po", Offset: 7})
	handler := &scriptedHandler{
		calls: map[int64]int{},
		errs:  map[int64][]error{7: {apperr.NewValidation("invalid docEntry")}},
	}
	runUntilDrained(t, New(reader, handler, 5, time.Hour), reader)

	assert.Equal(t, 1, handler.calls[7])
	assert.Equal(t, []int64{7}, reader.committed)
}
