package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSub struct {
	mu     sync.Mutex
	topics []string
	got    []Message
}

func (r *recordingSub) Topics() []string { return r.topics }

func (r *recordingSub) Handle(_ context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
}

func (r *recordingSub) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.got))
	copy(out, r.got)
	return out
}

func TestPublishReachesTopicSubscribers(t *testing.T) {
	b := NewBus(8)
	defer b.Close()

	alertSub := &recordingSub{topics: []string{TopicAlertCreated}}
	scanSub := &recordingSub{topics: []string{TopicScanCompleted}}
	b.Register(alertSub)
	b.Register(scanSub)

	require.NoError(t, b.Publish(context.Background(), Message{Topic: TopicAlertCreated, Source: "alerts", Payload: "a1"}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(alertSub.messages()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	got := alertSub.messages()
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].Payload)
	assert.Empty(t, scanSub.messages(), "subscribers only see their own topics")
}

func TestPublishCancelledContext(t *testing.T) {
	b := NewBus(0)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An unbuffered queue with a live dispatcher may still accept the send;
	// the call must simply not hang.
	done := make(chan struct{})
	go func() {
		_ = b.Publish(ctx, Message{Topic: "t"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on cancelled context")
	}
}
