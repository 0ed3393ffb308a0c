package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mahaj/convoflow/pkg/model"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_RoutesByTopic(t *testing.T) {
	b := NewBroker()
	alice := b.Subscribe(UnreadTopic("alice"), MessagesTopic("c1"))
	bob := b.Subscribe(UnreadTopic("bob"))
	defer alice.Close()
	defer bob.Close()

	require.NoError(t, b.Publish(context.Background(), Event{Topics: []string{MessagesTopic("c1")}}))

	select {
	case <-alice.C():
	default:
		t.Fatal("alice was not notified")
	}
	select {
	case <-bob.C():
		t.Fatal("bob was notified for a foreign topic")
	default:
	}
}

func TestBroker_CoalescesPendingSignals(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(UsersTopic)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), Event{Topics: []string{UsersTopic}}))
	}

	<-sub.C()
	select {
	case <-sub.C():
		t.Fatal("expected a single merged signal")
	default:
	}
	assert.Equal(t, uint64(5), b.Seq())
}

func TestBroker_ClosedSubscriptionIsSilent(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(UsersTopic)
	sub.Close()
	sub.Close()

	require.NoError(t, b.Publish(context.Background(), Event{Topics: []string{UsersTopic}}))
	select {
	case <-sub.C():
		t.Fatal("closed subscription was notified")
	default:
	}
}

func TestWatch_InitialSnapshotAndUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBroker()
	var value atomic.Int32
	fetch := func(context.Context) (int32, []string, error) {
		return value.Load(), []string{UnreadTopic("u1")}, nil
	}

	w, err := Watch(ctx, b, fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(0), w.Initial)

	value.Store(3)
	require.NoError(t, b.Publish(ctx, Event{Topics: []string{UnreadTopic("u1")}}))

	select {
	case got := <-w.Updates():
		assert.Equal(t, int32(3), got)
	case <-time.After(time.Second):
		t.Fatal("no update after invalidation")
	}

	cancel()
	for range w.Updates() {
	}
	assert.ErrorIs(t, w.Err(), context.Canceled)
}

func TestWatch_FollowsTopicChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBroker()
	var topic atomic.Value
	topic.Store(UserTopic("a"))
	fetch := func(context.Context) (string, []string, error) {
		tp := topic.Load().(string)
		return tp, []string{ConversationsTopic("me"), tp}, nil
	}

	w, err := Watch(ctx, b, fetch)
	require.NoError(t, err)

	topic.Store(UserTopic("b"))
	require.NoError(t, b.Publish(ctx, Event{Topics: []string{ConversationsTopic("me")}}))
	assert.Equal(t, UserTopic("b"), <-w.Updates())

	require.NoError(t, b.Publish(ctx, Event{Topics: []string{UserTopic("b")}}))
	select {
	case got := <-w.Updates():
		assert.Equal(t, UserTopic("b"), got)
	case <-time.After(time.Second):
		t.Fatal("watch did not resubscribe to the new topic")
	}
}

func TestWatch_FetchErrors(t *testing.T) {
	b := NewBroker()
	boom := errors.New("boom")

	_, err := Watch(context.Background(), b, func(context.Context) (int, []string, error) {
		return 0, nil, boom
	})
	assert.ErrorIs(t, err, boom)

	calls := 0
	w, err := Watch(context.Background(), b, func(context.Context) (int, []string, error) {
		calls++
		if calls > 1 {
			return 0, nil, boom
		}
		return 1, []string{UsersTopic}, nil
	})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), Event{Topics: []string{UsersTopic}}))

	for range w.Updates() {
	}
	assert.ErrorIs(t, w.Err(), boom)
}

type fakeReader struct {
	msgs []kafka.Message
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func TestConsume_RepublishesDecodedEvents(t *testing.T) {
	ev := Event{
		Type:      model.TypeMessage,
		Topics:    []string{MessagesTopic("c1")},
		EntityID:  "m1",
		Timestamp: time.UnixMilli(1_700_000_000_000).UTC(),
	}
	value, err := json.Marshal(ev)
	require.NoError(t, err)

	r := &fakeReader{msgs: []kafka.Message{{Value: []byte("not json")}, {Value: value}}}
	b := NewBroker()
	sub := b.Subscribe(MessagesTopic("c1"))
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Consume(ctx, r, b, zerolog.Nop()) }()

	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("event was not republished")
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestMulti_PublishesToAll(t *testing.T) {
	a, b := NewBroker(), NewBroker()
	boom := errors.New("boom")
	m := Multi{a, failing{boom}, b}

	err := m.Publish(context.Background(), Event{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), a.Seq())
	assert.Equal(t, uint64(1), b.Seq())
}

type failing struct{ err error }

func (f failing) Publish(context.Context, Event) error { return f.err }

func TestKafkaPublisher_FlushesPromptly(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:19092"}, "chat-invalidations")
	defer p.Close()

	assert.LessOrEqual(t, p.writer.BatchTimeout, 10*time.Millisecond)
	assert.False(t, p.writer.Async, "publish reports delivery errors to its caller")
}
