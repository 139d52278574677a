package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiJoinsErrors(t *testing.T) {
	rec := NewRecorder(0)
	failing := NotifierFunc(func(context.Context, Event) error { return errors.New("down") })

	err := Multi{failing, nil, rec}.Notify(context.Background(), Event{Kind: KindSubscriptionExpired, SellerID: "s1"})
	require.Error(t, err)
	assert.Len(t, rec.Events(), 1, "later notifiers still receive the event")
}

func TestDispatchSwallowsFailures(t *testing.T) {
	calls := 0
	failing := NotifierFunc(func(context.Context, Event) error {
		calls++
		return errors.New("down")
	})

	assert.NotPanics(t, func() {
		Dispatch(context.Background(), failing, []Event{{Kind: KindLowBumpBalance}, {Kind: KindListingsReactivated}})
		Dispatch(context.Background(), nil, []Event{{Kind: KindLowBumpBalance}})
	})
	assert.Equal(t, 2, calls)
}

func TestRecorderLimit(t *testing.T) {
	rec := NewRecorder(2)
	for _, seller := range []string{"a", "b", "c"} {
		require.NoError(t, rec.Notify(context.Background(), Event{Kind: KindLowBumpBalance, SellerID: seller}))
	}
	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].SellerID)
	assert.Equal(t, "c", events[1].SellerID)
	assert.Len(t, rec.OfKind(KindLowBumpBalance), 2)
	assert.Empty(t, rec.OfKind(KindSubscriptionExpired))
}

func TestRedisNotifierPublishes(t *testing.T) {
	client := testutil.RedisClient(t, 13)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "test:notifications")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	balance := int64(2)
	n := NewRedisNotifier(client, "test:notifications")
	require.NoError(t, n.Notify(ctx, Event{
		Kind:       KindLowBumpBalance,
		SellerID:   "s1",
		Balance:    &balance,
		OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}))

	select {
	case msg := <-sub.Channel():
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, KindLowBumpBalance, ev.Kind)
		assert.Equal(t, "s1", ev.SellerID)
		require.NotNil(t, ev.Balance)
		assert.Equal(t, int64(2), *ev.Balance)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestOutboxFlush(t *testing.T) {
	rec := NewRecorder(0)
	var o Outbox
	o.Add(Event{Kind: KindSubscriptionExpired, SellerID: "s1"})
	o.Add(Event{Kind: KindListingsReactivated, SellerID: "s1", ListingIDs: []string{"a"}})
	require.Len(t, o.Events(), 2)

	o.Flush(context.Background(), rec)
	assert.Len(t, rec.Events(), 2)
	assert.Empty(t, o.Events())

	var nilOutbox *Outbox
	assert.NotPanics(t, func() {
		nilOutbox.Add(Event{})
		nilOutbox.Flush(context.Background(), rec)
	})
}
