package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mindhaven/mindhaven-server/cmd/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotificationStore struct {
	mu      sync.Mutex
	records []*models.Notification
	fail    bool
}

func (f *fakeNotificationStore) Append(ctx context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("database unavailable")
	}
	f.records = append(f.records, n)
	return nil
}

type fakePusher struct {
	mu     sync.Mutex
	pushes int
	fail   bool
}

func (f *fakePusher) PushToUser(ctx context.Context, userID uint, title, body string, data map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("push gateway down")
	}
	f.pushes++
	return nil
}

type fakeEmitter struct {
	emits int
}

func (f *fakeEmitter) EmitNotification(ctx context.Context, userID uint, n *models.Notification) error {
	f.emits++
	return nil
}

func newTestFanout() (*Fanout, *fakeNotificationStore, *fakePusher, *fakeEmitter) {
	store := &fakeNotificationStore{}
	pusher := &fakePusher{}
	emitter := &fakeEmitter{}
	return NewFanout(store, pusher, emitter, NewMemorySeen()), store, pusher, emitter
}

func TestNotifyWritesRecordAndPushes(t *testing.T) {
	ctx := context.Background()
	fanout, store, pusher, emitter := newTestFanout()

	err := fanout.Notify(ctx, 5, models.NotificationNewBooking, map[string]interface{}{"appointment_id": 12})
	require.NoError(t, err)

	require.Len(t, store.records, 1)
	assert.Equal(t, uint(5), store.records[0].RecipientID)
	assert.Equal(t, models.NotificationNewBooking, store.records[0].Type)
	assert.Equal(t, uint(12), store.records[0].AppointmentID)
	assert.False(t, store.records[0].Read)
	assert.Equal(t, 1, pusher.pushes)
	assert.Equal(t, 1, emitter.emits)
}

func TestNotifyStartingSoonDeduplicates(t *testing.T) {
	ctx := context.Background()
	fanout, store, _, _ := newTestFanout()
	payload := map[string]interface{}{"appointment_id": 7}

	require.NoError(t, fanout.Notify(ctx, 5, models.NotificationSessionStartingSoon, payload))
	// the repeat is dropped silently, not an error
	require.NoError(t, fanout.Notify(ctx, 5, models.NotificationSessionStartingSoon, payload))

	assert.Len(t, store.records, 1)
}

func TestNotifyStartingSoonDedupIsPerRecipient(t *testing.T) {
	ctx := context.Background()
	fanout, store, _, _ := newTestFanout()
	payload := map[string]interface{}{"appointment_id": 7}

	require.NoError(t, fanout.Notify(ctx, 5, models.NotificationSessionStartingSoon, payload))
	require.NoError(t, fanout.Notify(ctx, 6, models.NotificationSessionStartingSoon, payload))

	assert.Len(t, store.records, 2)
}

func TestNotifyOtherTypesNeverDeduplicated(t *testing.T) {
	ctx := context.Background()
	fanout, store, _, _ := newTestFanout()
	payload := map[string]interface{}{"appointment_id": 7}

	require.NoError(t, fanout.Notify(ctx, 5, models.NotificationNewBooking, payload))
	require.NoError(t, fanout.Notify(ctx, 5, models.NotificationNewBooking, payload))

	assert.Len(t, store.records, 2)
}

func TestNotifyDurableFailureStillPushes(t *testing.T) {
	ctx := context.Background()
	fanout, store, pusher, _ := newTestFanout()
	store.fail = true

	err := fanout.Notify(ctx, 5, models.NotificationNewBooking, nil)
	assert.Error(t, err)
	assert.Equal(t, 1, pusher.pushes)
}

func TestNotifyPushFailureKeepsDurableRecord(t *testing.T) {
	ctx := context.Background()
	fanout, store, pusher, emitter := newTestFanout()
	pusher.fail = true

	err := fanout.Notify(ctx, 5, models.NotificationNewBooking, nil)
	assert.Error(t, err)
	require.Len(t, store.records, 1)
	assert.Equal(t, "failed", store.records[0].PushStatus)
	// the realtime emit is still attempted
	assert.Equal(t, 1, emitter.emits)
}

func TestNotifyPerRecipientOrderIsFIFO(t *testing.T) {
	ctx := context.Background()
	fanout, store, _, _ := newTestFanout()

	require.NoError(t, fanout.Notify(ctx, 5, models.NotificationNewBooking, map[string]interface{}{"appointment_id": 1}))
	require.NoError(t, fanout.Notify(ctx, 5, models.NotificationBookingCancelled, map[string]interface{}{"appointment_id": 1}))

	require.Len(t, store.records, 2)
	assert.Equal(t, models.NotificationNewBooking, store.records[0].Type)
	assert.Equal(t, models.NotificationBookingCancelled, store.records[1].Type)
}
