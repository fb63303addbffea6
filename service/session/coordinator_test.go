package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mindhaven/mindhaven-server/cmd/models"
	"github.com/mindhaven/mindhaven-server/service/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	apptID          = uint(1)
	clientUserID    = uint(2)
	therapistUserID = uint(3)
)

type fakeStore struct {
	mu           sync.Mutex
	appt         models.Appointment
	statusWrites int
	failStatus   bool
}

func newFakeStore(status models.AppointmentStatus) *fakeStore {
	return &fakeStore{
		appt: models.Appointment{
			Model:       gorm.Model{ID: apptID},
			ClientID:    clientUserID,
			TherapistID: 9,
			StartTime:   sessionStart,
			EndTime:     sessionEnd,
			Status:      status,
			Therapist: &models.Therapist{
				UserID: therapistUserID,
				User:   &models.User{FullName: "Dr. Ama Mensah"},
			},
		},
	}
}

func (f *fakeStore) GetAppointment(ctx context.Context, id uint) (*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.appt.ID {
		return nil, errors.New("record not found")
	}
	appt := f.appt
	return &appt, nil
}

func (f *fakeStore) SetAppointmentStatus(ctx context.Context, id uint, from, to models.AppointmentStatus, extra map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStatus {
		return false, errors.New("database unavailable")
	}
	if f.appt.Status != from {
		return false, nil
	}
	f.appt.Status = to
	f.statusWrites++
	return true, nil
}

type fakeSignaler struct {
	mu     sync.Mutex
	events []CallEvent
	fail   bool
	onEmit func(CallEvent)
}

func (f *fakeSignaler) EmitCallEvent(ctx context.Context, toUserID uint, event CallEvent) error {
	f.mu.Lock()
	if f.fail {
		f.mu.Unlock()
		return errors.New("channel closed")
	}
	f.events = append(f.events, event)
	hook := f.onEmit
	f.mu.Unlock()
	if hook != nil {
		hook(event)
	}
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	types []string
	fail  bool
}

func (f *fakeNotifier) Notify(ctx context.Context, recipientID uint, typ string, payload map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("notify failed")
	}
	f.types = append(f.types, typ)
	return nil
}

type fixture struct {
	store    *fakeStore
	signaler *fakeSignaler
	notifier *fakeNotifier
	presence *presence.MemoryStore
	coord    *Coordinator
}

func newFixture(t *testing.T, status models.AppointmentStatus) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(status),
		signaler: &fakeSignaler{},
		notifier: &fakeNotifier{},
		presence: presence.NewMemoryStore(),
	}
	f.coord = NewCoordinator(f.store, f.presence, f.signaler, f.notifier)
	f.coord.now = func() time.Time { return time.Date(2025, 2, 10, 10, 0, 0, 0, time.UTC) }
	return f
}

func TestStartCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)
	require.NoError(t, f.presence.MarkOnline(ctx, clientUserID))

	call, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)
	assert.Equal(t, StateInitiating, call.State)
	assert.Equal(t, therapistUserID, call.InitiatorID)
	assert.Equal(t, clientUserID, call.CounterpartID)

	require.Len(t, f.signaler.events, 1)
	assert.Equal(t, EventCallIncoming, f.signaler.events[0].Type)
	assert.Equal(t, clientUserID, f.signaler.events[0].To)
	assert.Equal(t, "Dr. Ama Mensah", f.signaler.events[0].ProviderName)

	assert.Equal(t, []string{models.NotificationSessionIncoming}, f.notifier.types)
}

func TestStartCallOfflineCounterpartStillNotified(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)

	call, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)
	assert.Equal(t, StateInitiating, call.State)

	// no realtime event, but the durable notification still goes out
	assert.Empty(t, f.signaler.events)
	assert.Equal(t, []string{models.NotificationSessionIncoming}, f.notifier.types)
}

func TestStartCallRejectsWrongRole(t *testing.T) {
	f := newFixture(t, models.StatusConfirmed)

	_, err := f.coord.StartCall(context.Background(), apptID, clientUserID)
	assert.ErrorIs(t, err, ErrNotPermitted)
}

func TestStartCallOutsideWindow(t *testing.T) {
	f := newFixture(t, models.StatusConfirmed)
	f.coord.now = func() time.Time { return time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC) }

	_, err := f.coord.StartCall(context.Background(), apptID, therapistUserID)
	assert.ErrorIs(t, err, ErrNotPermitted)
	assert.Contains(t, err.Error(), "available in")
}

func TestStartCallDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)

	_, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)

	_, err = f.coord.StartCall(ctx, apptID, therapistUserID)
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestStartCallConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.StartCall(ctx, apptID, therapistUserID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrAlreadyActive):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
}

func TestStartCallSignalingFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)
	require.NoError(t, f.presence.MarkOnline(ctx, clientUserID))
	f.signaler.fail = true

	_, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	assert.ErrorIs(t, err, ErrSignaling)

	_, active := f.coord.ActiveCall(apptID)
	assert.False(t, active)

	// a retry can start cleanly
	f.signaler.fail = false
	_, err = f.coord.StartCall(ctx, apptID, therapistUserID)
	assert.NoError(t, err)
}

func TestJoinCallConnectsBothParties(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)

	_, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)

	call, err := f.coord.JoinCall(ctx, apptID, clientUserID)
	require.NoError(t, err)
	assert.Equal(t, StateRinging, call.State)

	call, err = f.coord.JoinCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, call.State)

	assert.Equal(t, models.StatusOngoing, f.store.appt.Status)
	assert.Equal(t, 1, f.store.statusWrites)
}

func TestJoinCallIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)

	_, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)

	_, err = f.coord.JoinCall(ctx, apptID, clientUserID)
	require.NoError(t, err)
	_, err = f.coord.JoinCall(ctx, apptID, clientUserID)
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.statusWrites)
}

func TestJoinCallRejectsThirdParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)

	_, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)

	_, err = f.coord.JoinCall(ctx, apptID, 99)
	assert.ErrorIs(t, err, ErrNotPermitted)
}

func TestJoinCallWithoutActiveCall(t *testing.T) {
	f := newFixture(t, models.StatusConfirmed)

	_, err := f.coord.JoinCall(context.Background(), apptID, clientUserID)
	assert.ErrorIs(t, err, ErrNotPermitted)
}

func TestJoinCallSignalingFailureLeavesStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)

	_, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)

	// therapist is online, so the join tries to signal them and fails
	require.NoError(t, f.presence.MarkOnline(ctx, therapistUserID))
	f.signaler.fail = true

	_, err = f.coord.JoinCall(ctx, apptID, clientUserID)
	assert.ErrorIs(t, err, ErrSignaling)
	assert.Equal(t, models.StatusConfirmed, f.store.appt.Status)
	assert.Equal(t, 0, f.store.statusWrites)

	// the caller retries and succeeds
	f.signaler.fail = false
	call, err := f.coord.JoinCall(ctx, apptID, clientUserID)
	require.NoError(t, err)
	assert.Equal(t, StateRinging, call.State)
	assert.Equal(t, models.StatusOngoing, f.store.appt.Status)
}

func TestJoinCallDiscardedWhenCallEndsMidSignal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)

	_, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)

	// therapist online, so the join signals them; they hang up while the
	// signal is in flight
	require.NoError(t, f.presence.MarkOnline(ctx, therapistUserID))
	f.signaler.onEmit = func(ev CallEvent) {
		if ev.Type == EventCallJoined {
			require.NoError(t, f.coord.EndCall(ctx, apptID, therapistUserID))
		}
	}

	_, err = f.coord.JoinCall(ctx, apptID, clientUserID)
	assert.ErrorIs(t, err, ErrNotPermitted)

	// the signaling success arrived after the call ended, so nothing was
	// written
	assert.Equal(t, models.StatusConfirmed, f.store.appt.Status)
	assert.Equal(t, 0, f.store.statusWrites)
}

func TestJoinCallPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)

	_, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)

	f.store.failStatus = true
	_, err = f.coord.JoinCall(ctx, apptID, clientUserID)
	assert.ErrorIs(t, err, ErrPersistence)

	f.store.failStatus = false
	call, err := f.coord.JoinCall(ctx, apptID, clientUserID)
	require.NoError(t, err)
	assert.Equal(t, StateRinging, call.State)
}

func TestEndCallBeforeScheduledEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)

	_, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)
	_, err = f.coord.JoinCall(ctx, apptID, clientUserID)
	require.NoError(t, err)

	require.NoError(t, f.coord.EndCall(ctx, apptID, clientUserID))

	_, active := f.coord.ActiveCall(apptID)
	assert.False(t, active)
	// ended mid-session: stays ongoing for a later explicit completion
	assert.Equal(t, models.StatusOngoing, f.store.appt.Status)
}

func TestEndCallAfterScheduledEndCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)

	_, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)
	_, err = f.coord.JoinCall(ctx, apptID, clientUserID)
	require.NoError(t, err)

	f.coord.now = func() time.Time { return time.Date(2025, 2, 10, 10, 55, 0, 0, time.UTC) }
	require.NoError(t, f.coord.EndCall(ctx, apptID, therapistUserID))

	assert.Equal(t, models.StatusCompleted, f.store.appt.Status)
}

func TestEndCallIsIdempotentAndRejectsOutsiders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)

	// ending with no active call is a no-op
	require.NoError(t, f.coord.EndCall(ctx, apptID, clientUserID))

	_, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)

	err = f.coord.EndCall(ctx, apptID, 99)
	assert.ErrorIs(t, err, ErrNotPermitted)

	require.NoError(t, f.coord.EndCall(ctx, apptID, therapistUserID))
	require.NoError(t, f.coord.EndCall(ctx, apptID, therapistUserID))
}

func TestDisconnectEndsParticipantCalls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.StatusConfirmed)

	_, err := f.coord.StartCall(ctx, apptID, therapistUserID)
	require.NoError(t, err)

	f.coord.HandleDisconnect(ctx, clientUserID)

	_, active := f.coord.ActiveCall(apptID)
	assert.False(t, active)
}
