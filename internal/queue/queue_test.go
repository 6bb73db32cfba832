package queue

import (
	"context"
	"testing"
	"time"

	"waitline/internal/models"
	"waitline/internal/store"
)

type fakeStore struct {
	getLocationFn    func(ctx context.Context, id int64) (models.Location, bool, error)
	joinFn           func(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error)
	listUserQueuesFn func(ctx context.Context, userID string) ([]store.UserQueueEntry, error)
	completeFn       func(ctx context.Context, entryID int64, completedAt time.Time) (models.QueueEntry, error)
	markNotifiedFn   func(ctx context.Context, entryID int64, notifiedAt time.Time) error
	queueLengthFn    func(ctx context.Context, locationID int64) (int, error)
}

func (f fakeStore) GetLocation(ctx context.Context, id int64) (models.Location, bool, error) {
	if f.getLocationFn == nil {
		return models.Location{}, false, nil
	}
	return f.getLocationFn(ctx, id)
}

func (f fakeStore) JoinQueue(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error) {
	if f.joinFn == nil {
		return models.QueueEntry{}, nil
	}
	return f.joinFn(ctx, input)
}

func (f fakeStore) ListUserQueues(ctx context.Context, userID string) ([]store.UserQueueEntry, error) {
	if f.listUserQueuesFn == nil {
		return nil, nil
	}
	return f.listUserQueuesFn(ctx, userID)
}

func (f fakeStore) CompleteEntry(ctx context.Context, entryID int64, completedAt time.Time) (models.QueueEntry, error) {
	if f.completeFn == nil {
		return models.QueueEntry{}, nil
	}
	return f.completeFn(ctx, entryID, completedAt)
}

func (f fakeStore) MarkNotified(ctx context.Context, entryID int64, notifiedAt time.Time) error {
	if f.markNotifiedFn == nil {
		return nil
	}
	return f.markNotifiedFn(ctx, entryID, notifiedAt)
}

func (f fakeStore) QueueLength(ctx context.Context, locationID int64) (int, error) {
	if f.queueLengthFn == nil {
		return 0, nil
	}
	return f.queueLengthFn(ctx, locationID)
}

type fakeEstimator struct {
	averageFn func(ctx context.Context, locationID int64) (*int, error)
	calls     int
}

func (f *fakeEstimator) Average(ctx context.Context, locationID int64) (*int, error) {
	f.calls++
	if f.averageFn == nil {
		return nil, nil
	}
	return f.averageFn(ctx, locationID)
}

func TestJoinCallerEstimateWins(t *testing.T) {
	var captured store.JoinQueueInput
	st := fakeStore{
		joinFn: func(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error) {
			captured = input
			return models.QueueEntry{ID: 1, LocationID: input.LocationID, UserID: input.UserID, QueuePosition: 1, EstimatedWaitTime: input.EstimatedWaitTime, Status: models.StatusWaiting}, nil
		},
	}
	estimator := &fakeEstimator{}
	manager := NewManager(st, estimator, 0)

	estimate := 40
	entry, err := manager.Join(context.Background(), 5, "user-1", &estimate)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if captured.EstimatedWaitTime != 40 {
		t.Fatalf("expected estimate 40, got %d", captured.EstimatedWaitTime)
	}
	if estimator.calls != 0 {
		t.Fatalf("estimator consulted despite caller estimate")
	}
	if entry.EstimatedWaitTime != 40 {
		t.Fatalf("expected entry estimate 40, got %d", entry.EstimatedWaitTime)
	}
}

func TestJoinUsesRecentAverage(t *testing.T) {
	var captured store.JoinQueueInput
	st := fakeStore{
		joinFn: func(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error) {
			captured = input
			return models.QueueEntry{}, nil
		},
	}
	average := 27
	estimator := &fakeEstimator{
		averageFn: func(ctx context.Context, locationID int64) (*int, error) {
			return &average, nil
		},
	}
	manager := NewManager(st, estimator, 0)

	if _, err := manager.Join(context.Background(), 5, "user-1", nil); err != nil {
		t.Fatalf("join: %v", err)
	}
	if captured.EstimatedWaitTime != 27 {
		t.Fatalf("expected estimate 27, got %d", captured.EstimatedWaitTime)
	}
}

func TestJoinFallsBackToDefault(t *testing.T) {
	var captured store.JoinQueueInput
	st := fakeStore{
		joinFn: func(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error) {
			captured = input
			return models.QueueEntry{}, nil
		},
	}
	manager := NewManager(st, &fakeEstimator{}, 0)

	if _, err := manager.Join(context.Background(), 5, "user-1", nil); err != nil {
		t.Fatalf("join: %v", err)
	}
	if captured.EstimatedWaitTime != DefaultEstimate {
		t.Fatalf("expected default estimate %d, got %d", DefaultEstimate, captured.EstimatedWaitTime)
	}
}

func TestJoinIgnoresNonPositiveEstimate(t *testing.T) {
	var captured store.JoinQueueInput
	st := fakeStore{
		joinFn: func(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error) {
			captured = input
			return models.QueueEntry{}, nil
		},
	}
	manager := NewManager(st, nil, 20)

	zero := 0
	if _, err := manager.Join(context.Background(), 5, "user-1", &zero); err != nil {
		t.Fatalf("join: %v", err)
	}
	if captured.EstimatedWaitTime != 20 {
		t.Fatalf("expected configured default 20, got %d", captured.EstimatedWaitTime)
	}
}

func TestStatusView(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	notified := now.Add(-2 * time.Minute)
	entry := func(joinedAgo time.Duration, estimate int, notifiedAt *time.Time) store.UserQueueEntry {
		return store.UserQueueEntry{
			QueueEntry: models.QueueEntry{
				ID:                1,
				LocationID:        5,
				UserID:            "user-1",
				QueuePosition:     2,
				EstimatedWaitTime: estimate,
				JoinedAt:          now.Add(-joinedAgo),
				NotifiedAt:        notifiedAt,
				Status:            models.StatusWaiting,
			},
			LocationName: "SBI Connaught Place",
		}
	}

	cases := []struct {
		name          string
		entry         store.UserQueueEntry
		threshold     int
		wantElapsed   int
		wantRemaining int
		wantNotify    bool
	}{
		{"midway", entry(10*time.Minute, 25, nil), 15, 10, 15, true},
		{"far off", entry(5*time.Minute, 45, nil), 15, 5, 40, false},
		{"overdue clamps to zero", entry(time.Hour, 25, nil), 15, 60, 0, true},
		{"already notified", entry(20*time.Minute, 25, &notified), 15, 20, 5, false},
		{"clock skew clamps elapsed", entry(-2*time.Minute, 25, nil), 15, 0, 25, false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			status := StatusView(tt.entry, now, tt.threshold)
			if status.ElapsedMinutes != tt.wantElapsed {
				t.Fatalf("elapsed=%d, want %d", status.ElapsedMinutes, tt.wantElapsed)
			}
			if status.RemainingMinutes != tt.wantRemaining {
				t.Fatalf("remaining=%d, want %d", status.RemainingMinutes, tt.wantRemaining)
			}
			if status.ShouldNotify != tt.wantNotify {
				t.Fatalf("shouldNotify=%v, want %v", status.ShouldNotify, tt.wantNotify)
			}
		})
	}
}

func TestCompleteAndMarkNotifiedDelegate(t *testing.T) {
	var completedID, notifiedID int64
	st := fakeStore{
		completeFn: func(ctx context.Context, entryID int64, completedAt time.Time) (models.QueueEntry, error) {
			completedID = entryID
			return models.QueueEntry{ID: entryID, Status: models.StatusCompleted, CompletedAt: &completedAt}, nil
		},
		markNotifiedFn: func(ctx context.Context, entryID int64, notifiedAt time.Time) error {
			notifiedID = entryID
			return nil
		},
	}
	manager := NewManager(st, nil, 0)

	entry, err := manager.Complete(context.Background(), 9)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completedID != 9 || entry.Status != models.StatusCompleted {
		t.Fatalf("complete not delegated: id=%d entry=%+v", completedID, entry)
	}

	if err := manager.MarkNotified(context.Background(), 4); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	if notifiedID != 4 {
		t.Fatalf("mark notified not delegated: id=%d", notifiedID)
	}
}

func TestStatusesPreservesOrder(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	st := fakeStore{
		listUserQueuesFn: func(ctx context.Context, userID string) ([]store.UserQueueEntry, error) {
			if userID != "user-1" {
				t.Fatalf("unexpected user %q", userID)
			}
			return []store.UserQueueEntry{
				{QueueEntry: models.QueueEntry{ID: 2, JoinedAt: now.Add(-time.Minute), EstimatedWaitTime: 10}},
				{QueueEntry: models.QueueEntry{ID: 1, JoinedAt: now.Add(-30 * time.Minute), EstimatedWaitTime: 10}},
			}, nil
		},
	}
	manager := NewManager(st, nil, 0)

	statuses, err := manager.Statuses(context.Background(), "user-1", now, 5)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	if len(statuses) != 2 || statuses[0].ID != 2 || statuses[1].ID != 1 {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
	if statuses[1].RemainingMinutes != 0 {
		t.Fatalf("expected overdue entry clamped to 0, got %d", statuses[1].RemainingMinutes)
	}
}
