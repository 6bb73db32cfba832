// Package queue maintains the virtual waiting list per location: joining,
// status polling, notification marking, and completion. Position assignment
// and renumbering are serialized in the store, one location at a time.
package queue

import (
	"context"
	"time"

	"waitline/internal/models"
	"waitline/internal/store"
)

// DefaultEstimate is the fallback wait estimate in minutes when a location
// has no recent reports.
const DefaultEstimate = 15

// Store is the slice of the persistent store the manager mutates.
type Store interface {
	GetLocation(ctx context.Context, id int64) (models.Location, bool, error)
	JoinQueue(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error)
	ListUserQueues(ctx context.Context, userID string) ([]store.UserQueueEntry, error)
	CompleteEntry(ctx context.Context, entryID int64, completedAt time.Time) (models.QueueEntry, error)
	MarkNotified(ctx context.Context, entryID int64, notifiedAt time.Time) error
	QueueLength(ctx context.Context, locationID int64) (int, error)
}

// Estimator supplies the average recent wait for a location, nil when there
// is no data. The aggregator satisfies this.
type Estimator interface {
	Average(ctx context.Context, locationID int64) (*int, error)
}

type Manager struct {
	store           Store
	estimator       Estimator
	defaultEstimate int
}

func NewManager(store Store, estimator Estimator, defaultEstimate int) *Manager {
	if defaultEstimate <= 0 {
		defaultEstimate = DefaultEstimate
	}
	return &Manager{store: store, estimator: estimator, defaultEstimate: defaultEstimate}
}

// Join adds the user to a location's queue. The position is the count of
// waiting entries plus one, computed under the store's per-location lock.
// When the caller supplies no estimate, the aggregator's recent average is
// used, falling back to the default. Joining the same location twice creates
// a second independent entry; dedup is the caller's policy.
func (m *Manager) Join(ctx context.Context, locationID int64, userID string, estimate *int) (models.QueueEntry, error) {
	minutes := m.defaultEstimate
	if estimate != nil && *estimate > 0 {
		minutes = *estimate
	} else if m.estimator != nil {
		average, err := m.estimator.Average(ctx, locationID)
		if err != nil {
			return models.QueueEntry{}, err
		}
		if average != nil {
			minutes = *average
		}
	}

	return m.store.JoinQueue(ctx, store.JoinQueueInput{
		LocationID:        locationID,
		UserID:            userID,
		EstimatedWaitTime: minutes,
		JoinedAt:          time.Now().UTC(),
	})
}

// Status is a waiting entry extended with the wall-clock view computed at
// poll time.
type Status struct {
	store.UserQueueEntry
	ElapsedMinutes   int  `json:"elapsedMinutes"`
	RemainingMinutes int  `json:"remainingMinutes"`
	ShouldNotify     bool `json:"shouldNotify"`
}

// StatusView derives elapsed and remaining minutes from the clock. An entry
// should be notified once its remaining time drops to the threshold, and only
// while it has not been marked notified.
func StatusView(entry store.UserQueueEntry, now time.Time, threshold int) Status {
	elapsed := int(now.Sub(entry.JoinedAt) / time.Minute)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := entry.EstimatedWaitTime - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		UserQueueEntry:   entry,
		ElapsedMinutes:   elapsed,
		RemainingMinutes: remaining,
		ShouldNotify:     remaining <= threshold && entry.NotifiedAt == nil,
	}
}

// Statuses returns the user's waiting entries, most recent join first, each
// extended with the per-poll time view.
func (m *Manager) Statuses(ctx context.Context, userID string, now time.Time, threshold int) ([]Status, error) {
	entries, err := m.store.ListUserQueues(ctx, userID)
	if err != nil {
		return nil, err
	}
	statuses := make([]Status, 0, len(entries))
	for _, entry := range entries {
		statuses = append(statuses, StatusView(entry, now, threshold))
	}
	return statuses, nil
}

// Complete transitions the entry out of the queue. Terminal: there is no way
// back to waiting. The store renumbers the remaining positions.
func (m *Manager) Complete(ctx context.Context, entryID int64) (models.QueueEntry, error) {
	return m.store.CompleteEntry(ctx, entryID, time.Now().UTC())
}

func (m *Manager) MarkNotified(ctx context.Context, entryID int64) error {
	return m.store.MarkNotified(ctx, entryID, time.Now().UTC())
}

func (m *Manager) Length(ctx context.Context, locationID int64) (int, error) {
	return m.store.QueueLength(ctx, locationID)
}
