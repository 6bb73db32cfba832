package store

import (
	"context"
	"time"

	"waitline/internal/models"
)

type LocationFilter struct {
	CategoryID *int64
	Search     string
	ActiveOnly bool
}

type CreateLocationInput struct {
	Name       string
	CategoryID int64
	State      *string
	City       *string
	Address    *string
}

// LocationPatch applies only the fields that are set. A nil field means
// "leave unchanged", never "clear".
type LocationPatch struct {
	Name       *string
	CategoryID *int64
	IsActive   *bool
}

type CreateReportInput struct {
	LocationID      int64
	WaitTimeMinutes int
	SubmittedAt     time.Time
}

type JoinQueueInput struct {
	LocationID        int64
	UserID            string
	EstimatedWaitTime int
	JoinedAt          time.Time
}

// UserQueueEntry is a queue entry joined with the location it belongs to,
// as returned by ListUserQueues.
type UserQueueEntry struct {
	models.QueueEntry
	LocationName string  `json:"locationName"`
	City         *string `json:"city"`
	State        *string `json:"state"`
}

// PendingNotification is a waiting entry whose remaining time has dropped
// under the sweep threshold.
type PendingNotification struct {
	models.QueueEntry
	LocationName string `json:"locationName"`
}

type Store interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetCategory(ctx context.Context, id int64) (models.Category, bool, error)
	CategoryExists(ctx context.Context, id int64) (bool, error)

	GetLocation(ctx context.Context, id int64) (models.Location, bool, error)
	ListLocations(ctx context.Context, filter LocationFilter) ([]models.Location, error)
	CreateLocation(ctx context.Context, input CreateLocationInput) (models.Location, error)
	UpdateLocation(ctx context.Context, id int64, patch LocationPatch) (models.Location, error)

	CreateReport(ctx context.Context, input CreateReportInput) (models.WaitTimeReport, error)
	CountReports(ctx context.Context, locationID int64, since time.Time) (int, error)
	AverageWaitTime(ctx context.Context, locationID int64, since time.Time) (*float64, error)
	ListRecentReports(ctx context.Context, locationID int64, since time.Time) ([]models.WaitTimeReport, error)

	JoinQueue(ctx context.Context, input JoinQueueInput) (models.QueueEntry, error)
	ListUserQueues(ctx context.Context, userID string) ([]UserQueueEntry, error)
	CompleteEntry(ctx context.Context, entryID int64, completedAt time.Time) (models.QueueEntry, error)
	MarkNotified(ctx context.Context, entryID int64, notifiedAt time.Time) error
	QueueLength(ctx context.Context, locationID int64) (int, error)
	RenumberPositions(ctx context.Context, locationID int64) error
	EntriesNeedingNotification(ctx context.Context, threshold int, now time.Time, limit int) ([]PendingNotification, error)
}
