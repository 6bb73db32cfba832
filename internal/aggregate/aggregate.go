// Package aggregate derives wait-time statistics for locations from the raw
// report log. Stats are computed on read; nothing is cached or incrementally
// maintained, so the output is always consistent with the reports table.
package aggregate

import (
	"context"
	"math"
	"time"

	"waitline/internal/models"
	"waitline/internal/store"
)

const (
	ConfidenceNone   = "none"
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

const (
	SeverityUnknown  = "unknown"
	SeverityShort    = "short"
	SeverityModerate = "moderate"
	SeverityLong     = "long"
)

// DefaultWindow is the lookback interval over which reports count as recent.
const DefaultWindow = 2 * time.Hour

// Confidence buckets a report count into a qualitative indicator of how much
// data backs an average.
func Confidence(reportCount int) string {
	switch {
	case reportCount == 0:
		return ConfidenceNone
	case reportCount < 3:
		return ConfidenceLow
	case reportCount < 10:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

// SeverityFor buckets an average wait into short/moderate/long. A nil average
// (no reports in the window) is unknown.
func SeverityFor(average *int) string {
	switch {
	case average == nil:
		return SeverityUnknown
	case *average <= 10:
		return SeverityShort
	case *average <= 30:
		return SeverityModerate
	default:
		return SeverityLong
	}
}

// Store is the slice of the persistent store the aggregator reads from.
type Store interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetCategory(ctx context.Context, id int64) (models.Category, bool, error)
	GetLocation(ctx context.Context, id int64) (models.Location, bool, error)
	ListLocations(ctx context.Context, filter store.LocationFilter) ([]models.Location, error)
	CountReports(ctx context.Context, locationID int64, since time.Time) (int, error)
	AverageWaitTime(ctx context.Context, locationID int64, since time.Time) (*float64, error)
	ListRecentReports(ctx context.Context, locationID int64, since time.Time) ([]models.WaitTimeReport, error)
}

type LocationSummary struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Category        string     `json:"category"`
	AverageWaitTime *int       `json:"averageWaitTime"`
	ReportCount     int        `json:"reportCount"`
	ConfidenceLevel string     `json:"confidenceLevel"`
	Severity        string     `json:"severity"`
	LastReportTime  *time.Time `json:"lastReportTime"`
}

type Filter struct {
	CategoryID *int64
	Search     string
	ActiveOnly bool
}

type Aggregator struct {
	store  Store
	window time.Duration
}

func New(store Store, window time.Duration) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Aggregator{store: store, window: window}
}

func (a *Aggregator) Window() time.Duration {
	return a.window
}

// Location aggregates a single location. Returns store.ErrLocationNotFound
// when the id does not exist.
func (a *Aggregator) Location(ctx context.Context, id int64) (LocationSummary, error) {
	location, found, err := a.store.GetLocation(ctx, id)
	if err != nil {
		return LocationSummary{}, err
	}
	if !found {
		return LocationSummary{}, store.ErrLocationNotFound
	}

	categoryName := "Unknown"
	category, found, err := a.store.GetCategory(ctx, location.CategoryID)
	if err != nil {
		return LocationSummary{}, err
	}
	if found {
		categoryName = category.Name
	}

	return a.summarize(ctx, location, categoryName, time.Now().UTC().Add(-a.window))
}

// List filters the location set, then aggregates each location. Ordering
// follows the store's location listing (name ascending), so a given snapshot
// always yields the same output order.
func (a *Aggregator) List(ctx context.Context, filter Filter) ([]LocationSummary, error) {
	locations, err := a.store.ListLocations(ctx, store.LocationFilter{
		CategoryID: filter.CategoryID,
		Search:     filter.Search,
		ActiveOnly: filter.ActiveOnly,
	})
	if err != nil {
		return nil, err
	}

	categories, err := a.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(categories))
	for _, category := range categories {
		names[category.ID] = category.Name
	}

	since := time.Now().UTC().Add(-a.window)
	summaries := make([]LocationSummary, 0, len(locations))
	for _, location := range locations {
		categoryName, ok := names[location.CategoryID]
		if !ok {
			categoryName = "Unknown"
		}
		summary, err := a.summarize(ctx, location, categoryName, since)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Average returns the rounded mean wait over the window, nil when the window
// holds no reports. The queue manager uses it to seed wait estimates.
func (a *Aggregator) Average(ctx context.Context, locationID int64) (*int, error) {
	raw, err := a.store.AverageWaitTime(ctx, locationID, time.Now().UTC().Add(-a.window))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	rounded := roundHalfUp(*raw)
	return &rounded, nil
}

func (a *Aggregator) summarize(ctx context.Context, location models.Location, categoryName string, since time.Time) (LocationSummary, error) {
	count, err := a.store.CountReports(ctx, location.ID, since)
	if err != nil {
		return LocationSummary{}, err
	}

	var average *int
	raw, err := a.store.AverageWaitTime(ctx, location.ID, since)
	if err != nil {
		return LocationSummary{}, err
	}
	if raw != nil {
		rounded := roundHalfUp(*raw)
		average = &rounded
	}

	var lastReportTime *time.Time
	recent, err := a.store.ListRecentReports(ctx, location.ID, since)
	if err != nil {
		return LocationSummary{}, err
	}
	if len(recent) > 0 {
		lastReportTime = &recent[0].SubmittedAt
	}

	return LocationSummary{
		ID:              location.ID,
		Name:            location.Name,
		Category:        categoryName,
		AverageWaitTime: average,
		ReportCount:     count,
		ConfidenceLevel: Confidence(count),
		Severity:        SeverityFor(average),
		LastReportTime:  lastReportTime,
	}, nil
}

// roundHalfUp rounds to the nearest integer with .5 going up, the contract
// for displayed averages (10.5 -> 11).
func roundHalfUp(value float64) int {
	return int(math.Floor(value + 0.5))
}
