// Package notify is the optional push path: a periodic sweep over waiting
// entries whose remaining time has dropped under the threshold. The pull-based
// status view stays authoritative; this only saves the user a poll.
package notify

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"waitline/internal/store"
)

type Store interface {
	EntriesNeedingNotification(ctx context.Context, threshold int, now time.Time, limit int) ([]store.PendingNotification, error)
	MarkNotified(ctx context.Context, entryID int64, notifiedAt time.Time) error
}

type Worker struct {
	store     Store
	provider  Provider
	threshold int
	batchSize int
}

type Config struct {
	Threshold int
	BatchSize int
	Provider  string
}

func New(store Store, cfg Config) *Worker {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 5
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Worker{
		store:     store,
		provider:  newProvider(cfg.Provider),
		threshold: threshold,
		batchSize: batch,
	}
}

// Run performs one sweep and returns the number of entries notified. Entries
// whose delivery fails stay unmarked and are retried on the next sweep.
func (w *Worker) Run(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	pending, err := w.store.EntriesNeedingNotification(ctx, w.threshold, now, w.batchSize)
	if err != nil {
		return 0, err
	}

	notified := 0
	for _, item := range pending {
		message := renderMessage(item, now)
		if err := w.provider.Send(ctx, message, item.UserID); err != nil {
			log.Printf("notify send error entry=%d: %v", item.ID, err)
			continue
		}
		if err := w.store.MarkNotified(ctx, item.ID, now); err != nil {
			return notified, err
		}
		notified++
	}
	return notified, nil
}

// Start runs sweeps on the interval until the context is cancelled.
func Start(ctx context.Context, interval time.Duration, w *Worker) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := w.Run(ctx)
			if err != nil {
				log.Printf("notify sweep error: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("notify sweep sent %d notifications", count)
			}
		}
	}
}

const messageTemplate = "Almost your turn at {location}! About {remaining} minutes left (position #{position})."

func renderMessage(item store.PendingNotification, now time.Time) string {
	elapsed := int(now.Sub(item.JoinedAt) / time.Minute)
	remaining := item.EstimatedWaitTime - elapsed
	if remaining < 0 {
		remaining = 0
	}
	result := messageTemplate
	result = strings.ReplaceAll(result, "{location}", item.LocationName)
	result = strings.ReplaceAll(result, "{remaining}", strconv.Itoa(remaining))
	result = strings.ReplaceAll(result, "{position}", strconv.Itoa(item.QueuePosition))
	return result
}
