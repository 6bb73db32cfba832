package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"waitline/internal/models"
	"waitline/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestQueuePositionsAndRenumbering(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	locationID := seedLocation(t, ctx, pool, "SBI Connaught Place", nil)

	first := joinQueue(t, ctx, st, locationID, "user-1")
	second := joinQueue(t, ctx, st, locationID, "user-2")
	third := joinQueue(t, ctx, st, locationID, "user-3")

	if first.QueuePosition != 1 || second.QueuePosition != 2 || third.QueuePosition != 3 {
		t.Fatalf("expected positions 1,2,3, got %d,%d,%d", first.QueuePosition, second.QueuePosition, third.QueuePosition)
	}

	completed, err := st.CompleteEntry(ctx, first.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("complete entry: %v", err)
	}
	if completed.Status != models.StatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("entry not completed: %+v", completed)
	}

	length, err := st.QueueLength(ctx, locationID)
	if err != nil {
		t.Fatalf("queue length: %v", err)
	}
	if length != 2 {
		t.Fatalf("expected queue length 2, got %d", length)
	}

	entries, err := st.ListUserQueues(ctx, "user-2")
	if err != nil {
		t.Fatalf("list user queues: %v", err)
	}
	if len(entries) != 1 || entries[0].QueuePosition != 1 {
		t.Fatalf("expected user-2 renumbered to position 1, got %+v", entries)
	}

	entries, err = st.ListUserQueues(ctx, "user-3")
	if err != nil {
		t.Fatalf("list user queues: %v", err)
	}
	if len(entries) != 1 || entries[0].QueuePosition != 2 {
		t.Fatalf("expected user-3 renumbered to position 2, got %+v", entries)
	}
	if entries[0].LocationName != "SBI Connaught Place" {
		t.Fatalf("expected location name joined in, got %q", entries[0].LocationName)
	}
}

func TestCompleteEntryIdempotent(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	locationID := seedLocation(t, ctx, pool, "RTO Andheri", nil)
	entry := joinQueue(t, ctx, st, locationID, "user-1")

	first, err := st.CompleteEntry(ctx, entry.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("first complete: %v", err)
	}
	second, err := st.CompleteEntry(ctx, entry.ID, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if second.CompletedAt == nil || !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatalf("second complete changed timestamp: %v vs %v", second.CompletedAt, first.CompletedAt)
	}

	if _, err := st.CompleteEntry(ctx, 999999, time.Now().UTC()); !errors.Is(err, store.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestReportWindow(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	locationID := seedLocation(t, ctx, pool, "Apollo Hospital Chennai", nil)
	now := time.Now().UTC()

	insertReport(t, ctx, pool, locationID, 20, now.Add(-10*time.Minute))
	insertReport(t, ctx, pool, locationID, 40, now.Add(-30*time.Minute))
	insertReport(t, ctx, pool, locationID, 90, now.Add(-3*time.Hour))

	since := now.Add(-2 * time.Hour)
	count, err := st.CountReports(ctx, locationID, since)
	if err != nil {
		t.Fatalf("count reports: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 reports in window, got %d", count)
	}

	average, err := st.AverageWaitTime(ctx, locationID, since)
	if err != nil {
		t.Fatalf("average wait time: %v", err)
	}
	if average == nil || *average != 30 {
		t.Fatalf("expected average 30, got %v", average)
	}

	recent, err := st.ListRecentReports(ctx, locationID, since)
	if err != nil {
		t.Fatalf("list recent reports: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent reports, got %d", len(recent))
	}
	if recent[0].WaitTimeMinutes != 20 {
		t.Fatalf("expected newest report first, got %+v", recent[0])
	}

	emptyAverage, err := st.AverageWaitTime(ctx, locationID, now)
	if err != nil {
		t.Fatalf("average wait time: %v", err)
	}
	if emptyAverage != nil {
		t.Fatalf("expected nil average for empty window, got %v", *emptyAverage)
	}
}

func TestCreateReportUnknownLocation(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	_, err := st.CreateReport(ctx, store.CreateReportInput{
		LocationID:      999999,
		WaitTimeMinutes: 10,
		SubmittedAt:     time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrLocationNotFound) {
		t.Fatalf("expected ErrLocationNotFound, got %v", err)
	}
}

func TestDuplicateLocation(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	categoryID := seedCategory(t, ctx, pool, "Test Banks")
	state := "Maharashtra"

	_, err := st.CreateLocation(ctx, store.CreateLocationInput{
		Name:       "HDFC Bank Nariman Point",
		CategoryID: categoryID,
		State:      &state,
	})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}

	_, err = st.CreateLocation(ctx, store.CreateLocationInput{
		Name:       "HDFC Bank Nariman Point",
		CategoryID: categoryID,
		State:      &state,
	})
	if !errors.Is(err, store.ErrDuplicateLocation) {
		t.Fatalf("expected ErrDuplicateLocation, got %v", err)
	}

	otherCategory := seedCategory(t, ctx, pool, "Test Clinics")
	if _, err := st.CreateLocation(ctx, store.CreateLocationInput{
		Name:       "HDFC Bank Nariman Point",
		CategoryID: otherCategory,
		State:      &state,
	}); err != nil {
		t.Fatalf("same name in another category should be allowed: %v", err)
	}

	if _, err := st.CreateLocation(ctx, store.CreateLocationInput{
		Name:       "Orphan Location",
		CategoryID: 999999,
	}); !errors.Is(err, store.ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound, got %v", err)
	}
}

func TestUpdateLocationPatching(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	locationID := seedLocation(t, ctx, pool, "Passport Seva Kendra", nil)

	inactive := false
	updated, err := st.UpdateLocation(ctx, locationID, store.LocationPatch{IsActive: &inactive})
	if err != nil {
		t.Fatalf("update location: %v", err)
	}
	if updated.IsActive {
		t.Fatalf("expected location deactivated")
	}
	if updated.Name != "Passport Seva Kendra" {
		t.Fatalf("name should be untouched, got %q", updated.Name)
	}

	listed, err := st.ListLocations(ctx, store.LocationFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("list locations: %v", err)
	}
	for _, location := range listed {
		if location.ID == locationID {
			t.Fatalf("inactive location returned by active-only listing")
		}
	}

	if _, err := st.UpdateLocation(ctx, 999999, store.LocationPatch{IsActive: &inactive}); !errors.Is(err, store.ErrLocationNotFound) {
		t.Fatalf("expected ErrLocationNotFound, got %v", err)
	}
}

func TestEntriesNeedingNotification(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	locationID := seedLocation(t, ctx, pool, "Aadhaar Seva Kendra", nil)
	now := time.Now().UTC()

	due, err := st.JoinQueue(ctx, store.JoinQueueInput{
		LocationID:        locationID,
		UserID:            "user-due",
		EstimatedWaitTime: 15,
		JoinedAt:          now.Add(-12 * time.Minute),
	})
	if err != nil {
		t.Fatalf("join queue: %v", err)
	}
	if _, err := st.JoinQueue(ctx, store.JoinQueueInput{
		LocationID:        locationID,
		UserID:            "user-early",
		EstimatedWaitTime: 60,
		JoinedAt:          now,
	}); err != nil {
		t.Fatalf("join queue: %v", err)
	}

	pending, err := st.EntriesNeedingNotification(ctx, 5, now, 100)
	if err != nil {
		t.Fatalf("entries needing notification: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != due.ID {
		t.Fatalf("expected only the due entry, got %+v", pending)
	}
	if pending[0].LocationName != "Aadhaar Seva Kendra" {
		t.Fatalf("expected location name joined in, got %q", pending[0].LocationName)
	}

	if err := st.MarkNotified(ctx, due.ID, now); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	pending, err = st.EntriesNeedingNotification(ctx, 5, now, 100)
	if err != nil {
		t.Fatalf("entries needing notification: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending entries after marking, got %+v", pending)
	}

	if err := st.MarkNotified(ctx, 999999, now); !errors.Is(err, store.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return NewStore(pool), pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedCategory(t *testing.T, ctx context.Context, pool *pgxpool.Pool, name string) int64 {
	t.Helper()
	var id int64
	row := pool.QueryRow(ctx, `
		INSERT INTO categories (name, display_order) VALUES ($1, 99) RETURNING id
	`, name)
	if err := row.Scan(&id); err != nil {
		t.Fatalf("insert category: %v", err)
	}
	return id
}

func seedLocation(t *testing.T, ctx context.Context, pool *pgxpool.Pool, name string, categoryID *int64) int64 {
	t.Helper()
	var category int64
	if categoryID != nil {
		category = *categoryID
	} else {
		category = seedCategory(t, ctx, pool, "Category for "+name)
	}

	var id int64
	row := pool.QueryRow(ctx, `
		INSERT INTO locations (name, category_id, is_active) VALUES ($1, $2, TRUE) RETURNING id
	`, name, category)
	if err := row.Scan(&id); err != nil {
		t.Fatalf("insert location: %v", err)
	}
	return id
}

func insertReport(t *testing.T, ctx context.Context, pool *pgxpool.Pool, locationID int64, minutes int, submittedAt time.Time) {
	t.Helper()
	if _, err := pool.Exec(ctx, `
		INSERT INTO wait_time_reports (location_id, wait_time_minutes, submitted_at) VALUES ($1, $2, $3)
	`, locationID, minutes, submittedAt); err != nil {
		t.Fatalf("insert report: %v", err)
	}
}

func joinQueue(t *testing.T, ctx context.Context, st *Store, locationID int64, userID string) models.QueueEntry {
	t.Helper()
	entry, err := st.JoinQueue(ctx, store.JoinQueueInput{
		LocationID:        locationID,
		UserID:            userID,
		EstimatedWaitTime: 15,
		JoinedAt:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("join queue: %v", err)
	}
	return entry
}
