package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"waitline/internal/models"
	"waitline/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, display_order
		FROM categories
		ORDER BY display_order ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var category models.Category
		if err := rows.Scan(&category.ID, &category.Name, &category.DisplayOrder); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

func (s *Store) GetCategory(ctx context.Context, id int64) (models.Category, bool, error) {
	var category models.Category
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, display_order
		FROM categories
		WHERE id = $1
	`, id)
	if err := row.Scan(&category.ID, &category.Name, &category.DisplayOrder); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Category{}, false, nil
		}
		return models.Category{}, false, err
	}
	return category, true, nil
}

func (s *Store) CategoryExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)
	`, id)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

const locationColumns = `id, name, category_id, state, city, address, is_active, created_at, updated_at`

func scanLocation(row pgx.Row) (models.Location, error) {
	var location models.Location
	var stateNull, cityNull, addressNull sql.NullString
	if err := row.Scan(&location.ID, &location.Name, &location.CategoryID, &stateNull, &cityNull, &addressNull, &location.IsActive, &location.CreatedAt, &location.UpdatedAt); err != nil {
		return models.Location{}, err
	}
	location.State = nullStringPtr(stateNull)
	location.City = nullStringPtr(cityNull)
	location.Address = nullStringPtr(addressNull)
	return location, nil
}

func (s *Store) GetLocation(ctx context.Context, id int64) (models.Location, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+locationColumns+`
		FROM locations
		WHERE id = $1
	`, id)
	location, err := scanLocation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Location{}, false, nil
		}
		return models.Location{}, false, err
	}
	return location, true, nil
}

func (s *Store) ListLocations(ctx context.Context, filter store.LocationFilter) ([]models.Location, error) {
	query := `
		SELECT ` + locationColumns + `
		FROM locations
		WHERE 1=1
	`
	args := []interface{}{}
	if filter.ActiveOnly {
		query += " AND is_active"
	}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		query += " AND category_id = $" + itoa(len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += " AND name ILIKE $" + itoa(len(args))
	}
	query += " ORDER BY name ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []models.Location
	for rows.Next() {
		location, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}
	return locations, rows.Err()
}

func (s *Store) CreateLocation(ctx context.Context, input store.CreateLocationInput) (models.Location, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO locations (name, category_id, state, city, address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+locationColumns+`
	`, input.Name, input.CategoryID, input.State, input.City, input.Address)
	location, err := scanLocation(row)
	if err != nil {
		return models.Location{}, mapLocationWriteError(err)
	}
	return location, nil
}

func (s *Store) UpdateLocation(ctx context.Context, id int64, patch store.LocationPatch) (models.Location, error) {
	sets := []string{"updated_at = now()"}
	args := []interface{}{}
	if patch.Name != nil {
		args = append(args, *patch.Name)
		sets = append(sets, "name = $"+itoa(len(args)))
	}
	if patch.CategoryID != nil {
		args = append(args, *patch.CategoryID)
		sets = append(sets, "category_id = $"+itoa(len(args)))
	}
	if patch.IsActive != nil {
		args = append(args, *patch.IsActive)
		sets = append(sets, "is_active = $"+itoa(len(args)))
	}
	args = append(args, id)

	row := s.pool.QueryRow(ctx, `
		UPDATE locations
		SET `+strings.Join(sets, ", ")+`
		WHERE id = $`+itoa(len(args))+`
		RETURNING `+locationColumns,
		args...)
	location, err := scanLocation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Location{}, store.ErrLocationNotFound
		}
		return models.Location{}, mapLocationWriteError(err)
	}
	return location, nil
}

func mapLocationWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return store.ErrDuplicateLocation
		case "23503":
			return store.ErrCategoryNotFound
		}
	}
	return err
}

func (s *Store) CreateReport(ctx context.Context, input store.CreateReportInput) (models.WaitTimeReport, error) {
	submittedAt := input.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now().UTC()
	}

	var report models.WaitTimeReport
	row := s.pool.QueryRow(ctx, `
		INSERT INTO wait_time_reports (location_id, wait_time_minutes, submitted_at)
		VALUES ($1, $2, $3)
		RETURNING id, location_id, wait_time_minutes, submitted_at
	`, input.LocationID, input.WaitTimeMinutes, submittedAt)
	if err := row.Scan(&report.ID, &report.LocationID, &report.WaitTimeMinutes, &report.SubmittedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return models.WaitTimeReport{}, store.ErrLocationNotFound
		}
		return models.WaitTimeReport{}, err
	}
	return report, nil
}

func (s *Store) CountReports(ctx context.Context, locationID int64, since time.Time) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM wait_time_reports
		WHERE location_id = $1 AND submitted_at >= $2
	`, locationID, since)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) AverageWaitTime(ctx context.Context, locationID int64, since time.Time) (*float64, error) {
	var avg sql.NullFloat64
	row := s.pool.QueryRow(ctx, `
		SELECT AVG(wait_time_minutes)
		FROM wait_time_reports
		WHERE location_id = $1 AND submitted_at >= $2
	`, locationID, since)
	if err := row.Scan(&avg); err != nil {
		return nil, err
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

func (s *Store) ListRecentReports(ctx context.Context, locationID int64, since time.Time) ([]models.WaitTimeReport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, location_id, wait_time_minutes, submitted_at
		FROM wait_time_reports
		WHERE location_id = $1 AND submitted_at >= $2
		ORDER BY submitted_at DESC, id DESC
	`, locationID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []models.WaitTimeReport
	for rows.Next() {
		var report models.WaitTimeReport
		if err := rows.Scan(&report.ID, &report.LocationID, &report.WaitTimeMinutes, &report.SubmittedAt); err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

const queueEntryColumns = `id, location_id, user_id, queue_position, estimated_wait_time, joined_at, notified_at, completed_at, status`

func scanQueueEntry(row pgx.Row) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var notifiedAtNull, completedAtNull sql.NullTime
	if err := row.Scan(&entry.ID, &entry.LocationID, &entry.UserID, &entry.QueuePosition, &entry.EstimatedWaitTime, &entry.JoinedAt, &notifiedAtNull, &completedAtNull, &entry.Status); err != nil {
		return models.QueueEntry{}, err
	}
	entry.NotifiedAt = nullTimePtr(notifiedAtNull)
	entry.CompletedAt = nullTimePtr(completedAtNull)
	return entry, nil
}

// JoinQueue computes the position and inserts the entry in one transaction,
// serialized per location with an advisory lock so that concurrent joins
// cannot observe the same waiting count.
func (s *Store) JoinQueue(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockLocationQueue(ctx, tx, input.LocationID); err != nil {
		return models.QueueEntry{}, err
	}

	var exists bool
	row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM locations WHERE id = $1)`, input.LocationID)
	if err = row.Scan(&exists); err != nil {
		return models.QueueEntry{}, err
	}
	if !exists {
		err = store.ErrLocationNotFound
		return models.QueueEntry{}, err
	}

	var position int
	row = tx.QueryRow(ctx, `
		SELECT COUNT(*) + 1
		FROM queue_entries
		WHERE location_id = $1 AND status = $2
	`, input.LocationID, models.StatusWaiting)
	if err = row.Scan(&position); err != nil {
		return models.QueueEntry{}, err
	}

	joinedAt := input.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now().UTC()
	}

	row = tx.QueryRow(ctx, `
		INSERT INTO queue_entries (location_id, user_id, queue_position, estimated_wait_time, joined_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+queueEntryColumns+`
	`, input.LocationID, input.UserID, position, input.EstimatedWaitTime, joinedAt, models.StatusWaiting)
	entry, err := scanQueueEntry(row)
	if err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListUserQueues(ctx context.Context, userID string) ([]store.UserQueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT qe.id, qe.location_id, qe.user_id, qe.queue_position, qe.estimated_wait_time,
			qe.joined_at, qe.notified_at, qe.completed_at, qe.status,
			l.name, l.city, l.state
		FROM queue_entries qe
		JOIN locations l ON l.id = qe.location_id
		WHERE qe.user_id = $1 AND qe.status = $2
		ORDER BY qe.joined_at DESC, qe.id DESC
	`, userID, models.StatusWaiting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.UserQueueEntry
	for rows.Next() {
		var entry store.UserQueueEntry
		var notifiedAtNull, completedAtNull sql.NullTime
		var cityNull, stateNull sql.NullString
		if err := rows.Scan(&entry.ID, &entry.LocationID, &entry.UserID, &entry.QueuePosition, &entry.EstimatedWaitTime, &entry.JoinedAt, &notifiedAtNull, &completedAtNull, &entry.Status, &entry.LocationName, &cityNull, &stateNull); err != nil {
			return nil, err
		}
		entry.NotifiedAt = nullTimePtr(notifiedAtNull)
		entry.CompletedAt = nullTimePtr(completedAtNull)
		entry.City = nullStringPtr(cityNull)
		entry.State = nullStringPtr(stateNull)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CompleteEntry transitions waiting -> completed and renumbers the remaining
// waiting entries at the location in the same transaction. Completing an
// already-completed entry is a no-op that returns the entry unchanged.
func (s *Store) CompleteEntry(ctx context.Context, entryID int64, completedAt time.Time) (models.QueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT `+queueEntryColumns+`
		FROM queue_entries
		WHERE id = $1
		FOR UPDATE
	`, entryID)
	entry, err := scanQueueEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}

	if entry.Status != models.StatusWaiting {
		if err = tx.Commit(ctx); err != nil {
			return models.QueueEntry{}, err
		}
		return entry, nil
	}

	if err = lockLocationQueue(ctx, tx, entry.LocationID); err != nil {
		return models.QueueEntry{}, err
	}

	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	row = tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = $2, completed_at = $3
		WHERE id = $1
		RETURNING `+queueEntryColumns+`
	`, entryID, models.StatusCompleted, completedAt)
	entry, err = scanQueueEntry(row)
	if err != nil {
		return models.QueueEntry{}, err
	}

	if err = renumberPositions(ctx, tx, entry.LocationID); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) MarkNotified(ctx context.Context, entryID int64, notifiedAt time.Time) error {
	if notifiedAt.IsZero() {
		notifiedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_entries
		SET notified_at = $2
		WHERE id = $1
	`, entryID, notifiedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrEntryNotFound
	}
	return nil
}

func (s *Store) QueueLength(ctx context.Context, locationID int64) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE location_id = $1 AND status = $2
	`, locationID, models.StatusWaiting)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) RenumberPositions(ctx context.Context, locationID int64) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockLocationQueue(ctx, tx, locationID); err != nil {
		return err
	}
	if err = renumberPositions(ctx, tx, locationID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) EntriesNeedingNotification(ctx context.Context, threshold int, now time.Time, limit int) ([]store.PendingNotification, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT qe.id, qe.location_id, qe.user_id, qe.queue_position, qe.estimated_wait_time,
			qe.joined_at, qe.notified_at, qe.completed_at, qe.status, l.name
		FROM queue_entries qe
		JOIN locations l ON l.id = qe.location_id
		WHERE qe.status = $1
			AND qe.notified_at IS NULL
			AND qe.joined_at + make_interval(mins => qe.estimated_wait_time - $2) <= $3
		ORDER BY qe.joined_at ASC
		LIMIT $4
	`, models.StatusWaiting, threshold, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []store.PendingNotification
	for rows.Next() {
		var item store.PendingNotification
		var notifiedAtNull, completedAtNull sql.NullTime
		if err := rows.Scan(&item.ID, &item.LocationID, &item.UserID, &item.QueuePosition, &item.EstimatedWaitTime, &item.JoinedAt, &notifiedAtNull, &completedAtNull, &item.Status, &item.LocationName); err != nil {
			return nil, err
		}
		item.NotifiedAt = nullTimePtr(notifiedAtNull)
		item.CompletedAt = nullTimePtr(completedAtNull)
		pending = append(pending, item)
	}
	return pending, rows.Err()
}

// lockLocationQueue serializes queue mutations per location for the duration
// of the transaction.
func lockLocationQueue(ctx context.Context, tx pgx.Tx, locationID int64) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, locationID)
	return err
}

func renumberPositions(ctx context.Context, tx pgx.Tx, locationID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE queue_entries qe
		SET queue_position = ranked.position
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY joined_at ASC, id ASC) AS position
			FROM queue_entries
			WHERE location_id = $1 AND status = $2
		) ranked
		WHERE qe.id = ranked.id AND qe.queue_position <> ranked.position
	`, locationID, models.StatusWaiting)
	return err
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func itoa(value int) string {
	return strconv.Itoa(value)
}
