package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"waitline/internal/aggregate"
	"waitline/internal/models"
	"waitline/internal/queue"
	"waitline/internal/store"
)

const maxNameLength = 255

// CatalogStore covers the category, location, and report operations the
// handlers reach for directly; queue and aggregation traffic goes through
// their managers.
type CatalogStore interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	CategoryExists(ctx context.Context, id int64) (bool, error)
	GetLocation(ctx context.Context, id int64) (models.Location, bool, error)
	CreateLocation(ctx context.Context, input store.CreateLocationInput) (models.Location, error)
	UpdateLocation(ctx context.Context, id int64, patch store.LocationPatch) (models.Location, error)
	CreateReport(ctx context.Context, input store.CreateReportInput) (models.WaitTimeReport, error)
}

type Aggregator interface {
	Location(ctx context.Context, id int64) (aggregate.LocationSummary, error)
	List(ctx context.Context, filter aggregate.Filter) ([]aggregate.LocationSummary, error)
}

type QueueManager interface {
	Join(ctx context.Context, locationID int64, userID string, estimate *int) (models.QueueEntry, error)
	Statuses(ctx context.Context, userID string, now time.Time, threshold int) ([]queue.Status, error)
	Complete(ctx context.Context, entryID int64) (models.QueueEntry, error)
	Length(ctx context.Context, locationID int64) (int, error)
}

type Handler struct {
	store           CatalogStore
	aggregator      Aggregator
	queues          QueueManager
	notifyThreshold int
}

type Options struct {
	// NotifyThreshold is the remaining-minutes cutoff the status view uses
	// for shouldNotify. The sweep worker applies its own, tighter one.
	NotifyThreshold int
}

func NewHandler(store CatalogStore, aggregator Aggregator, queues QueueManager, options Options) *Handler {
	threshold := options.NotifyThreshold
	if threshold <= 0 {
		threshold = 15
	}
	return &Handler{
		store:           store,
		aggregator:      aggregator,
		queues:          queues,
		notifyThreshold: threshold,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/categories", h.handleCategories)
	mux.HandleFunc("/api/locations", h.handleLocations)
	mux.HandleFunc("/api/locations/", h.handleLocation)
	mux.HandleFunc("/api/reports", h.handleReports)
	mux.HandleFunc("/api/queue/join", h.handleQueueJoin)
	mux.HandleFunc("/api/queue/status/", h.handleQueueStatus)
	mux.HandleFunc("/api/queue/complete/", h.handleQueueComplete)
	mux.HandleFunc("/api/queue/length/", h.handleQueueLength)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	categories, err := h.store.ListCategories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch categories", nil)
		return
	}
	if categories == nil {
		categories = []models.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) handleLocations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleListLocations(w, r)
	case http.MethodPost:
		h.handleCreateLocation(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleListLocations(w http.ResponseWriter, r *http.Request) {
	filter := aggregate.Filter{ActiveOnly: true}

	if raw := strings.TrimSpace(r.URL.Query().Get("category")); raw != "" {
		categoryID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_CATEGORY", "Category must be a valid number", nil)
			return
		}
		filter.CategoryID = &categoryID
	}
	filter.Search = strings.TrimSpace(r.URL.Query().Get("search"))

	summaries, err := h.aggregator.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch locations", nil)
		return
	}
	if summaries == nil {
		summaries = []aggregate.LocationSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

type createLocationRequest struct {
	Name       *string `json:"name"`
	CategoryID *int64  `json:"categoryId"`
	State      *string `json:"state"`
	City       *string `json:"city"`
	Address    *string `json:"address"`
}

func (h *Handler) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var req createLocationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	details := map[string]string{}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		details["name"] = "Location name is required and must be a non-empty string"
	} else if len(*req.Name) > maxNameLength {
		details["name"] = "Location name must be 255 characters or less"
	}
	if req.CategoryID == nil || *req.CategoryID <= 0 {
		details["categoryId"] = "Category is required"
	}
	if len(details) > 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid location data", details)
		return
	}

	exists, err := h.store.CategoryExists(r.Context(), *req.CategoryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create location", nil)
		return
	}
	if !exists {
		writeError(w, http.StatusBadRequest, "INVALID_CATEGORY", "Category does not exist", nil)
		return
	}

	name := strings.TrimSpace(*req.Name)
	location, err := h.store.CreateLocation(r.Context(), store.CreateLocationInput{
		Name:       name,
		CategoryID: *req.CategoryID,
		State:      trimOptional(req.State),
		City:       trimOptional(req.City),
		Address:    trimOptional(req.Address),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateLocation) {
			writeError(w, http.StatusConflict, "DUPLICATE_LOCATION", err.Error(), nil)
			return
		}
		if errors.Is(err, store.ErrCategoryNotFound) {
			writeError(w, http.StatusBadRequest, "INVALID_CATEGORY", "Category does not exist", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create location", nil)
		return
	}
	writeJSON(w, http.StatusCreated, location)
}

type updateLocationRequest struct {
	Name       *string `json:"name"`
	CategoryID *int64  `json:"categoryId"`
	IsActive   *bool   `json:"isActive"`
}

func (h *Handler) handleLocation(w http.ResponseWriter, r *http.Request) {
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/locations/"), "/")
	locationID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Location ID must be a valid number", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGetLocation(w, r, locationID)
	case http.MethodPut:
		h.handleUpdateLocation(w, r, locationID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleGetLocation(w http.ResponseWriter, r *http.Request, locationID int64) {
	summary, err := h.aggregator.Location(r.Context(), locationID)
	if err != nil {
		if errors.Is(err, store.ErrLocationNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Location not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch location", nil)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleUpdateLocation(w http.ResponseWriter, r *http.Request, locationID int64) {
	var req updateLocationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	details := map[string]string{}
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			details["name"] = "Location name cannot be empty"
		} else if len(*req.Name) > maxNameLength {
			details["name"] = "Location name must be 255 characters or less"
		}
	}
	if req.CategoryID != nil && *req.CategoryID <= 0 {
		details["categoryId"] = "Category ID must be a valid number"
	}
	if len(details) > 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid location data", details)
		return
	}

	if req.CategoryID != nil {
		exists, err := h.store.CategoryExists(r.Context(), *req.CategoryID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update location", nil)
			return
		}
		if !exists {
			writeError(w, http.StatusBadRequest, "INVALID_CATEGORY", "Category does not exist", nil)
			return
		}
	}

	patch := store.LocationPatch{
		CategoryID: req.CategoryID,
		IsActive:   req.IsActive,
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		patch.Name = &trimmed
	}

	location, err := h.store.UpdateLocation(r.Context(), locationID, patch)
	if err != nil {
		if errors.Is(err, store.ErrLocationNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Location not found", nil)
			return
		}
		if errors.Is(err, store.ErrDuplicateLocation) {
			writeError(w, http.StatusConflict, "DUPLICATE_LOCATION", err.Error(), nil)
			return
		}
		if errors.Is(err, store.ErrCategoryNotFound) {
			writeError(w, http.StatusBadRequest, "INVALID_CATEGORY", "Category does not exist", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update location", nil)
		return
	}
	writeJSON(w, http.StatusOK, location)
}

type reportRequest struct {
	LocationID      *int64 `json:"locationId"`
	WaitTimeMinutes *int   `json:"waitTimeMinutes"`
}

func (h *Handler) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req reportRequest
	if !decodeBody(w, r, &req) {
		return
	}

	details := map[string]string{}
	if req.LocationID == nil || *req.LocationID <= 0 {
		details["locationId"] = "Location is required"
	}
	if req.WaitTimeMinutes == nil {
		details["waitTimeMinutes"] = "Wait time is required"
	} else if *req.WaitTimeMinutes < 0 {
		details["waitTimeMinutes"] = "Wait time must be non-negative"
	}
	if len(details) > 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid report data", details)
		return
	}

	_, found, err := h.store.GetLocation(r.Context(), *req.LocationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to submit report", nil)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "LOCATION_NOT_FOUND", "Location does not exist", nil)
		return
	}

	report, err := h.store.CreateReport(r.Context(), store.CreateReportInput{
		LocationID:      *req.LocationID,
		WaitTimeMinutes: *req.WaitTimeMinutes,
		SubmittedAt:     time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrLocationNotFound) {
			writeError(w, http.StatusNotFound, "LOCATION_NOT_FOUND", "Location does not exist", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to submit report", nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"reportId": report.ID,
		"message":  "Wait time report submitted successfully",
	})
}

type joinQueueRequest struct {
	LocationID        *int64 `json:"locationId"`
	UserID            string `json:"userId"`
	EstimatedWaitTime *int   `json:"estimatedWaitTime"`
}

func (h *Handler) handleQueueJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req joinQueueRequest
	if !decodeBody(w, r, &req) {
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if req.LocationID == nil || *req.LocationID <= 0 || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Location ID and User ID are required", nil)
		return
	}

	entry, err := h.queues.Join(r.Context(), *req.LocationID, req.UserID, req.EstimatedWaitTime)
	if err != nil {
		if errors.Is(err, store.ErrLocationNotFound) {
			writeError(w, http.StatusNotFound, "LOCATION_NOT_FOUND", "Location does not exist", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to join queue", nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":    true,
		"queueEntry": entry,
		"message":    fmt.Sprintf("You are #%d in queue. Estimated wait: %d minutes", entry.QueuePosition, entry.EstimatedWaitTime),
	})
}

func (h *Handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/queue/status/"), "/")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "User ID is required", nil)
		return
	}

	statuses, err := h.queues.Statuses(r.Context(), userID, time.Now().UTC(), h.notifyThreshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get queue status", nil)
		return
	}
	if statuses == nil {
		statuses = []queue.Status{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *Handler) handleQueueComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/queue/complete/"), "/")
	entryID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Entry ID must be a valid number", nil)
		return
	}

	if _, err := h.queues.Complete(r.Context(), entryID); err != nil {
		if errors.Is(err, store.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Queue entry not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to complete queue entry", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Queue entry completed",
	})
}

func (h *Handler) handleQueueLength(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/queue/length/"), "/")
	locationID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Location ID must be a valid number", nil)
		return
	}

	length, err := h.queues.Length(r.Context(), locationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get queue length", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"locationId":  locationID,
		"queueLength": length,
	})
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON payload", nil)
		return false
	}
	return true
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
