// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"

	"requestdesk/internal/models"

	"gorm.io/gorm"
)

// RequestRepository defines the interface for request data operations.
type RequestRepository interface {
	Create(ctx context.Context, req *models.Request) error
	GetByID(ctx context.Context, id uint) (*models.Request, error)
	// FindByLink returns the request holding the exact link, in any state,
	// or nil when the link has never been requested.
	FindByLink(ctx context.Context, link string) (*models.Request, error)
	// OutstandingByUser returns the user's pending request, or nil.
	OutstandingByUser(ctx context.Context, userID string) (*models.Request, error)
	// CountPending counts pending non-donator requests, the admission
	// gate's load figure.
	CountPending(ctx context.Context) (int64, error)
	// ListOpen returns all requests that still have a listing entry,
	// oldest first.
	ListOpen(ctx context.Context) ([]models.Request, error)
	// CountByStateForUser returns the user's request count per state.
	CountByStateForUser(ctx context.Context, userID string) (map[models.RequestState]int64, error)
	Save(ctx context.Context, req *models.Request) error
	// WithTx returns a repository bound to the given transaction handle.
	WithTx(tx *gorm.DB) RequestRepository
}

// requestRepository implements RequestRepository.
type requestRepository struct {
	db *gorm.DB
}

// NewRequestRepository creates a new request repository.
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) WithTx(tx *gorm.DB) RequestRepository {
	return &requestRepository{db: tx}
}

func (r *requestRepository) Create(ctx context.Context, req *models.Request) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *requestRepository) GetByID(ctx context.Context, id uint) (*models.Request, error) {
	var req models.Request
	if err := r.db.WithContext(ctx).First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Request", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &req, nil
}

func (r *requestRepository) FindByLink(ctx context.Context, link string) (*models.Request, error) {
	var req models.Request
	if err := r.db.WithContext(ctx).Where("link = ?", link).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &req, nil
}

func (r *requestRepository) OutstandingByUser(ctx context.Context, userID string) (*models.Request, error) {
	var req models.Request
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND state = ?", userID, models.RequestStatePending).
		First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &req, nil
}

func (r *requestRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Where("state = ? AND donator = ?", models.RequestStatePending, false).
		Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

func (r *requestRepository) ListOpen(ctx context.Context) ([]models.Request, error) {
	var requests []models.Request
	if err := r.db.WithContext(ctx).
		Where("state <> ?", models.RequestStateComplete).
		Order("id ASC").
		Find(&requests).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return requests, nil
}

func (r *requestRepository) CountByStateForUser(ctx context.Context, userID string) (map[models.RequestState]int64, error) {
	type row struct {
		State models.RequestState
		Count int64
	}

	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Select("state, COUNT(*) as count").
		Where("user_id = ?", userID).
		Group("state").
		Scan(&rows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	counts := map[models.RequestState]int64{
		models.RequestStatePending:  0,
		models.RequestStateHold:     0,
		models.RequestStateComplete: 0,
	}
	for _, r := range rows {
		counts[r.State] = r.Count
	}
	return counts, nil
}

func (r *requestRepository) Save(ctx context.Context, req *models.Request) error {
	if err := r.db.WithContext(ctx).Save(req).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}
