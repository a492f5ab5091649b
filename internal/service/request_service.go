// Package service implements the request lifecycle state machine.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"requestdesk/internal/gate"
	"requestdesk/internal/listing"
	"requestdesk/internal/metadata"
	"requestdesk/internal/models"
	"requestdesk/internal/notify"
	"requestdesk/internal/observability"
	"requestdesk/internal/repository"

	"gorm.io/gorm"
	"mvdan.cc/xurls/v2"
)

var urlFinder = xurls.Strict()

// Submission carries the submitter identity and raw request text.
type Submission struct {
	UserID  string
	UserTag string
	Donator bool
	// Staff submitters bypass the outstanding-request and capacity checks
	// like donators do, without the donator listing color.
	Staff bool
	Text  string
}

// Summary is a user's request count per lifecycle state.
type Summary struct {
	Pending  int64 `json:"pending"`
	Hold     int64 `json:"hold"`
	Complete int64 `json:"complete"`
}

// RequestService governs request creation and the three lifecycle
// transitions. Every operation is one transaction spanning the record and
// its listing entry; operations on the same request id are serialized.
type RequestService struct {
	db        *gorm.DB
	repo      repository.RequestRepository
	publisher *listing.Publisher
	gate      *gate.Gate
	notifier  *notify.Notifier
	resolver  *metadata.Resolver

	locks keyedLocks
}

// NewRequestService returns a new RequestService. resolver may be nil to
// disable catalog metadata lookups.
func NewRequestService(db *gorm.DB, repo repository.RequestRepository, publisher *listing.Publisher,
	g *gate.Gate, notifier *notify.Notifier, resolver *metadata.Resolver) *RequestService {
	return &RequestService{
		db:        db,
		repo:      repo,
		publisher: publisher,
		gate:      g,
		notifier:  notifier,
		resolver:  resolver,
	}
}

// Submit creates a new pending request from raw submission text. At most one
// URL is accepted; the URL substring is stripped from the title, and catalog
// links get their title replaced by resolved metadata when available.
func (s *RequestService) Submit(ctx context.Context, sub Submission) (*models.Request, error) {
	ctx, span := observability.Tracer.Start(ctx, "request.submit")
	defer span.End()

	text := strings.TrimSpace(sub.Text)
	if text == "" {
		return nil, s.invalid("submit", "Please provide a url or name")
	}

	urls := urlFinder.FindAllString(text, -1)
	if len(urls) > 1 {
		return nil, s.invalid("submit", "You can only specify one url per request")
	}

	privileged := sub.Donator || sub.Staff
	if !privileged {
		outstanding, err := s.repo.OutstandingByUser(ctx, sub.UserID)
		if err != nil {
			return nil, s.failed(ctx, "submit", err)
		}
		if outstanding != nil {
			if err := s.notifier.OutstandingPending(ctx, outstanding, sub.UserID); err != nil {
				s.notifier.ReportError(ctx, "submit", err)
			}
			return nil, s.invalid("submit", "You already have a pending request. Wait until it is fulfilled or rejected")
		}

		full, err := s.gate.Full(ctx)
		if err != nil {
			return nil, s.failed(ctx, "submit", err)
		}
		if full {
			s.recheck(ctx)
			return nil, s.invalid("submit", "There are too many open requests right now. Wait until slots are opened")
		}
	}

	title := text
	var link string
	if len(urls) == 1 {
		link = urls[0]

		existing, err := s.repo.FindByLink(ctx, link)
		if err != nil {
			return nil, s.failed(ctx, "submit", err)
		}
		if existing != nil {
			if err := s.notifier.DuplicateLink(ctx, link); err != nil {
				s.notifier.ReportError(ctx, "submit", err)
			}
			return nil, s.invalid("submit", "This soundtrack has already been requested")
		}

		title = strings.TrimSpace(strings.Replace(title, link, "", 1))
		if s.resolver != nil && s.resolver.CatalogLink(link) {
			// Lookup failure falls back to the user-supplied title.
			if album, ok := s.resolver.Resolve(ctx, link); ok {
				title = album.Name
			}
		}
	}

	req := &models.Request{
		Title:   title,
		Link:    link,
		UserID:  sub.UserID,
		UserTag: sub.UserTag,
		Donator: sub.Donator,
		State:   models.RequestStatePending,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.Create(ctx, req); err != nil {
			return err
		}
		if err := s.publisher.Publish(ctx, req); err != nil {
			return err
		}
		return txRepo.Save(ctx, req)
	})
	if err != nil {
		return nil, s.failed(ctx, "submit", err)
	}

	s.recheck(ctx)
	observability.LifecycleTransitions.WithLabelValues("submit", "ok").Inc()
	return req, nil
}

// Hold parks a pending request with a reason, refreshing its listing entry
// in place. Holding an already-held request is an error.
func (s *RequestService) Hold(ctx context.Context, id uint, reason string) (*models.Request, error) {
	ctx, span := observability.Tracer.Start(ctx, "request.hold")
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return nil, s.invalid("hold", "Reason is required")
	}

	unlock := s.locks.lock(id)
	defer unlock()

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		observability.LifecycleTransitions.WithLabelValues("hold", "invalid").Inc()
		return nil, err
	}
	if req.State == models.RequestStateHold {
		return nil, s.invalid("hold", "Request already on hold")
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		req.State = models.RequestStateHold
		req.Reason = reason
		if err := txRepo.Save(ctx, req); err != nil {
			return err
		}
		if err := s.notifier.RequestHeld(ctx, req); err != nil {
			return err
		}
		return s.publisher.Refresh(ctx, req)
	})
	if err != nil {
		return nil, s.failed(ctx, "hold", err)
	}

	s.recheck(ctx)
	observability.LifecycleTransitions.WithLabelValues("hold", "ok").Inc()
	return req, nil
}

// Complete marks a request fulfilled and removes its listing entry.
// Completing an already-complete request is an error.
func (s *RequestService) Complete(ctx context.Context, id uint) (*models.Request, error) {
	ctx, span := observability.Tracer.Start(ctx, "request.complete")
	defer span.End()

	unlock := s.locks.lock(id)
	defer unlock()

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		observability.LifecycleTransitions.WithLabelValues("complete", "invalid").Inc()
		return nil, err
	}
	if req.State == models.RequestStateComplete {
		return nil, s.invalid("complete", "Request already complete")
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		if err := s.publisher.Retract(ctx, req); err != nil {
			return err
		}
		req.State = models.RequestStateComplete
		req.ListingRef = ""
		return txRepo.Save(ctx, req)
	})
	if err != nil {
		return nil, s.failed(ctx, "complete", err)
	}

	s.recheck(ctx)
	observability.LifecycleTransitions.WithLabelValues("complete", "ok").Inc()
	return req, nil
}

// Reject terminates a request with a reason and removes its listing entry.
// Unlike Hold and Complete it has no prior-state precondition: held requests
// can be rejected too.
func (s *RequestService) Reject(ctx context.Context, id uint, reason string) (*models.Request, error) {
	ctx, span := observability.Tracer.Start(ctx, "request.reject")
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return nil, s.invalid("reject", "Reason is required")
	}

	unlock := s.locks.lock(id)
	defer unlock()

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		observability.LifecycleTransitions.WithLabelValues("reject", "invalid").Inc()
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		if err := s.publisher.Retract(ctx, req); err != nil {
			return err
		}
		req.State = models.RequestStateComplete
		req.Reason = reason
		req.ListingRef = ""
		return txRepo.Save(ctx, req)
	})
	if err != nil {
		return nil, s.failed(ctx, "reject", err)
	}

	if err := s.notifier.RequestRejected(ctx, req, reason); err != nil {
		s.notifier.ReportError(ctx, "reject", err)
	}

	s.recheck(ctx)
	observability.LifecycleTransitions.WithLabelValues("reject", "ok").Inc()
	return req, nil
}

// Refresh republishes every open request into the listing channel, a
// moderator tool for rebuilding the feed. Iterates over a snapshot.
func (s *RequestService) Refresh(ctx context.Context) (int, error) {
	ctx, span := observability.Tracer.Start(ctx, "request.refresh")
	defer span.End()

	requests, err := s.repo.ListOpen(ctx)
	if err != nil {
		return 0, s.failed(ctx, "refresh", err)
	}

	for i := range requests {
		req := &requests[i]
		if err := s.publisher.Publish(ctx, req); err != nil {
			return i, s.failed(ctx, "refresh", err)
		}
		if err := s.repo.Save(ctx, req); err != nil {
			return i, s.failed(ctx, "refresh", err)
		}
	}

	return len(requests), nil
}

// UserSummary returns the caller's request counts per state.
func (s *RequestService) UserSummary(ctx context.Context, userID string) (*Summary, error) {
	counts, err := s.repo.CountByStateForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Pending:  counts[models.RequestStatePending],
		Hold:     counts[models.RequestStateHold],
		Complete: counts[models.RequestStateComplete],
	}, nil
}

// ListOpen returns the open listing snapshot.
func (s *RequestService) ListOpen(ctx context.Context) ([]models.Request, error) {
	return s.repo.ListOpen(ctx)
}

// Get returns one request by id.
func (s *RequestService) Get(ctx context.Context, id uint) (*models.Request, error) {
	return s.repo.GetByID(ctx, id)
}

// invalid records a user-input failure and returns its validation error.
func (s *RequestService) invalid(op, message string) error {
	observability.LifecycleTransitions.WithLabelValues(op, "invalid").Inc()
	return models.NewValidationError(message)
}

// failed handles an unexpected failure: the transaction has rolled back, the
// talk channel gets a maintainer-tagged notice, and the caller receives a
// generic internal error.
func (s *RequestService) failed(ctx context.Context, op string, err error) error {
	observability.RecordError(ctx, err)
	observability.LifecycleTransitions.WithLabelValues(op, "error").Inc()
	s.notifier.ReportError(ctx, op, err)

	var appErr *models.AppError
	if errors.As(err, &appErr) && appErr.Code == "INTERNAL_ERROR" {
		return appErr
	}
	return models.NewInternalError(err)
}

// recheck runs the admission gate, reporting rather than propagating
// failures: the lifecycle operation itself already committed.
func (s *RequestService) recheck(ctx context.Context) {
	if err := s.gate.Recheck(ctx); err != nil {
		s.notifier.ReportError(ctx, "gate", err)
	}
}

// keyedLocks serializes operations per request id.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[uint]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLocks) lock(id uint) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[uint]*entry)
	}
	e, ok := k.locks[id]
	if !ok {
		e = &entry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
