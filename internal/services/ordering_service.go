package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/observability"
	"github.com/gallery/server/internal/repository"
)

// EventPublisher receives membership changes after they are committed
type EventPublisher interface {
	BroadcastToTopic(topic string, msg WSMessage)
}

// OrderingOptions bounds retries and duration of engine operations
type OrderingOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
}

// DefaultOrderingOptions returns the options used when none are configured
func DefaultOrderingOptions() OrderingOptions {
	return OrderingOptions{
		MaxRetries: 5,
		BaseDelay:  20 * time.Millisecond,
		Timeout:    10 * time.Second,
	}
}

// OrderingService maintains the per-category display order of memberships.
// Every operation runs in one transaction holding the category lock, so the
// positions of a category always form exactly 1..N after a commit.
type OrderingService struct {
	tx        repository.TxManager
	publisher EventPublisher
	metrics   *observability.GalleryMetrics
	opts      OrderingOptions
}

// NewOrderingService creates a new OrderingService. publisher and metrics may be nil.
func NewOrderingService(tx repository.TxManager, publisher EventPublisher, metrics *observability.GalleryMetrics, opts OrderingOptions) *OrderingService {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return &OrderingService{
		tx:        tx,
		publisher: publisher,
		metrics:   metrics,
		opts:      opts,
	}
}

// AddMembership places a photo into a category. Without a position the photo
// is appended at N+1. An explicit position must lie in 1..N+1; existing
// memberships at or after it move up by one.
func (s *OrderingService) AddMembership(ctx context.Context, categoryID, photoID string, position *int) (*models.Membership, error) {
	var added *models.Membership

	err := s.write(ctx, "AddMembership", categoryID, func(ctx context.Context, repos repository.Repositories) error {
		added = nil
		if err := requireEntities(ctx, repos, categoryID, photoID); err != nil {
			return err
		}

		if _, found, err := repos.Memberships.PositionOf(ctx, categoryID, photoID); err != nil {
			return err
		} else if found {
			return models.ErrDuplicateMembership
		}

		maxPos, _, err := repos.Memberships.MaxPosition(ctx, categoryID)
		if err != nil {
			return err
		}

		target := maxPos + 1
		if position != nil {
			if *position < 1 || *position > maxPos+1 {
				return fmt.Errorf("%w: %d not in 1..%d", models.ErrInvalidPosition, *position, maxPos+1)
			}
			target = *position
			trace.SpanFromContext(ctx).SetAttributes(observability.Position(target))

			occupied, err := repos.Memberships.PositionExists(ctx, categoryID, target)
			if err != nil {
				return err
			}
			if occupied {
				if err := repos.Memberships.ShiftUp(ctx, categoryID, target); err != nil {
					return err
				}
			}
		}

		m := models.NewMembership(categoryID, photoID, target)
		if err := repos.Memberships.Insert(ctx, m); err != nil {
			return err
		}
		added = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(categoryID, WSTypeMembershipAdded, MembershipEventPayload{
		CategoryID:   categoryID,
		PhotoID:      photoID,
		DisplayOrder: added.DisplayOrder,
	})
	return added, nil
}

// RemoveMembership deletes a membership and closes the gap it leaves
func (s *OrderingService) RemoveMembership(ctx context.Context, categoryID, photoID string) error {
	var removedAt int

	err := s.write(ctx, "RemoveMembership", categoryID, func(ctx context.Context, repos repository.Repositories) error {
		category, err := repos.Categories.GetByID(ctx, categoryID)
		if err != nil {
			return err
		}
		if category == nil {
			return models.ErrCategoryNotFound
		}

		removedAt, err = repos.Memberships.Delete(ctx, categoryID, photoID)
		if err != nil {
			return err
		}
		return repos.Memberships.ShiftDown(ctx, categoryID, removedAt+1)
	})
	if err != nil {
		return err
	}

	s.publish(categoryID, WSTypeMembershipRemoved, MembershipEventPayload{
		CategoryID:    categoryID,
		PhotoID:       photoID,
		PreviousOrder: removedAt,
	})
	return nil
}

// MoveMembership repositions a photo within its category. newPosition must
// lie in 1..N. The row is parked at 0 while the interval between the old and
// new slot is shifted, then re-pointed at newPosition.
func (s *OrderingService) MoveMembership(ctx context.Context, categoryID, photoID string, newPosition int) (*models.Membership, error) {
	var (
		oldPosition int
		moved       *models.Membership
	)

	err := s.write(ctx, "MoveMembership", categoryID, func(ctx context.Context, repos repository.Repositories) error {
		trace.SpanFromContext(ctx).SetAttributes(observability.Position(newPosition))
		category, err := repos.Categories.GetByID(ctx, categoryID)
		if err != nil {
			return err
		}
		if category == nil {
			return models.ErrCategoryNotFound
		}

		pos, found, err := repos.Memberships.PositionOf(ctx, categoryID, photoID)
		if err != nil {
			return err
		}
		if !found {
			return models.ErrMembershipNotFound
		}
		oldPosition = pos

		count, err := repos.Memberships.Count(ctx, categoryID)
		if err != nil {
			return err
		}
		if newPosition < 1 || newPosition > count {
			return fmt.Errorf("%w: %d not in 1..%d", models.ErrInvalidPosition, newPosition, count)
		}
		if newPosition != oldPosition {
			if err := repos.Memberships.SetPosition(ctx, categoryID, photoID, 0); err != nil {
				return err
			}
			if err := repos.Memberships.ShiftDown(ctx, categoryID, oldPosition+1); err != nil {
				return err
			}
			if err := repos.Memberships.ShiftUp(ctx, categoryID, newPosition); err != nil {
				return err
			}
			if err := repos.Memberships.SetPosition(ctx, categoryID, photoID, newPosition); err != nil {
				return err
			}
		}

		// read back the stored row for its added_at
		ordered, err := repos.Memberships.ListOrdered(ctx, categoryID)
		if err != nil {
			return err
		}
		if newPosition > len(ordered) || ordered[newPosition-1].PhotoID != photoID {
			return fmt.Errorf("%w: photo %s not at %d after move", models.ErrConflict, photoID, newPosition)
		}
		moved = ordered[newPosition-1]
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldPosition != newPosition {
		s.publish(categoryID, WSTypeMembershipMoved, MembershipEventPayload{
			CategoryID:    categoryID,
			PhotoID:       photoID,
			DisplayOrder:  newPosition,
			PreviousOrder: oldPosition,
		})
	}
	return moved, nil
}

// ListOrdered returns the memberships of a category in display order.
// Reads are retried on conflicts and on an unavailable store.
func (s *OrderingService) ListOrdered(ctx context.Context, categoryID string) ([]*models.Membership, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := observability.StartServiceSpan(ctx, "OrderingService", "ListOrdered", observability.CategoryID(categoryID))
	defer span.End()

	var memberships []*models.Membership
	start := time.Now()
	err := s.retry(ctx, "ListOrdered", true, func() error {
		return s.tx.Do(ctx, "", func(repos repository.Repositories) error {
			category, err := repos.Categories.GetByID(ctx, categoryID)
			if err != nil {
				return err
			}
			if category == nil {
				return models.ErrCategoryNotFound
			}
			memberships, err = repos.Memberships.ListOrdered(ctx, categoryID)
			return err
		})
	})
	s.finish(ctx, span, "ListOrdered", start, err)
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

// VerifyCategory checks the packed-sequence invariant of one category at rest
func (s *OrderingService) VerifyCategory(ctx context.Context, categoryID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.tx.Do(ctx, categoryID, func(repos repository.Repositories) error {
		category, err := repos.Categories.GetByID(ctx, categoryID)
		if err != nil {
			return err
		}
		if category == nil {
			return models.ErrCategoryNotFound
		}
		memberships, err := repos.Memberships.ListOrdered(ctx, categoryID)
		if err != nil {
			return err
		}
		if err := models.CheckPacked(memberships); err != nil {
			observability.WithContext(ctx).WithField("category_id", categoryID).Errorf("Ordering invariant violated: %v", err)
			return err
		}
		return nil
	})
}

// RemovePhotoEverywhere removes a photo from every category that contains it,
// one transaction per category. It returns the categories it was removed from.
func (s *OrderingService) RemovePhotoEverywhere(ctx context.Context, photoID string) ([]string, error) {
	var categoryIDs []string
	err := s.tx.Do(ctx, "", func(repos repository.Repositories) error {
		var err error
		categoryIDs, err = repos.Memberships.CategoriesForPhoto(ctx, photoID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find categories for photo: %w", err)
	}

	removed := make([]string, 0, len(categoryIDs))
	for _, categoryID := range categoryIDs {
		err := s.RemoveMembership(ctx, categoryID, photoID)
		if errors.Is(err, models.ErrMembershipNotFound) || errors.Is(err, models.ErrCategoryNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed = append(removed, categoryID)
	}
	return removed, nil
}

// write runs fn in a transaction locked on categoryID, retrying conflicts.
// fn receives the operation's context, which carries its span and deadline.
func (s *OrderingService) write(ctx context.Context, op, categoryID string, fn func(ctx context.Context, repos repository.Repositories) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := observability.StartServiceSpan(ctx, "OrderingService", op, observability.CategoryID(categoryID))
	defer span.End()

	start := time.Now()
	err := s.retry(ctx, op, false, func() error {
		return s.tx.Do(ctx, categoryID, func(repos repository.Repositories) error {
			return fn(ctx, repos)
		})
	})
	s.finish(ctx, span, op, start, err)
	return err
}

func (s *OrderingService) retry(ctx context.Context, op string, retryUnavailable bool, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.BaseDelay
	b.MaxInterval = 50 * s.opts.BaseDelay

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		retryable := models.IsRetryable(err) || (retryUnavailable && errors.Is(err, models.ErrStoreUnavailable))
		if !retryable {
			return struct{}{}, backoff.Permanent(err)
		}
		if attempt < s.opts.MaxRetries {
			s.metrics.RecordConflictRetry(ctx, op)
			observability.AddEvent(trace.SpanFromContext(ctx), "retry", observability.Attempts(attempt))
			observability.WithContext(ctx).WithFields(map[string]interface{}{
				"operation": op,
				"attempt":   attempt,
			}).Warnf("Retrying after transient store error: %v", err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.MaxRetries)),
		backoff.WithMaxElapsedTime(0),
	)
	trace.SpanFromContext(ctx).SetAttributes(observability.Attempts(attempt))
	// the final attempt comes back still wrapped
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

func (s *OrderingService) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	s.metrics.RecordOrdering(ctx, op, outcome(err), time.Since(start))
	if err != nil {
		observability.RecordError(span, err)
		if models.KindOf(err) == models.KindInternal && !errors.Is(err, context.Canceled) {
			observability.WithContext(ctx).WithField("operation", op).Errorf("Ordering operation failed: %v", err)
		}
		return
	}
	observability.SetSuccess(span)
}

func (s *OrderingService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

func (s *OrderingService) publish(categoryID, msgType string, payload MembershipEventPayload) {
	if s.publisher == nil {
		return
	}
	s.publisher.BroadcastToTopic(CategoryTopic(categoryID), WSMessage{Type: msgType, Payload: payload})
}

// requireEntities reports CategoryNotFound or PhotoNotFound before any membership state is touched
func requireEntities(ctx context.Context, repos repository.Repositories, categoryID, photoID string) error {
	category, err := repos.Categories.GetByID(ctx, categoryID)
	if err != nil {
		return err
	}
	if category == nil {
		return models.ErrCategoryNotFound
	}
	photo, err := repos.Photos.GetByID(ctx, photoID)
	if err != nil {
		return err
	}
	if photo == nil {
		return models.ErrPhotoNotFound
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var ge models.GalleryError
	if errors.As(err, &ge) {
		return ge.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "error"
}
