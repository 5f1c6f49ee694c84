package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/observability"
	"github.com/gallery/server/internal/repository"
)

// MaintenanceStatus represents the current status of maintenance tasks
type MaintenanceStatus struct {
	Running           bool      `json:"running"`
	LastRun           time.Time `json:"lastRun,omitempty"`
	LastRunDuration   string    `json:"lastRunDuration,omitempty"`
	CategoriesChecked int       `json:"categoriesChecked"`
	CorruptCategories []string  `json:"corruptCategories"`
	SessionsRemoved   int64     `json:"sessionsRemoved"`
	Errors            []string  `json:"errors,omitempty"`
	NextScheduledRun  time.Time `json:"nextScheduledRun,omitempty"`
}

// MaintenanceService periodically checks every category's display order
// and removes expired sessions
type MaintenanceService struct {
	categories repository.CategoryRepo
	sessions   repository.SessionRepo
	ordering   *OrderingService

	mu     sync.RWMutex
	status MaintenanceStatus
}

// NewMaintenanceService creates a new MaintenanceService
func NewMaintenanceService(categories repository.CategoryRepo, sessions repository.SessionRepo, ordering *OrderingService) *MaintenanceService {
	return &MaintenanceService{
		categories: categories,
		sessions:   sessions,
		ordering:   ordering,
		status:     MaintenanceStatus{CorruptCategories: []string{}},
	}
}

// Run performs a pass immediately and then every interval until ctx is done
func (s *MaintenanceService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	observability.Infof("Maintenance service started (runs every %s)", interval)
	s.setNext(time.Now().Add(interval))
	s.RunNow(ctx)

	for {
		select {
		case <-ctx.Done():
			observability.Info("Maintenance service stopped")
			return
		case <-ticker.C:
			s.setNext(time.Now().Add(interval))
			s.RunNow(ctx)
		}
	}
}

// GetStatus returns the current maintenance status
func (s *MaintenanceService) GetStatus() MaintenanceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// RunNow performs one maintenance pass and returns the resulting status.
// A pass already in progress is not started twice.
func (s *MaintenanceService) RunNow(ctx context.Context) MaintenanceStatus {
	s.mu.Lock()
	if s.status.Running {
		status := s.status
		s.mu.Unlock()
		return status
	}
	s.status.Running = true
	s.mu.Unlock()

	start := time.Now()
	var errs []string

	checked, corrupt, err := s.verifyOrdering(ctx)
	if err != nil {
		errs = append(errs, "ordering check: "+err.Error())
	}

	removed, err := s.sessions.CleanupExpired(ctx)
	if err != nil {
		errs = append(errs, "session cleanup: "+err.Error())
	}

	duration := time.Since(start)

	s.mu.Lock()
	s.status.Running = false
	s.status.LastRun = start
	s.status.LastRunDuration = duration.Round(time.Millisecond).String()
	s.status.CategoriesChecked = checked
	s.status.CorruptCategories = corrupt
	s.status.SessionsRemoved = removed
	s.status.Errors = errs
	status := s.status
	s.mu.Unlock()

	observability.WithFields(map[string]interface{}{
		"categories":       checked,
		"corrupt":          len(corrupt),
		"sessions_removed": removed,
		"errors":           len(errs),
		"duration_ms":      duration.Milliseconds(),
	}).Info("Maintenance pass completed")

	return status
}

// verifyOrdering checks every category and returns the ids of those whose
// display order is not packed
func (s *MaintenanceService) verifyOrdering(ctx context.Context) (int, []string, error) {
	categories, err := s.categories.GetAll(ctx)
	if err != nil {
		return 0, []string{}, err
	}

	corrupt := []string{}
	checked := 0
	for _, c := range categories {
		err := s.ordering.VerifyCategory(ctx, c.ID)
		switch {
		case err == nil:
			checked++
		case errors.Is(err, models.ErrOrderingCorrupt):
			checked++
			corrupt = append(corrupt, c.ID)
		case errors.Is(err, models.ErrCategoryNotFound):
			// deleted during the pass
		default:
			return checked, corrupt, err
		}
	}
	return checked, corrupt, nil
}

func (s *MaintenanceService) setNext(at time.Time) {
	s.mu.Lock()
	s.status.NextScheduledRun = at
	s.mu.Unlock()
}
