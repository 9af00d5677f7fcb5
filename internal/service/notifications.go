package service

import (
	"context"
	"fmt"
	"strings"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/store"
)

func (s *Service) ListNotifications(ctx context.Context, unreadOnly bool, limit int) (domain.NotificationListResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager, domain.RoleCashier)
	if err != nil {
		return domain.NotificationListResponse{}, err
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	branchID := actor.BranchID
	if actor.Role == domain.RoleAdmin {
		branchID = ""
	}

	notifications, err := s.repo.ListNotifications(ctx, branchID, actor.Role, unreadOnly, limit)
	if err != nil {
		return domain.NotificationListResponse{}, err
	}
	return domain.NotificationListResponse{Notifications: notifications}, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager, domain.RoleCashier)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidTransaction
	}
	if actor.Role != domain.RoleAdmin {
		visible, err := s.repo.ListNotifications(ctx, actor.BranchID, actor.Role, false, 0)
		if err != nil {
			return err
		}
		found := false
		for _, n := range visible {
			if n.ID == id {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: notification %s", store.ErrNotFound, id)
		}
	}
	if err := s.repo.MarkNotificationRead(ctx, id, s.now()); err != nil {
		return err
	}
	s.invalidateDashboard(ctx, actor.BranchID)
	return nil
}

// NotificationPersisted drops the cached dashboards that count the stored
// notification as unread. A notification without a branch is visible in every
// branch scope.
func (s *Service) NotificationPersisted(ctx context.Context, n domain.Notification) {
	if n.BranchID != "" {
		s.invalidateDashboard(ctx, n.BranchID)
		return
	}
	branches, err := s.repo.ListBranches(ctx, true)
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", n.Kind).Msg("dashboard invalidation skipped")
		s.invalidateDashboard(ctx)
		return
	}
	ids := make([]string, 0, len(branches))
	for _, b := range branches {
		ids = append(ids, b.ID)
	}
	s.invalidateDashboard(ctx, ids...)
}
