package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"grocerp/backend/internal/cache"
	"grocerp/backend/internal/domain"
)

const scopeAllBranches = "all"

var dashboardRoles = []string{domain.RoleAdmin, domain.RoleManager, domain.RoleCashier}

func dashboardKey(scope string, role string) string {
	return cache.DashboardKey(scope + ":" + role)
}

// Dashboard summarises open work for the actor's scope: every branch for an
// admin, the own branch otherwise. Summaries are cached per scope and role
// and dropped whenever a mutation touches the branch.
func (s *Service) Dashboard(ctx context.Context, branchID string) (domain.DashboardSummary, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager, domain.RoleCashier)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	branchID, err = s.scopeFor(ctx, branchID)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	scope := branchID
	if scope == "" {
		scope = scopeAllBranches
	}

	key := dashboardKey(scope, actor.Role)
	cached, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		s.countCache("error")
		s.logger.Warn().Err(err).Str("key", key).Msg("dashboard cache read failed")
	case ok:
		s.countCache("hit")
		return *cached, nil
	default:
		s.countCache("miss")
	}

	summary, err := s.buildDashboard(ctx, branchID, actor.Role)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	summary.Scope = scope
	if err := s.cache.Set(ctx, key, &summary, s.dashboardTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("dashboard cache write failed")
	}
	return summary, nil
}

func (s *Service) buildDashboard(ctx context.Context, branchID string, role string) (domain.DashboardSummary, error) {
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	summary := domain.DashboardSummary{Role: role, GeneratedAt: now.Format(time.RFC3339)}
	g, gctx := errgroup.WithContext(ctx)

	// each goroutine owns distinct summary fields
	g.Go(func() error {
		orders, err := s.repo.ListPurchaseOrders(gctx, domain.PurchaseOrderFilter{BranchID: branchID})
		if err != nil {
			return err
		}
		for _, po := range orders {
			switch po.Status {
			case domain.POStatusRequested:
				summary.RequestedPOs++
			case domain.POStatusOrdered, domain.POStatusPartial:
				summary.OpenPOs++
			}
		}
		return nil
	})
	g.Go(func() error {
		transfers, err := s.repo.ListTransfers(gctx, domain.TransferFilter{BranchID: branchID})
		if err != nil {
			return err
		}
		for _, t := range transfers {
			if t.Status == domain.TransferStatusInTransit {
				summary.TransfersInTransit++
			}
			for _, d := range t.Discrepancies {
				if d.Status == domain.DiscrepancyOpen {
					summary.OpenDiscrepancies++
				}
			}
		}
		return nil
	})
	g.Go(func() error {
		report, err := s.repo.GetDailyReport(gctx, branchID, today, today.Add(24*time.Hour))
		if err != nil {
			return err
		}
		summary.TodayNetSalesCents = report.NetSalesCents
		return nil
	})
	g.Go(func() error {
		losses, err := s.repo.ListLossEntries(gctx, branchID, monthStart, now.Add(time.Second))
		if err != nil {
			return err
		}
		for _, l := range losses {
			summary.MonthLossValueCents += l.ValueCents
		}
		return nil
	})
	g.Go(func() error {
		n, err := s.lowStockSKUs(gctx, branchID)
		if err != nil {
			return err
		}
		summary.LowStockSKUs = n
		return nil
	})
	g.Go(func() error {
		unread, err := s.repo.ListNotifications(gctx, branchID, role, true, 0)
		if err != nil {
			return err
		}
		summary.UnreadNotifications = len(unread)
		return nil
	})

	if err := g.Wait(); err != nil {
		return domain.DashboardSummary{}, err
	}
	return summary, nil
}

func (s *Service) lowStockSKUs(ctx context.Context, branchID string) (int, error) {
	branchIDs := []string{branchID}
	if branchID == "" {
		branches, err := s.repo.ListBranches(ctx, false)
		if err != nil {
			return 0, err
		}
		branchIDs = branchIDs[:0]
		for _, b := range branches {
			branchIDs = append(branchIDs, b.ID)
		}
	}

	total := 0
	for _, id := range branchIDs {
		stocks, err := s.repo.ListBranchStock(ctx, id)
		if err != nil {
			return 0, err
		}
		total += lowStockCount(stocks, s.lowStock)
	}
	return total, nil
}

// invalidateDashboard drops the cached summaries of the given branches and
// of the all-branches scope.
func (s *Service) invalidateDashboard(ctx context.Context, branchIDs ...string) {
	keys := make([]string, 0, (len(branchIDs)+1)*len(dashboardRoles))
	for _, role := range dashboardRoles {
		keys = append(keys, dashboardKey(scopeAllBranches, role))
		for _, id := range branchIDs {
			if id != "" {
				keys = append(keys, dashboardKey(id, role))
			}
		}
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn().Err(err).Int("keys", len(keys)).Msg("dashboard cache invalidation failed")
	}
}

func (s *Service) countCache(result string) {
	if s.metrics != nil {
		s.metrics.DashboardCache.WithLabelValues(result).Inc()
	}
}
