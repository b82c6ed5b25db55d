package handler

import (
	"context"
	"net/http"
	"time"

	apperrors "github.com/gomo-hub/startup-optimizer/internal/errors"
	"golang.org/x/sync/errgroup"
)

// DashboardView is the body of GET /dashboard
type DashboardView struct {
	Timestamp        time.Time        `json:"timestamp"`
	SystemHealth     SystemHealth     `json:"systemHealth"`
	ModuleStats      ModuleStats      `json:"moduleStats"`
	TierDistribution TierDistribution `json:"tierDistribution"`
	AIDecisions      DecisionsReport  `json:"aiDecisions"`
	UsagePatterns    PatternsReport   `json:"usagePatterns"`
	Cluster          ClusterView      `json:"cluster"`
}

// Dashboard handles GET /dashboard. The sections are gathered concurrently;
// a store failure in any of them fails the request.
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view := DashboardView{Timestamp: h.now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		view.SystemHealth = h.systemHealth()
		return nil
	})
	g.Go(func() error {
		view.ModuleStats = h.moduleStats()
		return nil
	})
	g.Go(func() error {
		view.TierDistribution = h.tierDistribution()
		return nil
	})
	g.Go(func() error {
		var err error
		view.AIDecisions, err = h.aiDecisions(gctx, defaultDecisionDays, defaultDecisionLimit)
		return err
	})
	g.Go(func() error {
		var err error
		view.UsagePatterns, err = h.usagePatterns(gctx)
		return err
	})
	g.Go(func() error {
		view.Cluster = h.clusterView()
		return nil
	})

	if err := g.Wait(); err != nil {
		h.errorHandler.HandleError(w, r, apperrors.StoreFailure("failed to build dashboard", err))
		return
	}
	h.writeJSONResponse(w, http.StatusOK, view)
}
