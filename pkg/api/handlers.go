package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/platinummonkey/beacon/pkg/async"
	"github.com/platinummonkey/beacon/pkg/httputil"
	"github.com/platinummonkey/beacon/pkg/metric"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/scheduler"
)

// MetricResponse is the body of a single metric read
type MetricResponse struct {
	TenantID string        `json:"tenant_id"`
	Kind     metric.Kind   `json:"kind"`
	Value    metric.Result `json:"value"`
	Degraded bool          `json:"degraded,omitempty"`
}

// TierInfo describes one configured tier
type TierInfo struct {
	Name     string        `json:"name"`
	Kinds    []metric.Kind `json:"kinds"`
	Schedule string        `json:"schedule"`
	TTL      string        `json:"ttl"`
	Timeout  string        `json:"timeout"`
	Purge    bool          `json:"purge"`
}

// RunAccepted is returned for a tier run started in the background
type RunAccepted struct {
	Tier   string `json:"tier"`
	Status string `json:"status"`
}

func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	tenant, ok := httputil.ParsePathStringOrError(w, r, "tenant")
	if !ok {
		return
	}

	ctx := observability.WithTenantID(r.Context(), tenant)
	httputil.WriteJSON(w, http.StatusOK, s.dashboard.Dashboard(ctx, tenant))
}

func (s *Server) getMetric(w http.ResponseWriter, r *http.Request) {
	tenant, kind, ok := tenantAndKind(w, r)
	if !ok {
		return
	}
	ttl, err := httputil.ParseQueryDuration(r, "ttl", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	ctx := observability.WithTenantID(r.Context(), tenant)
	res, computed := s.dashboard.GetOrCompute(ctx, tenant, kind, ttl)
	httputil.WriteJSON(w, http.StatusOK, MetricResponse{
		TenantID: tenant,
		Kind:     kind,
		Value:    res,
		Degraded: !computed,
	})
}

func (s *Server) invalidateMetric(w http.ResponseWriter, r *http.Request) {
	tenant, kind, ok := tenantAndKind(w, r)
	if !ok {
		return
	}

	ctx := observability.WithTenantID(r.Context(), tenant)
	if err := s.dashboard.Invalidate(ctx, tenant, kind); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("metric_kind", string(kind)).Error("Failed to invalidate metric")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) listTiers(w http.ResponseWriter, r *http.Request) {
	tiers := s.runner.Tiers()
	out := make([]TierInfo, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, TierInfo{
			Name:     t.Name,
			Kinds:    t.Kinds,
			Schedule: t.Schedule,
			TTL:      t.TTL.String(),
			Timeout:  t.Timeout.String(),
			Purge:    t.Purge,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// runTier runs a tier now. With ?async=true it returns 202 immediately and the
// run continues in the background.
func (s *Server) runTier(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "tier")
	if !ok {
		return
	}
	tier, err := s.runner.Tiers().Get(name)
	if err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	background, err := httputil.ParseQueryBool(r, "async", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if background {
		async.SafeGo(s.baseCtx, s.logger, asyncRunBudget, tier.Source(), func(ctx context.Context) error {
			summary := s.runner.Run(ctx, tier)
			if summary.Status() == scheduler.StatusFailed {
				return fmt.Errorf("%s tier run %s failed: %s", tier.Name, summary.RunID, summary.Failure)
			}
			return nil
		})
		httputil.WriteAccepted(w, RunAccepted{Tier: tier.Name, Status: "accepted"})
		return
	}

	summary := s.runner.Run(r.Context(), tier)
	status := http.StatusOK
	if summary.Status() == scheduler.StatusFailed {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, summary)
}

func tenantAndKind(w http.ResponseWriter, r *http.Request) (string, metric.Kind, bool) {
	tenant, ok := httputil.ParsePathStringOrError(w, r, "tenant")
	if !ok {
		return "", "", false
	}
	raw, ok := httputil.ParsePathStringOrError(w, r, "kind")
	if !ok {
		return "", "", false
	}
	kind, err := metric.ParseKind(raw)
	if err != nil {
		httputil.WriteDetailedError(w, http.StatusBadRequest, err.Error(), map[string]string{"kind": raw})
		return "", "", false
	}
	return tenant, kind, true
}
