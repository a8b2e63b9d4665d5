package billing

import (
	"context"
	"net/http"

	"github.com/leaflabhq/leaflab-backend/api/responses"
	billingsvc "github.com/leaflabhq/leaflab-backend/internal/billing"
	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
	"github.com/leaflabhq/leaflab-backend/pkg/logger"
)

// PlanCatalogService lists the sellable plans for the pricing page.
type PlanCatalogService interface {
	ListActivePlans(ctx context.Context) ([]models.BillingPlan, error)
}

type planListResponse struct {
	Plans []billingsvc.PlanDTO `json:"plans"`
}

// PublicPlans serves the plan catalog. The endpoint is unauthenticated; the
// pricing page renders before sign-in.
func PublicPlans(svc PlanCatalogService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		plans, err := svc.ListActivePlans(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list billing plans"))
			return
		}

		out := make([]billingsvc.PlanDTO, 0, len(plans))
		for i := range plans {
			out = append(out, *billingsvc.PlanFromModel(&plans[i]))
		}
		responses.WriteSuccess(w, planListResponse{Plans: out})
	}
}
