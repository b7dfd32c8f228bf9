package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appagg "github.com/mspbill/backend/internal/application/aggregation"
	domainagg "github.com/mspbill/backend/internal/domain/aggregation"
	domainrating "github.com/mspbill/backend/internal/domain/rating"
)

// AggregationTrigger schedules an out-of-band rollup recomputation for one
// tenant, typically backed by the sweep scheduler
type AggregationTrigger interface {
	TriggerTenantAggregation(ctx context.Context, tenantID uuid.UUID, asOf time.Time) error
	GetStatus() map[string]any
}

// AggregationHandler handles usage rollup query HTTP requests
type AggregationHandler struct {
	BaseHandler
	service *appagg.Service
	trigger AggregationTrigger
}

// NewAggregationHandler creates a new aggregation handler
func NewAggregationHandler(service *appagg.Service, trigger AggregationTrigger) *AggregationHandler {
	return &AggregationHandler{
		service: service,
		trigger: trigger,
	}
}

// ============================================================================
// Request/Response DTOs
// ============================================================================

// AggregationResponse represents one usage rollup row
//
//	@Description	Pre-computed usage rollup for one client, usage type and period
type AggregationResponse struct {
	ID               string    `json:"id"`
	ClientID         string    `json:"client_id"`
	UsageType        string    `json:"usage_type" example:"VOICE"`
	ServiceType      string    `json:"service_type" example:"SIP_TRUNK"`
	Level            string    `json:"level" example:"DAILY"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	TransactionCount int64     `json:"transaction_count" example:"1042"`
	TotalQuantity    string    `json:"total_quantity" example:"5210.5"`
	IncludedQuantity string    `json:"included_quantity" example:"5000"`
	OverageQuantity  string    `json:"overage_quantity" example:"210.5"`
	PeakQuantity     string    `json:"peak_quantity" example:"1840"`
	OffPeakQuantity  string    `json:"off_peak_quantity" example:"3370.5"`
	Currency         string    `json:"currency" example:"USD"`
	TotalRevenue     string    `json:"total_revenue" example:"312.63"`
	TotalTax         string    `json:"total_tax" example:"25.79"`
	TotalCost        string    `json:"total_cost" example:"198.40"`
	MarginPct        string    `json:"margin_pct" example:"30.84"`
	ErrorRatePct     string    `json:"error_rate_pct" example:"0.19"`
	ComputedAt       time.Time `json:"computed_at"`
}

// RecomputeAggregationRequest asks for a tenant's rollups to be rebuilt
//
//	@Description	Recompute rollups for the period containing as_of
type RecomputeAggregationRequest struct {
	AsOf time.Time `json:"as_of" binding:"required"`
}

// RecomputeAggregationResponse acknowledges a scheduled recomputation
type RecomputeAggregationResponse struct {
	Scheduled bool      `json:"scheduled" example:"true"`
	AsOf      time.Time `json:"as_of"`
}

func toAggregationResponse(a *domainagg.UsageAggregation) AggregationResponse {
	return AggregationResponse{
		ID:               a.ID.String(),
		ClientID:         a.ClientID.String(),
		UsageType:        string(a.UsageType),
		ServiceType:      string(a.ServiceType),
		Level:            string(a.Level),
		PeriodStart:      a.PeriodStart,
		PeriodEnd:        a.PeriodEnd,
		TransactionCount: a.TransactionCount,
		TotalQuantity:    a.TotalQuantity.String(),
		IncludedQuantity: a.IncludedQuantity.String(),
		OverageQuantity:  a.OverageQuantity.String(),
		PeakQuantity:     a.PeakQuantity.String(),
		OffPeakQuantity:  a.OffPeakQuantity().String(),
		Currency:         string(a.Currency),
		TotalRevenue:     a.TotalRevenue.String(),
		TotalTax:         a.TotalTax.String(),
		TotalCost:        a.TotalCost.String(),
		MarginPct:        a.Margin().StringFixed(2),
		ErrorRatePct:     a.ErrorRate().StringFixed(2),
		ComputedAt:       a.ComputedAt,
	}
}

func parseAggregationFilter(c *gin.Context) (domainagg.Filter, error) {
	var filter domainagg.Filter

	level := domainagg.AggregationLevel(c.DefaultQuery("level", string(domainagg.LevelDaily)))
	if !level.IsValid() {
		return filter, fmt.Errorf("invalid level %q", string(level))
	}
	filter.Level = level

	if raw := c.Query("client_id"); raw != "" {
		clientID, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid client_id: %w", err)
		}
		filter.ClientID = &clientID
	}
	for _, raw := range c.QueryArray("usage_type") {
		ut, ok := domainrating.ParseUsageType(raw)
		if !ok {
			return filter, fmt.Errorf("invalid usage_type %q", raw)
		}
		filter.UsageTypes = append(filter.UsageTypes, ut)
	}

	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid from: %w", err)
		}
		filter.From = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid to: %w", err)
		}
		filter.To = t
	}

	return filter, nil
}

// ============================================================================
// Handlers
// ============================================================================

// QueryAggregations godoc
//
//	@ID				queryAggregations
//	@Summary		Query usage rollups
//	@Description	Query pre-computed usage rollups by level, client, usage type and period
//	@Tags			aggregations
//	@Produce		json
//	@Param			level		query	string	false	"Rollup level (DAILY, WEEKLY, MONTHLY)"	default(DAILY)
//	@Param			client_id	query	string	false	"Filter by client ID"
//	@Param			usage_type	query	string	false	"Filter by usage type (repeatable)"
//	@Param			from		query	string	false	"RFC3339 period lower bound"
//	@Param			to			query	string	false	"RFC3339 period upper bound"
//	@Success		200	{object}	APIResponse[[]AggregationResponse]
//	@Failure		400	{object}	dto.ErrorResponse
//	@Router			/aggregations [get]
func (h *AggregationHandler) QueryAggregations(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	filter, err := parseAggregationFilter(c)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	rollups, err := h.service.Query(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := make([]AggregationResponse, 0, len(rollups))
	for _, a := range rollups {
		resp = append(resp, toAggregationResponse(a))
	}
	h.Success(c, resp)
}

// RecomputeAggregations godoc
//
//	@ID				recomputeAggregations
//	@Summary		Recompute usage rollups
//	@Description	Schedule a rebuild of the tenant's rollups for the periods containing as_of. Rollups are recomputed from rated events, so a rebuild is always safe.
//	@Tags			aggregations
//	@Accept			json
//	@Produce		json
//	@Success		202	{object}	APIResponse[RecomputeAggregationResponse]
//	@Failure		400	{object}	dto.ErrorResponse
//	@Router			/aggregations/recompute [post]
func (h *AggregationHandler) RecomputeAggregations(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	var req RecomputeAggregationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	if err := h.trigger.TriggerTenantAggregation(c.Request.Context(), tenantID, req.AsOf); err != nil {
		h.HandleError(c, err)
		return
	}

	h.Accepted(c, RecomputeAggregationResponse{Scheduled: true, AsOf: req.AsOf})
}

// GetSchedulerStatus godoc
//
//	@ID				getAggregationSchedulerStatus
//	@Summary		Get sweep scheduler status
//	@Description	Report the nightly sweep scheduler's configuration and last/next run times
//	@Tags			aggregations
//	@Produce		json
//	@Success		200	{object}	APIResponse[map[string]any]
//	@Router			/aggregations/scheduler/status [get]
func (h *AggregationHandler) GetSchedulerStatus(c *gin.Context) {
	h.Success(c, h.trigger.GetStatus())
}

// RegisterRoutes registers all aggregation routes
func (h *AggregationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	aggs := rg.Group("/aggregations")
	{
		aggs.GET("", h.QueryAggregations)
		aggs.POST("/recompute", h.RecomputeAggregations)
		aggs.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}
