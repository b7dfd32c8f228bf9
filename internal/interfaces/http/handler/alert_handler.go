package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appalerting "github.com/mspbill/backend/internal/application/alerting"
	domainalerting "github.com/mspbill/backend/internal/domain/alerting"
)

// AlertHandler handles usage alert watcher HTTP requests
type AlertHandler struct {
	BaseHandler
	alerts  domainalerting.Repository
	monitor *appalerting.MonitorService
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alerts domainalerting.Repository, monitor *appalerting.MonitorService) *AlertHandler {
	return &AlertHandler{
		alerts:  alerts,
		monitor: monitor,
	}
}

// ============================================================================
// Request/Response DTOs
// ============================================================================

// CreateAlertRequest represents an alert watcher creation request
//
//	@Description	New threshold watcher bound to a pool, bucket or commitment
type CreateAlertRequest struct {
	Name              string   `json:"name" binding:"required" example:"Acme pool 80/95"`
	EntityKind        string   `json:"entity_kind" binding:"required" example:"POOL"`
	EntityID          string   `json:"entity_id" binding:"required,uuid"`
	ClientID          *string  `json:"client_id,omitempty"`
	WarningThreshold  float64  `json:"warning_threshold" binding:"required" example:"80"`
	CriticalThreshold float64  `json:"critical_threshold" binding:"required" example:"95"`
	SuppressionWindow *string  `json:"suppression_window,omitempty" example:"1h"`
	MaxAlertsPerHour  *int     `json:"max_alerts_per_hour,omitempty" example:"4"`
	MaxAlertsPerDay   *int     `json:"max_alerts_per_day,omitempty" example:"20"`
	EscalationDelay   *string  `json:"escalation_delay,omitempty" example:"30m"`
}

// AcknowledgeAlertRequest represents an alert acknowledgement
//
//	@Description	Acknowledge a triggered alert, stopping its escalation
type AcknowledgeAlertRequest struct {
	AcknowledgedBy string `json:"acknowledged_by" binding:"required" example:"noc-operator"`
}

// AlertResponse represents a stored alert watcher
//
//	@Description	Threshold watcher with its current status
type AlertResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name" example:"Acme pool 80/95"`
	EntityKind        string     `json:"entity_kind" example:"POOL"`
	EntityID          string     `json:"entity_id"`
	ClientID          *string    `json:"client_id,omitempty"`
	WarningThreshold  string     `json:"warning_threshold" example:"80"`
	CriticalThreshold string     `json:"critical_threshold" example:"95"`
	Status            string     `json:"status" example:"TRIGGERED"`
	LastValue         string     `json:"last_value" example:"96.2"`
	LastTriggeredAt   *time.Time `json:"last_triggered_at,omitempty"`
	AcknowledgedAt    *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy    string     `json:"acknowledged_by,omitempty"`
	EscalationLevel   int        `json:"escalation_level" example:"0"`
	SuppressedCount   int        `json:"suppressed_count" example:"0"`
	Lifecycle         string     `json:"lifecycle" example:"ACTIVE"`
	CreatedAt         time.Time  `json:"created_at"`
}

// EscalationRunResponse reports an escalation sweep outcome
type EscalationRunResponse struct {
	Escalated int `json:"escalated" example:"2"`
}

func toAlertResponse(a *domainalerting.UsageAlert) AlertResponse {
	resp := AlertResponse{
		ID:                a.ID.String(),
		Name:              a.Name,
		EntityKind:        string(a.EntityKind),
		EntityID:          a.EntityID.String(),
		WarningThreshold:  a.WarningThreshold.String(),
		CriticalThreshold: a.CriticalThreshold.String(),
		Status:            string(a.Status),
		LastValue:         a.LastValue.String(),
		LastTriggeredAt:   a.LastTriggeredAt,
		AcknowledgedAt:    a.AcknowledgedAt,
		AcknowledgedBy:    a.AcknowledgedBy,
		EscalationLevel:   a.EscalationLevel,
		SuppressedCount:   a.SuppressedCount,
		Lifecycle:         string(a.Lifecycle),
		CreatedAt:         a.CreatedAt,
	}
	if a.ClientID != nil {
		id := a.ClientID.String()
		resp.ClientID = &id
	}
	return resp
}

// ============================================================================
// Handlers
// ============================================================================

// CreateAlert godoc
//
//	@ID				createAlert
//	@Summary		Create an alert watcher
//	@Description	Register a threshold watcher on a pool, bucket or commitment. The watcher is evaluated after every mutation of its entity.
//	@Tags			alerts
//	@Accept			json
//	@Produce		json
//	@Success		201	{object}	APIResponse[AlertResponse]
//	@Failure		400	{object}	dto.ErrorResponse
//	@Router			/alerts [post]
func (h *AlertHandler) CreateAlert(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	var req CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	entityID, err := uuid.Parse(req.EntityID)
	if err != nil {
		h.BadRequest(c, "Invalid entity_id")
		return
	}

	alert, err := domainalerting.NewUsageAlert(
		tenantID,
		req.Name,
		domainalerting.EntityKind(req.EntityKind),
		entityID,
		toDecimal(req.WarningThreshold),
		toDecimal(req.CriticalThreshold),
	)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if req.ClientID != nil {
		clientID, err := uuid.Parse(*req.ClientID)
		if err != nil {
			h.BadRequest(c, "Invalid client_id")
			return
		}
		alert.ForClient(clientID)
	}
	if req.SuppressionWindow != nil || req.MaxAlertsPerHour != nil || req.MaxAlertsPerDay != nil {
		window := alert.SuppressionWindow
		if req.SuppressionWindow != nil {
			window, err = time.ParseDuration(*req.SuppressionWindow)
			if err != nil {
				h.BadRequest(c, "Invalid suppression_window")
				return
			}
		}
		perHour := alert.MaxAlertsPerHour
		if req.MaxAlertsPerHour != nil {
			perHour = *req.MaxAlertsPerHour
		}
		perDay := alert.MaxAlertsPerDay
		if req.MaxAlertsPerDay != nil {
			perDay = *req.MaxAlertsPerDay
		}
		alert.WithSuppression(window, perHour, perDay)
	}
	if req.EscalationDelay != nil {
		delay, err := time.ParseDuration(*req.EscalationDelay)
		if err != nil {
			h.BadRequest(c, "Invalid escalation_delay")
			return
		}
		alert.WithEscalation(delay)
	}

	if err := h.alerts.Save(c.Request.Context(), alert); err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, toAlertResponse(alert))
}

// ListTriggered godoc
//
//	@ID				listTriggeredAlerts
//	@Summary		List triggered alerts
//	@Description	List the tenant's unacknowledged triggered alerts
//	@Tags			alerts
//	@Produce		json
//	@Success		200	{object}	APIResponse[[]AlertResponse]
//	@Router			/alerts/triggered [get]
func (h *AlertHandler) ListTriggered(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	alerts, err := h.alerts.FindTriggered(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := make([]AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		resp = append(resp, toAlertResponse(a))
	}
	h.Success(c, resp)
}

// GetAlert godoc
//
//	@ID				getAlert
//	@Summary		Get an alert watcher
//	@Description	Retrieve a single alert watcher by ID
//	@Tags			alerts
//	@Produce		json
//	@Param			id	path	string	true	"Alert ID"
//	@Success		200	{object}	APIResponse[AlertResponse]
//	@Failure		404	{object}	dto.ErrorResponse
//	@Router			/alerts/{id} [get]
func (h *AlertHandler) GetAlert(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid alert ID")
		return
	}

	alert, err := h.alerts.FindByID(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if alert.TenantID != tenantID {
		h.NotFound(c, "Alert not found")
		return
	}

	h.Success(c, toAlertResponse(alert))
}

// AcknowledgeAlert godoc
//
//	@ID				acknowledgeAlert
//	@Summary		Acknowledge an alert
//	@Description	Acknowledge a triggered alert. Acknowledged alerts stop escalating until they trigger again.
//	@Tags			alerts
//	@Accept			json
//	@Produce		json
//	@Param			id	path	string	true	"Alert ID"
//	@Success		200	{object}	APIResponse[AlertResponse]
//	@Failure		404	{object}	dto.ErrorResponse
//	@Failure		422	{object}	dto.ErrorResponse
//	@Router			/alerts/{id}/acknowledge [post]
func (h *AlertHandler) AcknowledgeAlert(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid alert ID")
		return
	}

	var req AcknowledgeAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	alert, err := h.alerts.FindByID(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if alert.TenantID != tenantID {
		h.NotFound(c, "Alert not found")
		return
	}

	if err := h.monitor.Acknowledge(c.Request.Context(), id, req.AcknowledgedBy, time.Now()); err != nil {
		h.HandleError(c, err)
		return
	}

	acked, err := h.alerts.FindByID(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toAlertResponse(acked))
}

// EscalateOverdue godoc
//
//	@ID				escalateOverdueAlerts
//	@Summary		Escalate overdue alerts
//	@Description	Run the escalation sweep for the tenant's unacknowledged alerts immediately
//	@Tags			alerts
//	@Produce		json
//	@Success		200	{object}	APIResponse[EscalationRunResponse]
//	@Router			/alerts/escalate [post]
func (h *AlertHandler) EscalateOverdue(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	escalated, err := h.monitor.EscalateOverdue(c.Request.Context(), tenantID, time.Now())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, EscalationRunResponse{Escalated: escalated})
}

// RegisterRoutes registers all alert routes
func (h *AlertHandler) RegisterRoutes(rg *gin.RouterGroup) {
	alerts := rg.Group("/alerts")
	{
		alerts.POST("", h.CreateAlert)
		alerts.GET("/triggered", h.ListTriggered)
		alerts.GET("/:id", h.GetAlert)
		alerts.POST("/:id/acknowledge", h.AcknowledgeAlert)
		alerts.POST("/escalate", h.EscalateOverdue)
	}
}
