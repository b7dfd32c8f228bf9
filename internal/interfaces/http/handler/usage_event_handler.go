package handler

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apprating "github.com/mspbill/backend/internal/application/rating"
	domainrating "github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/infrastructure/cdrfile"
)

// defaultMaxBatchSize bounds batch submissions when no limit is configured
const defaultMaxBatchSize = 1000

// UsageEventHandler handles usage event ingestion and query HTTP requests
type UsageEventHandler struct {
	BaseHandler
	ingestion    *apprating.IngestionService
	events       domainrating.UsageEventRepository
	importer     *apprating.CDRImportService
	maxBatchSize int
}

// NewUsageEventHandler creates a new usage event handler
func NewUsageEventHandler(ingestion *apprating.IngestionService, events domainrating.UsageEventRepository) *UsageEventHandler {
	return &UsageEventHandler{
		ingestion:    ingestion,
		events:       events,
		maxBatchSize: defaultMaxBatchSize,
	}
}

// SetMaxBatchSize overrides the per-request event cap for batch ingestion
func (h *UsageEventHandler) SetMaxBatchSize(n int) {
	if n > 0 {
		h.maxBatchSize = n
	}
}

// SetImportService enables the CSV file import endpoint
func (h *UsageEventHandler) SetImportService(s *apprating.CDRImportService) {
	h.importer = s
}

// ============================================================================
// Request/Response DTOs
// ============================================================================

// IngestEventRequest represents a single usage event submission
//
//	@Description	One metered transaction (CDR, data session, SMS or API call)
type IngestEventRequest struct {
	TransactionID string         `json:"transaction_id" binding:"required" example:"cdr-2026-07-10-000123"`
	ClientID      string         `json:"client_id" binding:"required,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	UsageType     string         `json:"usage_type" binding:"required" example:"VOICE"`
	ServiceType   string         `json:"service_type" binding:"required" example:"SIP_TRUNK"`
	Quantity      float64        `json:"quantity" binding:"required" example:"12.5"`
	StartTime     time.Time      `json:"start_time" binding:"required" example:"2026-07-10T09:30:00Z"`
	EndTime       time.Time      `json:"end_time" binding:"required" example:"2026-07-10T09:42:30Z"`
	Origination   string         `json:"origination,omitempty" example:"1212"`
	Destination   string         `json:"destination,omitempty" example:"44"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// IngestBatchRequest represents a batch of usage events submitted together.
// Batches are an operational grouping: each event commits independently.
//
//	@Description	Batch of usage events sharing a batch identifier
type IngestBatchRequest struct {
	BatchID string               `json:"batch_id" binding:"required" example:"switch-7-20260710"`
	Events  []IngestEventRequest `json:"events" binding:"required,min=1,dive"`
}

// EventOutcomeResponse reports what happened to one submitted event
//
//	@Description	Per-event ingestion outcome
type EventOutcomeResponse struct {
	TransactionID string  `json:"transaction_id" example:"cdr-2026-07-10-000123"`
	EventID       string  `json:"event_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Status        string  `json:"status" example:"RATED"`
	RatedEventID  *string `json:"rated_event_id,omitempty"`
	Duplicate     bool    `json:"duplicate" example:"false"`
	Blocked       bool    `json:"blocked" example:"false"`
	Error         string  `json:"error,omitempty"`
}

// BatchReportResponse summarizes a batch ingestion run
//
//	@Description	Batch ingestion summary with per-event outcomes
type BatchReportResponse struct {
	BatchID     string                 `json:"batch_id" example:"switch-7-20260710"`
	Received    int                    `json:"received" example:"100"`
	Rated       int                    `json:"rated" example:"97"`
	Duplicates  int                    `json:"duplicates" example:"1"`
	Unrated     int                    `json:"unrated" example:"2"`
	Failed      int                    `json:"failed" example:"0"`
	Blocked     int                    `json:"blocked" example:"0"`
	Canceled    bool                   `json:"canceled" example:"false"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	Outcomes    []EventOutcomeResponse `json:"outcomes"`
}

// UsageEventResponse represents a stored usage event
//
//	@Description	Usage event with its pipeline status
type UsageEventResponse struct {
	ID            string         `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	TransactionID string         `json:"transaction_id" example:"cdr-2026-07-10-000123"`
	ClientID      string         `json:"client_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	UsageType     string         `json:"usage_type" example:"VOICE"`
	ServiceType   string         `json:"service_type" example:"SIP_TRUNK"`
	Quantity      string         `json:"quantity" example:"12.5"`
	Unit          string         `json:"unit" example:"MINUTES"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	Origination   string         `json:"origination,omitempty" example:"1212"`
	Destination   string         `json:"destination,omitempty" example:"44"`
	BatchID       string         `json:"batch_id,omitempty" example:"switch-7-20260710"`
	Status        string         `json:"status" example:"RATED"`
	StatusReason  string         `json:"status_reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// RecordErrorResponse reports one rejected line in an imported file
//
//	@Description	A usage record rejected during file import
type RecordErrorResponse struct {
	Line    int    `json:"line" example:"17"`
	Column  string `json:"column,omitempty" example:"quantity"`
	Code    string `json:"code" example:"ERR_CDR_INVALID_FIELD"`
	Message string `json:"message" example:"quantity must be a decimal number"`
	Value   string `json:"value,omitempty" example:"12,5"`
}

// FileImportResponse summarizes an imported usage record file
//
//	@Description	File import summary with per-line rejections and the batch rating report
type FileImportResponse struct {
	FileName        string                `json:"file_name" example:"switch7-20260710.csv"`
	BatchID         string                `json:"batch_id" example:"switch-7-20260710"`
	TotalRecords    int                   `json:"total_records" example:"1000"`
	Accepted        int                   `json:"accepted" example:"997"`
	Rejected        int                   `json:"rejected" example:"3"`
	Errors          []RecordErrorResponse `json:"errors,omitempty"`
	ErrorsTruncated bool                  `json:"errors_truncated" example:"false"`
	Report          *BatchReportResponse  `json:"report,omitempty"`
}

// EventStatusCountsResponse reports per-status event counts for a tenant
//
//	@Description	Usage event counts grouped by pipeline status
type EventStatusCountsResponse struct {
	Counts map[string]int64 `json:"counts"`
}

func (r *IngestEventRequest) toDomain(tenantID uuid.UUID) (*domainrating.UsageEvent, error) {
	clientID, err := uuid.Parse(r.ClientID)
	if err != nil {
		return nil, fmt.Errorf("invalid client_id: %w", err)
	}

	event, err := domainrating.NewUsageEvent(
		r.TransactionID,
		tenantID,
		clientID,
		domainrating.UsageType(r.UsageType),
		domainrating.ServiceType(r.ServiceType),
		toDecimal(r.Quantity),
		r.StartTime,
		r.EndTime,
	)
	if err != nil {
		return nil, err
	}

	if r.Origination != "" || r.Destination != "" {
		event.WithGeography(r.Origination, r.Destination)
	}
	for k, v := range r.Metadata {
		event.WithMetadata(k, v)
	}

	return event, nil
}

func toOutcomeResponse(o apprating.EventOutcome) EventOutcomeResponse {
	resp := EventOutcomeResponse{
		TransactionID: o.TransactionID,
		EventID:       o.EventID.String(),
		Status:        string(o.Status),
		Duplicate:     o.Duplicate,
		Blocked:       o.Blocked,
		Error:         o.Error,
	}
	if o.RatedEventID != nil {
		id := o.RatedEventID.String()
		resp.RatedEventID = &id
	}
	return resp
}

func toEventResponse(e *domainrating.UsageEvent) UsageEventResponse {
	return UsageEventResponse{
		ID:            e.ID.String(),
		TransactionID: e.TransactionID,
		ClientID:      e.ClientID.String(),
		UsageType:     string(e.UsageType),
		ServiceType:   string(e.ServiceType),
		Quantity:      e.Quantity.String(),
		Unit:          string(e.Unit),
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		Origination:   e.Origination,
		Destination:   e.Destination,
		BatchID:       e.BatchID,
		Status:        string(e.Status),
		StatusReason:  e.StatusReason,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
	}
}

// parseEventFilter builds an event filter from query parameters
func parseEventFilter(c *gin.Context) (domainrating.EventFilter, error) {
	filter := domainrating.DefaultEventFilter()

	if raw := c.Query("client_id"); raw != "" {
		clientID, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid client_id: %w", err)
		}
		filter = filter.WithClient(clientID)
	}
	for _, raw := range c.QueryArray("usage_type") {
		ut, ok := domainrating.ParseUsageType(raw)
		if !ok {
			return filter, fmt.Errorf("invalid usage_type %q", raw)
		}
		filter.UsageTypes = append(filter.UsageTypes, ut)
	}
	if raw := c.Query("service_type"); raw != "" {
		st := domainrating.ServiceType(raw)
		if !st.IsValid() {
			return filter, fmt.Errorf("invalid service_type %q", raw)
		}
		filter.ServiceType = st
	}
	if raw := c.Query("status"); raw != "" {
		status := domainrating.EventStatus(raw)
		if !status.IsValid() {
			return filter, fmt.Errorf("invalid status %q", raw)
		}
		filter.Status = status
	}
	filter.BatchID = c.Query("batch_id")

	if raw := c.Query("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid start_time: %w", err)
		}
		filter.StartTime = &t
	}
	if raw := c.Query("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid end_time: %w", err)
		}
		filter.EndTime = &t
	}

	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return filter, fmt.Errorf("invalid page %q", raw)
		}
		filter.Page = page
	}
	if raw := c.Query("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 || size > 1000 {
			return filter, fmt.Errorf("invalid page_size %q", raw)
		}
		filter.PageSize = size
	}

	return filter, nil
}

// ============================================================================
// Handlers
// ============================================================================

// IngestEvent godoc
//
//	@ID				ingestUsageEvent
//	@Summary		Ingest a usage event
//	@Description	Submit one metered transaction for rating. Resubmitting a transaction ID returns the original outcome without re-processing.
//	@Tags			usage-events
//	@Accept			json
//	@Produce		json
//	@Success		201	{object}	APIResponse[EventOutcomeResponse]
//	@Success		200	{object}	APIResponse[EventOutcomeResponse]
//	@Failure		400	{object}	dto.ErrorResponse
//	@Failure		422	{object}	dto.ErrorResponse
//	@Router			/usage/events [post]
func (h *UsageEventHandler) IngestEvent(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	var req IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	event, err := req.toDomain(tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	outcome := h.ingestion.Ingest(c.Request.Context(), event)
	if outcome.Duplicate {
		// Idempotent replay: not an error, but nothing new was created
		h.Success(c, toOutcomeResponse(outcome))
		return
	}

	h.Created(c, toOutcomeResponse(outcome))
}

// IngestBatch godoc
//
//	@ID				ingestUsageEventBatch
//	@Summary		Ingest a batch of usage events
//	@Description	Submit multiple usage events under one batch ID. Events are processed independently; the report lists per-event outcomes.
//	@Tags			usage-events
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	APIResponse[BatchReportResponse]
//	@Failure		400	{object}	dto.ErrorResponse
//	@Router			/usage/events/batch [post]
func (h *UsageEventHandler) IngestBatch(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	var req IngestBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	if len(req.Events) > h.maxBatchSize {
		h.BadRequest(c, fmt.Sprintf("batch exceeds maximum size of %d events", h.maxBatchSize))
		return
	}

	events := make([]*domainrating.UsageEvent, 0, len(req.Events))
	for i := range req.Events {
		event, err := req.Events[i].toDomain(tenantID)
		if err != nil {
			h.BadRequest(c, fmt.Sprintf("event %d: %v", i, err))
			return
		}
		events = append(events, event)
	}

	report := h.ingestion.IngestBatch(c.Request.Context(), req.BatchID, events)

	h.Success(c, toBatchReportResponse(report))
}

func toBatchReportResponse(report *apprating.BatchReport) BatchReportResponse {
	resp := BatchReportResponse{
		BatchID:     report.BatchID,
		Received:    report.Received,
		Rated:       report.Rated,
		Duplicates:  report.Duplicates,
		Unrated:     report.Unrated,
		Failed:      report.Failed,
		Blocked:     report.Blocked,
		Canceled:    report.Canceled,
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
		Outcomes:    make([]EventOutcomeResponse, 0, len(report.Outcomes)),
	}
	for _, o := range report.Outcomes {
		resp.Outcomes = append(resp.Outcomes, toOutcomeResponse(o))
	}
	return resp
}

// ImportFile godoc
//
//	@ID				importUsageEventFile
//	@Summary		Import a usage record file
//	@Description	Upload a CSV of usage records (CDR export). Valid records are rated as one batch; rejected lines are reported individually.
//	@Tags			usage-events
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file		formData	file	true	"CSV usage record file"
//	@Param			batch_id	formData	string	false	"Batch identifier, defaults to the file name"
//	@Success		200	{object}	APIResponse[FileImportResponse]
//	@Failure		400	{object}	dto.ErrorResponse
//	@Router			/usage/events/import [post]
func (h *UsageEventHandler) ImportFile(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}
	if h.importer == nil {
		h.NotFound(c, "File import is not enabled")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.BadRequest(c, "A CSV file upload named 'file' is required")
		return
	}

	batchID := c.PostForm("batch_id")
	if batchID == "" {
		batchID = fileHeader.Filename
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.BadRequest(c, "Could not read uploaded file")
		return
	}
	defer file.Close()

	result, err := h.importer.Import(c.Request.Context(), tenantID, batchID, fileHeader.Filename, file)
	switch {
	case errors.Is(err, cdrfile.ErrEmptyFile),
		errors.Is(err, cdrfile.ErrInvalidEncoding),
		errors.Is(err, cdrfile.ErrMissingHeader),
		errors.Is(err, cdrfile.ErrNoRecords):
		h.BadRequest(c, err.Error())
		return
	case err != nil:
		h.HandleError(c, err)
		return
	}

	resp := FileImportResponse{
		FileName:        result.FileName,
		BatchID:         batchID,
		TotalRecords:    result.TotalRecords,
		Accepted:        result.Accepted,
		Rejected:        result.Rejected,
		ErrorsTruncated: result.ErrorsTruncated,
	}
	for _, re := range result.RecordErrors {
		resp.Errors = append(resp.Errors, RecordErrorResponse{
			Line:    re.Line,
			Column:  re.Column,
			Code:    re.Code,
			Message: re.Message,
			Value:   re.Value,
		})
	}
	if result.Report != nil {
		report := toBatchReportResponse(result.Report)
		resp.Report = &report
	}

	h.Success(c, resp)
}

// ListEvents godoc
//
//	@ID				listUsageEvents
//	@Summary		List usage events
//	@Description	List the tenant's usage events filtered by client, type, status, batch and time range
//	@Tags			usage-events
//	@Produce		json
//	@Param			client_id		query	string	false	"Filter by client ID"
//	@Param			usage_type		query	string	false	"Filter by usage type (repeatable)"
//	@Param			service_type	query	string	false	"Filter by service type"
//	@Param			status			query	string	false	"Filter by pipeline status"
//	@Param			batch_id		query	string	false	"Filter by batch ID"
//	@Param			start_time		query	string	false	"RFC3339 lower bound on event start"
//	@Param			end_time		query	string	false	"RFC3339 upper bound on event start"
//	@Param			page			query	int		false	"Page number"
//	@Param			page_size		query	int		false	"Page size (max 1000)"
//	@Success		200	{object}	APIResponse[[]UsageEventResponse]
//	@Failure		400	{object}	dto.ErrorResponse
//	@Router			/usage/events [get]
func (h *UsageEventHandler) ListEvents(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	filter, err := parseEventFilter(c)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	events, err := h.events.FindByTenant(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := make([]UsageEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toEventResponse(e))
	}
	h.Success(c, resp)
}

// ListUnrated godoc
//
//	@ID				listUnratedUsageEvents
//	@Summary		List unrated usage events
//	@Description	List events parked because no pricing rule matched, for manual review
//	@Tags			usage-events
//	@Produce		json
//	@Success		200	{object}	APIResponse[[]UsageEventResponse]
//	@Failure		400	{object}	dto.ErrorResponse
//	@Router			/usage/events/unrated [get]
func (h *UsageEventHandler) ListUnrated(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	filter, err := parseEventFilter(c)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	events, err := h.events.FindUnrated(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := make([]UsageEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toEventResponse(e))
	}
	h.Success(c, resp)
}

// GetEvent godoc
//
//	@ID				getUsageEvent
//	@Summary		Get a usage event
//	@Description	Retrieve a single usage event by ID
//	@Tags			usage-events
//	@Produce		json
//	@Param			id	path	string	true	"Usage event ID"
//	@Success		200	{object}	APIResponse[UsageEventResponse]
//	@Failure		404	{object}	dto.ErrorResponse
//	@Router			/usage/events/{id} [get]
func (h *UsageEventHandler) GetEvent(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid event ID")
		return
	}

	event, err := h.events.FindByID(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if event.TenantID != tenantID {
		h.NotFound(c, "Usage event not found")
		return
	}

	h.Success(c, toEventResponse(event))
}

// GetEventStats godoc
//
//	@ID				getUsageEventStats
//	@Summary		Get usage event status counts
//	@Description	Count the tenant's usage events per pipeline status
//	@Tags			usage-events
//	@Produce		json
//	@Success		200	{object}	APIResponse[EventStatusCountsResponse]
//	@Router			/usage/events/stats [get]
func (h *UsageEventHandler) GetEventStats(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	counts, err := h.events.CountByStatus(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := EventStatusCountsResponse{Counts: make(map[string]int64, len(counts))}
	for status, n := range counts {
		resp.Counts[string(status)] = n
	}
	h.Success(c, resp)
}

// RegisterRoutes registers all usage event routes
func (h *UsageEventHandler) RegisterRoutes(rg *gin.RouterGroup) {
	events := rg.Group("/usage/events")
	{
		events.POST("", h.IngestEvent)
		events.POST("/batch", h.IngestBatch)
		events.POST("/import", h.ImportFile)
		events.GET("", h.ListEvents)
		events.GET("/unrated", h.ListUnrated)
		events.GET("/stats", h.GetEventStats)
		events.GET("/:id", h.GetEvent)
	}
}
