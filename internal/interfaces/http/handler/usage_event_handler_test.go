package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainrating "github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/interfaces/http/dto"
)

// mockUsageEventRepository is an in-memory stand-in for the event store
type mockUsageEventRepository struct {
	events []*domainrating.UsageEvent
	counts map[domainrating.EventStatus]int64
	err    error
}

func (m *mockUsageEventRepository) Save(ctx context.Context, event *domainrating.UsageEvent) error {
	m.events = append(m.events, event)
	return m.err
}

func (m *mockUsageEventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domainrating.EventStatus, reason string) error {
	return m.err
}

func (m *mockUsageEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*domainrating.UsageEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, e := range m.events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockUsageEventRepository) FindByTransactionID(ctx context.Context, tenantID uuid.UUID, transactionID string) (*domainrating.UsageEvent, error) {
	return nil, shared.ErrNotFound
}

func (m *mockUsageEventRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID, filter domainrating.EventFilter) ([]*domainrating.UsageEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*domainrating.UsageEvent
	for _, e := range m.events {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockUsageEventRepository) FindUnrated(ctx context.Context, tenantID uuid.UUID, filter domainrating.EventFilter) ([]*domainrating.UsageEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*domainrating.UsageEvent
	for _, e := range m.events {
		if e.TenantID == tenantID && e.Status == domainrating.EventStatusUnrated {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockUsageEventRepository) CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[domainrating.EventStatus]int64, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.counts, nil
}

func newTestEvent(t *testing.T, tenantID uuid.UUID, status domainrating.EventStatus) *domainrating.UsageEvent {
	t.Helper()
	event, err := domainrating.NewUsageEvent(
		"txn-"+uuid.NewString(),
		tenantID,
		uuid.New(),
		domainrating.UsageTypeVoice,
		domainrating.ServiceTypeSIPTrunk,
		decimal.NewFromFloat(12.5),
		time.Date(2026, 7, 10, 9, 30, 0, 0, time.UTC),
		time.Date(2026, 7, 10, 9, 42, 30, 0, time.UTC),
	)
	require.NoError(t, err)
	event.Status = status
	return event
}

func setupEventRouter(repo *mockUsageEventRepository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewUsageEventHandler(nil, repo)
	engine := gin.New()
	api := engine.Group("/api/v1")
	h.RegisterRoutes(api)
	return engine
}

func TestUsageEventHandler_ListEvents(t *testing.T) {
	tenantID := uuid.New()
	repo := &mockUsageEventRepository{
		events: []*domainrating.UsageEvent{
			newTestEvent(t, tenantID, domainrating.EventStatusRated),
			newTestEvent(t, tenantID, domainrating.EventStatusUnrated),
			newTestEvent(t, uuid.New(), domainrating.EventStatusRated),
		},
	}
	engine := setupEventRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/usage/events", nil)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                 `json:"success"`
		Data    []UsageEventResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Len(t, resp.Data, 2)
}

func TestUsageEventHandler_ListEvents_RequiresTenant(t *testing.T) {
	engine := setupEventRouter(&mockUsageEventRepository{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/usage/events", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUsageEventHandler_ListEvents_InvalidFilter(t *testing.T) {
	tenantID := uuid.New()
	engine := setupEventRouter(&mockUsageEventRepository{})

	tests := []struct {
		name  string
		query string
	}{
		{"bad client_id", "?client_id=not-a-uuid"},
		{"bad usage_type", "?usage_type=TELEPATHY"},
		{"bad status", "?status=MAYBE"},
		{"bad page", "?page=0"},
		{"bad page_size", "?page_size=10000"},
		{"bad start_time", "?start_time=yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/usage/events"+tt.query, nil)
			req.Header.Set("X-Tenant-ID", tenantID.String())
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestUsageEventHandler_ListUnrated(t *testing.T) {
	tenantID := uuid.New()
	repo := &mockUsageEventRepository{
		events: []*domainrating.UsageEvent{
			newTestEvent(t, tenantID, domainrating.EventStatusRated),
			newTestEvent(t, tenantID, domainrating.EventStatusUnrated),
		},
	}
	engine := setupEventRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/usage/events/unrated", nil)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []UsageEventResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, string(domainrating.EventStatusUnrated), resp.Data[0].Status)
}

func TestUsageEventHandler_GetEvent(t *testing.T) {
	tenantID := uuid.New()
	event := newTestEvent(t, tenantID, domainrating.EventStatusRated)
	repo := &mockUsageEventRepository{events: []*domainrating.UsageEvent{event}}
	engine := setupEventRouter(repo)

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/usage/events/"+event.ID.String(), nil)
		req.Header.Set("X-Tenant-ID", tenantID.String())
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data UsageEventResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, event.TransactionID, resp.Data.TransactionID)
		assert.Equal(t, "VOICE", resp.Data.UsageType)
	})

	t.Run("invalid id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/usage/events/not-a-uuid", nil)
		req.Header.Set("X-Tenant-ID", tenantID.String())
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong tenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/usage/events/"+event.ID.String(), nil)
		req.Header.Set("X-Tenant-ID", uuid.NewString())
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUsageEventHandler_GetEventStats(t *testing.T) {
	tenantID := uuid.New()
	repo := &mockUsageEventRepository{
		counts: map[domainrating.EventStatus]int64{
			domainrating.EventStatusRated:   97,
			domainrating.EventStatusUnrated: 3,
		},
	}
	engine := setupEventRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/usage/events/stats", nil)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data EventStatusCountsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(97), resp.Data.Counts["RATED"])
	assert.Equal(t, int64(3), resp.Data.Counts["UNRATED"])
}

func TestUsageEventHandler_IngestEvent_BadJSON(t *testing.T) {
	tenantID := uuid.New()
	engine := setupEventRouter(&mockUsageEventRepository{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/usage/events", strings.NewReader("{not json"))
	req.Header.Set("X-Tenant-ID", tenantID.String())
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
}

func TestUsageEventHandler_IngestBatch_InvalidRow(t *testing.T) {
	tenantID := uuid.New()
	engine := setupEventRouter(&mockUsageEventRepository{})

	// Second event has end before start; it must be rejected before any
	// pipeline work starts
	body := `{
		"batch_id": "switch-7-20260710",
		"events": [
			{
				"transaction_id": "txn-1",
				"client_id": "` + uuid.NewString() + `",
				"usage_type": "VOICE",
				"service_type": "SIP_TRUNK",
				"quantity": 5,
				"start_time": "2026-07-10T09:30:00Z",
				"end_time": "2026-07-10T09:35:00Z"
			},
			{
				"transaction_id": "txn-2",
				"client_id": "` + uuid.NewString() + `",
				"usage_type": "VOICE",
				"service_type": "SIP_TRUNK",
				"quantity": 5,
				"start_time": "2026-07-10T09:30:00Z",
				"end_time": "2026-07-10T09:15:00Z"
			}
		]
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/usage/events/batch", strings.NewReader(body))
	req.Header.Set("X-Tenant-ID", tenantID.String())
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "event 1")
}

func TestUsageEventHandler_IngestBatch_TooLarge(t *testing.T) {
	tenantID := uuid.New()
	gin.SetMode(gin.TestMode)
	h := NewUsageEventHandler(nil, &mockUsageEventRepository{})
	h.SetMaxBatchSize(2)
	engine := gin.New()
	api := engine.Group("/api/v1")
	h.RegisterRoutes(api)

	events := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		events = append(events, `{
			"transaction_id": "txn-`+strconv.Itoa(i)+`",
			"client_id": "`+uuid.NewString()+`",
			"usage_type": "SMS",
			"service_type": "MOBILE",
			"quantity": 1,
			"start_time": "2026-07-10T09:30:00Z",
			"end_time": "2026-07-10T09:30:01Z"
		}`)
	}
	body := `{"batch_id": "b-1", "events": [` + strings.Join(events, ",") + `]}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/usage/events/batch", strings.NewReader(body))
	req.Header.Set("X-Tenant-ID", tenantID.String())
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "maximum size of 2")
}

func TestUsageEventHandler_ImportFile_RequiresTenant(t *testing.T) {
	engine := setupEventRouter(&mockUsageEventRepository{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/usage/events/import", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUsageEventHandler_ImportFile_NotEnabled(t *testing.T) {
	engine := setupEventRouter(&mockUsageEventRepository{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/usage/events/import", nil)
	req.Header.Set("X-Tenant-ID", uuid.NewString())
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
