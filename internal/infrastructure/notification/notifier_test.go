package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mspbill/backend/internal/domain/alerting"
	"github.com/mspbill/backend/internal/infrastructure/config"
)

func testAlertEvent() *alerting.AlertEvent {
	return &alerting.AlertEvent{
		AlertID:         uuid.New(),
		TenantID:        uuid.New(),
		EntityKind:      alerting.EntityPool,
		EntityID:        uuid.New(),
		Status:          alerting.AlertStatusCritical,
		CurrentValue:    decimal.RequireFromString("95.5"),
		Threshold:       decimal.RequireFromString("90"),
		EscalationLevel: 1,
		Timestamp:       time.Date(2025, 7, 10, 9, 30, 0, 0, time.UTC),
	}
}

func TestWebhookNotifier_Deliver(t *testing.T) {
	t.Run("Posts event payload", func(t *testing.T) {
		var received webhookPayload
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		event := testAlertEvent()
		notifier := NewWebhookNotifier(server.URL, 2*time.Second, zap.NewNop())
		require.NoError(t, notifier.Deliver(context.Background(), event))

		assert.Equal(t, event.AlertID.String(), received.AlertID)
		assert.Equal(t, "POOL", received.EntityKind)
		assert.Equal(t, "CRITICAL", received.Status)
		assert.Equal(t, "95.5", received.CurrentValue)
		assert.Equal(t, 1, received.EscalationLevel)
		assert.Equal(t, "2025-07-10T09:30:00Z", received.Timestamp)
	})

	t.Run("Non-2xx response is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		notifier := NewWebhookNotifier(server.URL, 2*time.Second, zap.NewNop())
		err := notifier.Deliver(context.Background(), testAlertEvent())
		assert.Error(t, err)
	})

	t.Run("Unreachable endpoint is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		notifier := NewWebhookNotifier(server.URL, time.Second, zap.NewNop())
		err := notifier.Deliver(context.Background(), testAlertEvent())
		assert.Error(t, err)
	})
}

func TestLoggingNotifier_Deliver(t *testing.T) {
	notifier := NewLoggingNotifier(zap.NewNop())
	assert.NoError(t, notifier.Deliver(context.Background(), testAlertEvent()))
}

func TestNewNotifierFromConfig(t *testing.T) {
	t.Run("Webhook URL configured", func(t *testing.T) {
		notifier := NewNotifierFromConfig(config.AlertingConfig{
			WebhookURL:     "http://alerts.internal/hook",
			WebhookTimeout: time.Second,
		}, zap.NewNop())
		assert.IsType(t, &WebhookNotifier{}, notifier)
	})

	t.Run("No webhook falls back to logging", func(t *testing.T) {
		notifier := NewNotifierFromConfig(config.AlertingConfig{}, zap.NewNop())
		assert.IsType(t, &LoggingNotifier{}, notifier)
	})
}
