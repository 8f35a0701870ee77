package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/services/platform"
	"go.uber.org/zap"
)

func testNotification() platform.BreachNotification {
	return platform.BreachNotification{
		BreachID:    uuid.New(),
		PolicyID:    uuid.New(),
		WorkspaceID: uuid.New(),
		Action:      models.ActionAlertOnly,
		BreachValue: decimal.NewFromFloat(12.5),
		Threshold:   decimal.NewFromInt(10),
		DetectedAt:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Message:     "daily spend cap breached",
	}
}

func TestDispatcher_Dispatch(t *testing.T) {
	t.Run("delivers notification with auth header", func(t *testing.T) {
		var received platform.BreachNotification
		var gotAuth string

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		dispatcher := NewDispatcher(Config{URL: server.URL, Secret: "hook-secret"}, zap.NewNop())
		assert.Equal(t, "webhook", dispatcher.Name())

		notification := testNotification()
		err := dispatcher.Dispatch(context.Background(), notification)
		require.NoError(t, err)

		assert.Equal(t, "Bearer hook-secret", gotAuth)
		assert.Equal(t, notification.BreachID, received.BreachID)
		assert.True(t, received.BreachValue.Equal(notification.BreachValue))
	})

	t.Run("retries after throttling and succeeds", func(t *testing.T) {
		var calls int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		dispatcher := NewDispatcher(Config{URL: server.URL, MaxAttempts: 3}, zap.NewNop())

		err := dispatcher.Dispatch(context.Background(), testNotification())
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("exhausts attempts against a failing endpoint", func(t *testing.T) {
		var calls int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		dispatcher := NewDispatcher(Config{URL: server.URL, MaxAttempts: 2}, zap.NewNop())

		err := dispatcher.Dispatch(context.Background(), testNotification())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "webhook dispatch failed")
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("circuit breaker opens after consecutive failures", func(t *testing.T) {
		var calls int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		dispatcher := NewDispatcher(Config{URL: server.URL, MaxAttempts: 1, RateBurst: 20}, zap.NewNop())

		// Six consecutive failures trip the breaker
		for i := 0; i < 6; i++ {
			require.Error(t, dispatcher.Dispatch(context.Background(), testNotification()))
		}
		assert.Equal(t, int32(6), atomic.LoadInt32(&calls))

		// The open breaker rejects without reaching the endpoint
		err := dispatcher.Dispatch(context.Background(), testNotification())
		require.Error(t, err)
		assert.Equal(t, int32(6), atomic.LoadInt32(&calls))
	})
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"seconds value", "7", 7 * time.Second},
		{"zero", "0", 0},
		{"missing header", "", time.Second},
		{"malformed", "soon", time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			assert.Equal(t, tt.want, retryAfter(resp))
		})
	}
}
