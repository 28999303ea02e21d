package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/config"
)

func TestRecorder_AppendsEvents(t *testing.T) {
	store := newMockAuditStore()
	recorder := NewRecorder(newTestAuditConfig(), newTestLogger(t), store, NewMetrics(prometheus.NewRegistry()))

	accountID := uuid.New()
	recorder.Record(Event(&accountID, ActionLogin, StatusSuccess, "10.0.0.1", "agent", ""))
	recorder.Record(Event(nil, ActionLogin, StatusFailure, "10.0.0.2", "agent", "unknown account"))
	recorder.Close()

	events := store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, ActionLogin, events[0].Action)
	assert.Equal(t, StatusSuccess, events[0].Status)
	require.NotNil(t, events[0].AccountID)
	assert.Equal(t, accountID, *events[0].AccountID)
	assert.Equal(t, "auth", events[0].Resource)
	assert.NotEqual(t, uuid.Nil, events[0].ID)
	assert.False(t, events[0].CreatedAt.IsZero())

	assert.Nil(t, events[1].AccountID)
	assert.Equal(t, "unknown account", events[1].ErrorMessage)
}

func TestRecorder_RetriesTransientFailure(t *testing.T) {
	store := newMockAuditStore()
	store.failures = 2

	recorder := NewRecorder(newTestAuditConfig(), newTestLogger(t), store, NewMetrics(prometheus.NewRegistry()))
	recorder.Record(Event(nil, ActionRegister, StatusSuccess, "10.0.0.1", "agent", ""))
	recorder.Close()

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, ActionRegister, events[0].Action)
}

func TestRecorder_GivesUpAfterMaxRetries(t *testing.T) {
	store := newMockAuditStore()
	store.failures = 100

	metrics := NewMetrics(prometheus.NewRegistry())
	recorder := NewRecorder(newTestAuditConfig(), newTestLogger(t), store, metrics)
	recorder.Record(Event(nil, ActionRegister, StatusSuccess, "10.0.0.1", "agent", ""))
	recorder.Close()

	assert.Empty(t, store.Events())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditDropped))
}

func TestRecorder_CloseDrains(t *testing.T) {
	store := newMockAuditStore()
	recorder := NewRecorder(&config.AuditConfig{
		BufferSize:    128,
		RetryInterval: time.Millisecond,
		MaxRetries:    1,
	}, newTestLogger(t), store, NewMetrics(prometheus.NewRegistry()))

	for i := 0; i < 50; i++ {
		recorder.Record(Event(nil, ActionLogout, StatusSuccess, "10.0.0.1", "agent", ""))
	}
	recorder.Close()

	assert.Len(t, store.Events(), 50)
}

func TestRecorder_CloseIsIdempotent(t *testing.T) {
	recorder := NewRecorder(newTestAuditConfig(), newTestLogger(t), newMockAuditStore(), NewMetrics(prometheus.NewRegistry()))
	recorder.Close()
	recorder.Close()
}

func TestService_LoginAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := registerVerified(t, env, "trail@example.com", "Str0ng!Passw0rd")

	_, err := env.svc.Login(ctx, "ghost@example.com", "Str0ng!Passw0rd", "", testMeta)
	require.NoError(t, err)
	_, err = env.svc.Login(ctx, "trail@example.com", "Wr0ng!Passw0rd", "", testMeta)
	require.NoError(t, err)
	_, err = env.svc.Login(ctx, "trail@example.com", "Str0ng!Passw0rd", "", testMeta)
	require.NoError(t, err)

	env.recorder.Close()

	events := env.audit.Events()
	// Register and verify each logged one event before the three logins.
	require.Len(t, events, 5)

	unknown := events[2]
	assert.Equal(t, ActionLogin, unknown.Action)
	assert.Equal(t, StatusFailure, unknown.Status)
	assert.Nil(t, unknown.AccountID)
	assert.Equal(t, "unknown account", unknown.ErrorMessage)
	assert.Equal(t, testMeta.IP, unknown.IP)
	assert.Equal(t, testMeta.UserAgent, unknown.UserAgent)

	mismatch := events[3]
	assert.Equal(t, ActionLogin, mismatch.Action)
	assert.Equal(t, StatusFailure, mismatch.Status)
	require.NotNil(t, mismatch.AccountID)
	assert.Equal(t, account.ID, *mismatch.AccountID)

	success := events[4]
	assert.Equal(t, ActionLogin, success.Action)
	assert.Equal(t, StatusSuccess, success.Status)
	require.NotNil(t, success.AccountID)
	assert.Empty(t, success.ErrorMessage)
}
