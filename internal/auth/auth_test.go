package auth

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"gatehouse/internal/config"
)

func newTestLogger(t *testing.T) *zap.Logger {
	logger, err := zap.NewDevelopment()
	assert.NoError(t, err)
	return logger
}

func newTestAuthConfig() *config.AuthConfig {
	return &config.AuthConfig{
		BcryptCost:        bcrypt.MinCost,
		PasswordMinLength: 8,
		MaxFailedLogins:   5,
		LockDuration:      15 * time.Minute,
		SessionTimeout:    time.Hour,
		MaxSessions:       10,
	}
}

func newTestTokenConfig() *config.TokenConfig {
	return &config.TokenConfig{
		JWTSecret:       "test-secret-key",
		Issuer:          "gatehouse-test",
		AccessDuration:  time.Hour,
		RefreshDuration: 24 * time.Hour,
	}
}

func newTestMFAConfig() *config.MFAConfig {
	return &config.MFAConfig{
		Issuer:          "Gatehouse Test",
		SecretSize:      32,
		BackupCodeCount: 4,
	}
}

func newTestVerificationConfig() *config.VerificationConfig {
	return &config.VerificationConfig{
		CodeLength:  6,
		TTL:         10 * time.Minute,
		MaxAttempts: 3,
	}
}

func newTestAuditConfig() *config.AuditConfig {
	return &config.AuditConfig{
		BufferSize:    64,
		RetryInterval: 10 * time.Millisecond,
		MaxRetries:    2,
	}
}

// captureDelivery records what would have been sent, standing in for the
// external email channel.
type captureDelivery struct {
	destinations []string
	codes        []string
	types        []CodeType
}

func (d *captureDelivery) Send(_ context.Context, destination, code string, typ CodeType) error {
	d.destinations = append(d.destinations, destination)
	d.codes = append(d.codes, code)
	d.types = append(d.types, typ)
	return nil
}

func (d *captureDelivery) lastCode(t *testing.T) string {
	if len(d.codes) == 0 {
		t.Fatal("no code delivered")
	}
	return d.codes[len(d.codes)-1]
}

type testEnv struct {
	accounts *mockAccountStore
	sessions *mockSessionStore
	codes    *mockCodeStore
	backups  *mockBackupCodeStore
	audit    *mockAuditStore
	delivery *captureDelivery

	hasher   *Hasher
	mfa      *MFAManager
	codeMgr  *CodeManager
	tokens   *TokenManager
	recorder *Recorder
	svc      *Service
}

func newTestEnv(t *testing.T) *testEnv {
	log := newTestLogger(t)
	metrics := NewMetrics(prometheus.NewRegistry())

	env := &testEnv{
		accounts: newMockAccountStore(),
		sessions: newMockSessionStore(),
		codes:    newMockCodeStore(),
		backups:  newMockBackupCodeStore(),
		audit:    newMockAuditStore(),
		delivery: &captureDelivery{},
	}

	env.hasher = NewHasher(newTestAuthConfig())
	env.mfa = NewMFAManager(newTestMFAConfig(), log, env.accounts, env.backups, env.hasher)
	env.codeMgr = NewCodeManager(newTestVerificationConfig(), log, env.codes)
	env.tokens = NewTokenManager(newTestTokenConfig(), log, env.sessions, env.accounts, metrics)
	env.recorder = NewRecorder(newTestAuditConfig(), log, env.audit, metrics)
	env.svc = NewService(newTestAuthConfig(), log, env.accounts, env.hasher, env.mfa, env.codeMgr, env.tokens, env.recorder, env.delivery, metrics)

	t.Cleanup(env.recorder.Close)

	return env
}
