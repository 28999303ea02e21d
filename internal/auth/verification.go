package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gatehouse/internal/config"
)

// CodeManager issues and consumes short-lived numeric verification codes.
// Only one code per (account, type) is live at a time: issuing a new one
// expires any predecessor immediately.
type CodeManager struct {
	config *config.VerificationConfig
	log    *zap.Logger
	codes  CodeStore
}

func NewCodeManager(cfg *config.VerificationConfig, log *zap.Logger, codes CodeStore) *CodeManager {
	return &CodeManager{
		config: cfg,
		log:    log,
		codes:  codes,
	}
}

// Issue returns the plaintext code exactly once, for hand-off to the
// delivery channel. Only the hash is persisted.
func (m *CodeManager) Issue(ctx context.Context, accountID uuid.UUID, typ CodeType) (string, error) {
	length := m.config.CodeLength
	if length <= 0 {
		length = 6
	}
	plaintext, err := randomDigits(length)
	if err != nil {
		return "", err
	}

	if err := m.codes.InvalidateActive(ctx, accountID, typ); err != nil {
		return "", err
	}

	ttl := m.config.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	code := &VerificationCode{
		ID:        uuid.New(),
		AccountID: accountID,
		Type:      typ,
		CodeHash:  hashCode(plaintext),
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := m.codes.Insert(ctx, code); err != nil {
		return "", err
	}

	return plaintext, nil
}

// Consume validates a supplied code against the live code for the account
// and type. A mismatch burns an attempt; once attempts exceed the cap the
// code is dead even if the correct value arrives later.
func (m *CodeManager) Consume(ctx context.Context, accountID uuid.UUID, typ CodeType, supplied string) error {
	code, err := m.codes.FindActiveByAccountAndType(ctx, accountID, typ)
	if err != nil {
		if err == ErrCodeNotFound {
			return ErrCodeInvalid
		}
		return err
	}

	maxAttempts := m.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if code.Attempts >= maxAttempts {
		return ErrCodeLockedOut
	}

	if !codeMatches(supplied, code.CodeHash) {
		if err := m.codes.IncrementAttempts(ctx, code.ID); err != nil {
			m.log.Error("failed to record code attempt", zap.Error(err))
		}
		return ErrCodeInvalid
	}

	// Compare-and-set on used_at: one winner per code.
	if err := m.codes.MarkUsed(ctx, code.ID); err != nil {
		return err
	}
	return nil
}

func hashCode(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func codeMatches(supplied, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(hashCode(supplied)), []byte(storedHash)) == 1
}
