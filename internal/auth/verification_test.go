package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodeManager(t *testing.T) (*CodeManager, *mockCodeStore) {
	store := newMockCodeStore()
	return NewCodeManager(newTestVerificationConfig(), newTestLogger(t), store), store
}

func TestCodeManager_IssueAndConsume(t *testing.T) {
	mgr, _ := newTestCodeManager(t)
	ctx := context.Background()
	accountID := uuid.New()

	code, err := mgr.Issue(ctx, accountID, CodeTypeEmailVerification)
	require.NoError(t, err)
	assert.Len(t, code, 6)

	assert.NoError(t, mgr.Consume(ctx, accountID, CodeTypeEmailVerification, code))

	// Single use: consuming again fails.
	assert.ErrorIs(t, mgr.Consume(ctx, accountID, CodeTypeEmailVerification, code), ErrCodeInvalid)
}

func TestCodeManager_WrongCode(t *testing.T) {
	mgr, store := newTestCodeManager(t)
	ctx := context.Background()
	accountID := uuid.New()

	code, err := mgr.Issue(ctx, accountID, CodeTypeEmailVerification)
	require.NoError(t, err)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	assert.ErrorIs(t, mgr.Consume(ctx, accountID, CodeTypeEmailVerification, wrong), ErrCodeInvalid)

	stored, err := store.FindActiveByAccountAndType(ctx, accountID, CodeTypeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)

	// The correct code still works below the attempt cap.
	assert.NoError(t, mgr.Consume(ctx, accountID, CodeTypeEmailVerification, code))
}

func TestCodeManager_Expiry(t *testing.T) {
	mgr, store := newTestCodeManager(t)
	ctx := context.Background()
	accountID := uuid.New()

	code, err := mgr.Issue(ctx, accountID, CodeTypePasswordReset)
	require.NoError(t, err)

	// Force the code past its expiry.
	require.NoError(t, store.InvalidateActive(ctx, accountID, CodeTypePasswordReset))

	assert.ErrorIs(t, mgr.Consume(ctx, accountID, CodeTypePasswordReset, code), ErrCodeInvalid)
}

func TestCodeManager_AttemptLockout(t *testing.T) {
	mgr, _ := newTestCodeManager(t)
	ctx := context.Background()
	accountID := uuid.New()

	code, err := mgr.Issue(ctx, accountID, CodeTypeEmailVerification)
	require.NoError(t, err)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, mgr.Consume(ctx, accountID, CodeTypeEmailVerification, wrong), ErrCodeInvalid)
	}

	// Past the cap the correct code is rejected too.
	assert.ErrorIs(t, mgr.Consume(ctx, accountID, CodeTypeEmailVerification, code), ErrCodeLockedOut)
}

func TestCodeManager_NewCodeSupersedesOld(t *testing.T) {
	mgr, _ := newTestCodeManager(t)
	ctx := context.Background()
	accountID := uuid.New()

	first, err := mgr.Issue(ctx, accountID, CodeTypeEmailVerification)
	require.NoError(t, err)
	second, err := mgr.Issue(ctx, accountID, CodeTypeEmailVerification)
	require.NoError(t, err)

	if first != second {
		assert.ErrorIs(t, mgr.Consume(ctx, accountID, CodeTypeEmailVerification, first), ErrCodeInvalid)
	}
	assert.NoError(t, mgr.Consume(ctx, accountID, CodeTypeEmailVerification, second))
}

func TestCodeManager_TypesAreIndependent(t *testing.T) {
	mgr, _ := newTestCodeManager(t)
	ctx := context.Background()
	accountID := uuid.New()

	verify, err := mgr.Issue(ctx, accountID, CodeTypeEmailVerification)
	require.NoError(t, err)
	reset, err := mgr.Issue(ctx, accountID, CodeTypePasswordReset)
	require.NoError(t, err)

	if verify != reset {
		assert.ErrorIs(t, mgr.Consume(ctx, accountID, CodeTypePasswordReset, verify), ErrCodeInvalid)
	}
	assert.NoError(t, mgr.Consume(ctx, accountID, CodeTypeEmailVerification, verify))
	assert.NoError(t, mgr.Consume(ctx, accountID, CodeTypePasswordReset, reset))
}

func TestCodeStore_ConcurrentMarkUsed(t *testing.T) {
	store := newMockCodeStore()
	ctx := context.Background()

	code := &VerificationCode{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		Type:      CodeTypeEmailVerification,
		CodeHash:  hashCode("123456"),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, store.Insert(ctx, code))

	// The compare-and-set admits exactly one winner.
	first := store.MarkUsed(ctx, code.ID)
	second := store.MarkUsed(ctx, code.ID)
	assert.NoError(t, first)
	assert.ErrorIs(t, second, ErrCodeInvalid)
}
