package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type mockAccountStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*Account
	byEmail  map[string]uuid.UUID
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{
		accounts: make(map[uuid.UUID]*Account),
		byEmail:  make(map[string]uuid.UUID),
	}
}

func (r *mockAccountStore) Insert(_ context.Context, account *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[account.Email]; exists {
		return ErrAccountExists
	}

	clone := *account
	r.accounts[account.ID] = &clone
	r.byEmail[account.Email] = account.ID
	return nil
}

func (r *mockAccountStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byEmail[email]
	if !exists {
		return nil, ErrAccountNotFound
	}
	clone := *r.accounts[id]
	return &clone, nil
}

func (r *mockAccountStore) FindByID(_ context.Context, id uuid.UUID) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, exists := r.accounts[id]
	if !exists {
		return nil, ErrAccountNotFound
	}
	clone := *account
	return &clone, nil
}

func (r *mockAccountStore) Update(_ context.Context, account *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[account.ID]; !exists {
		return ErrAccountNotFound
	}
	clone := *account
	r.accounts[account.ID] = &clone
	return nil
}

func (r *mockAccountStore) UpdateLoginAttempts(_ context.Context, id uuid.UUID, failed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, exists := r.accounts[id]
	if !exists {
		return ErrAccountNotFound
	}
	if failed {
		account.FailedLoginCount++
	} else {
		account.FailedLoginCount = 0
	}
	return nil
}

func (r *mockAccountStore) Lock(_ context.Context, id uuid.UUID, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, exists := r.accounts[id]
	if !exists {
		return ErrAccountNotFound
	}
	account.LockedUntil = &until
	return nil
}

func (r *mockAccountStore) Unlock(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, exists := r.accounts[id]
	if !exists {
		return ErrAccountNotFound
	}
	account.LockedUntil = nil
	account.FailedLoginCount = 0
	return nil
}

type mockSessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{
		sessions: make(map[uuid.UUID]*Session),
	}
}

func (r *mockSessionStore) Insert(_ context.Context, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *session
	r.sessions[session.ID] = &clone
	return nil
}

func (r *mockSessionStore) FindByID(_ context.Context, id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	clone := *session
	return &clone, nil
}

func (r *mockSessionStore) FindByRefreshHash(_ context.Context, hash string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, session := range r.sessions {
		if session.RefreshTokenHash == hash {
			clone := *session
			return &clone, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (r *mockSessionStore) FindByPrevRefreshHash(_ context.Context, hash string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if hash == "" {
		return nil, ErrSessionNotFound
	}
	for _, session := range r.sessions {
		if session.PrevRefreshTokenHash == hash {
			clone := *session
			return &clone, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (r *mockSessionStore) RotateRefreshHash(_ context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists || session.RefreshTokenHash != oldHash || session.RevokedAt != nil {
		return ErrTokenInvalid
	}
	session.PrevRefreshTokenHash = oldHash
	session.RefreshTokenHash = newHash
	session.ExpiresAt = expiresAt
	session.IssuedAt = time.Now()
	return nil
}

func (r *mockSessionStore) Revoke(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists || session.RevokedAt != nil {
		return nil
	}
	now := time.Now()
	session.RevokedAt = &now
	session.RevokeReason = reason
	return nil
}

func (r *mockSessionStore) BulkRevoke(_ context.Context, accountID uuid.UUID, except *uuid.UUID, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var count int64
	for _, session := range r.sessions {
		if session.AccountID != accountID || session.RevokedAt != nil || !now.Before(session.ExpiresAt) {
			continue
		}
		if except != nil && session.ID == *except {
			continue
		}
		session.RevokedAt = &now
		session.RevokeReason = reason
		count++
	}
	return count, nil
}

func (r *mockSessionStore) ListActiveByAccount(_ context.Context, accountID uuid.UUID) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var sessions []Session
	for _, session := range r.sessions {
		if session.AccountID == accountID && session.RevokedAt == nil && now.Before(session.ExpiresAt) {
			sessions = append(sessions, *session)
		}
	}
	return sessions, nil
}

type mockCodeStore struct {
	mu    sync.Mutex
	codes map[uuid.UUID]*VerificationCode
}

func newMockCodeStore() *mockCodeStore {
	return &mockCodeStore{
		codes: make(map[uuid.UUID]*VerificationCode),
	}
}

func (r *mockCodeStore) Insert(_ context.Context, code *VerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *code
	clone.CreatedAt = time.Now()
	r.codes[code.ID] = &clone
	return nil
}

func (r *mockCodeStore) FindActiveByAccountAndType(_ context.Context, accountID uuid.UUID, typ CodeType) (*VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var newest *VerificationCode
	for _, code := range r.codes {
		if code.AccountID != accountID || code.Type != typ || code.UsedAt != nil || !now.Before(code.ExpiresAt) {
			continue
		}
		if newest == nil || code.CreatedAt.After(newest.CreatedAt) {
			newest = code
		}
	}
	if newest == nil {
		return nil, ErrCodeNotFound
	}
	clone := *newest
	return &clone, nil
}

func (r *mockCodeStore) IncrementAttempts(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, exists := r.codes[id]
	if !exists {
		return ErrCodeNotFound
	}
	code.Attempts++
	return nil
}

func (r *mockCodeStore) MarkUsed(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, exists := r.codes[id]
	if !exists || code.UsedAt != nil {
		return ErrCodeInvalid
	}
	now := time.Now()
	code.UsedAt = &now
	return nil
}

func (r *mockCodeStore) InvalidateActive(_ context.Context, accountID uuid.UUID, typ CodeType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, code := range r.codes {
		if code.AccountID == accountID && code.Type == typ && code.UsedAt == nil {
			code.ExpiresAt = now
		}
	}
	return nil
}

type mockBackupCodeStore struct {
	mu    sync.Mutex
	codes map[uuid.UUID]*BackupCode
}

func newMockBackupCodeStore() *mockBackupCodeStore {
	return &mockBackupCodeStore{
		codes: make(map[uuid.UUID]*BackupCode),
	}
}

func (r *mockBackupCodeStore) Replace(_ context.Context, accountID uuid.UUID, codes []BackupCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, code := range r.codes {
		if code.AccountID == accountID {
			delete(r.codes, id)
		}
	}
	for i := range codes {
		clone := codes[i]
		r.codes[clone.ID] = &clone
	}
	return nil
}

func (r *mockBackupCodeStore) ListUnused(_ context.Context, accountID uuid.UUID) ([]BackupCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []BackupCode
	for _, code := range r.codes {
		if code.AccountID == accountID && code.UsedAt == nil {
			out = append(out, *code)
		}
	}
	return out, nil
}

func (r *mockBackupCodeStore) MarkUsed(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, exists := r.codes[id]
	if !exists || code.UsedAt != nil {
		return ErrCodeInvalid
	}
	now := time.Now()
	code.UsedAt = &now
	return nil
}

type mockAuditStore struct {
	mu     sync.Mutex
	events []AuditEvent

	// failures makes the next N appends fail, for retry tests.
	failures int
}

func newMockAuditStore() *mockAuditStore {
	return &mockAuditStore{}
}

func (r *mockAuditStore) Append(_ context.Context, event *AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failures > 0 {
		r.failures--
		return errors.New("audit store down")
	}
	r.events = append(r.events, *event)
	return nil
}

func (r *mockAuditStore) Events() []AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *mockAuditStore) Last() *AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.events) == 0 {
		return nil
	}
	clone := r.events[len(r.events)-1]
	return &clone
}
