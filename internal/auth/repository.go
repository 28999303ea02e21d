package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccountStore interface {
	Insert(ctx context.Context, account *Account) error
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	Update(ctx context.Context, account *Account) error
	UpdateLoginAttempts(ctx context.Context, id uuid.UUID, failed bool) error
	Lock(ctx context.Context, id uuid.UUID, until time.Time) error
	Unlock(ctx context.Context, id uuid.UUID) error
}

type SessionStore interface {
	Insert(ctx context.Context, session *Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*Session, error)
	FindByRefreshHash(ctx context.Context, hash string) (*Session, error)
	// FindByPrevRefreshHash matches the hash retired by the last rotation;
	// a hit means a rotated-out token is being replayed.
	FindByPrevRefreshHash(ctx context.Context, hash string) (*Session, error)
	// RotateRefreshHash swaps oldHash for newHash on an active session. The
	// swap is a conditional update: if another request rotated the hash
	// first, no row matches and ErrTokenInvalid is returned.
	RotateRefreshHash(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time) error
	Revoke(ctx context.Context, id uuid.UUID, reason string) error
	BulkRevoke(ctx context.Context, accountID uuid.UUID, except *uuid.UUID, reason string) (int64, error)
	ListActiveByAccount(ctx context.Context, accountID uuid.UUID) ([]Session, error)
}

type CodeStore interface {
	Insert(ctx context.Context, code *VerificationCode) error
	FindActiveByAccountAndType(ctx context.Context, accountID uuid.UUID, typ CodeType) (*VerificationCode, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID) error
	// MarkUsed succeeds for exactly one caller per code; concurrent consumers
	// lose with ErrCodeInvalid.
	MarkUsed(ctx context.Context, id uuid.UUID) error
	InvalidateActive(ctx context.Context, accountID uuid.UUID, typ CodeType) error
}

type BackupCodeStore interface {
	Replace(ctx context.Context, accountID uuid.UUID, codes []BackupCode) error
	ListUnused(ctx context.Context, accountID uuid.UUID) ([]BackupCode, error)
	MarkUsed(ctx context.Context, id uuid.UUID) error
}

// AuditStore is append-only: no update or delete methods exist.
type AuditStore interface {
	Append(ctx context.Context, event *AuditEvent) error
}

type accountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) AccountStore {
	return &accountStore{db: db}
}

func (r *accountStore) Insert(ctx context.Context, account *Account) error {
	err := r.db.WithContext(ctx).Create(account).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAccountExists
	}
	return err
}

func (r *accountStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	var account Account
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountStore) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	var account Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountStore) Update(ctx context.Context, account *Account) error {
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *accountStore) UpdateLoginAttempts(ctx context.Context, id uuid.UUID, failed bool) error {
	if failed {
		return r.db.WithContext(ctx).Model(&Account{}).Where("id = ?", id).
			Update("failed_login_count", gorm.Expr("failed_login_count + 1")).Error
	}
	return r.db.WithContext(ctx).Model(&Account{}).Where("id = ?", id).
		Update("failed_login_count", 0).Error
}

func (r *accountStore) Lock(ctx context.Context, id uuid.UUID, until time.Time) error {
	return r.db.WithContext(ctx).Model(&Account{}).Where("id = ?", id).
		Update("locked_until", until).Error
}

func (r *accountStore) Unlock(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&Account{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"locked_until":       nil,
			"failed_login_count": 0,
		}).Error
}

type sessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) SessionStore {
	return &sessionStore{db: db}
}

func (r *sessionStore) Insert(ctx context.Context, session *Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *sessionStore) FindByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	var session Session
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionStore) FindByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	var session Session
	if err := r.db.WithContext(ctx).Where("refresh_token_hash = ?", hash).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionStore) FindByPrevRefreshHash(ctx context.Context, hash string) (*Session, error) {
	if hash == "" {
		return nil, ErrSessionNotFound
	}
	var session Session
	if err := r.db.WithContext(ctx).Where("prev_refresh_token_hash = ?", hash).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionStore) RotateRefreshHash(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND refresh_token_hash = ? AND revoked_at IS NULL", id, oldHash).
		Updates(map[string]interface{}{
			"refresh_token_hash":      newHash,
			"prev_refresh_token_hash": oldHash,
			"expires_at":              expiresAt,
			"issued_at":               time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTokenInvalid
	}
	return nil
}

func (r *sessionStore) Revoke(ctx context.Context, id uuid.UUID, reason string) error {
	// No row matched either means unknown id or already revoked; revocation
	// is idempotent so both are a no-op success once the session exists.
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]interface{}{
			"revoked_at":    time.Now(),
			"revoke_reason": reason,
		}).Error
}

func (r *sessionStore) BulkRevoke(ctx context.Context, accountID uuid.UUID, except *uuid.UUID, reason string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&Session{}).
		Where("account_id = ? AND revoked_at IS NULL AND expires_at > ?", accountID, time.Now())
	if except != nil {
		q = q.Where("id <> ?", *except)
	}
	res := q.Updates(map[string]interface{}{
		"revoked_at":    time.Now(),
		"revoke_reason": reason,
	})
	return res.RowsAffected, res.Error
}

func (r *sessionStore) ListActiveByAccount(ctx context.Context, accountID uuid.UUID) ([]Session, error) {
	var sessions []Session
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND revoked_at IS NULL AND expires_at > ?", accountID, time.Now()).
		Order("issued_at DESC").
		Find(&sessions).Error
	return sessions, err
}

type codeStore struct {
	db *gorm.DB
}

func NewCodeStore(db *gorm.DB) CodeStore {
	return &codeStore{db: db}
}

func (r *codeStore) Insert(ctx context.Context, code *VerificationCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *codeStore) FindActiveByAccountAndType(ctx context.Context, accountID uuid.UUID, typ CodeType) (*VerificationCode, error) {
	var code VerificationCode
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND type = ? AND used_at IS NULL AND expires_at > ?", accountID, typ, time.Now()).
		Order("created_at DESC").
		First(&code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return &code, nil
}

func (r *codeStore) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&VerificationCode{}).Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}

func (r *codeStore) MarkUsed(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&VerificationCode{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCodeInvalid
	}
	return nil
}

func (r *codeStore) InvalidateActive(ctx context.Context, accountID uuid.UUID, typ CodeType) error {
	return r.db.WithContext(ctx).Model(&VerificationCode{}).
		Where("account_id = ? AND type = ? AND used_at IS NULL", accountID, typ).
		Update("expires_at", time.Now()).Error
}

type backupCodeStore struct {
	db *gorm.DB
}

func NewBackupCodeStore(db *gorm.DB) BackupCodeStore {
	return &backupCodeStore{db: db}
}

func (r *backupCodeStore) Replace(ctx context.Context, accountID uuid.UUID, codes []BackupCode) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).Delete(&BackupCode{}).Error; err != nil {
			return err
		}
		if len(codes) == 0 {
			return nil
		}
		return tx.Create(&codes).Error
	})
}

func (r *backupCodeStore) ListUnused(ctx context.Context, accountID uuid.UUID) ([]BackupCode, error) {
	var codes []BackupCode
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND used_at IS NULL", accountID).
		Find(&codes).Error
	return codes, err
}

func (r *backupCodeStore) MarkUsed(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&BackupCode{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCodeInvalid
	}
	return nil
}

type auditStore struct {
	db *gorm.DB
}

func NewAuditStore(db *gorm.DB) AuditStore {
	return &auditStore{db: db}
}

func (r *auditStore) Append(ctx context.Context, event *AuditEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}
