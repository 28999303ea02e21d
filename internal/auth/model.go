package auth

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// MFAState is derived from the secret/confirmed columns so the three phases
// are explicit: a stored secret alone never counts as enabled.
type MFAState int

const (
	MFANotConfigured MFAState = iota
	MFAPendingConfirmation
	MFAEnabled
)

type Account struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email         string    `gorm:"uniqueIndex;not null"`
	PasswordHash  string    `gorm:"not null"`
	Role          Role      `gorm:"not null;default:user"`
	Active        bool      `gorm:"not null;default:true"`
	EmailVerified *time.Time

	MFASecret    string `gorm:"default:''"`
	MFAConfirmed bool   `gorm:"not null;default:false"`
	// Timestep of the last accepted TOTP code, to reject replay inside the
	// drift window.
	MFALastUsedStep int64 `gorm:"not null;default:0"`

	FailedLoginCount int `gorm:"not null;default:0"`
	LockedUntil      *time.Time
	LastLoginAt      *time.Time

	// Per-account security defaults, stamped at registration.
	SessionTimeout      time.Duration `gorm:"not null;default:0"`
	MaxSessions         int           `gorm:"not null;default:0"`
	TrustedDeviceWindow time.Duration `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) MFAState() MFAState {
	switch {
	case a.MFASecret == "":
		return MFANotConfigured
	case !a.MFAConfirmed:
		return MFAPendingConfirmation
	default:
		return MFAEnabled
	}
}

// Locked reports whether the account is under a temporary failed-login lock.
func (a *Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

type Session struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID        uuid.UUID `gorm:"type:uuid;index;not null"`
	RefreshTokenHash string    `gorm:"size:128;uniqueIndex;not null"`
	// Hash retired by the last rotation, kept to catch replay of a
	// rotated-out refresh token.
	PrevRefreshTokenHash string     `gorm:"size:128;index"`
	IssuedAt             time.Time  `gorm:"not null"`
	ExpiresAt            time.Time  `gorm:"index;not null"`
	IP                   string     `gorm:"size:64"`
	UserAgent            string     `gorm:"size:512"`
	Device               string     `gorm:"size:256"`
	RevokedAt            *time.Time
	RevokeReason         string `gorm:"size:64"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (Session) TableName() string {
	return "sessions"
}

func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type CodeType string

const (
	CodeTypeEmailVerification CodeType = "email_verification"
	CodeTypePasswordReset     CodeType = "password_reset"
)

type VerificationCode struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID uuid.UUID `gorm:"type:uuid;index;not null"`
	Type      CodeType  `gorm:"size:32;not null"`
	CodeHash  string    `gorm:"size:128;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	Attempts  int       `gorm:"not null;default:0"`
	UsedAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (VerificationCode) TableName() string {
	return "verification_codes"
}

type BackupCode struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID uuid.UUID `gorm:"type:uuid;index;not null"`
	CodeHash  string    `gorm:"size:128;not null"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (BackupCode) TableName() string {
	return "mfa_backup_codes"
}

type AuditAction string

const (
	ActionLogin            AuditAction = "login"
	ActionRegister         AuditAction = "register"
	ActionVerifyEmail      AuditAction = "verify_email"
	ActionMFASetup         AuditAction = "mfa_setup"
	ActionMFAEnable        AuditAction = "mfa_enable"
	ActionTokenRefresh     AuditAction = "token_refresh"
	ActionLogout           AuditAction = "logout"
	ActionPasswordChange   AuditAction = "password_change"
	ActionPasswordReset    AuditAction = "password_reset"
	ActionSessionRevoke    AuditAction = "session_revoke"
	ActionSessionRevokeAll AuditAction = "session_revoke_all"
)

type AuditStatus string

const (
	StatusSuccess AuditStatus = "success"
	StatusFailure AuditStatus = "failure"
	StatusBlocked AuditStatus = "blocked"
	StatusPending AuditStatus = "pending"
	StatusError   AuditStatus = "error"
)

type AuditEvent struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	AccountID    *uuid.UUID        `gorm:"type:uuid;index"`
	Action       AuditAction       `gorm:"size:32;index;not null"`
	Resource     string            `gorm:"size:64"`
	Status       AuditStatus       `gorm:"size:16;index;not null"`
	ErrorMessage string            `gorm:"size:512"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb"`
	IP           string            `gorm:"size:64"`
	UserAgent    string            `gorm:"size:512"`
	CreatedAt    time.Time         `gorm:"index"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}
