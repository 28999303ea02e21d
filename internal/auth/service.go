package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gatehouse/internal/config"
)

// storeTimeout bounds every store interaction made by the orchestrator so a
// slow backend resolves to an error instead of a hung login.
const storeTimeout = 5 * time.Second

type LoginStatus string

const (
	LoginSuccess             LoginStatus = "success"
	LoginFailure             LoginStatus = "failure"
	LoginBlocked             LoginStatus = "blocked"
	LoginRequireVerification LoginStatus = "require_verification"
	LoginRequireMFA          LoginStatus = "require_mfa"
	LoginError               LoginStatus = "error"
)

type LoginResult struct {
	Status  LoginStatus
	Tokens  *TokenPair
	Account *Account
}

// RequestMeta carries the caller context recorded on sessions and audit
// events.
type RequestMeta struct {
	IP        string
	UserAgent string
	Device    string
}

// Service drives the login, registration, and password-change state
// machines, composing the credential, MFA, verification, token, and audit
// components. Every branch that returns to the caller records one audit
// event first.
type Service struct {
	config   *config.AuthConfig
	log      *zap.Logger
	accounts AccountStore
	hasher   *Hasher
	mfa      *MFAManager
	codes    *CodeManager
	tokens   *TokenManager
	audit    *Recorder
	delivery DeliveryChannel
	metrics  *Metrics
}

func NewService(
	cfg *config.AuthConfig,
	log *zap.Logger,
	accounts AccountStore,
	hasher *Hasher,
	mfa *MFAManager,
	codes *CodeManager,
	tokens *TokenManager,
	audit *Recorder,
	delivery DeliveryChannel,
	metrics *Metrics,
) *Service {
	return &Service{
		config:   cfg,
		log:      log,
		accounts: accounts,
		hasher:   hasher,
		mfa:      mfa,
		codes:    codes,
		tokens:   tokens,
		audit:    audit,
		delivery: delivery,
		metrics:  metrics,
	}
}

// Login runs the ordered, short-circuiting credential checks. Unknown email
// and wrong password both come back as LoginFailure so the two are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password, totpCode string, meta RequestMeta) (*LoginResult, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.hasher.EqualizeTiming()
			s.audit.Record(Event(nil, ActionLogin, StatusFailure, meta.IP, meta.UserAgent, "unknown account"))
			s.metrics.Logins.WithLabelValues("failure").Inc()
			return &LoginResult{Status: LoginFailure}, nil
		}
		s.audit.Record(Event(nil, ActionLogin, StatusError, meta.IP, meta.UserAgent, "store error"))
		s.metrics.Logins.WithLabelValues("error").Inc()
		return &LoginResult{Status: LoginError}, err
	}

	now := time.Now()

	if !account.Active {
		s.audit.Record(Event(&account.ID, ActionLogin, StatusBlocked, meta.IP, meta.UserAgent, "account inactive"))
		s.metrics.Logins.WithLabelValues("blocked").Inc()
		return &LoginResult{Status: LoginBlocked}, nil
	}

	if account.Locked(now) {
		s.audit.Record(Event(&account.ID, ActionLogin, StatusBlocked, meta.IP, meta.UserAgent, "account locked"))
		s.metrics.Logins.WithLabelValues("blocked").Inc()
		return &LoginResult{Status: LoginBlocked}, nil
	}
	if account.LockedUntil != nil {
		// Lock elapsed: clear it before proceeding.
		if err := s.accounts.Unlock(ctx, account.ID); err != nil {
			s.log.Error("failed to unlock account", zap.Error(err))
		}
		account.LockedUntil = nil
		account.FailedLoginCount = 0
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		if err := s.accounts.UpdateLoginAttempts(ctx, account.ID, true); err != nil {
			s.log.Error("failed to update login attempts", zap.Error(err))
		}
		if s.config.MaxFailedLogins > 0 && account.FailedLoginCount+1 >= s.config.MaxFailedLogins {
			if err := s.accounts.Lock(ctx, account.ID, now.Add(s.config.LockDuration)); err != nil {
				s.log.Error("failed to lock account", zap.Error(err))
			}
		}
		s.audit.Record(Event(&account.ID, ActionLogin, StatusFailure, meta.IP, meta.UserAgent, "password mismatch"))
		s.metrics.Logins.WithLabelValues("failure").Inc()
		return &LoginResult{Status: LoginFailure}, nil
	}

	if account.EmailVerified == nil {
		s.audit.Record(Event(&account.ID, ActionLogin, StatusPending, meta.IP, meta.UserAgent, "email unverified"))
		s.metrics.Logins.WithLabelValues("require_verification").Inc()
		return &LoginResult{Status: LoginRequireVerification}, nil
	}

	if account.MFAState() == MFAEnabled {
		if totpCode == "" {
			s.audit.Record(Event(&account.ID, ActionLogin, StatusPending, meta.IP, meta.UserAgent, "mfa code required"))
			s.metrics.Logins.WithLabelValues("require_mfa").Inc()
			return &LoginResult{Status: LoginRequireMFA}, nil
		}
		if err := s.mfa.VerifyLoginCode(ctx, account, totpCode); err != nil {
			s.audit.Record(Event(&account.ID, ActionLogin, StatusFailure, meta.IP, meta.UserAgent, "mfa code invalid"))
			s.metrics.Logins.WithLabelValues("failure").Inc()
			return &LoginResult{Status: LoginFailure}, nil
		}
	}

	pair, err := s.tokens.IssuePair(ctx, account, meta.IP, meta.UserAgent, meta.Device)
	if err != nil {
		s.audit.Record(Event(&account.ID, ActionLogin, StatusError, meta.IP, meta.UserAgent, "session issue failed"))
		s.metrics.Logins.WithLabelValues("error").Inc()
		return &LoginResult{Status: LoginError}, err
	}

	if err := s.accounts.UpdateLoginAttempts(ctx, account.ID, false); err != nil {
		s.log.Error("failed to reset login attempts", zap.Error(err))
	}
	account.LastLoginAt = &now
	if err := s.accounts.Update(ctx, account); err != nil {
		s.log.Error("failed to update last login", zap.Error(err))
	}

	s.audit.Record(Event(&account.ID, ActionLogin, StatusSuccess, meta.IP, meta.UserAgent, ""))
	s.metrics.Logins.WithLabelValues("success").Inc()

	return &LoginResult{Status: LoginSuccess, Tokens: pair, Account: account}, nil
}

// Register creates an unverified account and hands a verification code to
// the delivery channel. The plaintext code is never persisted or logged.
func (s *Service) Register(ctx context.Context, email, password string, meta RequestMeta) (*Account, *StrengthReport, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	report := ScorePasswordStrength(password, s.config.PasswordMinLength)
	if !report.Valid {
		s.audit.Record(Event(nil, ActionRegister, StatusFailure, meta.IP, meta.UserAgent, "weak password"))
		return nil, &report, ErrWeakPassword
	}

	if _, err := s.accounts.FindByEmail(ctx, email); err == nil {
		s.audit.Record(Event(nil, ActionRegister, StatusFailure, meta.IP, meta.UserAgent, "email taken"))
		return nil, nil, ErrAccountExists
	} else if !errors.Is(err, ErrAccountNotFound) {
		s.audit.Record(Event(nil, ActionRegister, StatusError, meta.IP, meta.UserAgent, "store error"))
		return nil, nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, nil, err
	}

	account := &Account{
		ID:                  uuid.New(),
		Email:               email,
		PasswordHash:        hash,
		Role:                RoleUser,
		Active:              true,
		SessionTimeout:      s.config.SessionTimeout,
		MaxSessions:         s.config.MaxSessions,
		TrustedDeviceWindow: s.config.TrustedDeviceWindow,
	}
	if err := s.accounts.Insert(ctx, account); err != nil {
		if errors.Is(err, ErrAccountExists) {
			s.audit.Record(Event(nil, ActionRegister, StatusFailure, meta.IP, meta.UserAgent, "email taken"))
			return nil, nil, ErrAccountExists
		}
		s.audit.Record(Event(nil, ActionRegister, StatusError, meta.IP, meta.UserAgent, "store error"))
		return nil, nil, err
	}

	s.issueAndDeliver(ctx, account, CodeTypeEmailVerification)

	s.audit.Record(Event(&account.ID, ActionRegister, StatusSuccess, meta.IP, meta.UserAgent, ""))
	return account, &report, nil
}

// ResendVerification issues a fresh email-verification code, superseding any
// live one. It succeeds generically whether or not the email is registered.
func (s *Service) ResendVerification(ctx context.Context, email string, meta RequestMeta) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return err
	}
	if account.EmailVerified != nil {
		return nil
	}

	s.issueAndDeliver(ctx, account, CodeTypeEmailVerification)
	return nil
}

// VerifyEmail consumes a verification code and stamps the account verified.
func (s *Service) VerifyEmail(ctx context.Context, email, code string, meta RequestMeta) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.audit.Record(Event(nil, ActionVerifyEmail, StatusFailure, meta.IP, meta.UserAgent, "unknown account"))
			return ErrCodeInvalid
		}
		return err
	}

	if err := s.codes.Consume(ctx, account.ID, CodeTypeEmailVerification, code); err != nil {
		status := StatusFailure
		if errors.Is(err, ErrCodeLockedOut) {
			status = StatusBlocked
		}
		s.audit.Record(Event(&account.ID, ActionVerifyEmail, status, meta.IP, meta.UserAgent, err.Error()))
		s.metrics.CodeConsumes.WithLabelValues("failure").Inc()
		return err
	}
	s.metrics.CodeConsumes.WithLabelValues("success").Inc()

	now := time.Now()
	account.EmailVerified = &now
	if err := s.accounts.Update(ctx, account); err != nil {
		s.audit.Record(Event(&account.ID, ActionVerifyEmail, StatusError, meta.IP, meta.UserAgent, "store error"))
		return err
	}

	s.audit.Record(Event(&account.ID, ActionVerifyEmail, StatusSuccess, meta.IP, meta.UserAgent, ""))
	return nil
}

// RequestPasswordReset always reports success so responses do not reveal
// whether the email is registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.audit.Record(Event(nil, ActionPasswordReset, StatusFailure, meta.IP, meta.UserAgent, "unknown account"))
			return nil
		}
		return err
	}

	s.issueAndDeliver(ctx, account, CodeTypePasswordReset)
	s.audit.Record(Event(&account.ID, ActionPasswordReset, StatusPending, meta.IP, meta.UserAgent, ""))
	return nil
}

// ResetPassword consumes a reset code, installs the new password, and
// revokes every session for the account.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string, meta RequestMeta) (*StrengthReport, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.audit.Record(Event(nil, ActionPasswordReset, StatusFailure, meta.IP, meta.UserAgent, "unknown account"))
			return nil, ErrCodeInvalid
		}
		return nil, err
	}

	if err := s.codes.Consume(ctx, account.ID, CodeTypePasswordReset, code); err != nil {
		status := StatusFailure
		if errors.Is(err, ErrCodeLockedOut) {
			status = StatusBlocked
		}
		s.audit.Record(Event(&account.ID, ActionPasswordReset, status, meta.IP, meta.UserAgent, err.Error()))
		return nil, err
	}

	report := ScorePasswordStrength(newPassword, s.config.PasswordMinLength)
	if !report.Valid {
		s.audit.Record(Event(&account.ID, ActionPasswordReset, StatusFailure, meta.IP, meta.UserAgent, "weak password"))
		return &report, ErrWeakPassword
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}
	account.PasswordHash = hash
	if err := s.accounts.Update(ctx, account); err != nil {
		s.audit.Record(Event(&account.ID, ActionPasswordReset, StatusError, meta.IP, meta.UserAgent, "store error"))
		return nil, err
	}

	if _, err := s.tokens.RevokeAllForAccount(ctx, account.ID, nil, "password reset"); err != nil {
		s.log.Error("failed to revoke sessions after password reset", zap.Error(err))
	}

	s.audit.Record(Event(&account.ID, ActionPasswordReset, StatusSuccess, meta.IP, meta.UserAgent, ""))
	return nil, nil
}

// ChangePassword re-verifies the current password rather than trusting the
// presented session, then revokes every other session so a stolen refresh
// token elsewhere dies with the old password.
func (s *Service) ChangePassword(ctx context.Context, accountID uuid.UUID, currentSessionID uuid.UUID, currentPassword, newPassword string, meta RequestMeta) (*StrengthReport, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if !s.hasher.Verify(currentPassword, account.PasswordHash) {
		s.audit.Record(Event(&account.ID, ActionPasswordChange, StatusFailure, meta.IP, meta.UserAgent, "current password mismatch"))
		return nil, ErrInvalidCredentials
	}

	report := ScorePasswordStrength(newPassword, s.config.PasswordMinLength)
	if !report.Valid {
		s.audit.Record(Event(&account.ID, ActionPasswordChange, StatusFailure, meta.IP, meta.UserAgent, "weak password"))
		return &report, ErrWeakPassword
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}
	account.PasswordHash = hash
	if err := s.accounts.Update(ctx, account); err != nil {
		s.audit.Record(Event(&account.ID, ActionPasswordChange, StatusError, meta.IP, meta.UserAgent, "store error"))
		return nil, err
	}

	revoked, err := s.tokens.RevokeAllForAccount(ctx, account.ID, &currentSessionID, "password change")
	if err != nil {
		s.log.Error("failed to revoke other sessions", zap.Error(err))
	} else {
		s.log.Info("revoked other sessions after password change",
			zap.String("account_id", account.ID.String()),
			zap.Int64("count", revoked))
	}

	s.audit.Record(Event(&account.ID, ActionPasswordChange, StatusSuccess, meta.IP, meta.UserAgent, ""))
	return nil, nil
}

func (s *Service) SetupMFA(ctx context.Context, accountID uuid.UUID, meta RequestMeta) (*MFASetup, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	setup, err := s.mfa.GenerateSecret(ctx, accountID)
	if err != nil {
		s.audit.Record(Event(&accountID, ActionMFASetup, StatusFailure, meta.IP, meta.UserAgent, err.Error()))
		return nil, err
	}

	s.audit.Record(Event(&accountID, ActionMFASetup, StatusSuccess, meta.IP, meta.UserAgent, ""))
	return setup, nil
}

func (s *Service) EnableMFA(ctx context.Context, accountID uuid.UUID, code string, meta RequestMeta) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := s.mfa.Enable(ctx, accountID, code); err != nil {
		s.audit.Record(Event(&accountID, ActionMFAEnable, StatusFailure, meta.IP, meta.UserAgent, err.Error()))
		return err
	}

	s.audit.Record(Event(&accountID, ActionMFAEnable, StatusSuccess, meta.IP, meta.UserAgent, ""))
	return nil
}

func (s *Service) RefreshToken(ctx context.Context, refreshToken string, meta RequestMeta) (*TokenPair, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	pair, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		status := StatusFailure
		if !errors.Is(err, ErrTokenInvalid) {
			status = StatusError
		}
		s.audit.Record(Event(nil, ActionTokenRefresh, status, meta.IP, meta.UserAgent, "refresh rejected"))
		return nil, err
	}

	s.audit.Record(Event(nil, ActionTokenRefresh, StatusSuccess, meta.IP, meta.UserAgent, ""))
	return pair, nil
}

func (s *Service) Logout(ctx context.Context, accountID, sessionID uuid.UUID, meta RequestMeta) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := s.tokens.Revoke(ctx, sessionID, "logout"); err != nil {
		s.audit.Record(Event(&accountID, ActionLogout, StatusError, meta.IP, meta.UserAgent, "store error"))
		return err
	}

	s.audit.Record(Event(&accountID, ActionLogout, StatusSuccess, meta.IP, meta.UserAgent, ""))
	return nil
}

func (s *Service) ListSessions(ctx context.Context, accountID uuid.UUID) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return s.tokens.ListActive(ctx, accountID)
}

// RevokeSession revokes one of the caller's own sessions; a session id
// belonging to another account is rejected.
func (s *Service) RevokeSession(ctx context.Context, accountID, sessionID uuid.UUID, meta RequestMeta) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	session, err := s.tokens.sessions.FindByID(ctx, sessionID)
	if err != nil {
		s.audit.Record(Event(&accountID, ActionSessionRevoke, StatusFailure, meta.IP, meta.UserAgent, "unknown session"))
		return ErrSessionNotFound
	}
	if session.AccountID != accountID {
		s.audit.Record(Event(&accountID, ActionSessionRevoke, StatusBlocked, meta.IP, meta.UserAgent, "session owner mismatch"))
		return ErrSessionNotFound
	}

	if err := s.tokens.Revoke(ctx, sessionID, "user revoked"); err != nil {
		s.audit.Record(Event(&accountID, ActionSessionRevoke, StatusError, meta.IP, meta.UserAgent, "store error"))
		return err
	}

	s.audit.Record(Event(&accountID, ActionSessionRevoke, StatusSuccess, meta.IP, meta.UserAgent, ""))
	return nil
}

// RevokeOtherSessions revokes every session except the caller's current one
// and returns the count revoked.
func (s *Service) RevokeOtherSessions(ctx context.Context, accountID, currentSessionID uuid.UUID, meta RequestMeta) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	count, err := s.tokens.RevokeAllForAccount(ctx, accountID, &currentSessionID, "user revoked others")
	if err != nil {
		s.audit.Record(Event(&accountID, ActionSessionRevokeAll, StatusError, meta.IP, meta.UserAgent, "store error"))
		return 0, err
	}

	s.audit.Record(Event(&accountID, ActionSessionRevokeAll, StatusSuccess, meta.IP, meta.UserAgent, ""))
	return count, nil
}

// issueAndDeliver hands the plaintext code to the delivery channel and
// forgets it. Delivery failure is logged but never fails the caller.
func (s *Service) issueAndDeliver(ctx context.Context, account *Account, typ CodeType) {
	plaintext, err := s.codes.Issue(ctx, account.ID, typ)
	if err != nil {
		s.log.Error("failed to issue verification code",
			zap.String("account_id", account.ID.String()),
			zap.String("type", string(typ)),
			zap.Error(err))
		return
	}

	if err := s.delivery.Send(ctx, account.Email, plaintext, typ); err != nil {
		s.log.Error("verification code delivery failed",
			zap.String("account_id", account.ID.String()),
			zap.String("type", string(typ)),
			zap.Error(err))
	}
}
