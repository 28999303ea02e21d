package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gatehouse/internal/config"
)

type Claims struct {
	AccountID string `json:"account_id"`
	Role      Role   `json:"role"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	SessionID    uuid.UUID `json:"session_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenManager issues JWT access tokens and opaque, hash-persisted refresh
// tokens, and owns the session lifecycle around them.
type TokenManager struct {
	config   *config.TokenConfig
	log      *zap.Logger
	sessions SessionStore
	accounts AccountStore
	metrics  *Metrics
}

func NewTokenManager(cfg *config.TokenConfig, log *zap.Logger, sessions SessionStore, accounts AccountStore, metrics *Metrics) *TokenManager {
	return &TokenManager{
		config:   cfg,
		log:      log,
		sessions: sessions,
		accounts: accounts,
		metrics:  metrics,
	}
}

// IssuePair creates one session row and returns its token pair. The refresh
// token plaintext leaves this function exactly once; only its SHA-256 digest
// is stored. Session creation is a single insert, so a cancelled request
// never leaves a half-committed session.
func (t *TokenManager) IssuePair(ctx context.Context, account *Account, ip, userAgent, device string) (*TokenPair, error) {
	sessionID := uuid.New()

	refreshToken, refreshHash, err := newRefreshToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	refreshTTL := t.config.RefreshDuration
	if account.SessionTimeout > 0 {
		refreshTTL = account.SessionTimeout
	}

	session := &Session{
		ID:               sessionID,
		AccountID:        account.ID,
		RefreshTokenHash: refreshHash,
		IssuedAt:         now,
		ExpiresAt:        now.Add(refreshTTL),
		IP:               ip,
		UserAgent:        userAgent,
		Device:           device,
	}
	if err := t.sessions.Insert(ctx, session); err != nil {
		return nil, err
	}

	accessToken, accessExpiry, err := t.signAccessToken(account.ID, account.Role, sessionID, now)
	if err != nil {
		return nil, err
	}

	t.metrics.SessionIssued.Inc()

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
		ExpiresAt:    accessExpiry,
	}, nil
}

// VerifyAccess checks signature and expiry only; it deliberately skips the
// session store so authorization stays a local operation. A revoked session
// therefore remains usable until its current access token expires, a window
// bounded by TokenConfig.AccessDuration.
func (t *TokenManager) VerifyAccess(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(t.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Refresh rotates a refresh token: the presented token is exchanged for a
// new pair and stops validating immediately. When two requests race on the
// same token only the first rotation wins; the session is then revoked as
// compromised, because a second presentation of a single-use token means
// either replay or theft.
func (t *TokenManager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	oldHash := hashRefreshToken(refreshToken)

	session, err := t.sessions.FindByRefreshHash(ctx, oldHash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			// A hash that only matches the retired slot is a rotated-out
			// token being replayed: kill the whole session.
			if replayed, prevErr := t.sessions.FindByPrevRefreshHash(ctx, oldHash); prevErr == nil {
				if revokeErr := t.sessions.Revoke(ctx, replayed.ID, "refresh token reuse"); revokeErr != nil {
					t.log.Error("failed to revoke session after refresh reuse",
						zap.String("session_id", replayed.ID.String()),
						zap.Error(revokeErr))
				}
				t.metrics.Refreshes.WithLabelValues("reuse").Inc()
				return nil, ErrTokenInvalid
			}
			t.metrics.Refreshes.WithLabelValues("invalid").Inc()
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	now := time.Now()
	if session.Revoked() || session.Expired(now) {
		t.metrics.Refreshes.WithLabelValues("invalid").Inc()
		return nil, ErrTokenInvalid
	}

	newToken, newHash, err := newRefreshToken()
	if err != nil {
		return nil, err
	}

	refreshTTL := t.config.RefreshDuration
	if err := t.sessions.RotateRefreshHash(ctx, session.ID, oldHash, newHash, now.Add(refreshTTL)); err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			// Lost the rotation race: treat the token as replayed and kill
			// the session.
			if revokeErr := t.sessions.Revoke(ctx, session.ID, "refresh token reuse"); revokeErr != nil {
				t.log.Error("failed to revoke session after refresh reuse",
					zap.String("session_id", session.ID.String()),
					zap.Error(revokeErr))
			}
			t.metrics.Refreshes.WithLabelValues("reuse").Inc()
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	account, err := t.accounts.FindByID(ctx, session.AccountID)
	if err != nil {
		return nil, err
	}

	accessToken, accessExpiry, err := t.signAccessToken(account.ID, account.Role, session.ID, now)
	if err != nil {
		return nil, err
	}

	t.metrics.Refreshes.WithLabelValues("success").Inc()

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newToken,
		SessionID:    session.ID,
		ExpiresAt:    accessExpiry,
	}, nil
}

// Revoke marks a session revoked. Revoking an already-revoked session is a
// no-op success.
func (t *TokenManager) Revoke(ctx context.Context, sessionID uuid.UUID, reason string) error {
	return t.sessions.Revoke(ctx, sessionID, reason)
}

// RevokeAllForAccount revokes every active session for the account, minus
// the optional exception. Used after password changes to log out every
// other device.
func (t *TokenManager) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID, except *uuid.UUID, reason string) (int64, error) {
	return t.sessions.BulkRevoke(ctx, accountID, except, reason)
}

func (t *TokenManager) ListActive(ctx context.Context, accountID uuid.UUID) ([]Session, error) {
	return t.sessions.ListActiveByAccount(ctx, accountID)
}

func (t *TokenManager) signAccessToken(accountID uuid.UUID, role Role, sessionID uuid.UUID, now time.Time) (string, time.Time, error) {
	expiry := now.Add(t.config.AccessDuration)
	claims := &Claims{
		AccountID: accountID.String(),
		Role:      role,
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.config.Issuer,
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(t.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiry, nil
}

func newRefreshToken() (plaintext, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plaintext = base64.RawURLEncoding.EncodeToString(raw)
	return plaintext, hashRefreshToken(plaintext), nil
}

func hashRefreshToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
