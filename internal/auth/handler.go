package auth

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/mail"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// msgInvalidCredentials is shared by the unknown-email and wrong-password
// branches; the two responses must stay byte-for-byte identical.
const (
	msgInvalidCredentials = "invalid credentials"
	msgInternalError      = "internal error"
)

type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(service *Service, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code,omitempty"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type enableMFARequest struct {
	Code string `json:"code"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type sessionView struct {
	ID        string `json:"id"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Device    string `json:"device,omitempty"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid request body"})
		return
	}
	if req.Email == "" || !isValidEmail(req.Email) {
		writeJSON(w, http.StatusBadRequest, Response{Message: "valid email is required"})
		return
	}
	if req.Password == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "password is required"})
		return
	}

	_, report, err := h.service.Register(r.Context(), req.Email, req.Password, metaFrom(r))
	switch {
	case errors.Is(err, ErrWeakPassword):
		writeJSON(w, http.StatusBadRequest, Response{Message: "password too weak", Data: report})
	case errors.Is(err, ErrAccountExists):
		writeJSON(w, http.StatusBadRequest, Response{Message: "email already registered"})
	case err != nil:
		h.log.Error("registration failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Message: msgInternalError})
	default:
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "registered, verification code sent"})
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid request body"})
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "email and password are required"})
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, req.TOTPCode, metaFrom(r))
	if err != nil {
		h.log.Error("login failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Message: msgInternalError})
		return
	}

	switch result.Status {
	case LoginSuccess:
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "login successful", Data: result.Tokens})
	case LoginRequireVerification:
		writeJSON(w, http.StatusAccepted, Response{Message: "email verification required"})
	case LoginRequireMFA:
		writeJSON(w, http.StatusAccepted, Response{Message: "mfa code required"})
	case LoginBlocked:
		writeJSON(w, http.StatusForbidden, Response{Message: "account blocked"})
	default:
		writeJSON(w, http.StatusUnauthorized, Response{Message: msgInvalidCredentials})
	}
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid request body"})
		return
	}
	if req.Email == "" || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "email and code are required"})
		return
	}

	err := h.service.VerifyEmail(r.Context(), req.Email, req.Code, metaFrom(r))
	switch {
	case errors.Is(err, ErrCodeInvalid):
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid or expired code"})
	case errors.Is(err, ErrCodeLockedOut):
		writeJSON(w, http.StatusBadRequest, Response{Message: "too many attempts, request a new code"})
	case err != nil:
		h.log.Error("email verification failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Message: msgInternalError})
	default:
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "email verified"})
	}
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "refresh_token is required"})
		return
	}

	pair, err := h.service.RefreshToken(r.Context(), req.RefreshToken, metaFrom(r))
	switch {
	case errors.Is(err, ErrTokenInvalid):
		writeJSON(w, http.StatusUnauthorized, Response{Message: "invalid refresh token"})
	case err != nil:
		h.log.Error("token refresh failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Message: msgInternalError})
	default:
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "token refreshed", Data: pair})
	}
}

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequestRequest
	if err := decodeJSON(r, &req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "email is required"})
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email, metaFrom(r)); err != nil {
		h.log.Error("password reset request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Message: msgInternalError})
		return
	}

	// Same body whether or not the email exists.
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "if the account exists, a reset code was sent"})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid request body"})
		return
	}
	if req.Email == "" || req.Code == "" || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "email, code and new_password are required"})
		return
	}

	report, err := h.service.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword, metaFrom(r))
	switch {
	case errors.Is(err, ErrWeakPassword):
		writeJSON(w, http.StatusBadRequest, Response{Message: "password too weak", Data: report})
	case errors.Is(err, ErrCodeInvalid):
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid or expired code"})
	case errors.Is(err, ErrCodeLockedOut):
		writeJSON(w, http.StatusBadRequest, Response{Message: "too many attempts, request a new code"})
	case err != nil:
		h.log.Error("password reset failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Message: msgInternalError})
	default:
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "password reset"})
	}
}

func (h *Handler) SetupMFA(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(w, r)
	if !ok {
		return
	}
	accountID, ok := parseID(w, claims.AccountID)
	if !ok {
		return
	}

	setup, err := h.service.SetupMFA(r.Context(), accountID, metaFrom(r))
	switch {
	case errors.Is(err, ErrMFAAlreadyEnabled):
		writeJSON(w, http.StatusBadRequest, Response{Message: "mfa already enabled"})
	case err != nil:
		h.log.Error("mfa setup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Message: msgInternalError})
	default:
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "confirm with a code to enable mfa", Data: setup})
	}
}

func (h *Handler) EnableMFA(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(w, r)
	if !ok {
		return
	}
	accountID, ok := parseID(w, claims.AccountID)
	if !ok {
		return
	}

	var req enableMFARequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "code is required"})
		return
	}

	err := h.service.EnableMFA(r.Context(), accountID, req.Code, metaFrom(r))
	switch {
	case errors.Is(err, ErrMFAInvalid):
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid code"})
	case errors.Is(err, ErrMFANotConfigured):
		writeJSON(w, http.StatusBadRequest, Response{Message: "run mfa setup first"})
	case errors.Is(err, ErrMFAAlreadyEnabled):
		writeJSON(w, http.StatusBadRequest, Response{Message: "mfa already enabled"})
	case err != nil:
		h.log.Error("mfa enable failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Message: msgInternalError})
	default:
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "mfa enabled"})
	}
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(w, r)
	if !ok {
		return
	}
	accountID, ok := parseID(w, claims.AccountID)
	if !ok {
		return
	}
	sessionID, ok := parseID(w, claims.SessionID)
	if !ok {
		return
	}

	if err := h.service.Logout(r.Context(), accountID, sessionID, metaFrom(r)); err != nil {
		h.log.Error("logout failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Message: msgInternalError})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "logged out"})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(w, r)
	if !ok {
		return
	}
	accountID, ok := parseID(w, claims.AccountID)
	if !ok {
		return
	}
	sessionID, ok := parseID(w, claims.SessionID)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid request body"})
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "current_password and new_password are required"})
		return
	}

	report, err := h.service.ChangePassword(r.Context(), accountID, sessionID, req.CurrentPassword, req.NewPassword, metaFrom(r))
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, Response{Message: msgInvalidCredentials})
	case errors.Is(err, ErrWeakPassword):
		writeJSON(w, http.StatusBadRequest, Response{Message: "password too weak", Data: report})
	case err != nil:
		h.log.Error("password change failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Message: msgInternalError})
	default:
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "password changed, other sessions revoked"})
	}
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(w, r)
	if !ok {
		return
	}
	accountID, ok := parseID(w, claims.AccountID)
	if !ok {
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), accountID)
	if err != nil {
		h.log.Error("session listing failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Message: msgInternalError})
		return
	}

	views := make([]sessionView, len(sessions))
	for i, s := range sessions {
		views[i] = sessionView{
			ID:        s.ID.String(),
			IP:        s.IP,
			UserAgent: s.UserAgent,
			Device:    s.Device,
			IssuedAt:  s.IssuedAt.UTC().Format("2006-01-02T15:04:05Z"),
			ExpiresAt: s.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "active sessions", Data: views})
}

func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(w, r)
	if !ok {
		return
	}
	accountID, ok := parseID(w, claims.AccountID)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid session id"})
		return
	}

	err = h.service.RevokeSession(r.Context(), accountID, sessionID, metaFrom(r))
	switch {
	case errors.Is(err, ErrSessionNotFound):
		writeJSON(w, http.StatusBadRequest, Response{Message: "unknown session"})
	case err != nil:
		h.log.Error("session revocation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Message: msgInternalError})
	default:
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "session revoked"})
	}
}

func (h *Handler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(w, r)
	if !ok {
		return
	}
	accountID, ok := parseID(w, claims.AccountID)
	if !ok {
		return
	}
	sessionID, ok := parseID(w, claims.SessionID)
	if !ok {
		return
	}

	count, err := h.service.RevokeOtherSessions(r.Context(), accountID, sessionID, metaFrom(r))
	if err != nil {
		h.log.Error("bulk session revocation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Message: msgInternalError})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "other sessions revoked", Data: map[string]int64{"revoked": count}})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func metaFrom(r *http.Request) RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = fwd
	}
	return RequestMeta{
		IP:        ip,
		UserAgent: r.UserAgent(),
		Device:    r.Header.Get("X-Device-Name"),
	}
}

func claimsFrom(w http.ResponseWriter, r *http.Request) (*Claims, bool) {
	claims, err := ClaimsFromContext(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, Response{Message: "authentication required"})
		return nil, false
	}
	return claims, true
}

func parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, Response{Message: "authentication required"})
		return uuid.Nil, false
	}
	return id, true
}

func isValidEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}
