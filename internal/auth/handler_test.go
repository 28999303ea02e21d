package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/api"
)

func newTestRouter(t *testing.T, env *testEnv) *chi.Mux {
	handler := NewHandler(env.svc, newTestLogger(t))
	middleware := NewMiddleware(env.tokens)

	r := chi.NewRouter()
	r.Post(api.AuthRegister, handler.Register)
	r.Post(api.AuthLogin, handler.Login)
	r.Post(api.AuthVerifyEmail, handler.VerifyEmail)
	r.Post(api.AuthRefreshToken, handler.Refresh)
	r.Post(api.AuthResetRequest, handler.RequestPasswordReset)
	r.Post(api.AuthResetPassword, handler.ResetPassword)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate)
		r.Post(api.AuthMFASetup, handler.SetupMFA)
		r.Post(api.AuthMFAEnable, handler.EnableMFA)
		r.Post(api.AuthLogout, handler.Logout)
		r.Post(api.AuthChangePassword, handler.ChangePassword)
		r.Get(api.AuthSessions, handler.ListSessions)
		r.Delete(api.AuthSessionByID, handler.RevokeSession)
		r.Post(api.AuthRevokeOtherSession, handler.RevokeOtherSessions)
	})
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.5:43210"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// registerAndLogin drives the full HTTP flow and returns the issued pair.
func registerAndLogin(t *testing.T, env *testEnv, router http.Handler, email, password string) *TokenPair {
	rec := doJSON(t, router, http.MethodPost, api.AuthRegister, "", registerRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, api.AuthVerifyEmail, "", verifyEmailRequest{Email: email, Code: env.delivery.lastCode(t)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, api.AuthLogin, "", loginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data TokenPair `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.AccessToken)
	return &resp.Data
}

func TestHandler_RegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)

	tests := []struct {
		name    string
		body    interface{}
		message string
	}{
		{"missing email", registerRequest{Password: "Str0ng!Passw0rd"}, "valid email is required"},
		{"bad email", registerRequest{Email: "not-an-email", Password: "Str0ng!Passw0rd"}, "valid email is required"},
		{"missing password", registerRequest{Email: "a@example.com"}, "password is required"},
		{"unknown field", map[string]string{"email": "a@example.com", "password": "Str0ng!Passw0rd", "extra": "x"}, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, api.AuthRegister, "", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeResponse(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}

func TestHandler_RegisterWeakPasswordReturnsReport(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)

	rec := doJSON(t, router, http.MethodPost, api.AuthRegister, "", registerRequest{Email: "a@example.com", Password: "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "password too weak", resp.Message)
	assert.NotNil(t, resp.Data)
}

func TestHandler_LoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)
	registerVerified(t, env, "alice@example.com", "Str0ng!Passw0rd")

	unknown := doJSON(t, router, http.MethodPost, api.AuthLogin, "", loginRequest{Email: "ghost@example.com", Password: "Str0ng!Passw0rd"})
	wrongPassword := doJSON(t, router, http.MethodPost, api.AuthLogin, "", loginRequest{Email: "alice@example.com", Password: "Wr0ng!Passw0rd"})

	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, unknown.Code, wrongPassword.Code)
	assert.Equal(t, unknown.Body.String(), wrongPassword.Body.String())
}

func TestHandler_LoginStatuses(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)

	rec := doJSON(t, router, http.MethodPost, api.AuthRegister, "", registerRequest{Email: "bob@example.com", Password: "Str0ng!Passw0rd"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Unverified first, then verified.
	rec = doJSON(t, router, http.MethodPost, api.AuthLogin, "", loginRequest{Email: "bob@example.com", Password: "Str0ng!Passw0rd"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "email verification required", decodeResponse(t, rec).Message)

	rec = doJSON(t, router, http.MethodPost, api.AuthVerifyEmail, "", verifyEmailRequest{Email: "bob@example.com", Code: env.delivery.lastCode(t)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, api.AuthLogin, "", loginRequest{Email: "bob@example.com", Password: "Str0ng!Passw0rd"})
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)

	rec = doJSON(t, router, http.MethodPost, api.AuthLogin, "", loginRequest{Email: "bob@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_RefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)
	pair := registerAndLogin(t, env, router, "carol@example.com", "Str0ng!Passw0rd")

	rec := doJSON(t, router, http.MethodPost, api.AuthRefreshToken, "", refreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)

	// The rotated-out token is rejected on replay.
	rec = doJSON(t, router, http.MethodPost, api.AuthRefreshToken, "", refreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid refresh token", decodeResponse(t, rec).Message)

	rec = doJSON(t, router, http.MethodPost, api.AuthRefreshToken, "", refreshRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)

	rec := doJSON(t, router, http.MethodGet, api.AuthSessions, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication required", decodeResponse(t, rec).Message)

	rec = doJSON(t, router, http.MethodGet, api.AuthSessions, "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid token", decodeResponse(t, rec).Message)
}

func TestHandler_SessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)

	first := registerAndLogin(t, env, router, "dave@example.com", "Str0ng!Passw0rd")

	rec := doJSON(t, router, http.MethodPost, api.AuthLogin, "", loginRequest{Email: "dave@example.com", Password: "Str0ng!Passw0rd"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, api.AuthSessions, first.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Data []sessionView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Data, 2)

	var otherID string
	for _, s := range listResp.Data {
		if s.ID != first.SessionID.String() {
			otherID = s.ID
		}
	}
	require.NotEmpty(t, otherID)

	rec = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/auth/sessions/%s", otherID), first.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, api.AuthSessions, first.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listResp.Data = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Data, 1)

	rec = doJSON(t, router, http.MethodDelete, "/auth/sessions/not-a-uuid", first.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, api.AuthLogout, first.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, api.AuthRefreshToken, "", refreshRequest{RefreshToken: first.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_RevokeOtherSessions(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)

	registerAndLogin(t, env, router, "erin@example.com", "Str0ng!Passw0rd")
	rec := doJSON(t, router, http.MethodPost, api.AuthLogin, "", loginRequest{Email: "erin@example.com", Password: "Str0ng!Passw0rd"})
	require.Equal(t, http.StatusOK, rec.Code)
	var loginResp struct {
		Data TokenPair `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loginResp))
	current := loginResp.Data

	rec = doJSON(t, router, http.MethodPost, api.AuthRevokeOtherSession, current.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var revokeResp struct {
		Data map[string]int64 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &revokeResp))
	assert.Equal(t, int64(1), revokeResp.Data["revoked"])

	rec = doJSON(t, router, http.MethodGet, api.AuthSessions, current.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ChangePassword(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)
	pair := registerAndLogin(t, env, router, "frank@example.com", "Str0ng!Passw0rd")

	rec := doJSON(t, router, http.MethodPost, api.AuthChangePassword, pair.AccessToken, changePasswordRequest{
		CurrentPassword: "Wr0ng!Passw0rd",
		NewPassword:     "N3w!Str0ngPassw0rd",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, msgInvalidCredentials, decodeResponse(t, rec).Message)

	rec = doJSON(t, router, http.MethodPost, api.AuthChangePassword, pair.AccessToken, changePasswordRequest{
		CurrentPassword: "Str0ng!Passw0rd",
		NewPassword:     "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, api.AuthChangePassword, pair.AccessToken, changePasswordRequest{
		CurrentPassword: "Str0ng!Passw0rd",
		NewPassword:     "N3w!Str0ngPassw0rd",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, api.AuthLogin, "", loginRequest{Email: "frank@example.com", Password: "N3w!Str0ngPassw0rd"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_MFAFlow(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)
	pair := registerAndLogin(t, env, router, "grace@example.com", "Str0ng!Passw0rd")

	rec := doJSON(t, router, http.MethodPost, api.AuthMFASetup, pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var setupResp struct {
		Data MFASetup `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &setupResp))
	require.NotEmpty(t, setupResp.Data.Secret)
	assert.NotEmpty(t, setupResp.Data.ProvisioningURI)
	assert.NotEmpty(t, setupResp.Data.BackupCodes)

	rec = doJSON(t, router, http.MethodPost, api.AuthMFAEnable, pair.AccessToken, enableMFARequest{Code: "000000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	enrollAt := time.Now()
	rec = doJSON(t, router, http.MethodPost, api.AuthMFAEnable, pair.AccessToken, enableMFARequest{Code: totpCodeAt(t, setupResp.Data.Secret, enrollAt)})
	assert.Equal(t, http.StatusOK, rec.Code)

	// MFA now gates login.
	rec = doJSON(t, router, http.MethodPost, api.AuthLogin, "", loginRequest{Email: "grace@example.com", Password: "Str0ng!Passw0rd"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "mfa code required", decodeResponse(t, rec).Message)

	rec = doJSON(t, router, http.MethodPost, api.AuthLogin, "", loginRequest{
		Email:    "grace@example.com",
		Password: "Str0ng!Passw0rd",
		TOTPCode: totpCodeAt(t, setupResp.Data.Secret, enrollAt.Add(totpPeriod*time.Second)),
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// A second setup while enabled is rejected.
	rec = doJSON(t, router, http.MethodPost, api.AuthMFASetup, pair.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_PasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(t, env)
	registerAndLogin(t, env, router, "heidi@example.com", "Str0ng!Passw0rd")

	known := doJSON(t, router, http.MethodPost, api.AuthResetRequest, "", resetRequestRequest{Email: "heidi@example.com"})
	unknown := doJSON(t, router, http.MethodPost, api.AuthResetRequest, "", resetRequestRequest{Email: "ghost@example.com"})
	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())

	rec := doJSON(t, router, http.MethodPost, api.AuthResetPassword, "", resetPasswordRequest{
		Email:       "heidi@example.com",
		Code:        env.delivery.lastCode(t),
		NewPassword: "N3w!Str0ngPassw0rd",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, api.AuthLogin, "", loginRequest{Email: "heidi@example.com", Password: "N3w!Str0ngPassw0rd"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

// metaFrom prefers the forwarded address over the socket peer.
func TestMetaFrom(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "203.0.113.5:43210"
	req.Header.Set("User-Agent", "client/1.0")
	req.Header.Set("X-Device-Name", "laptop")

	meta := metaFrom(req)
	assert.Equal(t, "203.0.113.5", meta.IP)
	assert.Equal(t, "client/1.0", meta.UserAgent)
	assert.Equal(t, "laptop", meta.Device)

	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", metaFrom(req).IP)
}
