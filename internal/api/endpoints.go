package api

// Authentication service endpoints
const (
	AuthRegister           = "/auth/register"
	AuthLogin              = "/auth/login"
	AuthVerifyEmail        = "/auth/verify-email"
	AuthRefreshToken       = "/auth/refresh"
	AuthResetRequest       = "/auth/password/reset-request"
	AuthResetPassword      = "/auth/password/reset"
	AuthMFASetup           = "/auth/mfa/setup"
	AuthMFAEnable          = "/auth/mfa/enable"
	AuthLogout             = "/auth/logout"
	AuthChangePassword     = "/auth/password/change"
	AuthSessions           = "/auth/sessions"
	AuthSessionByID        = "/auth/sessions/{id}"
	AuthRevokeOtherSession = "/auth/sessions/revoke-others"
)

// PublicEndpoints defines endpoints that don't require authentication
var PublicEndpoints = map[string]bool{
	AuthRegister:      true,
	AuthLogin:         true,
	AuthVerifyEmail:   true,
	AuthRefreshToken:  true,
	AuthResetRequest:  true,
	AuthResetPassword: true,
}
