package server

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gatehouse/internal/api"
	"gatehouse/internal/auth"
	"gatehouse/internal/config"
)

type Server struct {
	config     *config.AppConfig
	log        *zap.Logger
	httpServer *http.Server
}

type Params struct {
	fx.In

	Config         *config.AppConfig
	Logger         *zap.Logger
	AuthHandler    *auth.Handler
	AuthMiddleware *auth.Middleware
}

func NewServer(p Params) *Server {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Post(api.AuthRegister, p.AuthHandler.Register)
	r.Post(api.AuthLogin, p.AuthHandler.Login)
	r.Post(api.AuthVerifyEmail, p.AuthHandler.VerifyEmail)
	r.Post(api.AuthRefreshToken, p.AuthHandler.Refresh)
	r.Post(api.AuthResetRequest, p.AuthHandler.RequestPasswordReset)
	r.Post(api.AuthResetPassword, p.AuthHandler.ResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(p.AuthMiddleware.Authenticate)
		r.Post(api.AuthMFASetup, p.AuthHandler.SetupMFA)
		r.Post(api.AuthMFAEnable, p.AuthHandler.EnableMFA)
		r.Post(api.AuthLogout, p.AuthHandler.Logout)
		r.Post(api.AuthChangePassword, p.AuthHandler.ChangePassword)
		r.Get(api.AuthSessions, p.AuthHandler.ListSessions)
		r.Delete(api.AuthSessionByID, p.AuthHandler.RevokeSession)
		r.Post(api.AuthRevokeOtherSession, p.AuthHandler.RevokeOtherSessions)
	})

	addr := fmt.Sprintf("%s:%s", p.Config.Server.Host, p.Config.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  p.Config.Server.ReadTimeout,
		WriteTimeout: p.Config.Server.WriteTimeout,
	}

	return &Server{
		config:     p.Config,
		log:        p.Logger,
		httpServer: httpServer,
	}
}

func (s *Server) Start() error {
	s.log.Info("Starting HTTP server",
		zap.String("address", s.httpServer.Addr),
		zap.Object("config", serverConfigToField(s.config)),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

func serverConfigToField(config *config.AppConfig) zapcore.ObjectMarshaler {
	return zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddString("environment", os.Getenv("APP_ENV"))
		enc.AddDuration("read_timeout", config.Server.ReadTimeout)
		enc.AddDuration("write_timeout", config.Server.WriteTimeout)
		enc.AddDuration("access_token_duration", config.Token.AccessDuration)
		return nil
	})
}

func (s *Server) Stop() {
	s.log.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("graceful shutdown failed", zap.Error(err))
	}
}
