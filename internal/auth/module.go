package auth

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gatehouse/internal/config"
)

// NewModule returns the auth module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) AccountStore {
					return NewAccountStore(db)
				},
			),
			fx.Annotate(
				func(db *gorm.DB) SessionStore {
					return NewSessionStore(db)
				},
			),
			fx.Annotate(
				func(db *gorm.DB) CodeStore {
					return NewCodeStore(db)
				},
			),
			fx.Annotate(
				func(db *gorm.DB) BackupCodeStore {
					return NewBackupCodeStore(db)
				},
			),
			fx.Annotate(
				func(db *gorm.DB) AuditStore {
					return NewAuditStore(db)
				},
			),
			func() *Metrics {
				return NewMetrics(prometheus.DefaultRegisterer)
			},
			fx.Annotate(
				func(cfg *config.AppConfig) *Hasher {
					return NewHasher(&cfg.Auth)
				},
			),
			fx.Annotate(
				func(cfg *config.AppConfig, log *zap.Logger, accounts AccountStore, backupCodes BackupCodeStore, hasher *Hasher) *MFAManager {
					return NewMFAManager(&cfg.MFA, log, accounts, backupCodes, hasher)
				},
			),
			fx.Annotate(
				func(cfg *config.AppConfig, log *zap.Logger, codes CodeStore) *CodeManager {
					return NewCodeManager(&cfg.Verification, log, codes)
				},
			),
			fx.Annotate(
				func(cfg *config.AppConfig, log *zap.Logger, sessions SessionStore, accounts AccountStore, metrics *Metrics) *TokenManager {
					return NewTokenManager(&cfg.Token, log, sessions, accounts, metrics)
				},
			),
			fx.Annotate(
				func(cfg *config.AppConfig, log *zap.Logger, store AuditStore, metrics *Metrics) *Recorder {
					return NewRecorder(&cfg.Audit, log, store, metrics)
				},
			),
			fx.Annotate(
				func(cfg *config.AppConfig, log *zap.Logger) DeliveryChannel {
					if cfg.SMTP.Enabled {
						return NewSMTPDelivery(&cfg.SMTP)
					}
					return NewLogDelivery(log)
				},
			),
			fx.Annotate(
				func(cfg *config.AppConfig, log *zap.Logger, accounts AccountStore, hasher *Hasher, mfa *MFAManager, codes *CodeManager, tokens *TokenManager, audit *Recorder, delivery DeliveryChannel, metrics *Metrics) *Service {
					return NewService(&cfg.Auth, log, accounts, hasher, mfa, codes, tokens, audit, delivery, metrics)
				},
			),
			fx.Annotate(
				func(svc *Service, log *zap.Logger) *Handler {
					return NewHandler(svc, log)
				},
			),
			fx.Annotate(
				func(tokens *TokenManager) *Middleware {
					return NewMiddleware(tokens)
				},
			),
		),
		fx.Invoke(registerAuditHooks),
	)
}

func registerAuditHooks(lifecycle fx.Lifecycle, recorder *Recorder, log *zap.Logger) {
	lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("draining audit recorder")
			recorder.Close()
			return nil
		},
	})
}
