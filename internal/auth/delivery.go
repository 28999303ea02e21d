package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"gatehouse/internal/config"
)

// DeliveryChannel carries a plaintext verification code to the account
// holder. Implementations must not persist the code.
type DeliveryChannel interface {
	Send(ctx context.Context, destination, code string, typ CodeType) error
}

var codeSubjects = map[CodeType]string{
	CodeTypeEmailVerification: "Verify your email address",
	CodeTypePasswordReset:     "Password reset code",
}

type smtpDelivery struct {
	config *config.SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPDelivery(cfg *config.SMTPConfig) DeliveryChannel {
	return &smtpDelivery{
		config: cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (d *smtpDelivery) Send(_ context.Context, destination, code string, typ CodeType) error {
	subject, ok := codeSubjects[typ]
	if !ok {
		subject = "Your verification code"
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", d.config.From)
	msg.SetHeader("To", destination)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", fmt.Sprintf("Your code is %s. It expires shortly and can be used once.", code))

	return d.dialer.DialAndSend(msg)
}

// logDelivery is the development channel: it logs that a code was issued
// without the code itself, so plaintext never lands in logs either.
type logDelivery struct {
	log *zap.Logger
}

func NewLogDelivery(log *zap.Logger) DeliveryChannel {
	return &logDelivery{log: log}
}

func (d *logDelivery) Send(_ context.Context, destination, _ string, typ CodeType) error {
	d.log.Info("verification code issued",
		zap.String("destination", destination),
		zap.String("type", string(typ)))
	return nil
}
