package config

import "time"

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	BcryptCost        int           `mapstructure:"bcrypt_cost"`
	PasswordMinLength int           `mapstructure:"password_min_length"`
	MaxFailedLogins   int           `mapstructure:"max_failed_logins"`
	LockDuration      time.Duration `mapstructure:"lock_duration"`

	// Defaults stamped onto new accounts at registration.
	SessionTimeout      time.Duration `mapstructure:"session_timeout"`
	MaxSessions         int           `mapstructure:"max_sessions"`
	TrustedDeviceWindow time.Duration `mapstructure:"trusted_device_window"`
}

type TokenConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`

	// AccessDuration bounds the exposure window after revocation: access
	// tokens are never checked against the session store, so a revoked
	// session keeps working until its already-issued access token expires.
	AccessDuration  time.Duration `mapstructure:"access_duration"`
	RefreshDuration time.Duration `mapstructure:"refresh_duration"`
}

type MFAConfig struct {
	Issuer          string `mapstructure:"issuer"`
	SecretSize      uint   `mapstructure:"secret_size"`
	BackupCodeCount int    `mapstructure:"backup_code_count"`
}

type VerificationConfig struct {
	CodeLength  int           `mapstructure:"code_length"`
	TTL         time.Duration `mapstructure:"ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type AppConfig struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Token        TokenConfig        `mapstructure:"token"`
	MFA          MFAConfig          `mapstructure:"mfa"`
	Verification VerificationConfig `mapstructure:"verification"`
	Audit        AuditConfig        `mapstructure:"audit"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Database     DatabaseConfig     `mapstructure:"database"`
}
