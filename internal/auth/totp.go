package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"gatehouse/internal/config"
)

const totpPeriod = 30

type MFASetup struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

type MFAManager struct {
	config      *config.MFAConfig
	log         *zap.Logger
	accounts    AccountStore
	backupCodes BackupCodeStore
	hasher      *Hasher
}

func NewMFAManager(cfg *config.MFAConfig, log *zap.Logger, accounts AccountStore, backupCodes BackupCodeStore, hasher *Hasher) *MFAManager {
	return &MFAManager{
		config:      cfg,
		log:         log,
		accounts:    accounts,
		backupCodes: backupCodes,
		hasher:      hasher,
	}
}

// GenerateSecret provisions a fresh secret and backup codes for the account.
// The secret stays untrusted (PendingConfirmation) until Enable sees one
// valid code; regenerating while pending simply replaces the pending secret.
func (m *MFAManager) GenerateSecret(ctx context.Context, accountID uuid.UUID) (*MFASetup, error) {
	account, err := m.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.MFAState() == MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account.Email,
		SecretSize:  m.config.SecretSize,
	})
	if err != nil {
		return nil, err
	}

	count := m.config.BackupCodeCount
	if count <= 0 {
		count = 10
	}
	plaintexts := make([]string, count)
	hashed := make([]BackupCode, count)
	for i := range plaintexts {
		code, err := randomDigits(8)
		if err != nil {
			return nil, err
		}
		hash, err := m.hasher.Hash(code)
		if err != nil {
			return nil, err
		}
		plaintexts[i] = code
		hashed[i] = BackupCode{
			ID:        uuid.New(),
			AccountID: account.ID,
			CodeHash:  hash,
			CreatedAt: time.Now(),
		}
	}

	account.MFASecret = key.Secret()
	account.MFAConfirmed = false
	account.MFALastUsedStep = 0
	if err := m.accounts.Update(ctx, account); err != nil {
		return nil, err
	}
	if err := m.backupCodes.Replace(ctx, account.ID, hashed); err != nil {
		return nil, err
	}

	return &MFASetup{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     plaintexts,
	}, nil
}

// Enable confirms a pending secret with one valid code. This is the only
// transition into MFAEnabled.
func (m *MFAManager) Enable(ctx context.Context, accountID uuid.UUID, code string) error {
	account, err := m.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	switch account.MFAState() {
	case MFANotConfigured:
		return ErrMFANotConfigured
	case MFAEnabled:
		return ErrMFAAlreadyEnabled
	}

	step, ok := verifyTOTP(account.MFASecret, code, account.MFALastUsedStep, time.Now())
	if !ok {
		return ErrMFAInvalid
	}

	account.MFAConfirmed = true
	account.MFALastUsedStep = step
	return m.accounts.Update(ctx, account)
}

// VerifyLoginCode checks a second-factor code during login: a 6-digit TOTP
// first, falling back to a single-use backup code. The consumed timestep is
// persisted so the same TOTP code cannot be replayed within the drift window.
func (m *MFAManager) VerifyLoginCode(ctx context.Context, account *Account, code string) error {
	if account.MFAState() != MFAEnabled {
		return ErrMFANotConfigured
	}

	if step, ok := verifyTOTP(account.MFASecret, code, account.MFALastUsedStep, time.Now()); ok {
		account.MFALastUsedStep = step
		if err := m.accounts.Update(ctx, account); err != nil {
			return err
		}
		return nil
	}

	return m.consumeBackupCode(ctx, account, code)
}

func (m *MFAManager) consumeBackupCode(ctx context.Context, account *Account, code string) error {
	codes, err := m.backupCodes.ListUnused(ctx, account.ID)
	if err != nil {
		return err
	}
	for i := range codes {
		if m.hasher.Verify(code, codes[i].CodeHash) {
			if err := m.backupCodes.MarkUsed(ctx, codes[i].ID); err != nil {
				// Lost a concurrent consume race: treat as invalid.
				return ErrMFAInvalid
			}
			m.log.Info("mfa backup code consumed",
				zap.String("account_id", account.ID.String()))
			return nil
		}
	}
	return ErrMFAInvalid
}

// verifyTOTP accepts codes from the previous, current, and next timestep.
// Steps at or before lastUsedStep are rejected to prevent replay. Candidate
// codes are compared in constant time.
func verifyTOTP(secret, code string, lastUsedStep int64, now time.Time) (int64, bool) {
	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	matched := int64(0)
	found := false
	for drift := int64(-1); drift <= 1; drift++ {
		at := now.Add(time.Duration(drift) * totpPeriod * time.Second)
		expected, err := totp.GenerateCodeCustom(secret, at, opts)
		if err != nil {
			return 0, false
		}
		step := at.Unix() / totpPeriod
		equal := subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1
		if equal && !found {
			matched = step
			found = true
		}
	}

	if !found || matched <= lastUsedStep {
		return 0, false
	}
	return matched, true
}

// randomDigits draws n digits from crypto/rand.
func randomDigits(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}
