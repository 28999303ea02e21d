package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"gatehouse/internal/config"
)

type Hasher struct {
	cost int
}

func NewHasher(cfg *config.AuthConfig) *Hasher {
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	return string(bytes), err
}

// Verify compares in constant time via bcrypt; a mismatch and a malformed
// hash are indistinguishable to the caller.
func (h *Hasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// EqualizeTiming burns one hash-compare worth of work so the unknown-account
// path costs the same as a real password check.
func (h *Hasher) EqualizeTiming() {
	_, _ = bcrypt.GenerateFromPassword([]byte("timing-equalizer"), h.cost)
}

type StrengthReport struct {
	Valid       bool     `json:"valid"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// commonPasswords is a short deny-list of passwords seen in every breach
// corpus; matching is case-insensitive.
var commonPasswords = map[string]struct{}{
	"password":   {},
	"password1":  {},
	"password1!": {},
	"12345678":   {},
	"123456789":  {},
	"qwerty123":  {},
	"iloveyou":   {},
	"letmein":    {},
	"admin123":   {},
	"welcome1":   {},
	"sunshine":   {},
	"monkey123":  {},
	"dragon123":  {},
	"football":   {},
	"baseball":   {},
	"superman1":  {},
	"trustno1":   {},
	"passw0rd":   {},
	"p@ssword":   {},
	"1234567890": {},
}

// ScorePasswordStrength is applied at registration and password change only;
// login verifies against the stored hash regardless of current policy.
func ScorePasswordStrength(password string, minLength int) StrengthReport {
	if minLength <= 0 {
		minLength = 8
	}

	var report StrengthReport

	if len(password) < minLength {
		report.Issues = append(report.Issues, "too short")
		report.Suggestions = append(report.Suggestions, fmt.Sprintf("use at least %d characters", minLength))
	}

	if _, found := commonPasswords[strings.ToLower(password)]; found {
		report.Issues = append(report.Issues, "commonly used password")
		report.Suggestions = append(report.Suggestions, "avoid dictionary passwords")
	}

	var hasLetter, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	if !hasLetter || !hasDigit {
		report.Issues = append(report.Issues, "missing letter and digit mix")
		report.Suggestions = append(report.Suggestions, "mix letters with digits")
	}
	if !hasSymbol {
		report.Issues = append(report.Issues, "no symbol")
		report.Suggestions = append(report.Suggestions, "add a punctuation character")
	}

	if hasLongRun(password, 4) {
		report.Issues = append(report.Issues, "repeated character run")
		report.Suggestions = append(report.Suggestions, "avoid repeating the same character")
	}

	report.Valid = len(report.Issues) == 0
	return report
}

func hasLongRun(s string, limit int) bool {
	run := 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			run++
			if run+1 >= limit {
				return true
			}
		} else {
			run = 0
		}
		prev = r
	}
	return false
}
