// Package otp issues and verifies the short-lived one-time passcodes used
// for attendee email verification and administrator login.
//
// Plaintext codes exist only in transit to the sender; the passcode store
// holds a bcrypt digest. Throttling of issue requests is deliberately left
// to surrounding layers.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/lanternfest/platform/internal/platform/config"
	apperrors "github.com/lanternfest/platform/internal/platform/errors"
	"github.com/lanternfest/platform/internal/services/gate/passcode"
	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyIdentity indicates an issue request without an identity.
var ErrEmptyIdentity = apperrors.New(apperrors.CodePasscodeEmptyIdentity, "identity is required")

// Sender delivers a plaintext passcode to an identity. Outbound email is a
// collaborator of this subsystem, not part of it.
type Sender func(ctx context.Context, identity, code string) error

// Config controls passcode shape and lifetime.
type Config struct {
	CodeDigits int           `env:"LANTERNFEST_OTP_DIGITS" envDefault:"6"`
	TTL        time.Duration `env:"LANTERNFEST_OTP_TTL"    envDefault:"10m"`
}

// LoadConfigFromEnv loads passcode configuration and applies defensive
// defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = config.ParseEnv(&cfg)
	if cfg.CodeDigits < 4 {
		cfg.CodeDigits = 6
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return cfg
}

// Service issues and verifies passcodes over the shared in-process store.
type Service struct {
	store *passcode.Store
	send  Sender
	cfg   Config
	clock func() time.Time
}

// NewService creates a passcode service. A nil sender logs codes instead of
// delivering them, which keeps local stacks usable without a mail
// collaborator.
func NewService(store *passcode.Store, send Sender, cfg Config) *Service {
	return &Service{
		store: store,
		send:  send,
		cfg:   cfg,
		clock: time.Now,
	}
}

// Issue generates a fresh passcode for the identity and device, replacing
// any pending one, and hands the plaintext to the sender.
func (s *Service) Issue(ctx context.Context, purpose passcode.Purpose, identity, deviceID string) error {
	if strings.TrimSpace(identity) == "" {
		return ErrEmptyIdentity
	}
	if err := passcode.ValidateDeviceID(deviceID); err != nil {
		return err
	}

	code, err := s.generateCode()
	if err != nil {
		return fmt.Errorf("generate passcode: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash passcode: %w", err)
	}
	if err := s.store.Put(purpose, identity, deviceID, string(hash), s.clock().Add(s.cfg.TTL)); err != nil {
		return err
	}

	if s.send == nil {
		log.Printf("otp: no sender configured, %s passcode for %s: %s", purpose, identity, code)
		return nil
	}
	return s.send(ctx, identity, code)
}

// Verify checks a submitted code. On success the pending session is
// consumed; a wrong code leaves it intact until expiry.
func (s *Service) Verify(ctx context.Context, purpose passcode.Purpose, identity, deviceID, code string) bool {
	session, ok := s.store.Get(purpose, identity, deviceID)
	if !ok {
		return false
	}
	if bcrypt.CompareHashAndPassword([]byte(session.OTPHash), []byte(code)) != nil {
		return false
	}
	s.store.Clear(purpose, identity, deviceID)
	return true
}

// generateCode returns a zero-padded numeric code of the configured length.
func (s *Service) generateCode() (string, error) {
	bound := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(s.cfg.CodeDigits)), nil)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", s.cfg.CodeDigits, n), nil
}
