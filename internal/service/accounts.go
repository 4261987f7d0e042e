package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"meramandi/internal/alerting"
	"meramandi/internal/market"
	"meramandi/internal/storage"
)

const (
	minPasswordLength = 6
	maxOTPAttempts    = 5
)

// RegisterInput is an account registration request.
type RegisterInput struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Password string `json:"password"`
	State    string `json:"state"`
	District string `json:"district"`
	Crop     string `json:"crop"`
}

// Session is an authenticated owner with a bearer token.
type Session struct {
	Owner     storage.Owner
	Token     string
	ExpiresAt time.Time
	Snapshot  *market.Snapshot
}

// Accounts handles password registration, email verification and token
// sessions.
type Accounts struct {
	owners    storage.OwnerStore
	snapshots *Snapshots
	mailer    alerting.Mailer
	ttl       time.Duration
	otpTTL    time.Duration
	cost      int
	now       func() time.Time
	logger    zerolog.Logger
}

// NewAccounts wires the account service. ttl is the token lifetime and
// otpTTL the lifetime of an emailed verification code.
func NewAccounts(owners storage.OwnerStore, snapshots *Snapshots, mailer alerting.Mailer, ttl, otpTTL time.Duration, logger zerolog.Logger) *Accounts {
	return &Accounts{
		owners:    owners,
		snapshots: snapshots,
		mailer:    mailer,
		ttl:       ttl,
		otpTTL:    otpTTL,
		cost:      bcrypt.DefaultCost,
		now:       time.Now,
		logger:    logger.With().Str("component", "accounts").Logger(),
	}
}

// Register creates credentials for a phone that has none yet. Owners created
// earlier by the alert form or a voice call can still register.
func (a *Accounts) Register(ctx context.Context, in RegisterInput) (Session, error) {
	phone := alerting.LocalPhone(in.Phone)
	if len(phone) != 10 {
		return Session{}, fmt.Errorf("%w: phone must have at least 10 digits", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return Session{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if strings.TrimSpace(in.Name) == "" {
		return Session{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := checkEmail(strings.TrimSpace(in.Email)); err != nil {
		return Session{}, err
	}

	existing, err := a.owners.GetOwnerByPhone(ctx, phone)
	switch {
	case err == nil && existing.PasswordHash != "":
		return Session{}, ErrConflict
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return Session{}, fmt.Errorf("lookup owner: %w", err)
	}

	owner, err := a.owners.UpsertOwnerByPhone(ctx, storage.OwnerUpsert{
		Phone:         phone,
		Name:          strings.TrimSpace(in.Name),
		Email:         strings.TrimSpace(in.Email),
		State:         strings.TrimSpace(in.State),
		District:      strings.TrimSpace(in.District),
		PreferredCrop: strings.TrimSpace(in.Crop),
	})
	if err != nil {
		return Session{}, fmt.Errorf("upsert owner: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), a.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	if err := a.owners.SetOwnerPassword(ctx, owner.ID, string(hash)); err != nil {
		return Session{}, err
	}
	owner.PasswordHash = string(hash)

	a.logger.Info().Str("owner_id", owner.ID.String()).Msg("owner registered")
	return a.openSession(ctx, owner)
}

// Login verifies a phone and password and issues a new token.
func (a *Accounts) Login(ctx context.Context, phone, password string) (Session, error) {
	owner, err := a.owners.GetOwnerByPhone(ctx, alerting.LocalPhone(phone))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Session{}, ErrUnauthorized
		}
		return Session{}, fmt.Errorf("lookup owner: %w", err)
	}
	if owner.PasswordHash == "" {
		return Session{}, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(owner.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrUnauthorized
	}
	return a.openSession(ctx, owner)
}

// Authenticate resolves a token to its owner.
func (a *Accounts) Authenticate(ctx context.Context, token string) (storage.Owner, error) {
	if token == "" {
		return storage.Owner{}, ErrUnauthorized
	}
	owner, err := a.owners.GetOwnerByToken(ctx, token, a.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Owner{}, ErrUnauthorized
		}
		return storage.Owner{}, err
	}
	return owner, nil
}

// Logout revokes a token.
func (a *Accounts) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return a.owners.ClearOwnerToken(ctx, token)
}

// RequestEmailOTP emails a six digit code to the owner registered with email.
// A new request replaces any pending code.
func (a *Accounts) RequestEmailOTP(ctx context.Context, email string) error {
	owner, err := a.ownerByEmail(ctx, email)
	if err != nil {
		return err
	}

	code, err := newOTP()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), a.cost)
	if err != nil {
		return fmt.Errorf("hash otp: %w", err)
	}
	if err := a.owners.SetEmailOTP(ctx, owner.ID, string(hash), a.now().Add(a.otpTTL).UTC()); err != nil {
		return err
	}

	err = a.mailer.SendOTP(ctx, owner.Email, alerting.OTPData{Name: owner.Name, Code: code, ValidFor: a.otpTTL})
	if err != nil {
		return fmt.Errorf("send otp: %w", err)
	}
	a.logger.Info().Str("owner_id", owner.ID.String()).Msg("email otp sent")
	return nil
}

// VerifyEmailOTP checks a code sent by RequestEmailOTP. On success the email
// is marked verified, the code is consumed and a session is opened.
func (a *Accounts) VerifyEmailOTP(ctx context.Context, email, code string) (Session, error) {
	owner, err := a.ownerByEmail(ctx, email)
	if err != nil {
		return Session{}, err
	}

	switch {
	case owner.EmailOTPHash == "" || owner.EmailOTPExpiresAt == nil:
		return Session{}, fmt.Errorf("%w: no verification code requested", ErrInvalidInput)
	case !a.now().Before(*owner.EmailOTPExpiresAt):
		return Session{}, fmt.Errorf("%w: verification code expired", ErrInvalidInput)
	case owner.EmailOTPAttempts >= maxOTPAttempts:
		return Session{}, fmt.Errorf("%w: too many attempts, request a new code", ErrInvalidInput)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(owner.EmailOTPHash), []byte(strings.TrimSpace(code))); err != nil {
		if err := a.owners.RecordEmailOTPFailure(ctx, owner.ID); err != nil {
			a.logger.Warn().Err(err).Msg("failed to record otp attempt")
		}
		return Session{}, fmt.Errorf("%w: invalid verification code", ErrInvalidInput)
	}

	if err := a.owners.MarkEmailVerified(ctx, owner.ID); err != nil {
		return Session{}, err
	}
	owner.EmailVerified = true
	owner.EmailOTPHash = ""
	owner.EmailOTPExpiresAt = nil
	owner.EmailOTPAttempts = 0

	a.logger.Info().Str("owner_id", owner.ID.String()).Msg("email verified")
	return a.openSession(ctx, owner)
}

func (a *Accounts) ownerByEmail(ctx context.Context, email string) (storage.Owner, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return storage.Owner{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if err := checkEmail(email); err != nil {
		return storage.Owner{}, err
	}
	owner, err := a.owners.GetOwnerByEmail(ctx, email)
	if err != nil {
		return storage.Owner{}, err
	}
	return owner, nil
}

// openSession refreshes the owner's market snapshot and issues a token.
func (a *Accounts) openSession(ctx context.Context, owner storage.Owner) (Session, error) {
	token, err := newToken()
	if err != nil {
		return Session{}, err
	}
	expires := a.now().Add(a.ttl).UTC()
	if err := a.owners.SetOwnerToken(ctx, owner.ID, token, expires); err != nil {
		return Session{}, err
	}
	owner.AuthToken = token
	owner.TokenExpiresAt = &expires

	session := Session{Owner: owner, Token: token, ExpiresAt: expires}
	if a.snapshots != nil && owner.State != "" && owner.District != "" {
		snap, err := a.snapshots.Capture(ctx, market.Filter{
			State:     owner.State,
			District:  owner.District,
			Commodity: cropOrAll(owner.PreferredCrop),
			Mandi:     market.AllMandis,
		})
		if err != nil {
			a.logger.Info().Err(err).Str("owner_id", owner.ID.String()).Msg("no snapshot captured at sign-in")
		} else {
			session.Snapshot = &snap
			if snap.ID != 0 {
				if err := a.owners.SetOwnerSnapshot(ctx, owner.ID, snap.ID); err != nil {
					a.logger.Warn().Err(err).Msg("failed to attach snapshot to owner")
				} else {
					owner.SnapshotID = &snap.ID
					session.Owner = owner
				}
			}
		}
	}
	return session, nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func newOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", 100000+n.Int64()), nil
}

func cropOrAll(crop string) string {
	if strings.TrimSpace(crop) == "" {
		return market.AllCommodities
	}
	return crop
}
