// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bookhold/internal/apperror"
	"bookhold/pkg/eventstore"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Options tunes the membership service.
type Options struct {
	// AdminUsernames are granted staff privileges on registration.
	AdminUsernames []string
	// AuthRate and AuthBurst throttle registration and login attempts.
	AuthRate  rate.Limit
	AuthBurst int
}

// service implements the Service interface.
type service struct {
	repo        Repository
	journal     eventstore.Journal
	log         *slog.Logger
	rateLimiter *rate.Limiter
	admins      map[string]struct{}
	now         func() time.Time
}

// NewService creates a new membership service instance. journal may be nil.
func NewService(repo Repository, journal eventstore.Journal, log *slog.Logger, opts Options) Service {
	if opts.AuthRate == 0 {
		opts.AuthRate = rate.Every(12 * time.Second)
	}
	if opts.AuthBurst == 0 {
		opts.AuthBurst = 5
	}
	admins := make(map[string]struct{}, len(opts.AdminUsernames))
	for _, u := range opts.AdminUsernames {
		admins[strings.ToLower(strings.TrimSpace(u))] = struct{}{}
	}
	return &service{
		repo:        repo,
		journal:     journal,
		log:         log,
		rateLimiter: rate.NewLimiter(opts.AuthRate, opts.AuthBurst),
		admins:      admins,
		now:         time.Now,
	}
}

// RegisterAccount creates a new account with a hashed password.
func (s *service) RegisterAccount(ctx context.Context, reg Registration) (*Account, error) {
	if !s.rateLimiter.Allow() {
		return nil, apperror.RateLimited("rate limit exceeded")
	}
	if len(reg.Password) < 8 {
		return nil, apperror.Validation("password must be at least 8 characters")
	}

	passwordHash, salt, err := hashPassword(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	username := strings.TrimSpace(reg.Username)
	_, admin := s.admins[strings.ToLower(username)]
	account := &Account{
		ID:        uuid.New(),
		Username:  username,
		Email:     strings.TrimSpace(reg.Email),
		FirstName: strings.TrimSpace(reg.FirstName),
		LastName:  strings.TrimSpace(reg.LastName),
		Phone:     strings.TrimSpace(reg.Phone),
		Admin:     admin,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	credential := &Credential{
		AccountID:    account.ID,
		PasswordHash: passwordHash,
		Salt:         salt,
	}

	if err := s.repo.InsertAccount(ctx, account, credential); err != nil {
		return nil, err
	}

	s.record(ctx, account.ID, 0, "AccountRegistered", AccountRegisteredEvent{
		ID:       account.ID,
		Username: account.Username,
		Email:    account.Email,
	})
	s.log.InfoContext(ctx, "account registered", "account_id", account.ID, "admin", admin)
	return account, nil
}

// Authenticate verifies an account's credentials and returns the account if successful.
func (s *service) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	if !s.rateLimiter.Allow() {
		return nil, apperror.RateLimited("rate limit exceeded")
	}

	account, err := s.repo.GetAccountByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid credentials")
		}
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	credential, err := s.repo.GetCredential(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, credential)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, apperror.Unauthorized("invalid credentials")
	}
	return account, nil
}

// GetAccount retrieves an account by its ID.
func (s *service) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// UpdateProfile overwrites the profile fields of an account.
func (s *service) UpdateProfile(ctx context.Context, id uuid.UUID, profile Profile) (*Account, error) {
	account, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	version := account.Version
	account.Username = strings.TrimSpace(profile.Username)
	account.Email = strings.TrimSpace(profile.Email)
	account.FirstName = strings.TrimSpace(profile.FirstName)
	account.LastName = strings.TrimSpace(profile.LastName)
	account.Phone = strings.TrimSpace(profile.Phone)
	account.UpdatedAt = s.now().UTC()

	if err := s.repo.UpdateAccount(ctx, account, version); err != nil {
		return nil, err
	}

	s.record(ctx, account.ID, version, "ProfileUpdated", ProfileUpdatedEvent{
		ID:       account.ID,
		Username: account.Username,
		Email:    account.Email,
	})
	return account, nil
}

func (s *service) record(ctx context.Context, id uuid.UUID, expectedVersion int, eventType string, payload any) {
	if err := eventstore.Record(ctx, s.journal, id, "account", expectedVersion, eventType, payload); err != nil {
		s.log.ErrorContext(ctx, "failed to journal account event",
			"account_id", id, "event_type", eventType, "error", err)
	}
}
