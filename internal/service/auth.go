package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/timmy/leadsync/internal/domain"
	"github.com/timmy/leadsync/internal/logger"
	"github.com/timmy/leadsync/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Auth defaults.
const (
	DefaultSessionTTL = 7 * 24 * time.Hour
	DefaultHashCost   = 12
)

// SignUpInput registers a new account.
type SignUpInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"fullName" validate:"omitempty,max=200"`
}

// LoginInput authenticates an existing account.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthSession is an issued session token with its owner.
type AuthSession struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *domain.User `json:"user"`
}

// AuthService issues and checks session tokens.
type AuthService struct {
	users      repository.UserRepository
	validate   *validator.Validate
	sessionTTL time.Duration
	hashCost   int
	now        func() time.Time
}

// NewAuthService creates a new AuthService.
// Parameters:
//   - users: account and session store.
//   - sessionTTL: lifetime of issued sessions; zero uses DefaultSessionTTL.
//
// Returns:
//   - *AuthService: initialized service.
func NewAuthService(users repository.UserRepository, sessionTTL time.Duration) *AuthService {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &AuthService{
		users:      users,
		validate:   newValidator(),
		sessionTTL: sessionTTL,
		hashCost:   DefaultHashCost,
		now:        time.Now,
	}
}

// WithClock replaces the time source used for session expiry.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// WithHashCost sets the bcrypt cost for new passwords.
func (s *AuthService) WithHashCost(cost int) *AuthService {
	s.hashCost = cost
	return s
}

// SignUp creates an account and opens a session for it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - in: account fields.
//
// Returns:
//   - *AuthSession: session of the new account.
//   - error: ErrValidation for bad input, ErrConflict when the email is taken.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (*AuthSession, error) {
	in.Email = normalizeEmail(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if err := validationError(s.validate.Struct(&in)); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		FullName:     in.FullName,
		PasswordHash: string(hash),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	ctx = logger.WithField(ctx, logger.FieldUserID, user.ID)
	logger.CtxInfo(ctx, "User %s signed up", user.ID)
	return s.openSession(ctx, user)
}

// Login verifies the credentials and opens a new session.
// Unknown emails and wrong passwords both yield ErrUnauthorized.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthSession, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validationError(s.validate.Struct(&in)); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid email or password", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, fmt.Errorf("%w: invalid email or password", domain.ErrUnauthorized)
	}

	return s.openSession(ctx, user)
}

// Logout ends a session. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.users.DeleteSession(ctx, token)
}

// Authenticate resolves a session token to its user.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - token: opaque session token.
//
// Returns:
//   - *domain.User: owner of the session.
//   - error: ErrUnauthorized for a missing, unknown or expired token.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing session token", domain.ErrUnauthorized)
	}

	session, err := s.users.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid session", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if !session.ExpiresAt.After(s.now()) {
		_ = s.users.DeleteSession(ctx, token)
		return nil, fmt.Errorf("%w: session expired", domain.ErrUnauthorized)
	}

	user, err := s.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid session", domain.ErrUnauthorized)
		}
		return nil, err
	}
	return user, nil
}

// PurgeExpiredSessions removes sessions that expired before now.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.users.DeleteExpiredSessions(ctx, s.now())
}

func (s *AuthService) openSession(ctx context.Context, user *domain.User) (*AuthSession, error) {
	session := &domain.Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: s.now().Add(s.sessionTTL).UTC(),
	}
	if err := s.users.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return &AuthSession{Token: session.Token, ExpiresAt: session.ExpiresAt, User: user}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SelectUserRepository returns primary unless fallback is allowed and primary
// has no accounts, in which case an in-memory store is used.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - primary: database-backed store.
//   - allowFallback: whether the in-memory store may be used.
//
// Returns:
//   - repository.UserRepository: the store to use.
//   - bool: true when the in-memory store was selected.
func SelectUserRepository(ctx context.Context, primary repository.UserRepository, allowFallback bool) (repository.UserRepository, bool) {
	if !allowFallback {
		return primary, false
	}
	count, err := primary.CountUsers(ctx)
	if err != nil {
		logger.CtxWarn(ctx, "Counting users failed, using in-memory accounts: %v", err)
		return repository.NewMemoryUserRepository(), true
	}
	if count == 0 {
		logger.CtxWarn(ctx, "No accounts in database, using in-memory accounts")
		return repository.NewMemoryUserRepository(), true
	}
	return primary, false
}
