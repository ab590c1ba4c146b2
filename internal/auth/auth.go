// Package auth manages accounts and opaque bearer tokens.
//
// Passwords are stored as bcrypt hashes. Tokens are random values returned
// once at register or login; only their SHA-256 is persisted, with an
// expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/store"
)

var (
	// ErrEmailTaken is returned by Register for an existing email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned by Login on an unknown email or
	// wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for missing, unknown or expired tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWrongPassword is returned by DeleteAccount when the password
	// re-check fails.
	ErrWrongPassword = errors.New("invalid password")
	// ErrInvalidInput is returned for a malformed email or empty password.
	ErrInvalidInput = errors.New("invalid input")
)

// Authenticator resolves a bearer token to a user ID.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (int64, error)
}

// TokenIssuer creates bearer tokens for a user.
type TokenIssuer interface {
	Issue(ctx context.Context, userID int64) (token string, expiresAt time.Time, err error)
}

// AccountCleaner removes everything a user owns outside the users table,
// such as stored files.
type AccountCleaner interface {
	DeleteAll(ctx context.Context, userID int64) error
}

// Store is the persistence auth needs.
type Store interface {
	store.Users
	store.Tokens
}

// Session is the result of a successful register or login.
type Session struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      PublicUser `json:"user"`
}

// PublicUser is the user as exposed to clients.
type PublicUser struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Service implements accounts and tokens.
type Service struct {
	store   Store
	cleaner AccountCleaner
	logger  *logging.Logger
	ttl     time.Duration
	cost    int
	now     func() time.Time
}

var (
	_ Authenticator = (*Service)(nil)
	_ TokenIssuer   = (*Service)(nil)
)

// NewService creates the service. cleaner may be nil.
func NewService(s Store, cfg config.AuthConfig, cleaner AccountCleaner, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{store: s, cleaner: cleaner, logger: logger, ttl: ttl, cost: cost, now: time.Now}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email %q", ErrInvalidInput, email)
	}
	return email, nil
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password required", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		// bcrypt rejects passwords over 72 bytes.
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	u, err := s.store.CreateUser(ctx, email, string(hash))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	s.logger.Info(logging.WithUserID(ctx, u.ID), "user registered")
	return s.session(ctx, u)
}

// Login verifies the password and issues a new token.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		s.logger.Warn(logging.WithUserID(ctx, u.ID), "login failed")
		return nil, ErrInvalidCredentials
	}
	return s.session(ctx, u)
}

func (s *Service) session(ctx context.Context, u *store.User) (*Session, error) {
	token, expires, err := s.Issue(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expires, User: PublicUser{ID: u.ID, Email: u.Email}}, nil
}

// Issue creates and stores a token for userID.
func (s *Service) Issue(ctx context.Context, userID int64) (string, time.Time, error) {
	token, err := newToken()
	if err != nil {
		return "", time.Time{}, err
	}
	hash, err := HashToken(token)
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now().UTC()
	expires := now.Add(s.ttl)
	if err := s.store.SaveToken(ctx, store.Token{Hash: hash, UserID: userID, CreatedAt: now, ExpiresAt: expires}); err != nil {
		return "", time.Time{}, fmt.Errorf("saving token: %w", err)
	}
	return token, expires, nil
}

// Authenticate returns the user ID a live token belongs to. Expired tokens
// are deleted on sight.
func (s *Service) Authenticate(ctx context.Context, token string) (int64, error) {
	hash, err := HashToken(token)
	if err != nil {
		return 0, ErrInvalidToken
	}
	t, err := s.store.TokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrInvalidToken
		}
		return 0, fmt.Errorf("looking up token: %w", err)
	}
	if !s.now().Before(t.ExpiresAt) {
		if err := s.store.DeleteToken(ctx, hash); err != nil {
			s.logger.Warn(ctx, "failed to delete expired token", zap.Error(err))
		}
		return 0, ErrInvalidToken
	}
	return t.UserID, nil
}

// Logout revokes token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	hash, err := HashToken(token)
	if err != nil {
		return nil
	}
	return s.store.DeleteToken(ctx, hash)
}

// Profile returns the public view of a user.
func (s *Service) Profile(ctx context.Context, userID int64) (*PublicUser, error) {
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &PublicUser{ID: u.ID, Email: u.Email}, nil
}

// DeleteAccount re-checks the password, removes the user's documents and
// files through the cleaner, then deletes the user with its tokens.
func (s *Service) DeleteAccount(ctx context.Context, userID int64, password string) error {
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return ErrWrongPassword
	}
	if s.cleaner != nil {
		if err := s.cleaner.DeleteAll(ctx, userID); err != nil {
			return fmt.Errorf("deleting documents: %w", err)
		}
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	s.logger.Info(logging.WithUserID(ctx, userID), "account deleted")
	return nil
}

// PurgeExpired deletes expired tokens and returns how many were removed.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredTokens(ctx, s.now().UTC())
}
