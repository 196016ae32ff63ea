package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// UserStore is the persistence the service needs. Repository implements it.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, user User) (User, error)
}

type Service struct {
	store    UserStore
	hasher   *Hasher
	issuer   *TokenIssuer
	verifier *TokenVerifier

	decoyOnce sync.Once
	decoyHash string
}

func NewService(store UserStore, hasher *Hasher, issuer *TokenIssuer, verifier *TokenVerifier) *Service {
	return &Service{store: store, hasher: hasher, issuer: issuer, verifier: verifier}
}

// Login answers ErrInvalidCredentials for both an unknown email and a wrong
// password.
func (s *Service) Login(ctx context.Context, email, password string) (Token, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return Token{}, ErrInvalidCredentials
	}

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.hasher.Verify(password, s.decoy())
			return Token{}, ErrInvalidCredentials
		}
		return Token{}, err
	}

	if !s.hasher.Verify(password, user.HashedPassword) {
		return Token{}, ErrInvalidCredentials
	}

	access, err := s.issuer.Issue(user.Email)
	if err != nil {
		return Token{}, err
	}

	return Token{
		AccessToken: access,
		TokenType:   bearerType,
		ExpiresIn:   int64(s.issuer.TTL().Seconds()),
	}, nil
}

// Authenticate resolves a bearer token to a stored user. The returned error
// wraps ErrUnauthorized and, when verification failed, the specific cause.
func (s *Service) Authenticate(ctx context.Context, token string) (User, error) {
	subject, err := s.verifier.Verify(token)
	if err != nil {
		return User{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	user, err := s.store.GetByEmail(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return User{}, err
	}

	return user, nil
}

func (s *Service) RequireActive(user User) (User, error) {
	if !user.IsActive {
		return User{}, ErrInactiveAccount
	}
	return user, nil
}

// CreateUser validates input, hashes the password and inserts the account.
// Validation failures are returned as validation.Errors.
func (s *Service) CreateUser(ctx context.Context, input NewUser) (User, error) {
	input.Email = NormalizeEmail(input.Email)
	input.FullName = strings.TrimSpace(input.FullName)
	if err := input.Validate(); err != nil {
		return User{}, err
	}

	if _, err := s.store.GetByEmail(ctx, input.Email); err == nil {
		return User{}, ErrDuplicateUser
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	hashed, err := s.hasher.Hash(input.Password)
	if err != nil {
		return User{}, err
	}

	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}

	return s.store.Create(ctx, User{
		Email:          input.Email,
		FullName:       input.FullName,
		HashedPassword: hashed,
		IsActive:       active,
	})
}

func (s *Service) GetUserInfo(ctx context.Context, email string) (User, error) {
	return s.store.GetByEmail(ctx, NormalizeEmail(email))
}

// BootstrapAdmin seeds one account so the first authenticated caller exists.
// It does nothing when the account is already present.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = NormalizeEmail(email)
	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	_, err := s.CreateUser(ctx, NewUser{Email: email, Password: password})
	if err != nil && !errors.Is(err, ErrDuplicateUser) {
		return fmt.Errorf("create admin user: %w", err)
	}

	return nil
}

// decoy is compared against on unknown emails so both login failures cost
// one bcrypt comparison.
func (s *Service) decoy() string {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash("decoy-password")
		if err == nil {
			s.decoyHash = hash
		}
	})
	return s.decoyHash
}

func (u NewUser) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Email, validation.Required, validation.Length(3, 200), is.Email),
		validation.Field(&u.FullName, validation.Length(0, 200)),
		validation.Field(&u.Password, validation.Required),
	)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
