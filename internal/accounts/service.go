package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/respawn-arena/arena_auth/internal/identity"
)

// Service manages the account lifecycle behind the auth endpoints.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new account service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) newAccount(name string, role identity.Role) Account {
	return Account{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(name),
		Role:      role,
		CreatedAt: s.now().UTC(),
	}
}

// Register creates a customer account with a hashed password. Validation
// errors come back as *autherr.Error.
func (s *Service) Register(ctx context.Context, in SignupInput) (Account, error) {
	profile := identity.SignupProfile{Name: in.Name, Email: in.Email, Password: in.Password, Confirm: in.Password, Phone: in.Phone}
	if err := identity.ValidateSignup(profile, false); err != nil {
		return Account{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, err
	}
	a := s.newAccount(in.Name, identity.RoleCustomer)
	a.Email = strings.TrimSpace(in.Email)
	a.Phone = strings.TrimSpace(in.Phone)
	a.PasswordHash = hash
	if err := s.repo.Create(ctx, a); err != nil {
		return Account{}, err
	}
	return a, nil
}

// Authenticate verifies a password against the account found by login.
// Unknown logins and wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, login, password string) (Account, error) {
	a, err := s.repo.FindByLogin(ctx, strings.TrimSpace(login))
	if errors.Is(err, ErrNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if len(a.PasswordHash) == 0 || bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(password)) != nil {
		return Account{}, ErrInvalidCredentials
	}
	s.touch(ctx, &a)
	return a, nil
}

// AuthenticateAdmin is Authenticate restricted to staff accounts.
func (s *Service) AuthenticateAdmin(ctx context.Context, username, password string) (Account, error) {
	a, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return Account{}, err
	}
	if a.Role != identity.RoleAdmin {
		return Account{}, ErrInvalidCredentials
	}
	return a, nil
}

// EnsurePhone returns the account owning phone, creating a customer account
// named name when there is none.
func (s *Service) EnsurePhone(ctx context.Context, phone, name string) (Account, bool, error) {
	a, err := s.repo.FindByLogin(ctx, phone)
	if err == nil {
		s.touch(ctx, &a)
		return a, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, false, err
	}
	if strings.TrimSpace(name) == "" {
		name = "Player"
		if len(phone) >= 4 {
			name += " " + phone[len(phone)-4:]
		}
	}
	a = s.newAccount(name, identity.RoleCustomer)
	a.Phone = phone
	a.LastLogin = a.CreatedAt
	if err := s.repo.Create(ctx, a); err != nil {
		return Account{}, false, err
	}
	return a, true, nil
}

// EnsureGoogle resolves a federated identity. An existing account with the
// same email is linked rather than duplicated.
func (s *Service) EnsureGoogle(ctx context.Context, subject, email, name string) (Account, bool, error) {
	a, err := s.repo.FindByGoogleSubject(ctx, subject)
	if err == nil {
		s.touch(ctx, &a)
		return a, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, false, err
	}
	if email != "" {
		if a, err := s.repo.FindByLogin(ctx, email); err == nil {
			if err := s.repo.LinkGoogle(ctx, a.ID, subject); err != nil {
				return Account{}, false, fmt.Errorf("link google identity: %w", err)
			}
			a.GoogleSubject = subject
			s.touch(ctx, &a)
			return a, false, nil
		}
	}
	a = s.newAccount(name, identity.RoleCustomer)
	a.Email = email
	a.GoogleSubject = subject
	a.LastLogin = a.CreatedAt
	if err := s.repo.Create(ctx, a); err != nil {
		return Account{}, false, err
	}
	return a, true, nil
}

// SeedAdmin creates the staff account from a "username:password" pair if
// it does not exist yet.
func (s *Service) SeedAdmin(ctx context.Context, pair string) error {
	username, password, ok := strings.Cut(pair, ":")
	if !ok || username == "" || password == "" {
		return fmt.Errorf("admin seed must look like username:password")
	}
	if _, err := s.repo.FindByLogin(ctx, username); err == nil {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a := s.newAccount("Arena Admin", identity.RoleAdmin)
	a.Username = username
	a.Email = username + "@admin.respawn-arena.local"
	a.PasswordHash = hash
	if err := s.repo.Create(ctx, a); err != nil && !errors.Is(err, ErrExists) {
		return err
	}
	return nil
}

// Get returns the account with id.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) touch(ctx context.Context, a *Account) {
	at := s.now().UTC()
	if err := s.repo.TouchLogin(ctx, a.ID, at); err == nil {
		a.LastLogin = at
	}
}
