package accounts

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewMemoryRepository builds an in-memory account store for local runs and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{accounts: make(map[string]Account)}
}

func clash(a, b Account) bool {
	switch {
	case a.Email != "" && strings.EqualFold(a.Email, b.Email):
		return true
	case a.Phone != "" && a.Phone == b.Phone:
		return true
	case a.Username != "" && a.Username == b.Username:
		return true
	case a.GoogleSubject != "" && a.GoogleSubject == b.GoogleSubject:
		return true
	}
	return false
}

func (r *memoryRepository) Create(_ context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.ID == account.ID || clash(existing, account) {
			return ErrExists
		}
	}
	r.accounts[account.ID] = account
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (r *memoryRepository) find(match func(Account) bool) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if match(a) {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}

func (r *memoryRepository) FindByLogin(_ context.Context, login string) (Account, error) {
	return r.find(func(a Account) bool {
		return (a.Email != "" && strings.EqualFold(a.Email, login)) || (a.Phone != "" && a.Phone == login) || (a.Username != "" && a.Username == login)
	})
}

func (r *memoryRepository) FindByGoogleSubject(_ context.Context, subject string) (Account, error) {
	return r.find(func(a Account) bool { return a.GoogleSubject != "" && a.GoogleSubject == subject })
}

func (r *memoryRepository) modify(id string, fn func(*Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	fn(&a)
	r.accounts[id] = a
	return nil
}

func (r *memoryRepository) LinkGoogle(_ context.Context, id, subject string) error {
	return r.modify(id, func(a *Account) { a.GoogleSubject = subject })
}

func (r *memoryRepository) TouchLogin(_ context.Context, id string, at time.Time) error {
	return r.modify(id, func(a *Account) { a.LastLogin = at.UTC() })
}
