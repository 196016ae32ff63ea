package auth

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type memStore struct {
	mu      sync.Mutex
	users   map[string]User
	getErr  error
	nextID  int
	creates int
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]User)}
}

func (m *memStore) GetByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return User{}, m.getErr
	}
	user, ok := m.users[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *memStore) Create(_ context.Context, user User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Email]; ok {
		return User{}, ErrDuplicateUser
	}
	m.nextID++
	m.creates++
	user.ID = strconv.Itoa(m.nextID)
	user.CreatedAt = time.Now().UTC()
	m.users[user.Email] = user
	return user, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

type testEnv struct {
	store   *memStore
	hasher  *Hasher
	issuer  *TokenIssuer
	service *Service
}

func newTestEnv() *testEnv {
	store := newMemStore()
	hasher := NewHasher(bcrypt.MinCost)
	issuer := NewTokenIssuer(testSecret, time.Hour)
	return &testEnv{
		store:   store,
		hasher:  hasher,
		issuer:  issuer,
		service: NewService(store, hasher, issuer, NewTokenVerifier(testSecret)),
	}
}

func (e *testEnv) seed(email, password string, active bool) User {
	hashed, err := e.hasher.Hash(password)
	if err != nil {
		panic(err)
	}
	user, err := e.store.Create(context.Background(), User{
		Email:          email,
		FullName:       "Seeded",
		HashedPassword: hashed,
		IsActive:       active,
	})
	if err != nil {
		panic(err)
	}
	return user
}
