package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"authgate/internal/auth"
	"authgate/internal/config"
	"authgate/internal/observability"
)

type memStore struct {
	mu    sync.Mutex
	users map[string]auth.User
}

func (m *memStore) GetByEmail(_ context.Context, email string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return user, nil
}

func (m *memStore) Create(_ context.Context, user auth.User) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Email]; ok {
		return auth.User{}, auth.ErrDuplicateUser
	}
	m.users[user.Email] = user
	return user, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type harness struct {
	store   *memStore
	clock   *clock
	service *auth.Service
	handler http.Handler
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg, err := config.Load(func(key string) string {
		return map[string]string{
			"DATABASE_URL": "postgres://unused",
			"SECRET_KEY":   "scenario-secret",
		}[key]
	})
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}

	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	store := &memStore{users: make(map[string]auth.User)}
	service := auth.NewService(
		store,
		auth.NewHasher(bcrypt.MinCost),
		auth.NewTokenIssuer(cfg.SecretKey, cfg.AccessTokenExpiration).WithClock(clk.Now),
		auth.NewTokenVerifier(cfg.SecretKey).WithClock(clk.Now),
	)
	require.NoError(t, service.BootstrapAdmin(context.Background(), "alice@example.com", "alice-pw"))

	return &harness{
		store:   store,
		clock:   clk,
		service: service,
		handler: NewRouter(RouterDeps{
			Config:  cfg,
			Service: service,
			Logger:  observability.NewLoggerTo(io.Discard),
			Health:  fakePinger{},
		}),
	}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) login(t *testing.T, prefix string) string {
	t.Helper()
	form := url.Values{"username": {"alice@example.com"}, "password": {"alice-pw"}}
	req := httptest.NewRequest(http.MethodPost, prefix+"/users/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := h.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"token_type":"bearer"`)
	return extractToken(t, rec.Body.String())
}

func extractToken(t *testing.T, body string) string {
	t.Helper()
	const key = `"access_token":"`
	i := strings.Index(body, key)
	require.GreaterOrEqual(t, i, 0)
	rest := body[i+len(key):]
	return rest[:strings.Index(rest, `"`)]
}

func withBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestScenario_TokenExpiry(t *testing.T) {
	h := newHarness(t, nil)
	t0 := h.clock.Now()
	token := h.login(t, "")

	h.clock.Set(t0.Add(time.Hour))
	rec := h.do(withBearer(httptest.NewRequest(http.MethodGet, "/users/get_user_info/alice@example.com", nil), token))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.clock.Set(t0.Add(25 * time.Hour))
	rec = h.do(withBearer(httptest.NewRequest(http.MethodGet, "/users/get_user_info/alice@example.com", nil), token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestScenario_CreateUserTwice(t *testing.T) {
	h := newHarness(t, nil)
	token := h.login(t, "")
	body := `{"email":"bob@example.com","password":"pw"}`

	first := h.do(withBearer(httptest.NewRequest(http.MethodPut, "/users/create_user/", strings.NewReader(body)), token))
	assert.Equal(t, http.StatusCreated, first.Code)

	second := h.do(withBearer(httptest.NewRequest(http.MethodPut, "/users/create_user", strings.NewReader(body)), token))
	assert.Equal(t, http.StatusBadRequest, second.Code)

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	assert.Len(t, h.store.users, 2)
	assert.Contains(t, h.store.users, "bob@example.com")
}

func TestRouter_APIPrefix(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.APIPrefix = "/api" })
	token := h.login(t, "/api")

	rec := h.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/users/get_user_info/alice@example.com", nil), token))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(withBearer(httptest.NewRequest(http.MethodGet, "/users/get_user_info/alice@example.com", nil), token))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_WrongMethod(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/users/login", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_CORS(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.CORSAllowedOrigins = []string{"http://localhost:3000"} })

	preflight := httptest.NewRequest(http.MethodOptions, "/users/create_user/", nil)
	preflight.Header.Set("Origin", "http://localhost:3000")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPut)
	preflight.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")

	rec := h.do(preflight)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	other := httptest.NewRequest(http.MethodOptions, "/users/create_user/", nil)
	other.Header.Set("Origin", "http://evil.example.com")
	other.Header.Set("Access-Control-Request-Method", http.MethodPut)

	rec = h.do(other)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_Health(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	cfg, err := config.Load(func(key string) string {
		return map[string]string{"DATABASE_URL": "postgres://unused"}[key]
	})
	require.NoError(t, err)
	degraded := NewRouter(RouterDeps{
		Config:  cfg,
		Service: h.service,
		Logger:  observability.NewLoggerTo(io.Discard),
		Health:  fakePinger{err: errors.New("down")},
	})

	rec = httptest.NewRecorder()
	degraded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestBuild_RequiresDatabaseURL(t *testing.T) {
	_, err := Build(context.Background(), Options{
		Getenv: func(string) string { return "" },
		Logger: observability.NewLoggerTo(io.Discard),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
