package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/costar-cli/internal/browser"
	"github.com/sells-group/costar-cli/internal/browser/browsertest"
	"github.com/sells-group/costar-cli/internal/model"
	"github.com/sells-group/costar-cli/internal/resilience"
)

const (
	testUser = "broker@example.com"
	homeURL  = "https://product.costar.com/home/"
	suiteURL = "https://product.costar.com/suiteapps/home"
	loginURL = "https://product.costar.com/"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestManager(t *testing.T, b browser.Browser, store CookieStore, clock *fakeClock) *Manager {
	t.Helper()
	m, err := New(DefaultConfig(testUser, "secret"), b, store, WithClock(clock.Now), WithSleep(clock.Sleep))
	require.NoError(t, err)
	return m
}

func saveRecord(t *testing.T, store *FileCookieStore, rec model.CookieRecord) {
	t.Helper()
	require.NoError(t, store.SaveCookies(context.Background(), rec))
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(DefaultConfig("", "secret"), &browsertest.Fake{}, nil)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "username", cfgErr.Field)

	_, err = New(DefaultConfig(testUser, ""), &browsertest.Fake{}, nil)
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "password", cfgErr.Field)
}

func TestAcquire_RestoresValidCookies(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewFileCookieStore(t.TempDir())
	saveRecord(t, store, model.CookieRecord{
		Username: testUser,
		SavedAt:  clock.Now().Add(-24 * time.Hour),
		Cookies: []model.Cookie{
			{Name: "live", Value: "1", Expires: float64(clock.Now().Add(time.Hour).Unix())},
			{Name: "session", Value: "2", Expires: -1},
			{Name: "dead", Value: "3", Expires: float64(clock.Now().Add(-time.Hour).Unix())},
		},
	})

	fake := &browsertest.Fake{}
	m := newTestManager(t, fake, store, clock)

	tr, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tr)

	assert.Equal(t, Authenticated, m.State())
	assert.Equal(t, 0, fake.LoginCalls(), "no credential login when cookies are valid")

	installed := fake.Installed()
	require.Len(t, installed, 2)
	assert.Equal(t, "live", installed[0].Name)
	assert.Equal(t, "session", installed[1].Name)

	navs := fake.Navigations()
	assert.Equal(t, homeURL, navs[0])
	assert.Equal(t, DefaultConfig(testUser, "x").PrimingURL, navs[len(navs)-1])
}

func TestAcquire_ReusesAuthenticatedSession(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fake := &browsertest.Fake{LoginLanding: homeURL}
	m := newTestManager(t, fake, NewFileCookieStore(t.TempDir()), clock)

	first, err := m.Acquire(context.Background())
	require.NoError(t, err)
	second, err := m.Acquire(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, fake.LoginCalls())
}

func TestAcquire_StaleCookiesFallBackToLogin(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewFileCookieStore(t.TempDir())
	saveRecord(t, store, model.CookieRecord{
		Username: testUser,
		SavedAt:  clock.Now().Add(-8 * 24 * time.Hour),
		Cookies:  []model.Cookie{{Name: "old", Expires: -1}},
	})

	fake := &browsertest.Fake{
		LoginLanding:   suiteURL,
		LoginPolls:     2,
		BrowserCookies: []model.Cookie{{Name: "fresh", Value: "abc", Domain: ".costar.com", Expires: -1}},
	}
	m := newTestManager(t, fake, store, clock)

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Authenticated, m.State())
	assert.Equal(t, 1, fake.LoginCalls())
	assert.Empty(t, fake.Installed(), "stale cookies are never applied")
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.Sleeps())

	rec, err := store.LoadCookies(context.Background(), testUser)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, testUser, rec.Username)
	require.Len(t, rec.Cookies, 1)
	assert.Equal(t, "fresh", rec.Cookies[0].Name)
	assert.True(t, rec.SavedAt.Equal(clock.Now()))
}

func TestAcquire_RejectedCookiesAreDeleted(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewFileCookieStore(t.TempDir())
	saveRecord(t, store, model.CookieRecord{
		Username: testUser,
		SavedAt:  clock.Now().Add(-time.Hour),
		Cookies:  []model.Cookie{{Name: "revoked", Expires: -1}},
	})

	fake := &browsertest.Fake{
		RedirectTo:   map[string]string{homeURL: "https://product.costar.com/login?expired=1"},
		LoginLanding: homeURL,
	}
	m := newTestManager(t, fake, store, clock)

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.LoginCalls())

	// The rejected record was removed, then replaced by the fresh login.
	rec, err := store.LoadCookies(context.Background(), testUser)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Empty(t, rec.Cookies)
}

func TestAcquire_CorruptCookieFileIsDeleted(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewFileCookieStore(t.TempDir())
	require.NoError(t, os.MkdirAll(store.dir, 0o700))
	require.NoError(t, os.WriteFile(store.Path(testUser), []byte("{not json"), 0o600))

	fake := &browsertest.Fake{LoginErr: browser.ErrElementNotFound}
	m := newTestManager(t, fake, store, clock)

	_, err := m.Acquire(context.Background())
	require.Error(t, err)

	_, statErr := os.Stat(store.Path(testUser))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcquire_UsernameMismatchIgnored(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewFileCookieStore(t.TempDir())
	// Written under our username's path but claiming another user.
	data := `{"cookies":[{"name":"x","expires":-1}],"saved_at":"2026-03-01T11:00:00Z","username":"someone@else.com"}`
	require.NoError(t, os.MkdirAll(store.dir, 0o700))
	require.NoError(t, os.WriteFile(store.Path(testUser), []byte(data), 0o600))

	fake := &browsertest.Fake{LoginLanding: homeURL}
	m := newTestManager(t, fake, store, clock)

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fake.Installed())
	assert.Equal(t, 1, fake.LoginCalls())
}

func TestAcquire_SecondFactorTimeout(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fake := &browsertest.Fake{} // never lands on a home page
	m := newTestManager(t, fake, NewFileCookieStore(t.TempDir()), clock)

	_, err := m.Acquire(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "second_factor", authErr.Op)
	assert.True(t, errors.Is(err, ErrSecondFactorTimeout))
	assert.Equal(t, Unauthenticated, m.State())
	assert.Len(t, clock.Sleeps(), 30)
}

func TestAcquire_LoginFormMissing(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fake := &browsertest.Fake{LoginErr: browser.ErrElementNotFound}
	m := newTestManager(t, fake, NewFileCookieStore(t.TempDir()), clock)

	_, err := m.Acquire(context.Background())
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "login", authErr.Op)
	assert.True(t, errors.Is(err, browser.ErrElementNotFound))
	assert.Equal(t, Unauthenticated, m.State())
}

func TestTransport_RefusesWhenNotAuthenticated(t *testing.T) {
	t.Parallel()

	fake := &browsertest.Fake{}
	m := newTestManager(t, fake, nil, newFakeClock())
	tr := &Transport{manager: m, browser: fake}

	_, err := tr.Post(context.Background(), "https://product.costar.com/graphql", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAuthenticated))
	assert.True(t, resilience.IsPermanent(err))
	assert.Empty(t, fake.Posts(), "no request leaves the browser")
}

func TestTransport_LoginPageExpiresSession(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	calls := 0
	fake := &browsertest.Fake{
		LoginLanding: homeURL,
		PostFunc: func(_ string, _ []byte) (*browser.Response, error) {
			calls++
			if calls == 1 {
				return &browser.Response{Status: 200, Body: `{"data":{}}`}, nil
			}
			return &browser.Response{
				Status: 200,
				Body:   `<!DOCTYPE html><html><body><form id="signinform"><input type="password"></form></body></html>`,
			}, nil
		},
	}
	m := newTestManager(t, fake, NewFileCookieStore(t.TempDir()), clock)

	tr, err := m.Acquire(context.Background())
	require.NoError(t, err)

	resp, err := tr.Post(context.Background(), "https://product.costar.com/graphql", []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, resp.OK())

	_, err = tr.Post(context.Background(), "https://product.costar.com/graphql", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionExpired))
	assert.True(t, resilience.IsPermanent(err))
	assert.Equal(t, Expired, m.State())

	_, err = tr.Post(context.Background(), "https://product.costar.com/graphql", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrNotAuthenticated))
	assert.Equal(t, 2, calls)

	// A fresh Acquire re-authenticates.
	_, err = m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Authenticated, m.State())
}

func TestManager_LogoutAndClose(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewFileCookieStore(t.TempDir())
	fake := &browsertest.Fake{LoginLanding: homeURL, BrowserCookies: []model.Cookie{{Name: "a", Expires: -1}}}
	m := newTestManager(t, fake, store, clock)

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Logout(context.Background()))
	assert.Equal(t, Expired, m.State())
	rec, err := store.LoadCookies(context.Background(), testUser)
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, m.Close())
	assert.True(t, fake.Closed())
	assert.Equal(t, Unauthenticated, m.State())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unauthenticated", Unauthenticated.String())
	assert.Equal(t, "awaiting_second_factor", AwaitingSecondFactor.String())
	assert.Equal(t, "expired", Expired.String())
	assert.Equal(t, "unknown", State(42).String())
}
