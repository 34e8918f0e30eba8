// Package session owns the authenticated browser session: cookie restore,
// credential login with second-factor polling, and the state machine that
// gates every API request.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/costar-cli/internal/browser"
	"github.com/sells-group/costar-cli/internal/model"
)

// Config holds the session settings.
type Config struct {
	Username string
	Password string

	LoginURL   string
	HomeURLs   []string
	PrimingURL string

	CookieMaxAge        time.Duration
	SecondFactorTimeout time.Duration
	PollInterval        time.Duration
	ProgressInterval    time.Duration
	SettleDelay         time.Duration
}

// DefaultConfig returns the platform defaults for the given credentials.
func DefaultConfig(username, password string) Config {
	return Config{
		Username:   username,
		Password:   password,
		LoginURL:   "https://product.costar.com/",
		PrimingURL: "https://product.costar.com/LeaseComps/Search/Index/US",
		HomeURLs: []string{
			"https://product.costar.com/home/",
			"https://product.costar.com/suiteapps/home",
		},
		CookieMaxAge:        7 * 24 * time.Hour,
		SecondFactorTimeout: 60 * time.Second,
		PollInterval:        2 * time.Second,
		ProgressInterval:    30 * time.Second,
		SettleDelay:         3 * time.Second,
	}
}

// Manager drives one browser through authentication and hands out a
// Transport once Authenticated. Safe for concurrent use.
type Manager struct {
	cfg     Config
	browser browser.Browser
	cookies CookieStore

	acquireMu sync.Mutex

	mu        sync.RWMutex
	state     State
	transport *Transport

	nowFunc func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.nowFunc = now }
}

// WithSleep overrides how the manager waits between polls.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = fn }
}

// New creates a Manager. Missing credentials return a *ConfigError.
func New(cfg Config, b browser.Browser, cookies CookieStore, opts ...Option) (*Manager, error) {
	if cfg.Username == "" {
		return nil, &ConfigError{Field: "username"}
	}
	if cfg.Password == "" {
		return nil, &ConfigError{Field: "password"}
	}
	if len(cfg.HomeURLs) == 0 {
		return nil, &ConfigError{Field: "home urls"}
	}
	if b == nil {
		return nil, &ConfigError{Field: "browser"}
	}

	def := DefaultConfig(cfg.Username, cfg.Password)
	if cfg.LoginURL == "" {
		cfg.LoginURL = def.LoginURL
	}
	if cfg.CookieMaxAge <= 0 {
		cfg.CookieMaxAge = def.CookieMaxAge
	}
	if cfg.SecondFactorTimeout <= 0 {
		cfg.SecondFactorTimeout = def.SecondFactorTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = def.ProgressInterval
	}

	m := &Manager{
		cfg:     cfg,
		browser: b,
		cookies: cookies,
		state:   Unauthenticated,
		nowFunc: time.Now,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	from := m.state
	m.state = s
	m.mu.Unlock()
	if from != s {
		zap.L().Debug("session state change",
			zap.Stringer("from", from),
			zap.Stringer("to", s),
		)
	}
}

// Invalidate marks an authenticated session as expired. The next Acquire
// re-authenticates.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Authenticated {
		m.state = Expired
		m.transport = nil
		zap.L().Warn("session expired, re-authentication required")
	}
}

// Acquire returns a Transport for an authenticated session, restoring
// persisted cookies when they are still valid and logging in otherwise.
// An already authenticated session is reused.
func (m *Manager) Acquire(ctx context.Context) (*Transport, error) {
	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()

	m.mu.RLock()
	if m.state == Authenticated && m.transport != nil {
		t := m.transport
		m.mu.RUnlock()
		return t, nil
	}
	m.mu.RUnlock()

	m.setState(Authenticating)
	if err := m.browser.Launch(ctx); err != nil {
		m.setState(Unauthenticated)
		return nil, &AuthError{Op: "launch", Err: err}
	}

	restored := m.restore(ctx)
	if err := ctx.Err(); err != nil {
		m.setState(Unauthenticated)
		return nil, &AuthError{Op: "restore", Err: err}
	}

	if restored {
		zap.L().Info("session restored from cookies", zap.String("username", m.cfg.Username))
	} else {
		if err := m.login(ctx); err != nil {
			m.setState(Unauthenticated)
			return nil, err
		}
		zap.L().Info("session authenticated", zap.String("username", m.cfg.Username))
	}

	if m.cfg.PrimingURL != "" {
		if err := m.browser.Navigate(ctx, m.cfg.PrimingURL); err != nil {
			zap.L().Warn("session priming navigation failed", zap.Error(err))
		}
	}

	t := &Transport{manager: m, browser: m.browser}
	m.mu.Lock()
	m.state = Authenticated
	m.transport = t
	m.mu.Unlock()
	return t, nil
}

// Close shuts the browser down.
func (m *Manager) Close() error {
	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()

	m.mu.Lock()
	m.state = Unauthenticated
	m.transport = nil
	m.mu.Unlock()

	if err := m.browser.Close(); err != nil {
		return eris.Wrap(err, "session: close browser")
	}
	return nil
}

// Logout forgets the persisted cookies for the configured username.
func (m *Manager) Logout(ctx context.Context) error {
	m.Invalidate()
	if m.cookies == nil {
		return nil
	}
	return m.cookies.DeleteCookies(ctx, m.cfg.Username)
}

// restore tries the persisted cookie record. Any failure after the record
// was read discards it.
func (m *Manager) restore(ctx context.Context) bool {
	if m.cookies == nil {
		return false
	}
	log := zap.L().With(zap.String("username", m.cfg.Username))

	rec, err := m.cookies.LoadCookies(ctx, m.cfg.Username)
	if err != nil {
		log.Warn("cookie record unreadable, discarding", zap.Error(err))
		m.discard(ctx)
		return false
	}
	if rec == nil {
		log.Debug("no saved cookies")
		return false
	}
	if rec.Username != m.cfg.Username {
		log.Info("saved cookies belong to another user", zap.String("saved_username", rec.Username))
		return false
	}

	now := m.nowFunc()
	if age := now.Sub(rec.SavedAt); age > m.cfg.CookieMaxAge {
		log.Info("saved cookies too old", zap.Duration("age", age))
		return false
	}

	live := rec.Live(now)
	if len(live) == 0 {
		log.Info("saved cookies all expired")
		return false
	}

	if err := m.browser.SetCookies(ctx, live); err != nil {
		log.Warn("cookie restore failed", zap.Error(err))
		m.discard(ctx)
		return false
	}
	if err := m.browser.Navigate(ctx, m.cfg.HomeURLs[0]); err != nil {
		log.Warn("cookie validation navigation failed", zap.Error(err))
		m.discard(ctx)
		return false
	}
	if err := m.sleep(ctx, m.cfg.SettleDelay); err != nil {
		return false
	}

	url, err := m.browser.CurrentURL(ctx)
	if err != nil || !m.isHome(url) {
		log.Info("saved cookies rejected", zap.String("url", url), zap.Error(err))
		m.discard(ctx)
		return false
	}
	return true
}

func (m *Manager) discard(ctx context.Context) {
	if err := m.cookies.DeleteCookies(ctx, m.cfg.Username); err != nil {
		zap.L().Warn("delete cookie record", zap.Error(err))
	}
}

// login submits credentials and waits for second-factor approval by polling
// the current URL until it lands on an allow-listed home page.
func (m *Manager) login(ctx context.Context) error {
	if err := m.browser.Navigate(ctx, m.cfg.LoginURL); err != nil {
		return &AuthError{Op: "login", Err: err}
	}
	form := browser.DefaultLoginForm(m.cfg.Username, m.cfg.Password)
	if err := m.browser.SubmitLogin(ctx, form); err != nil {
		return &AuthError{Op: "login", Err: err}
	}

	m.setState(AwaitingSecondFactor)
	zap.L().Info("credentials submitted, waiting for second factor approval",
		zap.Duration("timeout", m.cfg.SecondFactorTimeout),
	)

	start := m.nowFunc()
	deadline := start.Add(m.cfg.SecondFactorTimeout)
	lastProgress := start
	for {
		url, err := m.browser.CurrentURL(ctx)
		if err == nil && m.isHome(url) {
			break
		}

		now := m.nowFunc()
		if !now.Before(deadline) {
			return &AuthError{Op: "second_factor", Err: ErrSecondFactorTimeout}
		}
		if now.Sub(lastProgress) >= m.cfg.ProgressInterval {
			zap.L().Info("still waiting for second factor approval",
				zap.Duration("elapsed", now.Sub(start)),
			)
			lastProgress = now
		}

		if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
			return &AuthError{Op: "second_factor", Err: err}
		}
	}

	m.persist(ctx)
	return nil
}

// persist saves the browser's cookies. Failure is logged, not returned.
func (m *Manager) persist(ctx context.Context) {
	if m.cookies == nil {
		return
	}
	cookies, err := m.browser.Cookies(ctx)
	if err != nil {
		zap.L().Warn("read browser cookies", zap.Error(err))
		return
	}
	rec := model.CookieRecord{
		Cookies:  cookies,
		SavedAt:  m.nowFunc().UTC(),
		Username: m.cfg.Username,
	}
	if err := m.cookies.SaveCookies(ctx, rec); err != nil {
		zap.L().Warn("persist cookies", zap.Error(err))
		return
	}
	zap.L().Debug("cookies persisted", zap.Int("count", len(cookies)))
}

func (m *Manager) isHome(url string) bool {
	for _, home := range m.cfg.HomeURLs {
		if strings.Contains(url, home) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
