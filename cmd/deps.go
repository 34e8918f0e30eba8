package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/term"

	"github.com/sells-group/costar-cli/internal/browser"
	"github.com/sells-group/costar-cli/internal/config"
	"github.com/sells-group/costar-cli/internal/extract"
	"github.com/sells-group/costar-cli/internal/resilience"
	"github.com/sells-group/costar-cli/internal/session"
	"github.com/sells-group/costar-cli/internal/store"
	"github.com/sells-group/costar-cli/pkg/costar"
)

func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.Driver == "none" {
		return nil, nil
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// sessionConfig maps the session settings onto a session.Config.
func sessionConfig(c *config.Config) session.Config {
	sc := session.DefaultConfig(c.Auth.Username, c.Auth.Password)
	if c.Session.LoginURL != "" {
		sc.LoginURL = c.Session.LoginURL
	}
	if len(c.Session.HomeURLs) > 0 {
		sc.HomeURLs = c.Session.HomeURLs
	}
	sc.PrimingURL = c.Session.PrimingURL
	if c.Session.CookieMaxAgeHours > 0 {
		sc.CookieMaxAge = c.Session.CookieMaxAge()
	}
	if c.Session.SecondFactorTimeoutSecs > 0 {
		sc.SecondFactorTimeout = config.Secs(c.Session.SecondFactorTimeoutSecs)
	}
	if c.Session.PollIntervalSecs > 0 {
		sc.PollInterval = config.Secs(c.Session.PollIntervalSecs)
	}
	sc.SettleDelay = config.Secs(c.Session.SettleSecs)
	return sc
}

// initSession builds the browser session manager. Cookie records go to the
// run store when session.cookie_backend is "store".
func initSession(st store.Store) (*session.Manager, error) {
	if err := promptPassword(); err != nil {
		return nil, err
	}

	var cookies session.CookieStore = session.NewFileCookieStore(cfg.Session.CookieDir)
	if cfg.Session.CookieBackend == "store" {
		if st == nil {
			return nil, eris.New("session.cookie_backend store requires a store driver")
		}
		cookies = st
	}

	b := browser.NewChrome(
		browser.WithHeadless(cfg.Session.Headless),
		browser.WithFormTimeout(config.Secs(cfg.Session.FormTimeoutSecs)),
		browser.WithRequestTimeout(config.Secs(cfg.Client.RequestTimeoutSecs)),
	)
	return session.New(sessionConfig(cfg), b, cookies)
}

// promptPassword reads the password from the terminal when it is not
// configured and stdin is interactive.
func promptPassword() error {
	if cfg.Auth.Password != "" {
		return nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", cfg.Auth.Username)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return eris.Wrap(err, "read password")
	}
	cfg.Auth.Password = strings.TrimSpace(string(pw))
	return nil
}

// clientOptions maps the client settings onto costar options.
func clientOptions(c *config.Config) []costar.Option {
	opts := []costar.Option{
		costar.WithMinInterval(config.Ms(c.Client.MinIntervalMs)),
		costar.WithPageSize(c.Client.PageSize),
		costar.WithPageDelay(config.Ms(c.Client.PageDelayMs)),
		costar.WithRetry(resilience.FromRetryConfig(c.Client.MaxRetries, c.Client.RetryBaseMs)),
	}
	if c.Client.GraphQLURL != "" {
		opts = append(opts, costar.WithGraphQLURL(c.Client.GraphQLURL))
	}
	if c.Client.SearchURL != "" {
		opts = append(opts, costar.WithSearchURL(c.Client.SearchURL))
	}
	if c.Client.PageIndexKey != "" {
		opts = append(opts, costar.WithPageIndexKey(c.Client.PageIndexKey))
	}
	if c.Client.MaxRPS > 0 {
		opts = append(opts, costar.WithMaxRPS(c.Client.MaxRPS))
	}
	if cb := resilience.FromCircuitConfig("costar", c.Client.CircuitThreshold, c.Client.CircuitResetSecs); cb != nil {
		opts = append(opts, costar.WithCircuitBreaker(resilience.NewCircuitBreaker(*cb)))
	}
	return opts
}

// extractOptions maps the extraction settings onto pipeline options.
func extractOptions(c *config.Config) extract.Options {
	return extract.Options{
		Concurrency:    c.Extract.Concurrency,
		MinDelay:       config.Ms(c.Extract.MinDelayMs),
		MaxDelay:       config.Ms(c.Extract.MaxDelayMs),
		BurstSize:      c.Extract.BurstSize,
		BurstDelay:     config.Ms(c.Extract.BurstDelayMs),
		BurstJitter:    config.Ms(c.Extract.BurstJitterMs),
		ParcelDelayMin: config.Ms(c.Extract.ParcelDelayMinMs),
		ParcelDelayMax: config.Ms(c.Extract.ParcelDelayMaxMs),
		RequireEmail:   c.Extract.RequireEmail,
		RequirePhone:   c.Extract.RequirePhone,
		IncludeParcel:  c.Extract.IncludeParcel,
		MaxPages:       c.Client.MaxPages,
		ProgressEvery:  c.Extract.ProgressEvery,
	}
}
