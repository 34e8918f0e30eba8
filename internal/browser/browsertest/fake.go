// Package browsertest provides an in-memory browser.Browser for tests.
package browsertest

import (
	"context"
	"sync"

	"github.com/sells-group/costar-cli/internal/browser"
	"github.com/sells-group/costar-cli/internal/model"
)

// Fake is a scriptable browser.Browser. Navigations move CurrentURL to the
// target unless RedirectTo maps it elsewhere. After SubmitLogin the URL
// stays on the login page for LoginPolls calls to CurrentURL, then moves to
// LoginLanding.
type Fake struct {
	mu sync.Mutex

	RedirectTo     map[string]string
	LoginErr       error
	LoginPolls     int
	LoginLanding   string
	BrowserCookies []model.Cookie
	PostFunc       func(url string, body []byte) (*browser.Response, error)

	url          string
	launches     int
	closed       bool
	navigations  []string
	installed    []model.Cookie
	loginCalls   int
	pollsPending int
	loggingIn    bool
	posts        []string
}

// Launch implements browser.Browser.
func (f *Fake) Launch(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++
	return nil
}

// Navigate implements browser.Browser.
func (f *Fake) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	if to, ok := f.RedirectTo[url]; ok {
		f.url = to
		return nil
	}
	f.url = url
	return nil
}

// CurrentURL implements browser.Browser.
func (f *Fake) CurrentURL(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loggingIn {
		if f.pollsPending > 0 {
			f.pollsPending--
		} else {
			f.loggingIn = false
			f.url = f.LoginLanding
		}
	}
	return f.url, nil
}

// Cookies implements browser.Browser.
func (f *Fake) Cookies(_ context.Context) ([]model.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Cookie(nil), f.BrowserCookies...), nil
}

// SetCookies implements browser.Browser.
func (f *Fake) SetCookies(_ context.Context, cookies []model.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = append(f.installed, cookies...)
	return nil
}

// SubmitLogin implements browser.Browser.
func (f *Fake) SubmitLogin(_ context.Context, _ browser.LoginForm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.LoginErr != nil {
		return f.LoginErr
	}
	if f.LoginLanding != "" {
		f.loggingIn = true
		f.pollsPending = f.LoginPolls
	}
	return nil
}

// Post implements browser.Browser.
func (f *Fake) Post(_ context.Context, url string, body []byte) (*browser.Response, error) {
	f.mu.Lock()
	f.posts = append(f.posts, url)
	fn := f.PostFunc
	f.mu.Unlock()
	if fn == nil {
		return &browser.Response{Status: 200, Body: `{}`}, nil
	}
	return fn(url, body)
}

// Close implements browser.Browser.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Navigations returns the URLs passed to Navigate.
func (f *Fake) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

// Installed returns the cookies passed to SetCookies.
func (f *Fake) Installed() []model.Cookie {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Cookie(nil), f.installed...)
}

// LoginCalls returns how many times SubmitLogin ran.
func (f *Fake) LoginCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls
}

// Posts returns the URLs posted to.
func (f *Fake) Posts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posts...)
}

// Closed reports whether Close ran.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var _ browser.Browser = (*Fake)(nil)
