package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/costar-cli/internal/model"
	"github.com/sells-group/costar-cli/internal/resilience"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// postScript issues a same-origin fetch from the page so the request carries
// the browser's cookies. Both arguments are JSON string literals.
const postScript = `(async () => {
  const r = await fetch(%s, {
    method: "POST",
    credentials: "include",
    headers: {"Content-Type": "application/json", "Accept": "application/json"},
    body: %s
  });
  return {status: r.status, body: await r.text()};
})()`

// Chrome is a Browser backed by a local Chrome/Chromium via chromedp.
type Chrome struct {
	headless       bool
	formTimeout    time.Duration
	requestTimeout time.Duration
	userAgent      string
	execPath       string

	mu          sync.Mutex
	tab         context.Context
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
}

// ChromeOption configures a Chrome.
type ChromeOption func(*Chrome)

// WithHeadless toggles headless mode. Default true.
func WithHeadless(headless bool) ChromeOption {
	return func(c *Chrome) { c.headless = headless }
}

// WithFormTimeout bounds how long SubmitLogin waits for the form. Default 10s.
func WithFormTimeout(d time.Duration) ChromeOption {
	return func(c *Chrome) { c.formTimeout = d }
}

// WithRequestTimeout bounds a single Post. Default 30s.
func WithRequestTimeout(d time.Duration) ChromeOption {
	return func(c *Chrome) { c.requestTimeout = d }
}

// WithExecPath points chromedp at a specific browser binary.
func WithExecPath(path string) ChromeOption {
	return func(c *Chrome) { c.execPath = path }
}

// NewChrome creates an unlaunched Chrome.
func NewChrome(opts ...ChromeOption) *Chrome {
	c := &Chrome{
		headless:       true,
		formTimeout:    10 * time.Second,
		requestTimeout: 30 * time.Second,
		userAgent:      defaultUserAgent,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Launch starts the browser process and opens a tab. Calling Launch on a
// running browser is a no-op.
func (c *Chrome) Launch(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tab != nil {
		return nil
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", c.headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(c.userAgent),
		chromedp.WindowSize(1440, 900),
	)
	if c.execPath != "" {
		opts = append(opts, chromedp.ExecPath(c.execPath))
	}

	// The browser outlives the launching call; only cancellation of the
	// launch itself is honored.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	if err := chromedp.Run(tab); err != nil {
		tabCancel()
		allocCancel()
		return eris.Wrap(err, "browser: launch")
	}

	c.tab, c.allocCancel, c.tabCancel = tab, allocCancel, tabCancel
	zap.L().Debug("browser launched", zap.Bool("headless", c.headless))
	return nil
}

// run executes actions on the tab, aborting them if ctx is cancelled.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	c.mu.Lock()
	tab := c.tab
	c.mu.Unlock()
	if tab == nil {
		return ErrNotLaunched
	}

	runCtx, cancel := context.WithCancel(tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads url in the tab.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, chromedp.Navigate(url)); err != nil {
		return eris.Wrapf(err, "browser: navigate %s", url)
	}
	return nil
}

// CurrentURL returns the tab's location.
func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := c.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", eris.Wrap(err, "browser: current url")
	}
	return loc, nil
}

// Cookies returns the cookies visible to the current page.
func (c *Chrome) Cookies(ctx context.Context) ([]model.Cookie, error) {
	var out []model.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		out = make([]model.Cookie, 0, len(cookies))
		for _, ck := range cookies {
			out = append(out, model.Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Secure:   ck.Secure,
				HTTPOnly: ck.HTTPOnly,
				Expires:  ck.Expires,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, eris.Wrap(err, "browser: get cookies")
	}
	return out, nil
}

// SetCookies installs cookies into the browser context.
func (c *Chrome) SetCookies(ctx context.Context, cookies []model.Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, ck := range cookies {
		p := &network.CookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HTTPOnly: ck.HTTPOnly,
		}
		if ck.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}

	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return eris.Wrap(err, "browser: set cookies")
	}
	return nil
}

// SubmitLogin waits for the login form, types the credentials with short
// pauses and clicks submit. It does not wait for the result.
func (c *Chrome) SubmitLogin(ctx context.Context, form LoginForm) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.formTimeout)
	defer cancel()

	if err := c.run(waitCtx, chromedp.WaitVisible("#"+form.FormID, chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return eris.Wrapf(ErrElementNotFound, "login form #%s", form.FormID)
		}
		return eris.Wrap(err, "browser: wait for login form")
	}

	err := c.run(ctx,
		chromedp.WaitVisible("#"+form.UsernameID, chromedp.ByQuery),
		chromedp.SendKeys("#"+form.UsernameID, form.Username, chromedp.ByQuery),
		chromedp.Sleep(humanPause()),
		chromedp.SendKeys("#"+form.PasswordID, form.Password, chromedp.ByQuery),
		chromedp.Sleep(humanPause()),
		chromedp.Click("#"+form.SubmitID, chromedp.ByQuery),
	)
	if err != nil {
		return eris.Wrap(err, "browser: submit login")
	}
	return nil
}

// Post sends body to url as JSON from inside the page.
func (c *Chrome) Post(ctx context.Context, url string, body []byte) (*Response, error) {
	urlLit, err := json.Marshal(url)
	if err != nil {
		return nil, eris.Wrap(err, "browser: encode url")
	}
	bodyLit, err := json.Marshal(string(body))
	if err != nil {
		return nil, eris.Wrap(err, "browser: encode body")
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var resp Response
	script := fmt.Sprintf(postScript, urlLit, bodyLit)
	err = c.run(reqCtx, chromedp.Evaluate(script, &resp, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, postError(ctx, reqCtx, url, err)
	}
	return &resp, nil
}

// postError wraps a failed post. When only the per-request deadline fired,
// the caller is still waiting and the post is worth retrying.
func postError(ctx, reqCtx context.Context, url string, err error) error {
	wrapped := eris.Wrapf(err, "browser: post %s", url)
	if reqCtx.Err() != nil && ctx.Err() == nil {
		return resilience.NewTransientError(wrapped, 0)
	}
	return wrapped
}

// Close shuts the tab and the browser process down.
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tab == nil {
		return nil
	}
	c.tabCancel()
	c.allocCancel()
	c.tab, c.tabCancel, c.allocCancel = nil, nil, nil
	return nil
}

func humanPause() time.Duration {
	return 300*time.Millisecond + time.Duration(rand.Int64N(int64(200*time.Millisecond)))
}
