// Package browser defines the headless browser capability the session layer
// drives: navigation, cookie access, login form submission and in-page
// POST requests that carry the browser's authenticated cookie jar.
package browser

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/costar-cli/internal/model"
)

// ErrElementNotFound is returned when a login form element never appears.
var ErrElementNotFound = eris.New("browser: element not found")

// ErrNotLaunched is returned when an operation runs before Launch.
var ErrNotLaunched = eris.New("browser: not launched")

// LoginForm identifies the login form elements by id and carries the
// credentials to type into them.
type LoginForm struct {
	FormID     string
	UsernameID string
	PasswordID string
	SubmitID   string
	Username   string
	Password   string
}

// DefaultLoginForm returns the platform's login form ids filled with the
// given credentials.
func DefaultLoginForm(username, password string) LoginForm {
	return LoginForm{
		FormID:     "signinform",
		UsernameID: "username",
		PasswordID: "password",
		SubmitID:   "loginButton",
		Username:   username,
		Password:   password,
	}
}

// Response is the result of an in-page POST.
type Response struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if r == nil {
		return eris.New("browser: nil response")
	}
	if err := json.Unmarshal([]byte(r.Body), v); err != nil {
		return eris.Wrap(err, "browser: decode response body")
	}
	return nil
}

// Browser is a single headless browser context.
type Browser interface {
	Launch(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]model.Cookie, error)
	SetCookies(ctx context.Context, cookies []model.Cookie) error
	SubmitLogin(ctx context.Context, form LoginForm) error
	Post(ctx context.Context, url string, body []byte) (*Response, error)
	Close() error
}
