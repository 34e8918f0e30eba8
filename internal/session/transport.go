package session

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/costar-cli/internal/browser"
	"github.com/sells-group/costar-cli/internal/resilience"
)

// Transport issues API requests through an authenticated session. Every
// error it returns for session problems is marked permanent so retry loops
// stop immediately.
type Transport struct {
	manager *Manager
	browser browser.Browser
}

// State returns the owning session's state.
func (t *Transport) State() State {
	return t.manager.State()
}

// Post sends body to url. It refuses unless the session is Authenticated and
// flips the session to Expired when the platform answers with its login
// page.
func (t *Transport) Post(ctx context.Context, url string, body []byte) (*browser.Response, error) {
	if s := t.manager.State(); s != Authenticated {
		return nil, resilience.Permanent(&AuthError{
			Op:  "post",
			Err: eris.Wrapf(ErrNotAuthenticated, "state %s", s),
		})
	}

	resp, err := t.browser.Post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	switch kind := DetectBlock(resp); kind {
	case BlockLogin:
		t.manager.Invalidate()
		return nil, resilience.Permanent(&AuthError{Op: "post", Err: ErrSessionExpired})
	case BlockChallenge:
		zap.L().Warn("challenge page returned", zap.String("url", url), zap.Int("status", resp.Status))
		return nil, resilience.Permanent(&BlockedError{Kind: kind, Status: resp.Status})
	}
	return resp, nil
}
