package model

import "time"

// Cookie is a browser cookie in the persisted session format. Expires is
// seconds since the epoch; values <= 0 mark session cookies.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
	Expires  float64 `json:"expires"`
}

// Expired reports whether the cookie has a concrete expiry before now.
func (c Cookie) Expired(now time.Time) bool {
	if c.Expires <= 0 {
		return false
	}
	return c.Expires < float64(now.Unix())
}

// CookieRecord is the persisted authenticated session for one username.
type CookieRecord struct {
	Cookies  []Cookie  `json:"cookies"`
	SavedAt  time.Time `json:"saved_at"`
	Username string    `json:"username"`
}

// Live returns the cookies that have not expired at now.
func (r CookieRecord) Live(now time.Time) []Cookie {
	out := make([]Cookie, 0, len(r.Cookies))
	for _, c := range r.Cookies {
		if !c.Expired(now) {
			out = append(out, c)
		}
	}
	return out
}
