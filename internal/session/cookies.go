package session

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rotisserie/eris"

	"github.com/sells-group/costar-cli/internal/model"
)

// CookieStore persists one authenticated cookie record per username.
// LoadCookies returns nil, nil when no record exists.
type CookieStore interface {
	LoadCookies(ctx context.Context, username string) (*model.CookieRecord, error)
	SaveCookies(ctx context.Context, rec model.CookieRecord) error
	DeleteCookies(ctx context.Context, username string) error
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileCookieStore keeps cookie records as JSON files under a directory.
type FileCookieStore struct {
	dir string
}

// NewFileCookieStore creates a FileCookieStore rooted at dir.
func NewFileCookieStore(dir string) *FileCookieStore {
	return &FileCookieStore{dir: dir}
}

// Path returns the file holding username's record.
func (s *FileCookieStore) Path(username string) string {
	return filepath.Join(s.dir, "costar_cookies_"+unsafeFileChars.ReplaceAllString(username, "_")+".json")
}

// LoadCookies reads username's record.
func (s *FileCookieStore) LoadCookies(_ context.Context, username string) (*model.CookieRecord, error) {
	data, err := os.ReadFile(s.Path(username))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "session: read cookie file")
	}

	var rec model.CookieRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrap(err, "session: decode cookie file")
	}
	return &rec, nil
}

// SaveCookies writes the record atomically with owner-only permissions.
func (s *FileCookieStore) SaveCookies(_ context.Context, rec model.CookieRecord) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return eris.Wrap(err, "session: create cookie dir")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return eris.Wrap(err, "session: encode cookies")
	}

	path := s.Path(rec.Username)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return eris.Wrap(err, "session: write cookie file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrap(err, "session: rename cookie file")
	}
	return nil
}

// DeleteCookies removes username's record. A missing record is not an error.
func (s *FileCookieStore) DeleteCookies(_ context.Context, username string) error {
	err := os.Remove(s.Path(username))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrap(err, "session: delete cookie file")
	}
	return nil
}
