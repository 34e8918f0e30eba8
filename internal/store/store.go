// Package store persists run bookkeeping and session cookie records.
package store

import (
	"context"
	"encoding/json"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/costar-cli/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for extraction runs. It also
// satisfies session.CookieStore so cookie records can live beside runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, name string, payloads, maxProperties int) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)

	// Session cookies
	LoadCookies(ctx context.Context, username string) (*model.CookieRecord, error)
	SaveCookies(ctx context.Context, rec model.CookieRecord) error
	DeleteCookies(ctx context.Context, username string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the Store for driver: "sqlite" (dsn is a file path) or
// "postgres" (dsn is a connection string).
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return NewSQLite(dsn)
	case "postgres", "postgresql", "pgx":
		return NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

const defaultListLimit = 100

var runColumns = []string{"id", "name", "status", "payloads", "max_properties", "result", "created_at", "updated_at"}

// listRunsQuery builds the ListRuns statement for the given placeholder
// style.
func listRunsQuery(filter model.RunFilter, ph sq.PlaceholderFormat) (string, []any, error) {
	q := sq.Select(runColumns...).From("runs").PlaceholderFormat(ph)
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Name != "" {
		q = q.Where(sq.Eq{"name": filter.Name})
	}
	if !filter.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"created_at": filter.Since.UTC()})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	return q.OrderBy("created_at DESC").Limit(uint64(limit)).ToSql()
}

func decodeResult(raw []byte) (*model.RunResult, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var res model.RunResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal result")
	}
	return &res, nil
}

func decodeCookies(raw []byte) (*model.CookieRecord, error) {
	var rec model.CookieRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal cookies")
	}
	return &rec, nil
}
