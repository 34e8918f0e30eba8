package costar

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/costar-cli/internal/cost"
	"github.com/sells-group/costar-cli/internal/model"
)

// stubShape extracts the list of search records from one known response
// layout.
type stubShape struct {
	name    string
	extract func(root any) []any
}

// stubShapes are tried in order; the first yielding a non-empty list wins.
var stubShapes = []stubShape{
	{"properties", listAt("properties")},
	{"searchResult.Pins", listAt("searchResult", "Pins")},
	{"searchResult.pins", listAt("searchResult", "pins")},
	{"Pins", listAt("Pins")},
	{"pins", listAt("pins")},
	{"array", func(root any) []any {
		items, _ := root.([]any)
		return items
	}},
}

func listAt(path ...string) func(root any) []any {
	return func(root any) []any {
		cur := root
		for _, key := range path {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil
			}
			cur = m[key]
		}
		items, _ := cur.([]any)
		return items
	}
}

// ExtractStubs decodes a search response body and returns its records in
// the first recognized shape, along with the shape name. An unrecognized
// shape yields no stubs and no error.
func ExtractStubs(body []byte) ([]model.PropertyStub, string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, "", eris.Wrap(err, "costar: decode search response")
	}

	for _, shape := range stubShapes {
		items := shape.extract(root)
		if len(items) == 0 {
			continue
		}
		stubs := make([]model.PropertyStub, 0, len(items))
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				stubs = append(stubs, model.NewPropertyStub(m))
			}
		}
		return stubs, shape.name, nil
	}
	return nil, "", nil
}

// SearchProperties pages through the search endpoint for payload. It stops
// on a short page, on maxPages, or on failure: a failed first page yields an
// empty result and a failed later page yields the pages gathered so far.
// The error is non-nil only when ctx ends.
func (c *Client) SearchProperties(ctx context.Context, payload model.SearchPayload, maxPages int) ([]model.PropertyStub, error) {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	log := zap.L().With(zap.Int("max_pages", maxPages))

	var all []model.PropertyStub
	for page := 1; page <= maxPages; page++ {
		stubs, shape, err := c.searchPage(ctx, payload, page)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			if page == 1 {
				log.Error("property search failed", zap.Error(err))
				return nil, nil
			}
			log.Warn("property search page failed, keeping earlier pages",
				zap.Int("page", page),
				zap.Error(err),
			)
			break
		}
		if len(stubs) == 0 {
			break
		}

		all = append(all, stubs...)
		log.Debug("property search page",
			zap.Int("page", page),
			zap.String("shape", shape),
			zap.Int("count", len(stubs)),
		)

		if len(stubs) < c.pageSize || page == maxPages {
			break
		}
		if err := c.sleep(ctx, c.pageDelay); err != nil {
			return all, err
		}
	}

	log.Info("property search complete", zap.Int("properties", len(all)))
	return all, nil
}

type searchPage struct {
	stubs []model.PropertyStub
	shape string
}

func (c *Client) searchPage(ctx context.Context, payload model.SearchPayload, page int) ([]model.PropertyStub, string, error) {
	body, err := json.Marshal(payload.WithPage(c.pageIndexKey, page))
	if err != nil {
		return nil, "", eris.Wrap(err, "costar: encode search payload")
	}

	result, err := withRetry(ctx, c, cost.OpSearchPage, func(ctx context.Context) (searchPage, error) {
		resp, err := c.post(ctx, cost.OpSearchPage, c.searchURL, body)
		if err != nil {
			return searchPage{}, err
		}
		stubs, shape, err := ExtractStubs([]byte(resp.Body))
		if err != nil {
			return searchPage{}, err
		}
		return searchPage{stubs: stubs, shape: shape}, nil
	})
	if err != nil {
		return nil, "", err
	}
	return result.stubs, result.shape, nil
}
