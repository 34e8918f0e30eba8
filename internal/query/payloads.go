package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/costar-cli/internal/model"
)

// LoadPayloads reads search payloads from a JSON or YAML file. The file may
// hold a single payload object or a list of them.
func LoadPayloads(path string) ([]model.SearchPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "query: read payloads %s", path)
	}

	var root any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, eris.Wrapf(err, "query: parse yaml %s", path)
		}
		root = normalizeYAML(root)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&root); err != nil {
			return nil, eris.Wrapf(err, "query: parse json %s", path)
		}
	}

	return toPayloads(root)
}

func toPayloads(root any) ([]model.SearchPayload, error) {
	switch v := root.(type) {
	case map[string]any:
		return []model.SearchPayload{v}, nil
	case []any:
		out := make([]model.SearchPayload, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, eris.Errorf("query: payload %d is not an object", i)
			}
			out = append(out, m)
		}
		if len(out) == 0 {
			return nil, eris.New("query: payload list is empty")
		}
		return out, nil
	default:
		return nil, eris.New("query: payload file must hold an object or a list of objects")
	}
}

// normalizeYAML converts the map[any]any nodes yaml produces for
// non-string keys into map[string]any, so `0:` and `"0":` mean the same.
func normalizeYAML(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = normalizeYAML(val)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i, val := range x {
			x[i] = normalizeYAML(val)
		}
		return x
	default:
		return v
	}
}
