package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString decodes a JSON string, number, boolean or list of scalars into
// a trimmed string. Lists are joined with ", ". Objects and null decode to "".
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
	case '[':
		var items []FlexString
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if item != "" {
				parts = append(parts, string(item))
			}
		}
		*f = FlexString(strings.Join(parts, ", "))
	case '{':
		*f = ""
	default:
		*f = FlexString(string(b))
	}
	return nil
}

// String returns the decoded value.
func (f FlexString) String() string { return string(f) }

// FlexList decodes either a single scalar or a list of scalars.
type FlexList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *FlexList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}

	if b[0] != '[' {
		var one FlexString
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		if one == "" {
			*l = nil
			return nil
		}
		*l = FlexList{string(one)}
		return nil
	}

	var items []FlexString
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	out := make(FlexList, 0, len(items))
	for _, item := range items {
		if item != "" {
			out = append(out, string(item))
		}
	}
	*l = out
	return nil
}

// First returns the first element or "".
func (l FlexList) First() string {
	if len(l) == 0 {
		return ""
	}
	return l[0]
}
