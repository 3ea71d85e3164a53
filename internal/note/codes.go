package note

import (
	"bytes"
	"encoding/json"
)

// Code is one diagnosis or procedure code. Older model output sends a single
// preformatted string, kept in Legacy and rendered verbatim.
type Code struct {
	Code   string
	Name   string
	Legacy string
}

// Valid reports whether the code can be rendered as "<code> - <name>".
func (c Code) Valid() bool {
	return c.Legacy != "" || (c.Code != "" && c.Name != "")
}

func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*c = Code{}
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '{':
		var obj struct {
			Code FlexString `json:"code"`
			Name FlexString `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil
		}
		c.Code, c.Name = string(obj.Code), string(obj.Name)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		c.Legacy = s
	}
	return nil
}

func (c Code) MarshalJSON() ([]byte, error) {
	if c.Legacy != "" {
		return json.Marshal(c.Legacy)
	}
	return json.Marshal(struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}{c.Code, c.Name})
}

// CodeList is an ordered list of codes.
type CodeList []Code

func (l *CodeList) UnmarshalJSON(data []byte) error {
	*l = decodeCodes(data)
	return nil
}

// decodeCodes accepts an array, a single code, or null. Entries that are
// neither objects nor strings are kept as invalid codes so the formatter can
// flag them.
func decodeCodes(raw json.RawMessage) CodeList {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] != '[' {
		var c Code
		_ = json.Unmarshal(raw, &c)
		return CodeList{c}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make(CodeList, 0, len(items))
	for _, item := range items {
		var c Code
		_ = json.Unmarshal(item, &c)
		out = append(out, c)
	}
	return out
}
