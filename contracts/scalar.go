package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

var null = []byte("null")

// Text is a string field that also accepts a JSON number or boolean, keeping
// its literal text. null decodes to the empty string.
type Text string

// UnmarshalJSON implements json.Unmarshaler
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) {
		*t = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}

	switch {
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*t = Text(data)
		return nil
	case json.Valid(data) && (data[0] == '-' || (data[0] >= '0' && data[0] <= '9')):
		*t = Text(data)
		return nil
	}

	return fmt.Errorf("expected string, number or boolean, got %s", truncate(data, 32))
}

// String returns the text
func (t Text) String() string {
	return string(t)
}

// Number is a numeric field that also accepts a numeric string. null and the
// empty string decode to zero.
type Number float64

// UnmarshalJSON implements json.Unmarshaler
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) {
		*n = 0
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("expected number, got %q", s)
		}
		*n = Number(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("expected number, got %s", truncate(data, 32))
	}
	*n = Number(f)
	return nil
}

// Float returns the value as float64
func (n Number) Float() float64 {
	return float64(n)
}

// Int returns the value truncated to an int
func (n Number) Int() int {
	return int(n)
}

// StringList accepts a single string or an array of strings
type StringList []string

// UnmarshalJSON implements json.Unmarshaler
func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) {
		*l = nil
		return nil
	}

	if len(data) > 0 && data[0] == '[' {
		var items []Text
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if item != "" {
				out = append(out, string(item))
			}
		}
		*l = out
		return nil
	}

	var single Text
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single == "" {
		*l = nil
		return nil
	}
	*l = StringList{string(single)}
	return nil
}

func truncate(data []byte, max int) string {
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}
