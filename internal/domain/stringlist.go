package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// StringList stores a set of ids in a json column. Storage may hand the value
// back as a native array or as a JSON-encoded string depending on driver and
// column history, so normalization happens here and nowhere else.
type StringList []string

// MarshalJSON always emits an array, never null.
func (s StringList) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// UnmarshalJSON accepts an array or a JSON-encoded string of an array.
func (s *StringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*s = arr
		return nil
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	if encoded == "" {
		*s = StringList{}
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), &arr); err != nil {
		return err
	}
	*s = arr
	return nil
}

// Scan implements sql.Scanner for reading from DB (json column).
func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = StringList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return s.scanText(string(v))
	case string:
		return s.scanText(v)
	default:
		return errors.New("unsupported type for StringList")
	}
}

func (s *StringList) scanText(text string) error {
	if text == "" {
		*s = StringList{}
		return nil
	}
	var arr []string
	if err := json.Unmarshal([]byte(text), &arr); err == nil {
		*s = arr
		return nil
	}
	// Double-encoded: a JSON string holding the array.
	var encoded string
	if err := json.Unmarshal([]byte(text), &encoded); err != nil {
		return err
	}
	return json.Unmarshal([]byte(encoded), (*[]string)(s))
}

// Value implements driver.Valuer for writing to DB.
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Contains reports membership of id.
func (s StringList) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every id in sub is present.
func (s StringList) ContainsAll(sub StringList) bool {
	for _, id := range sub {
		if !s.Contains(id) {
			return false
		}
	}
	return true
}

// Without returns a copy with every id in removed filtered out.
func (s StringList) Without(removed StringList) StringList {
	out := make(StringList, 0, len(s))
	for _, id := range s {
		if !removed.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}
