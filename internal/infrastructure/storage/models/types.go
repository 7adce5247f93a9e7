package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONBMap is a free-form JSONB column, grounded in the teacher's
// models.JSONBMap convention (internal/infrastructure/storage/models/types.go),
// reused here for workflow definition metadata and activity configuration.
type JSONBMap map[string]interface{}

// Value implements driver.Valuer.
func (j JSONBMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements sql.Scanner.
func (j *JSONBMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONBMap)
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan JSONBMap: value is neither []byte nor string")
	}
	if len(raw) == 0 {
		*j = make(JSONBMap)
		return nil
	}
	return json.Unmarshal(raw, j)
}

// StringArray is a Postgres TEXT[] column.
type StringArray []string

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	bytes, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	s := string(bytes)
	return "{" + s[1:len(s)-1] + "}", nil
}

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan StringArray: unexpected type")
	}
	s := string(raw)
	if len(s) == 0 || s == "{}" {
		*a = StringArray{}
		return nil
	}
	if s[0] == '{' && s[len(s)-1] == '}' {
		return json.Unmarshal([]byte("["+s[1:len(s)-1]+"]"), a)
	}
	return errors.New("invalid Postgres array format")
}
