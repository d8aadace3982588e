package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap maps a jsonb column to an open key/value map. Values keep
// their JSON types (string, float64, bool, nil for JSON null).
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb map failed: %w", err)
	}
	return raw, nil
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	if err := json.Unmarshal(raw, m); err != nil {
		return fmt.Errorf("unmarshal jsonb map failed: %w", err)
	}
	return nil
}

func (JSONMap) GormDataType() string {
	return "jsonb"
}

// Clone returns a shallow copy so callers can overlay keys without
// mutating the receiver.
func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return nil
	}
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
