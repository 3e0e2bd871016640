package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap represents a PostgreSQL jsonb object column
type JSONMap map[string]string

// Scan implements the sql.Scanner interface
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			*m = JSONMap{}
			return nil
		}
		return json.Unmarshal(v, m)
	case string:
		if v == "" {
			*m = JSONMap{}
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
}

// Value implements the driver.Valuer interface
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// TierCounts represents a jsonb mapping of tier name to requested count
type TierCounts map[Tier]int

// Scan implements the sql.Scanner interface
func (t *TierCounts) Scan(value interface{}) error {
	if value == nil {
		*t = TierCounts{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return fmt.Errorf("cannot scan %T into TierCounts", value)
	}
}

// Value implements the driver.Valuer interface
func (t TierCounts) Value() (driver.Value, error) {
	if t == nil {
		return "{}", nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Total sums the per-tier counts.
func (t TierCounts) Total() int {
	total := 0
	for _, n := range t {
		total += n
	}
	return total
}
