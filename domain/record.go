package domain

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Record is a free-form entity (company, sprint, comment, ...). Its JSON form
// is a flat object: the Meta fields alongside whatever Fields holds.
type Record struct {
	Meta
	Fields map[string]any
}

// Field returns the string value of a top-level field, or "" when absent.
func (r *Record) Field(name string) string {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["id"] = r.ID
	out["createdAt"] = r.CreatedAt
	out["updatedAt"] = r.UpdatedAt
	return sonic.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if id, ok := raw["id"].(string); ok {
		r.ID = id
	}
	var err error
	if r.CreatedAt, err = timeField(raw, "createdAt"); err != nil {
		return err
	}
	if r.UpdatedAt, err = timeField(raw, "updatedAt"); err != nil {
		return err
	}
	delete(raw, "id")
	delete(raw, "createdAt")
	delete(raw, "updatedAt")
	r.Fields = raw
	return nil
}

func timeField(raw map[string]any, name string) (time.Time, error) {
	s, ok := raw[name].(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}
