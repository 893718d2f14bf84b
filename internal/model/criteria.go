package model

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Criteria is the opaque structured search constraint payload attached to a
// run. The research task interprets it freely; the orchestrator itself only
// reads a handful of fields through the typed accessors below, each with an
// explicit default.
type Criteria map[string]any

// ParseCriteria decodes a JSON criteria payload. An empty payload yields an
// empty (non-nil) Criteria.
func ParseCriteria(raw []byte) (Criteria, error) {
	if len(raw) == 0 {
		return Criteria{}, nil
	}
	var c Criteria
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, eris.Wrap(err, "criteria: unmarshal")
	}
	if c == nil {
		c = Criteria{}
	}
	return c, nil
}

// JSON encodes the criteria for storage. Nil encodes as an empty object so
// the column is never NULL.
func (c Criteria) JSON() ([]byte, error) {
	if c == nil {
		c = Criteria{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, eris.Wrap(err, "criteria: marshal")
	}
	return b, nil
}

// City returns the target city hint, if any.
func (c Criteria) City() string { return c.str("city") }

// State returns the target state or region hint, if any.
func (c Criteria) State() string { return c.str("state") }

// Vertical returns the business vertical / industry hint, if any.
func (c Criteria) Vertical() string { return c.str("vertical") }

// Summary renders a short human-readable description for prompts and logs.
func (c Criteria) Summary() string {
	var parts []string
	if v := c.Vertical(); v != "" {
		parts = append(parts, v)
	}
	if city := c.City(); city != "" {
		parts = append(parts, city)
	}
	if st := c.State(); st != "" {
		parts = append(parts, st)
	}
	if len(parts) == 0 {
		return "unspecified criteria"
	}
	return strings.Join(parts, ", ")
}

// Validate rejects payloads the orchestrator cannot act on at all. A run
// with malformed criteria is an unrecoverable run-level failure.
func (c Criteria) Validate() error {
	if c.City() == "" && c.State() == "" && c.Vertical() == "" {
		return eris.New("criteria: at least one of city, state, or vertical is required")
	}
	return nil
}

func (c Criteria) str(key string) string {
	v, ok := c[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
