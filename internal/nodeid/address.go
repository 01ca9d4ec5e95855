// internal/nodeid/address.go
package nodeid

import (
	"encoding/json"
	"strconv"
	"strings"
)

// String serializes the Address into its canonical path string representation.
func (a Address) String() string {
	var sb strings.Builder
	sb.WriteString("/ensemble/")
	sb.WriteString(a.Ensemble)
	for _, seg := range []struct {
		level Level
		index int
	}{
		{LevelRealization, a.Real},
		{LevelStep, a.Step},
		{LevelJob, a.Job},
	} {
		if seg.index < 0 {
			break
		}
		sb.WriteRune('/')
		sb.WriteString(seg.level.String())
		sb.WriteRune('/')
		sb.WriteString(strconv.Itoa(seg.index))
	}
	return sb.String()
}

// Equal checks two addresses for equality.
func (a Address) Equal(other Address) bool {
	return a == other
}

// MarshalJSON encodes the address as its canonical path string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a canonical path string.
func (a *Address) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
