// internal/nodeid/parser.go
package nodeid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// idRegex restricts ensemble identifiers to a URL-safe alphabet.
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// isValidEnsembleID checks for undesirable but technically valid identifiers.
func isValidEnsembleID(id string) bool {
	if id == "." || id == ".." || id == "-" {
		return false
	}
	return idRegex.MatchString(id)
}

// Parse creates a new Address by parsing its canonical string representation.
func Parse(raw string) (Address, error) {
	if raw == "" {
		return Address{}, fmt.Errorf("source address cannot be empty")
	}
	if !strings.HasPrefix(raw, "/") {
		return Address{}, fmt.Errorf("source address %q must start with '/'", raw)
	}

	parts := strings.Split(strings.TrimPrefix(raw, "/"), "/")
	if len(parts)%2 != 0 {
		return Address{}, fmt.Errorf("source address %q has an unpaired segment", raw)
	}

	addr := Address{Real: -1, Step: -1, Job: -1}
	for i := 0; i < len(parts); i += 2 {
		key, value := parts[i], parts[i+1]
		if value == "" {
			return Address{}, fmt.Errorf("source address %q contains empty segment", raw)
		}

		level := Level(i / 2)
		if level > LevelJob {
			return Address{}, fmt.Errorf("source address %q is deeper than a job", raw)
		}
		if key != level.String() {
			return Address{}, fmt.Errorf("invalid path segment %q at position %d, expected %q", key, i/2, level.String())
		}

		if level == LevelEnsemble {
			if !isValidEnsembleID(value) {
				return Address{}, fmt.Errorf("invalid ensemble id: %q", value)
			}
			addr.Ensemble = value
			continue
		}

		index, err := strconv.Atoi(value)
		if err != nil || index < 0 {
			return Address{}, fmt.Errorf("invalid %s index %q", key, value)
		}
		switch level {
		case LevelRealization:
			addr.Real = index
		case LevelStep:
			addr.Step = index
		case LevelJob:
			addr.Job = index
		}
	}

	return addr, nil
}

// MustParse is like Parse but panics on error. It is intended for tests and
// static addresses.
func MustParse(raw string) Address {
	addr, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return addr
}
