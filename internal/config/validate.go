package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the model against its constraints.
func (m *Model) Validate() error {
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Errorf("%s: failed %q constraint", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %w", errors.Join(msgs...))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if m.Queue.Driver == "shell" && m.Queue.Shell == nil {
		return errors.New("invalid configuration: the shell driver needs a shell block")
	}

	seen := make(map[string]struct{}, len(m.Ensemble.Steps))
	for _, s := range m.Ensemble.Steps {
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("invalid configuration: duplicate step %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
