package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Roles understood by the API surface.
const (
	RoleAsk    = "ask"
	RoleExport = "export"
)

// Identity is an authenticated caller: a subject plus the roles it may
// exercise.
type Identity struct {
	Subject string
	Roles   []string
}

func (i Identity) HasRole(role string) bool {
	for _, candidate := range i.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// Validator checks one presented credential. Implementations decide what a
// credential is (static API key, signed token).
type Validator interface {
	Validate(ctx context.Context, credential string) (Identity, bool)
}

// StaticKeyValidator resolves API keys from a comma-separated spec of
// key:subject:role|role entries.
type StaticKeyValidator struct {
	keys map[string]Identity
}

func NewStaticKeyValidator(spec string) (*StaticKeyValidator, error) {
	validator := &StaticKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:subject:role|role", entry)
		}
		key := strings.TrimSpace(parts[0])
		subject := strings.TrimSpace(parts[1])
		if key == "" || subject == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/subject", entry)
		}
		roleParts := strings.Split(strings.TrimSpace(parts[2]), "|")
		roles := make([]string, 0, len(roleParts))
		for _, role := range roleParts {
			role = strings.TrimSpace(role)
			if role == "" {
				continue
			}
			roles = append(roles, role)
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		sort.Strings(roles)
		validator.keys[key] = Identity{Subject: subject, Roles: roles}
	}

	return validator, nil
}

func (v *StaticKeyValidator) Validate(_ context.Context, credential string) (Identity, bool) {
	identity, ok := v.keys[credential]
	return identity, ok
}

// MultiValidator accepts a credential if any of its validators does.
type MultiValidator []Validator

func (m MultiValidator) Validate(ctx context.Context, credential string) (Identity, bool) {
	for _, validator := range m {
		if validator == nil {
			continue
		}
		if identity, ok := validator.Validate(ctx, credential); ok {
			return identity, ok
		}
	}
	return Identity{}, false
}
