// Package bankprofile adjusts validation summaries for the enforcement
// posture of the issuing bank.
package bankprofile

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// profileFile is the on-disk shape of the bank profile set.
type profileFile struct {
	Version string                `yaml:"version"`
	Banks   []*domain.BankProfile `yaml:"banks"`
}

// Registry holds the loaded bank profiles, keyed by upper-cased code.
type Registry struct {
	profiles map[string]*domain.BankProfile
}

// LoadFile parses a bank profile YAML file. Fails fast on duplicate or
// missing codes and unknown categories or enforcement levels.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bank profiles %s: %w", path, err)
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse bank profiles %s: %w", path, err)
	}

	reg := &Registry{profiles: make(map[string]*domain.BankProfile, len(file.Banks))}
	for _, p := range file.Banks {
		if p.Code == "" {
			return nil, fmt.Errorf("bank profile %q: missing code", p.Name)
		}
		code := strings.ToUpper(p.Code)
		if _, dup := reg.profiles[code]; dup {
			return nil, fmt.Errorf("duplicate bank profile code %s", code)
		}
		switch p.Category {
		case domain.BankStateOwned, domain.BankPrivate, domain.BankIslamic, domain.BankForeign:
		default:
			return nil, fmt.Errorf("bank profile %s: unknown category %q", code, p.Category)
		}
		if !p.EnforcementLevel.Valid() {
			return nil, fmt.Errorf("bank profile %s: unknown enforcement level %q", code, p.EnforcementLevel)
		}
		reg.profiles[code] = p
	}

	return reg, nil
}

// NewRegistry builds a registry from in-memory profiles, for tests and
// embedded defaults.
func NewRegistry(profiles []*domain.BankProfile) *Registry {
	reg := &Registry{profiles: make(map[string]*domain.BankProfile, len(profiles))}
	for _, p := range profiles {
		reg.profiles[strings.ToUpper(p.Code)] = p
	}
	return reg
}

// Get returns the profile for a bank code, nil when unknown.
// Codes are case-insensitive.
func (r *Registry) Get(code string) *domain.BankProfile {
	return r.profiles[strings.ToUpper(code)]
}

// List returns all profiles sorted by code.
func (r *Registry) List() []*domain.BankProfile {
	out := make([]*domain.BankProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Count returns the number of loaded profiles.
func (r *Registry) Count() int {
	return len(r.profiles)
}
