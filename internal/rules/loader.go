package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RuleSet is one named group of rules loaded from a YAML file,
// e.g. UCP600 or LOCAL_BD.
type RuleSet struct {
	Name        string                   `json:"name" yaml:"name"`
	Version     string                   `json:"version" yaml:"version"`
	Description string                   `json:"description,omitempty" yaml:"description"`
	Rules       []*domain.RuleDefinition `json:"rules" yaml:"rules"`
}

// LoadFile parses and structurally validates a single rule set file.
// Any invalid rule fails the whole file: a rule set activates completely
// or not at all.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set %s: %w", path, err)
	}

	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse rule set %s: %w", path, err)
	}

	if set.Name == "" {
		return nil, fmt.Errorf("rule set %s: missing name", path)
	}
	if set.Version != "" && !versionOK(set.Version) {
		return nil, fmt.Errorf("rule set %s: invalid version %q (want MAJOR.MINOR.PATCH)", path, set.Version)
	}
	if len(set.Rules) == 0 {
		return nil, fmt.Errorf("rule set %s: no rules", path)
	}

	seen := make(map[string]bool, len(set.Rules))
	for _, rule := range set.Rules {
		rule.RuleSet = set.Name
		if err := rule.ValidateStructure(); err != nil {
			return nil, fmt.Errorf("rule set %s: %w", path, err)
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("rule set %s: duplicate rule id %s", path, rule.ID)
		}
		seen[rule.ID] = true
	}

	return &set, nil
}

// LoadDir loads every .yaml/.yml file in dir as a rule set, in file name
// order. Rule ids must be unique across all sets.
func LoadDir(dir string) ([]*RuleSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set dir %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no rule set files in %s", dir)
	}

	sets := make([]*RuleSet, 0, len(paths))
	seenSets := make(map[string]bool)
	seenRules := make(map[string]string) // rule id -> set name

	for _, path := range paths {
		set, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if seenSets[set.Name] {
			return nil, fmt.Errorf("duplicate rule set %s (in %s)", set.Name, path)
		}
		seenSets[set.Name] = true

		for _, rule := range set.Rules {
			if owner, dup := seenRules[rule.ID]; dup {
				return nil, fmt.Errorf("rule id %s in %s already defined in %s", rule.ID, set.Name, owner)
			}
			seenRules[rule.ID] = set.Name
		}
		sets = append(sets, set)
	}

	return sets, nil
}

var setVersionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

func versionOK(v string) bool {
	return setVersionPattern.MatchString(v)
}
