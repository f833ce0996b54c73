package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeRuleFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

const validSet = `
name: UCP600
version: 1.0.0
description: test set
rules:
  - id: UCP600-1
    condition: doc.not_empty("lc_number")
    severity: critical
    description: LC number must be present
    message: LC number is missing
    field: lc_number
    version: 1.0.0
  - id: UCP600-6
    condition: doc.dateAfter("expiry_date", "issue_date")
    severity: major
    description: Expiry must follow issuance
    message: Expiry is not after issue
    field: expiry_date
    version: 1.0.0
`

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, "ucp600.yaml", validSet)

	set, err := LoadFile(path)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	if set.Name != "UCP600" {
		t.Errorf("unexpected set name %s", set.Name)
	}
	if set.Version != "1.0.0" {
		t.Errorf("unexpected version %s", set.Version)
	}
	if len(set.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(set.Rules))
	}
	for _, r := range set.Rules {
		if r.RuleSet != "UCP600" {
			t.Errorf("rule %s: set not stamped, got %q", r.ID, r.RuleSet)
		}
	}
}

func TestLoadFileFailFast(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"missing name",
			"version: 1.0.0\nrules:\n  - id: r1\n    condition: doc.has_field(\"x\")\n    severity: minor\n",
			"missing name",
		},
		{
			"no rules",
			"name: EMPTY\nversion: 1.0.0\n",
			"no rules",
		},
		{
			"missing condition",
			"name: S\nrules:\n  - id: r1\n    severity: minor\n",
			"missing condition",
		},
		{
			"invalid severity",
			"name: S\nrules:\n  - id: r1\n    condition: doc.has_field(\"x\")\n    severity: catastrophic\n",
			"invalid severity",
		},
		{
			"invalid rule version",
			"name: S\nrules:\n  - id: r1\n    condition: doc.has_field(\"x\")\n    severity: minor\n    version: v1\n",
			"invalid version",
		},
		{
			"invalid set version",
			"name: S\nversion: one\nrules:\n  - id: r1\n    condition: doc.has_field(\"x\")\n    severity: minor\n",
			"invalid version",
		},
		{
			"duplicate rule id",
			"name: S\nrules:\n  - id: r1\n    condition: doc.has_field(\"x\")\n    severity: minor\n  - id: r1\n    condition: doc.has_field(\"y\")\n    severity: minor\n",
			"duplicate rule id",
		},
		{
			"not yaml",
			"{{{{ not yaml",
			"parse",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeRuleFile(t, dir, "set.yaml", tc.content)

			_, err := LoadFile(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "ucp600.yaml", validSet)
	writeRuleFile(t, dir, "local_bd.yml", `
name: LOCAL_BD
version: 1.0.0
rules:
  - id: BD-002
    condition: doc.not_empty("hs_code")
    severity: critical
    message: HS code is missing
    version: 1.0.0
`)
	// Non-YAML files are ignored
	writeRuleFile(t, dir, "README.md", "not a rule set")

	sets, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("failed to load dir: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("expected 2 sets, got %d", len(sets))
	}

	// File name order: local_bd before ucp600
	if sets[0].Name != "LOCAL_BD" || sets[1].Name != "UCP600" {
		t.Errorf("unexpected set order: %s, %s", sets[0].Name, sets[1].Name)
	}
}

func TestLoadDirDuplicateSetName(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "a.yaml", validSet)
	writeRuleFile(t, dir, "b.yaml", strings.Replace(validSet, "UCP600-1", "UCP600-X", 1))

	_, err := LoadDir(dir)
	if err == nil || !strings.Contains(err.Error(), "duplicate rule set") {
		t.Errorf("expected duplicate set error, got %v", err)
	}
}

func TestLoadDirDuplicateRuleAcrossSets(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "a.yaml", validSet)
	writeRuleFile(t, dir, "b.yaml", `
name: OTHER
rules:
  - id: UCP600-1
    condition: doc.has_field("x")
    severity: minor
`)

	_, err := LoadDir(dir)
	if err == nil || !strings.Contains(err.Error(), "already defined") {
		t.Errorf("expected cross-set duplicate error, got %v", err)
	}
}

func TestLoadDirEmpty(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadDir(dir); err == nil {
		t.Error("expected error for empty rule dir")
	}
	if _, err := LoadDir(filepath.Join(dir, "nope")); err == nil {
		t.Error("expected error for missing dir")
	}
}

func TestEngineLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "ucp600.yaml", validSet)

	engine, _ := NewEngine(5)
	defer engine.Close()

	report, err := engine.LoadFromDir(dir)
	if err != nil {
		t.Fatalf("failed to load from dir: %v", err)
	}
	if !report.OK() {
		t.Errorf("unexpected lint errors: %+v", report.Errors)
	}
	if engine.RulesCount() != 2 {
		t.Errorf("expected 2 rules, got %d", engine.RulesCount())
	}
	if v := engine.RuleVersions()["UCP600-1"]; v != "1.0.0" {
		t.Errorf("unexpected rule version %q", v)
	}
}

func TestEngineLoadFromDirLintErrorBlocks(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "bad.yaml", `
name: BROKEN
rules:
  - id: b1
    condition: doc.undefined_builtin("x")
    severity: minor
    message: broken
`)

	engine, _ := NewEngine(5)
	defer engine.Close()

	report, err := engine.LoadFromDir(dir)
	if err == nil {
		t.Fatal("expected error for lint failure")
	}
	if report == nil || len(report.Errors) == 0 {
		t.Fatal("expected lint errors in report")
	}
	if engine.RulesCount() != 0 {
		t.Errorf("lint failure must not activate rules, got %d", engine.RulesCount())
	}
}
