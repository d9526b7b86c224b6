package definition

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/hookline/internal/verify"
)

const yamlBundle = `
gates:
  - id: gate_build
    name: build-review
    owner_role: eng-lead
    pipeline_stage: build
    policy: auto_checks_only
    criteria:
      - name: tests
        required: true
        auto_check: true
        command: go test ./...
      - name: signoff
        required: true
templates:
  - id: tmpl_launch
    name: launch
    steps:
      - key: research
        name: Research
        department: research
      - key: build
        name: Build
        department: eng
        depends_on: [research]
        is_gate: true
        gate_id: gate_build
`

const jsoncBundle = `{
  // lenient gate for docs
  "gates": [
    {
      "name": "docs-review",
      "policy": "lenient",
      "min_confidence": 0.5,
      "timeout_seconds": 60,
      "notify_on_auto_approve": false,
      "criteria": [
        {"name": "lint", "auto_check": true, "command": "make lint"},
        {"name": "spell", "auto_check": true, "command": "make spell"}, /* trailing comma next */
      ],
    },
  ],
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestReadFileYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "launch.yaml", yamlBundle)
	b, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(b.Gates) != 1 || len(b.Templates) != 1 {
		t.Fatalf("bundle = %d gates, %d templates", len(b.Gates), len(b.Templates))
	}
	if issues := Validate(b, nil); len(issues) != 0 {
		t.Errorf("Validate() = %v, want none", issues)
	}

	g, err := b.Gates[0].Gate()
	if err != nil {
		t.Fatalf("Gate(): %v", err)
	}
	if g.Policy.Name != "auto_checks_only" || !g.Policy.RequireAllAuto {
		t.Errorf("policy = %+v", g.Policy)
	}
	if len(g.Criteria) != 2 || g.Criteria[0].Command != "go test ./..." {
		t.Errorf("criteria = %+v", g.Criteria)
	}
	steps := b.Templates[0].Steps
	if len(steps) != 2 || steps[1].DependsOn[0] != "research" || !steps[1].IsGate {
		t.Errorf("steps = %+v", steps)
	}
}

func TestReadFileJSONC(t *testing.T) {
	path := writeFile(t, t.TempDir(), "docs.jsonc", jsoncBundle)
	b, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if issues := Validate(b, nil); len(issues) != 0 {
		t.Errorf("Validate() = %v, want none", issues)
	}
	g, err := b.Gates[0].Gate()
	if err != nil {
		t.Fatalf("Gate(): %v", err)
	}
	if g.Policy.MinConfidence != 0.5 || g.Policy.TimeoutSeconds != 60 || g.Policy.NotifyOnAutoApprove {
		t.Errorf("policy = %+v", g.Policy)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte("gates:\n  - name: x\n    polcy: strict\n"), FormatYAML); err == nil {
		t.Error("YAML with a misspelled field should fail")
	}
	if _, err := Parse([]byte(`{"gates": [{"name": "x", "polcy": "strict"}]}`), FormatJSON); err == nil {
		t.Error("JSON with a misspelled field should fail")
	}
	if b, err := Parse(nil, FormatYAML); err != nil || len(b.Gates) != 0 {
		t.Errorf("empty YAML = %+v, %v; want empty bundle", b, err)
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
		ok   bool
	}{
		{"a.yaml", FormatYAML, true},
		{"a.YML", FormatYAML, true},
		{"a.json", FormatJSON, true},
		{"a.jsonc", FormatJSON, true},
		{"a.toml", "", false},
	}
	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("FormatFromPath(%q) = %q, %v", tt.path, got, err)
		}
	}
	if NameFromPath("defs/launch.jsonc") != "launch" {
		t.Errorf("NameFromPath = %q", NameFromPath("defs/launch.jsonc"))
	}
}

func TestReadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", yamlBundle)
	writeFile(t, dir, "b.jsonc", jsoncBundle)
	writeFile(t, dir, "README.md", "# not a definition")
	if err := os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755); err != nil {
		t.Fatal(err)
	}

	b, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(b.Gates) != 2 || len(b.Templates) != 1 {
		t.Errorf("merged bundle = %d gates, %d templates", len(b.Gates), len(b.Templates))
	}
	if b.Gates[0].Name != "build-review" {
		t.Errorf("files should be read in lexical order, first gate = %q", b.Gates[0].Name)
	}
}

func TestValidateIssues(t *testing.T) {
	bad := `
gates:
  - id: gate_a
    name: a
    policy: lenient
    min_confidence: 2
    criteria:
      - name: dup
      - name: dup
      - name: inject
        auto_check: true
        command: "go test; rm -rf /"
      - name: manual-with-command
        command: ls
      - name: curl
        auto_check: true
        command: curl http://example.com
  - id: gate_a
    name: ""
    policy: sometimes
templates:
  - name: loop
    steps:
      - key: a
        name: A
        depends_on: [b]
      - key: b
        name: B
        depends_on: [a]
      - key: c
        name: C
        is_gate: true
`
	b, err := Parse([]byte(bad), FormatYAML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	issues := Validate(b, nil)
	joined := strings.Join(issues, "\n")
	for _, want := range []string{
		"min_confidence",
		`duplicate criterion "dup"`,
		`"inject": command`,
		"only run for auto_check",
		`"curl": command`,
		`duplicate id "gate_a"`,
		"name is required",
		"sometimes",
		"cycle",
		"gate step needs gate_id",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("issues missing %q:\n%s", want, joined)
		}
	}

	extended := verify.NewValidator("curl")
	for _, issue := range Validate(b, extended) {
		if strings.Contains(issue, `"curl"`) {
			t.Errorf("curl should be allowed by the extended validator: %s", issue)
		}
	}
}
