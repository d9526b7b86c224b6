package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/gate"
	"github.com/Iron-Ham/hookline/internal/hook"
	"github.com/Iron-Ham/hookline/internal/molecule"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// resetFlags restores every flag in the tree to its default so that
// commands run in one test do not leak flag values into the next.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// executeCommand runs the root command with args and returns captured output
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("store.dir", rootCmd.PersistentFlags().Lookup("dir"))
	resetFlags(rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// storeDir isolates the store and the user config directory.
func storeDir(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return filepath.Join(t.TempDir(), "store")
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	return v
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "hookline" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "hookline")
	}

	expectedCmds := []string{"init", "queue", "workflow", "gate", "ledger", "apply", "validate-command", "config", "logs", "status"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestInitCommand(t *testing.T) {
	dir := storeDir(t)
	output, err := executeCommand(t, "init", "--dir", dir)
	if err != nil {
		t.Fatalf("init failed: %v\nOutput: %s", err, output)
	}
	if !strings.Contains(output, "hookline initialized") {
		t.Errorf("output = %q", output)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("store directory was not created: %v", err)
	}
}

func TestQueueCommands(t *testing.T) {
	dir := storeDir(t)

	out, err := executeCommand(t, "queue", "enqueue", "eng", "fix the build", "--dir", dir, "--priority", "high", "--json")
	if err != nil {
		t.Fatalf("enqueue failed: %v\n%s", err, out)
	}
	enqueued := decode[hook.WorkItem](t, out)
	if enqueued.Priority != hook.PriorityHigh || enqueued.Status != hook.StatusQueued {
		t.Errorf("enqueued = %+v", enqueued)
	}

	out, err = executeCommand(t, "queue", "claim", "eng", "--as", "w1", "--dir", dir, "--json")
	if err != nil {
		t.Fatalf("claim failed: %v\n%s", err, out)
	}
	claimed := decode[hook.WorkItem](t, out)
	if claimed.ID != enqueued.ID || claimed.AssignedTo != "w1" {
		t.Errorf("claimed = %+v", claimed)
	}

	out, err = executeCommand(t, "queue", "claim", "eng", "--as", "w2", "--dir", dir)
	if err != nil || out != "" {
		t.Errorf("claim on an empty queue = %q, %v; want no output", out, err)
	}

	if out, err := executeCommand(t, "queue", "release", "eng", enqueued.ID, "--result", "green", "--dir", dir); err != nil {
		t.Fatalf("release failed: %v\n%s", err, out)
	}
	if _, err := executeCommand(t, "queue", "release", "eng", enqueued.ID, "--dir", dir); err == nil {
		t.Error("releasing a completed item should fail")
	}

	out, err = executeCommand(t, "queue", "stats", "eng", "--dir", dir, "--json")
	if err != nil {
		t.Fatalf("stats failed: %v\n%s", err, out)
	}
	if st := decode[hook.Stats](t, out); st.Total != 1 || st.Completed != 1 {
		t.Errorf("stats = %+v", st)
	}

	out, err = executeCommand(t, "ledger", "verify", "--dir", dir)
	if err != nil {
		t.Fatalf("ledger verify failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "3 entries") {
		t.Errorf("verify output = %q, want 3 entries", out)
	}
}

const definitions = `
gates:
  - id: gate_ship
    name: ship-review
    owner_role: eng-lead
    policy: auto_checks_only
    criteria:
      - name: tests
        required: true
        auto_check: true
        command: "true"
templates:
  - id: tmpl_ship
    name: ship
    steps:
      - key: ship
        name: Ship
        department: eng
        is_gate: true
        gate_id: gate_ship
`

func TestWorkflowThroughGate(t *testing.T) {
	dir := storeDir(t)
	defs := filepath.Join(t.TempDir(), "defs.yaml")
	if err := os.WriteFile(defs, []byte(definitions), 0o644); err != nil {
		t.Fatal(err)
	}

	if out, err := executeCommand(t, "apply", defs, "--dry-run", "--dir", dir); err != nil {
		t.Fatalf("apply --dry-run failed: %v\n%s", err, out)
	}
	out, err := executeCommand(t, "apply", defs, "--dir", dir)
	if err != nil {
		t.Fatalf("apply failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "created gate gate_ship") || !strings.Contains(out, "saved template tmpl_ship") {
		t.Errorf("apply output = %q", out)
	}

	out, err = executeCommand(t, "workflow", "create", "--template", "tmpl_ship", "--accountable", "cto", "--dir", dir, "--json")
	if err != nil {
		t.Fatalf("workflow create failed: %v\n%s", err, out)
	}
	wf := decode[molecule.Workflow](t, out)
	if wf.Status != molecule.StatusDraft || wf.Responsibility.Accountable != "cto" {
		t.Fatalf("created = %+v", wf)
	}

	if out, err := executeCommand(t, "workflow", "start", wf.ID, "--dir", dir); err != nil {
		t.Fatalf("workflow start failed: %v\n%s", err, out)
	}

	out, err = executeCommand(t, "queue", "claim", "eng", "--as", "dev-1", "--brief", "--dir", dir)
	if err != nil {
		t.Fatalf("claim --brief failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Ship") || !strings.Contains(out, "gate_ship") {
		t.Errorf("brief = %q, want the step and its gate", out)
	}

	if out, err := executeCommand(t, "workflow", "step", "start", wf.ID, "ship", "--as", "dev-1", "--dir", dir); err != nil {
		t.Fatalf("step start failed: %v\n%s", err, out)
	}
	out, err = executeCommand(t, "workflow", "step", "submit", wf.ID, "ship", "--evaluate", "--summary", "ready", "--dir", dir, "--json")
	if err != nil {
		t.Fatalf("step submit failed: %v\n%s", err, out)
	}
	if res := decode[gate.EvaluationResult](t, out); !res.CanAutoApprove || res.Confidence != 1 {
		t.Errorf("evaluation = %+v", res)
	}

	out, err = executeCommand(t, "workflow", "show", wf.ID, "--dir", dir, "--json")
	if err != nil {
		t.Fatalf("workflow show failed: %v\n%s", err, out)
	}
	got := decode[molecule.Workflow](t, out)
	if got.Status != molecule.StatusCompleted {
		t.Errorf("workflow status = %s, want COMPLETED", got.Status)
	}
	if s := got.Step("ship"); s == nil || !s.AutoApproved {
		t.Errorf("ship step = %+v, want auto-approved", s)
	}

	out, err = executeCommand(t, "ledger", "trace", got.LastEntryID, "--dir", dir, "--json")
	if err != nil {
		t.Fatalf("ledger trace failed: %v\n%s", err, out)
	}
	if chain := decode[[]map[string]any](t, out); len(chain) < 5 {
		t.Errorf("trace has %d entries, want at least 5", len(chain))
	}
}

func TestGateCommands(t *testing.T) {
	dir := storeDir(t)

	out, err := executeCommand(t, "gate", "create", "docs-review", "--id", "gate_docs",
		"--policy", "strict", "--auto-check", "lint=true", "--manual", "proofread", "--dir", dir)
	if err != nil {
		t.Fatalf("gate create failed: %v\n%s", err, out)
	}

	out, err = executeCommand(t, "gate", "submit", "gate_docs", "--as", "writer", "--dir", dir, "--json")
	if err != nil {
		t.Fatalf("gate submit failed: %v\n%s", err, out)
	}
	sub := decode[gate.Submission](t, out)

	out, err = executeCommand(t, "gate", "evaluate", "gate_docs", sub.ID, "--dir", dir)
	if err != nil {
		t.Fatalf("gate evaluate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "missing manual: proofread") || !strings.Contains(out, "auto-approve: false") {
		t.Errorf("evaluate output = %q", out)
	}

	out, err = executeCommand(t, "gate", "pending", "gate_docs", "--dir", dir, "--json")
	if err != nil {
		t.Fatalf("gate pending failed: %v\n%s", err, out)
	}
	if pending := decode[[]gate.Submission](t, out); len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}

	if out, err := executeCommand(t, "gate", "reject", "gate_docs", sub.ID, "--as", "editor", "--reason", "typos", "--dir", dir); err != nil {
		t.Fatalf("gate reject failed: %v\n%s", err, out)
	}
	if _, err := executeCommand(t, "gate", "approve", "gate_docs", sub.ID, "--as", "editor", "--dir", dir); err == nil {
		t.Error("approving a rejected submission should fail")
	}

	out, err = executeCommand(t, "gate", "resubmit", "gate_docs", sub.ID, "--check", "proofread", "--dir", dir)
	if err != nil {
		t.Fatalf("gate resubmit failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Resubmitted "+sub.ID) {
		t.Errorf("resubmit output = %q", out)
	}

	if _, err := executeCommand(t, "gate", "create", "bad", "--auto-check", "lint", "--dir", dir); err == nil {
		t.Error("--auto-check without a command should fail")
	}
}

func TestValidateCommand(t *testing.T) {
	storeDir(t)

	out, err := executeCommand(t, "validate-command", "go test ./...")
	if err != nil {
		t.Fatalf("validate-command failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "allowed") {
		t.Errorf("output = %q", out)
	}

	out, err = executeCommand(t, "validate-command", "rm -rf /")
	if err == nil {
		t.Fatal("validate-command should fail for a blocked command")
	}
	if !strings.Contains(out, "blocked") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigShow(t *testing.T) {
	storeDir(t)
	out, err := executeCommand(t, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v\n%s", err, out)
	}
	for _, want := range []string{"store:", "eval_workers: 4", "backend: jsonl"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show output missing %q", want)
		}
	}
}

func TestParseCriteria(t *testing.T) {
	criteria, err := parseCriteria([]string{"tests=go test ./...", " vet = go vet ./... "}, []string{"signoff"})
	if err != nil {
		t.Fatalf("parseCriteria failed: %v", err)
	}
	if len(criteria) != 3 {
		t.Fatalf("got %d criteria, want 3", len(criteria))
	}
	if c := criteria[1]; c.Name != "vet" || c.Command != "go vet ./..." || !c.AutoCheck {
		t.Errorf("criteria[1] = %+v", c)
	}
	if c := criteria[2]; c.AutoCheck || !c.Required {
		t.Errorf("criteria[2] = %+v, want required manual", c)
	}
	if _, err := parseCriteria([]string{"=true"}, nil); err == nil {
		t.Error("empty criterion name should fail")
	}
}

func TestWorkflowShowOrdersByDependency(t *testing.T) {
	dir := storeDir(t)
	file := filepath.Join(t.TempDir(), "wf.yaml")
	content := `name: docs
steps:
  - key: publish
    name: Publish
    depends_on: [review]
  - key: draft
    name: Draft
  - key: review
    name: Review
    depends_on: [draft]
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := executeCommand(t, "workflow", "create", "--file", file, "--dir", dir, "--json")
	if err != nil {
		t.Fatalf("workflow create failed: %v\n%s", err, out)
	}
	wf := decode[molecule.Workflow](t, out)

	out, err = executeCommand(t, "workflow", "show", wf.ID, "--dir", dir)
	if err != nil {
		t.Fatalf("workflow show failed: %v\n%s", err, out)
	}
	draft, review, publish := strings.Index(out, "draft (Draft)"), strings.Index(out, "review (Review)"), strings.Index(out, "publish (Publish)")
	if draft < 0 || review < 0 || publish < 0 {
		t.Fatalf("show output missing steps:\n%s", out)
	}
	if !(draft < review && review < publish) {
		t.Errorf("steps not in dependency order:\n%s", out)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitFailure},
		{"validation", errors.NewValidationError("bad"), ExitInvalidInput},
		{"not found", errors.Wrap(errors.NewNotFoundError("gate", "gate_x"), "show"), ExitNotFound},
		{"invalid state", errors.NewInvalidStateError("step", "s", "PENDING", "COMPLETED"), ExitInvalidState},
		{"blocked", errors.NewCommandBlockedError("curl x", errors.RuleNotAllowlisted, "no"), ExitBlocked},
		{"transient", errors.NewTransientError("evaluate", errors.New("exit 1")), ExitRetryable},
		{"storage", errors.NewStorageError("save", "gates", "gate_x", errors.New("disk full")), ExitStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, errors.NewTransientError("evaluate", errors.New("exit 1")))
	if !strings.Contains(buf.String(), "may succeed if retried") {
		t.Errorf("retryable error output = %q", buf.String())
	}

	buf.Reset()
	printError(&buf, errors.New("boom"))
	if buf.String() != "Error: boom\n" {
		t.Errorf("plain error output = %q", buf.String())
	}
}

func TestMissingWorkflowIsNotFound(t *testing.T) {
	dir := storeDir(t)
	_, err := executeCommand(t, "workflow", "show", "mol_0_00000000", "--dir", dir)
	if got := ExitCode(err); got != ExitNotFound {
		t.Errorf("ExitCode = %d (%v), want %d", got, err, ExitNotFound)
	}
}
