package verify

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/shlex"

	"github.com/Iron-Ham/hookline/internal/errors"
)

// DefaultAllowlist is the set of executables a verification command may
// start: test runners, package managers, build tools, version control, and
// read-only file and text utilities.
var DefaultAllowlist = []string{
	// test runners
	"pytest", "jest", "vitest", "mocha", "rspec", "phpunit", "tox",
	// languages and package managers
	"go", "python", "python3", "node", "npm", "npx", "yarn", "pnpm", "pip", "pip3",
	"cargo", "rustc", "bundle", "ruby", "dotnet", "swift",
	// build tools
	"make", "cmake", "gradle", "mvn", "bazel", "tsc",
	// linters and formatters
	"golangci-lint", "gofmt", "go-vet", "eslint", "prettier", "ruff", "flake8", "mypy", "black", "shellcheck",
	// version control
	"git",
	// file and text utilities, restricted to read-only use by argumentRules
	"ls", "cat", "head", "tail", "wc", "grep", "rg", "find", "diff", "stat", "file", "echo", "test", "true", "false",
}

// pattern is a shell construct that is never allowed in a command.
type pattern struct {
	token string
	name  string
}

// dangerousPatterns is checked in order; multi-character constructs come
// before their single-character prefixes so the reason names the construct.
var dangerousPatterns = []pattern{
	{"$(", "command substitution"},
	{"${", "parameter expansion"},
	{"`", "backtick substitution"},
	{"&&", "conditional chaining"},
	{"||", "conditional chaining"},
	{";", "command separator"},
	{"|", "pipe"},
	{"&", "background execution"},
	{">", "output redirection"},
	{"<", "input redirection"},
	{"(", "subshell"},
	{")", "subshell"},
	{"{", "brace expansion"},
	{"}", "brace expansion"},
	{"\\", "escape character"},
	{"\n", "newline"},
	{"\r", "carriage return"},
	{"\x00", "NUL byte"},
}

// argumentRule returns a reason when an argument of an allowlisted
// executable escapes its intended scope.
type argumentRule func(args []string) (reason string, blocked bool)

// argumentRules holds per-executable argument checks. Each blocks options
// that spawn arbitrary programs or write outside the command's output.
var argumentRules = map[string]argumentRule{
	"git":  gitArguments,
	"find": findArguments,
	"rg":   rgArguments,
}

func gitArguments(args []string) (string, bool) {
	for _, a := range args {
		name, _, _ := strings.Cut(a, "=")
		switch name {
		case "-c", "--config-env", "--exec-path", "--upload-pack", "--receive-pack", "-u":
			return fmt.Sprintf("git option %q can run arbitrary programs", name), true
		}
		if strings.HasPrefix(a, "-c") && len(a) > 2 && !strings.HasPrefix(a, "--") {
			return fmt.Sprintf("git option %q can run arbitrary programs", "-c"), true
		}
		if strings.HasPrefix(a, "!") || strings.Contains(a, "=!") {
			return fmt.Sprintf("git shell alias %q is not allowed", a), true
		}
	}
	return "", false
}

func findArguments(args []string) (string, bool) {
	for _, a := range args {
		switch {
		case a == "-delete", a == "-exec", a == "-execdir", a == "-ok", a == "-okdir", a == "-fls",
			strings.HasPrefix(a, "-fprint"):
			return fmt.Sprintf("find action %q is not read-only", a), true
		}
	}
	return "", false
}

func rgArguments(args []string) (string, bool) {
	for _, a := range args {
		name, _, _ := strings.Cut(a, "=")
		if name == "--pre" {
			return fmt.Sprintf("rg option %q runs a preprocessor program", name), true
		}
	}
	return "", false
}

// Validation is the outcome of validating one command.
type Validation struct {
	Command string
	Valid   bool
	// Rule and Reason are set when the command is blocked.
	Rule   errors.BlockRule
	Reason string
	// Executable is the base name of the first token.
	Executable string
	// Argv is the tokenized command, first element as written.
	Argv []string
}

// Err returns a *errors.CommandBlockedError for a blocked command, or nil.
func (v Validation) Err() error {
	if v.Valid {
		return nil
	}
	return errors.NewCommandBlockedError(v.Command, v.Rule, v.Reason)
}

func blocked(command string, rule errors.BlockRule, format string, args ...any) Validation {
	return Validation{Command: command, Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Validator checks commands against an allowlist.
type Validator struct {
	allowed map[string]struct{}
}

// NewValidator returns a Validator allowing DefaultAllowlist plus extra.
func NewValidator(extra ...string) *Validator {
	v := &Validator{allowed: make(map[string]struct{}, len(DefaultAllowlist)+len(extra))}
	for _, name := range DefaultAllowlist {
		v.allowed[name] = struct{}{}
	}
	for _, name := range extra {
		if name = strings.TrimSpace(name); name != "" {
			v.allowed[name] = struct{}{}
		}
	}
	return v
}

// Allowed returns the allowlist in sorted order.
func (v *Validator) Allowed() []string {
	return slices.Sorted(maps.Keys(v.allowed))
}

// Validate checks command against both rules, then applies the
// executable's argument rules. Empty commands and commands that cannot be
// tokenized are blocked too.
func (v *Validator) Validate(command string) Validation {
	if strings.TrimSpace(command) == "" {
		return blocked(command, errors.RuleEmpty, "command is empty")
	}
	for _, p := range dangerousPatterns {
		if strings.Contains(command, p.token) {
			return blocked(command, errors.RuleDangerousPattern,
				"contains %s (%q); shell constructs are not allowed", p.name, p.token)
		}
	}
	argv, err := shlex.Split(command)
	if err != nil {
		return blocked(command, errors.RuleUnparseable, "cannot tokenize command: %v", err)
	}
	if len(argv) == 0 {
		return blocked(command, errors.RuleEmpty, "command has no tokens")
	}
	exe := filepath.Base(argv[0])
	if _, ok := v.allowed[exe]; !ok {
		return Validation{
			Command:    command,
			Rule:       errors.RuleNotAllowlisted,
			Reason:     fmt.Sprintf("executable %q is not on the allowlist", exe),
			Executable: exe,
			Argv:       argv,
		}
	}
	if rule, ok := argumentRules[exe]; ok {
		if reason, bad := rule(argv[1:]); bad {
			return Validation{
				Command:    command,
				Rule:       errors.RuleDangerousArgument,
				Reason:     reason,
				Executable: exe,
				Argv:       argv,
			}
		}
	}
	return Validation{Command: command, Valid: true, Executable: exe, Argv: argv}
}

var defaultValidator = NewValidator()

// Validate checks command with the default allowlist.
func Validate(command string) Validation {
	return defaultValidator.Validate(command)
}
