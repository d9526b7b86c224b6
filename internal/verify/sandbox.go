package verify

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/logging"
)

// Defaults applied by NewSandbox.
const (
	DefaultTimeout   = 5 * time.Minute
	DefaultMaxOutput = 64 * 1024
)

// Result is the outcome of one Sandbox.Run.
type Result struct {
	Command string
	// Blocked commands never ran; Rule and Reason say why.
	Blocked bool
	Rule    errors.BlockRule
	Reason  string

	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
	TimedOut  bool
	Duration  time.Duration
	// Err is a *errors.CommandBlockedError, *errors.TimeoutError or
	// *errors.TransientError when the command did not pass.
	Err error
}

// Passed reports whether the command ran and exited zero.
func (r Result) Passed() bool {
	return !r.Blocked && !r.TimedOut && r.Err == nil && r.ExitCode == 0
}

// Runner starts a validated argv. It is the seam tests replace.
type Runner interface {
	Run(ctx context.Context, argv []string, dir string, stdout, stderr io.Writer) (exitCode int, err error)
}

// Executor runs a command string. *Sandbox satisfies it.
type Executor interface {
	Run(ctx context.Context, command string) Result
}

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

// WithValidator replaces the default allowlist.
func WithValidator(v *Validator) SandboxOption {
	return func(s *Sandbox) { s.validator = v }
}

// WithRunner replaces process execution.
func WithRunner(r Runner) SandboxOption {
	return func(s *Sandbox) { s.runner = r }
}

// WithTimeout bounds each command. Non-positive values keep the default.
func WithTimeout(d time.Duration) SandboxOption {
	return func(s *Sandbox) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxOutput caps captured stdout and stderr, each.
func WithMaxOutput(n int) SandboxOption {
	return func(s *Sandbox) {
		if n > 0 {
			s.maxOutput = n
		}
	}
}

// WithWorkDir sets the directory commands run in.
func WithWorkDir(dir string) SandboxOption {
	return func(s *Sandbox) { s.dir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) SandboxOption {
	return func(s *Sandbox) { s.logger = logging.OrNop(l) }
}

// Sandbox validates and runs verification commands.
type Sandbox struct {
	validator *Validator
	runner    Runner
	timeout   time.Duration
	maxOutput int
	dir       string
	logger    *logging.Logger
}

// NewSandbox returns a Sandbox using the default allowlist and real
// process execution.
func NewSandbox(opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		validator: defaultValidator,
		runner:    ExecRunner{},
		timeout:   DefaultTimeout,
		maxOutput: DefaultMaxOutput,
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks command without running it.
func (s *Sandbox) Validate(command string) Validation {
	return s.validator.Validate(command)
}

// Run validates command and, when it passes, runs it under the sandbox
// timeout with bounded output capture.
func (s *Sandbox) Run(ctx context.Context, command string) Result {
	v := s.validator.Validate(command)
	if !v.Valid {
		s.logger.Warn("command blocked", "command", command, "rule", string(v.Rule), "reason", v.Reason)
		return Result{Command: command, Blocked: true, Rule: v.Rule, Reason: v.Reason, ExitCode: -1, Err: v.Err()}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stdout := newCappedBuffer(s.maxOutput)
	stderr := newCappedBuffer(s.maxOutput)
	start := time.Now()
	code, err := s.runner.Run(runCtx, v.Argv, s.dir, stdout, stderr)
	res := Result{
		Command:   command,
		ExitCode:  code,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated() || stderr.truncated(),
		Duration:  time.Since(start),
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.TimedOut = true
		res.Err = errors.NewTimeoutError(command, s.timeout)
	case ctx.Err() != nil:
		res.Err = errors.NewTransientError("run "+v.Executable, ctx.Err()).WithExitCode(code)
	case err != nil:
		res.Err = errors.NewTransientError("run "+v.Executable, err).WithExitCode(code)
	case code != 0:
		res.Err = errors.NewTransientError("run "+v.Executable, nil).WithExitCode(code)
	}
	s.logger.Debug("command finished",
		"command", command, "exit_code", code, "duration", res.Duration, "timed_out", res.TimedOut, "truncated", res.Truncated)
	return res
}

// ExecRunner starts argv directly, without a shell, in its own process
// group so a timeout kills any children too.
type ExecRunner struct {
	// Env replaces the inherited environment when non-nil.
	Env []string
}

// Run implements Runner. A process that exits non-zero reports its exit
// code with a nil error; err is set only when the process could not run
// to completion.
func (r ExecRunner) Run(ctx context.Context, argv []string, dir string, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = nil
	cmd.Env = r.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// cappedBuffer keeps the first limit bytes written and counts the rest.
type cappedBuffer struct {
	mu      sync.Mutex
	buf     strings.Builder
	limit   int
	dropped int
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.dropped += len(p)
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.dropped += len(p) - room
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped > 0
}
