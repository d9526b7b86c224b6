// Package verify decides whether an operator-supplied verification command
// may run, and runs the ones that may.
//
// Validate applies two rules. The raw string must not contain any shell
// construct that could change what runs (separators, pipes, redirection,
// substitution, subshells, brace expansion, escapes), and the executable,
// with any directory stripped, must be on the allowlist. Commands are
// tokenized with shell quoting rules but never handed to a shell.
//
// Sandbox is the only path by which gate evaluation starts a process. It
// validates, applies a timeout, and captures bounded stdout and stderr:
//
//	sb := verify.NewSandbox(verify.WithTimeout(5 * time.Minute))
//	res := sb.Run(ctx, "go test ./...")
//	if res.Blocked {
//	    fmt.Println(res.Rule, res.Reason)
//	}
package verify
