// Package reasoning runs the external reasoning engine as a bounded
// subprocess and parses its structured output. The invoker never
// returns a Go error for engine failures; every outcome is a value so
// the pipeline can decide per-phase what a failure means.
package reasoning

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mhalvorsen/lookout/internal/modules/settings"
)

// ErrorKind classifies a failed invocation.
type ErrorKind string

const (
	ErrTimeout ErrorKind = "timeout"
	ErrFailed  ErrorKind = "failed"
)

// killGrace is how long a timed-out child gets between SIGTERM and
// SIGKILL.
const killGrace = 5 * time.Second

// ReasoningError is the typed failure of one invocation.
type ReasoningError struct {
	Kind    ErrorKind
	Label   string
	Elapsed time.Duration
	Detail  string
}

func (e *ReasoningError) Error() string {
	if e.Kind == ErrTimeout {
		return fmt.Sprintf("reasoning %s timed out after %s", e.Label, e.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("reasoning %s failed: %s", e.Label, e.Detail)
}

// Timeout reports whether err is a timeout-kind ReasoningError.
func Timeout(err error) bool {
	re, ok := err.(*ReasoningError)
	return ok && re.Kind == ErrTimeout
}

// Settings is the slice of runtime configuration the invoker reads.
type Settings interface {
	GetBool(key string, defaultValue bool) (bool, error)
	GetString(key, defaultValue string) (string, error)
}

// Invoker spawns the reasoning engine binary. It holds no per-call
// state; invocations may run in parallel.
type Invoker struct {
	binary   string
	workDir  string
	settings Settings
	log      zerolog.Logger
}

// NewInvoker builds an Invoker for the engine binary. workDir is the
// child's working directory.
func NewInvoker(binary, workDir string, settings Settings, log zerolog.Logger) *Invoker {
	return &Invoker{
		binary:   binary,
		workDir:  workDir,
		settings: settings,
		log:      log.With().Str("component", "reasoning").Logger(),
	}
}

// Invoke runs one reasoning call: prompt on stdin, capability allowlist
// and label on argv, hard wall-clock timeout. In dry-run mode it
// returns a canned marker without spawning anything. All failure paths
// come back as *ReasoningError; err is never any other type.
func (inv *Invoker) Invoke(ctx context.Context, prompt string, capabilities []string, label string, timeout time.Duration) (string, error) {
	if label == "" {
		label = uuid.NewString()
	}
	// Getters fall back to the default on lookup failure.
	dryRun, _ := inv.settings.GetBool(settings.KeyDryRunMode, false)
	if dryRun {
		inv.log.Info().Str("label", label).Msg("dry-run, skipping reasoning call")
		return "[DRY-RUN] " + label, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"--label", label}
	if len(capabilities) > 0 {
		args = append(args, "--allowed-tools", strings.Join(capabilities, ","))
	}

	cmd := exec.CommandContext(ctx, inv.binary, args...)
	cmd.Dir = inv.workDir
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = inv.filteredEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Graceful cancellation: SIGTERM on deadline, SIGKILL if the child
	// lingers past the grace window.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		inv.log.Warn().Str("label", label).Dur("elapsed", elapsed).Msg("reasoning call timed out")
		return "", &ReasoningError{Kind: ErrTimeout, Label: label, Elapsed: elapsed}
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		inv.log.Warn().Str("label", label).Str("detail", detail).Msg("reasoning call failed")
		return "", &ReasoningError{Kind: ErrFailed, Label: label, Elapsed: elapsed, Detail: detail}
	}

	inv.log.Debug().Str("label", label).Dur("elapsed", elapsed).Int("bytes", stdout.Len()).Msg("reasoning call completed")
	return stdout.String(), nil
}

// filteredEnv passes the parent environment through minus SECRET_*
// keys, except those whitelisted in settings as a comma-separated list.
func (inv *Invoker) filteredEnv() []string {
	whitelist := map[string]bool{}
	raw, _ := inv.settings.GetString(settings.KeyEnvWhitelist, "")
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			whitelist[k] = true
		}
	}

	env := os.Environ()
	out := env[:0:0]
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "SECRET_") && !whitelist[name] {
			continue
		}
		out = append(out, kv)
	}
	return out
}
