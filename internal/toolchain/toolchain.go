// Package toolchain runs the external front-end build against a
// materialized file tree.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Invocation describes one build run.
type Invocation struct {
	Dir string
	Env map[string]string
}

// Outcome is what the build tool produced. A non-zero exit or a timeout is
// an Outcome, not an error.
type Outcome struct {
	ExitCode  int
	Output    string
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
}

func (o *Outcome) Succeeded() bool {
	return o != nil && o.ExitCode == 0 && !o.TimedOut
}

// Toolchain runs a build. The returned error is reserved for failures to
// start the tool at all.
type Toolchain interface {
	Run(ctx context.Context, inv Invocation) (*Outcome, error)
}

const DefaultMaxOutputBytes = 1 << 20

// ExecToolchain runs Command through os/exec with a wall-clock bound.
type ExecToolchain struct {
	Command        []string
	Timeout        time.Duration
	MaxOutputBytes int64
	Log            *zap.Logger
}

func NewExecToolchain(command []string, timeout time.Duration, log *zap.Logger) *ExecToolchain {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecToolchain{
		Command:        append([]string(nil), command...),
		Timeout:        timeout,
		MaxOutputBytes: DefaultMaxOutputBytes,
		Log:            log,
	}
}

func (t *ExecToolchain) Run(ctx context.Context, inv Invocation) (*Outcome, error) {
	if len(t.Command) == 0 {
		return nil, errors.New("toolchain: no build command configured")
	}
	log := t.Log
	if log == nil {
		log = zap.NewNop()
	}

	runCtx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, t.Command[0], t.Command[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = mergeEnv(os.Environ(), inv.Env)
	cmd.WaitDelay = 5 * time.Second

	limit := t.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	var buf bytes.Buffer
	out := &limitedWriter{w: &buf, max: limit}
	cmd.Stdout = out
	cmd.Stderr = out

	log.Debug("running build", zap.Strings("command", t.Command), zap.String("dir", inv.Dir))
	start := time.Now()
	err := cmd.Run()
	res := &Outcome{
		Output:    buf.String(),
		Truncated: out.truncated,
		Duration:  time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.TimedOut = true
		res.ExitCode = -1
		res.Output += fmt.Sprintf("\nbuild timed out after %s", t.Timeout)
		log.Warn("build timed out", zap.String("dir", inv.Dir), zap.Duration("timeout", t.Timeout))
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("toolchain: start %s: %w", t.Command[0], err)
	}
	log.Debug("build finished", zap.Int("exit_code", res.ExitCode), zap.Duration("duration", res.Duration), zap.Int("output_bytes", len(res.Output)))
	return res, nil
}

// mergeEnv overlays extra on base; later keys win and output order is stable.
func mergeEnv(base []string, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra))
	env = append(env, base...)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// limitedWriter keeps the first max bytes and discards the rest.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

// BuildEnv is the environment injected into every build of an app.
func BuildEnv(appID, backendURL, backendAnonKey, mode string) map[string]string {
	if mode == "" {
		mode = "production"
	}
	return map[string]string{
		"APP_ID":                 appID,
		"VITE_APP_ID":            appID,
		"VITE_SUPABASE_URL":      backendURL,
		"VITE_SUPABASE_ANON_KEY": backendAnonKey,
		"NODE_ENV":               mode,
	}
}
