// Package build drives the bounded build, classify, fix, retry loop.
package build

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/todddickerson/overskill-sub011/internal/autofix"
	"github.com/todddickerson/overskill-sub011/internal/classify"
	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
	"github.com/todddickerson/overskill-sub011/internal/toolchain"
)

type State string

const (
	StateAttempting  State = "attempting"
	StateClassifying State = "classifying"
	StateFixing      State = "fixing"
	StateEscalating  State = "escalating"
	StateSucceeded   State = "succeeded"
	StateExhausted   State = "exhausted"
)

const DefaultMaxAttempts = 2

// Classifier turns failed build output into fix strategies.
type Classifier interface {
	Classify(output string) classify.Result
}

// Fixer applies one strategy.
type Fixer interface {
	ApplyStrategy(ctx context.Context, appID string, s classify.Strategy) autofix.FixResult
}

// Escalator is the higher-cost fix path tried when nothing in the output is
// auto-fixable. It returns a description of every change it made.
type Escalator interface {
	Escalate(ctx context.Context, appID, output string) ([]string, error)
}

type Options struct {
	MaxAttempts int
	OutputDir   string
	WorkRoot    string

	BackendURL     string
	BackendAnonKey string
	Mode           string

	// OnTransition, when set, observes every state change.
	OnTransition func(appID string, from, to State, attempt int)
}

// Result is the outcome of one build sequence.
type Result struct {
	Success      bool
	State        State
	Output       string
	Error        string
	Reason       string
	Files        []sourcefile.File
	SelfHealed   bool
	Attempts     int
	FixesApplied []string
	FixFailures  []string
	Duration     time.Duration
}

type Orchestrator struct {
	store      sourcefile.Store
	tool       toolchain.Toolchain
	classifier Classifier
	fixer      Fixer
	escalator  Escalator
	opts       Options
	log        *zap.Logger
}

// New wires an orchestrator. escalator may be nil, which disables the
// escalation path.
func New(store sourcefile.Store, tool toolchain.Toolchain, classifier Classifier, fixer Fixer, escalator Escalator, opts Options, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		opts.OutputDir = "dist"
	}
	if classifier == nil {
		classifier = classify.DefaultRegistry()
	}
	return &Orchestrator{
		store:      store,
		tool:       tool,
		classifier: classifier,
		fixer:      fixer,
		escalator:  escalator,
		opts:       opts,
		log:        log,
	}
}

// run carries the mutable state of one Build call.
type run struct {
	appID     string
	ws        *toolchain.Workspace
	attempt   int
	state     State
	output    string
	files     []sourcefile.File
	analysis  classify.Result
	escalated bool
	reason    string
	fixes     []string
	failures  []string
}

// Build runs the state machine to a terminal state. It always returns a
// Result; failures are reported through Success and Error.
func (o *Orchestrator) Build(ctx context.Context, appID string) Result {
	start := time.Now()
	log := o.log.With(zap.String("app_id", appID))

	ws, err := toolchain.NewWorkspace(o.opts.WorkRoot, appID)
	if err != nil {
		return Result{State: StateExhausted, Error: err.Error(), Reason: "workspace unavailable", Duration: time.Since(start)}
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.Warn("remove build workspace", zap.String("dir", ws.Dir()), zap.Error(err))
		}
	}()

	r := &run{appID: appID, ws: ws, attempt: 1, state: StateAttempting}
	for r.state != StateSucceeded && r.state != StateExhausted {
		var next State
		switch r.state {
		case StateAttempting:
			next = o.attempt(ctx, r)
		case StateClassifying:
			next = o.classifyStep(r)
		case StateFixing:
			next = o.fixStep(ctx, r)
		case StateEscalating:
			next = o.escalateStep(ctx, r)
		default:
			next = StateExhausted
		}
		if next == StateAttempting {
			r.attempt++
		}
		log.Debug("build transition", zap.String("from", string(r.state)), zap.String("to", string(next)), zap.Int("attempt", r.attempt))
		if o.opts.OnTransition != nil {
			o.opts.OnTransition(appID, r.state, next, r.attempt)
		}
		r.state = next
	}

	res := Result{
		Success:      r.state == StateSucceeded,
		State:        r.state,
		Output:       r.output,
		Attempts:     r.attempt,
		FixesApplied: r.fixes,
		FixFailures:  r.failures,
		Duration:     time.Since(start),
	}
	if res.Success {
		res.Files = r.files
		res.SelfHealed = r.attempt > 1
		log.Info("build succeeded", zap.Int("attempts", r.attempt), zap.Bool("self_healed", res.SelfHealed), zap.Int("fixes", len(r.fixes)))
	} else {
		res.Error = r.output
		if res.Error == "" {
			res.Error = r.reason
		}
		res.Reason = r.reason
		log.Warn("build exhausted", zap.Int("attempts", r.attempt), zap.String("reason", r.reason), zap.Strings("fixes", r.fixes))
	}
	return res
}

func (o *Orchestrator) attempt(ctx context.Context, r *run) State {
	if err := ctx.Err(); err != nil {
		r.output, r.reason = "", err.Error()
		return StateExhausted
	}
	files, err := o.store.List(ctx, r.appID)
	if err != nil {
		r.output, r.reason = "", fmt.Sprintf("load source files: %v", err)
		return StateExhausted
	}
	if err := r.ws.Materialize(files); err != nil {
		r.output, r.reason = "", err.Error()
		return StateExhausted
	}
	if err := r.ws.ClearOutput(o.opts.OutputDir); err != nil {
		r.output, r.reason = "", err.Error()
		return StateExhausted
	}

	outcome, err := o.tool.Run(ctx, toolchain.Invocation{
		Dir: r.ws.Dir(),
		Env: toolchain.BuildEnv(r.appID, o.opts.BackendURL, o.opts.BackendAnonKey, o.opts.Mode),
	})
	switch {
	case err != nil:
		r.output = fmt.Sprintf("build tool failed to run: %v", err)
	case outcome.Succeeded():
		built, cerr := r.ws.Collect(o.opts.OutputDir)
		if cerr == nil && len(built) > 0 {
			r.output, r.files = outcome.Output, built
			return StateSucceeded
		}
		r.output = outcome.Output
		if cerr != nil {
			r.output += "\n" + cerr.Error()
		} else {
			r.output += fmt.Sprintf("\nbuild produced an empty %s directory", o.opts.OutputDir)
		}
	default:
		r.output = outcome.Output
		if strings.TrimSpace(r.output) == "" {
			r.output = fmt.Sprintf("build exited with code %d", outcome.ExitCode)
		}
	}

	if r.attempt >= o.opts.MaxAttempts {
		r.reason = fmt.Sprintf("build failed after %d attempt(s)", r.attempt)
		return StateExhausted
	}
	return StateClassifying
}

func (o *Orchestrator) classifyStep(r *run) (next State) {
	defer func() {
		if p := recover(); p != nil {
			r.reason = fmt.Sprintf("classification failed: %v", p)
			next = o.afterUnfixable(r)
		}
	}()
	// Tools may print absolute workspace paths.
	output := strings.ReplaceAll(r.output, r.ws.Dir()+"/", "")
	r.analysis = o.classifier.Classify(output)
	if !r.analysis.CanAutoFix {
		r.reason = "no auto-fixable errors: " + strings.Join(r.analysis.ErrorsSummary, "; ")
		return o.afterUnfixable(r)
	}
	return StateFixing
}

func (o *Orchestrator) fixStep(ctx context.Context, r *run) State {
	applied := 0
	for _, s := range r.analysis.Strategies {
		res := o.applyOne(ctx, r.appID, s)
		if res.Success {
			applied++
			r.fixes = append(r.fixes, res.Description)
			continue
		}
		r.failures = append(r.failures, fmt.Sprintf("%s: %s", s.Describe(), res.Error))
	}
	if applied == 0 {
		r.reason = "no fix could be applied"
		return o.afterUnfixable(r)
	}
	return StateAttempting
}

func (o *Orchestrator) applyOne(ctx context.Context, appID string, s classify.Strategy) (res autofix.FixResult) {
	defer func() {
		if p := recover(); p != nil {
			res = autofix.FixResult{Error: fmt.Sprintf("fix step failed: %v", p)}
		}
	}()
	if o.fixer == nil {
		return autofix.FixResult{Error: "no fixer configured"}
	}
	return o.fixer.ApplyStrategy(ctx, appID, s)
}

// afterUnfixable escalates once, before the first retry, when enabled.
func (o *Orchestrator) afterUnfixable(r *run) State {
	if o.escalator != nil && !r.escalated && r.attempt == 1 {
		return StateEscalating
	}
	return StateExhausted
}

func (o *Orchestrator) escalateStep(ctx context.Context, r *run) (next State) {
	r.escalated = true
	defer func() {
		if p := recover(); p != nil {
			r.reason = fmt.Sprintf("escalation failed: %v", p)
			next = StateExhausted
		}
	}()
	changes, err := o.escalator.Escalate(ctx, r.appID, r.output)
	// Edits written before a failure are on disk either way.
	r.fixes = append(r.fixes, changes...)
	if err != nil {
		r.reason = fmt.Sprintf("escalation failed: %v", err)
		return StateExhausted
	}
	if len(changes) == 0 {
		r.reason = "escalation proposed no changes"
		return StateExhausted
	}
	return StateAttempting
}
