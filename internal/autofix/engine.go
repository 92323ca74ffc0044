// Package autofix applies targeted source and configuration patches for
// classified build errors.
package autofix

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/todddickerson/overskill-sub011/internal/classify"
	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
)

// FixResult reports the outcome of one fix. Error is set whenever Success
// is false.
type FixResult struct {
	Success     bool
	Description string
	Error       string
	File        string
}

func declined(format string, args ...any) FixResult {
	return FixResult{Error: fmt.Sprintf(format, args...)}
}

// Engine mutates at most one source file per call, through Store.
type Engine struct {
	store sourcefile.Store
	log   *zap.Logger
}

func New(store sourcefile.Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, log: log}
}

// ApplyFix patches the source file named by e. It never panics; a panic
// inside a fixer is returned as a failed result.
func (en *Engine) ApplyFix(ctx context.Context, appID string, e classify.ClassifiedError) (res FixResult) {
	defer func() {
		if r := recover(); r != nil {
			en.log.Error("autofix panicked", zap.String("app_id", appID), zap.String("kind", string(e.Kind)), zap.Any("panic", r))
			res = FixResult{Error: fmt.Sprintf("fix for %s failed: %v", e.Kind, r), File: e.File}
		}
	}()

	switch e.Kind {
	case classify.KindTagMismatch:
		res = en.fixTagMismatch(ctx, appID, e)
	case classify.KindUnclosedTag:
		res = en.fixUnclosedTag(ctx, appID, e)
	case classify.KindSyntaxViolation:
		res = en.fixAttributeName(ctx, appID, e)
	case classify.KindUnresolvedImport:
		res = en.fixImportPath(ctx, appID, e)
	case classify.KindUndefinedIdentifier:
		res = en.fixHookImport(ctx, appID, e)
	case classify.KindPropertyType:
		res = declined("property and type errors need semantic changes; not auto-fixed")
	case classify.KindInvalidUtilityClass:
		res = declined("utility class %q has no safe replacement; not auto-fixed", e.Identifier)
	case classify.KindDependencyConflict:
		res = declined("dependency conflicts are resolved by configuration, not source patches")
	default:
		res = declined("no source fix for %s errors", e.Kind)
	}
	if res.Success {
		en.log.Info("applied fix", zap.String("app_id", appID), zap.String("kind", string(e.Kind)), zap.String("file", res.File))
	} else {
		en.log.Debug("fix declined", zap.String("app_id", appID), zap.String("kind", string(e.Kind)), zap.String("reason", res.Error))
	}
	return res
}

// ApplyStrategy performs the action a strategy names. Source patches go
// through ApplyFix; the rest edit project configuration files.
func (en *Engine) ApplyStrategy(ctx context.Context, appID string, s classify.Strategy) (res FixResult) {
	if s.Action == classify.ActionPatchSource {
		return en.ApplyFix(ctx, appID, s.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			en.log.Error("config fix panicked", zap.String("app_id", appID), zap.String("action", string(s.Action)), zap.Any("panic", r))
			res = FixResult{Error: fmt.Sprintf("%s failed: %v", s.Action, r)}
		}
	}()

	switch s.Action {
	case classify.ActionInstallPackage:
		res = en.installPackage(ctx, appID, s.Package)
	case classify.ActionDeclareModule:
		res = en.declareModule(ctx, appID, s.Module)
	case classify.ActionFixProjectReferences:
		res = en.fixProjectReferences(ctx, appID, s.ConfigPath)
	case classify.ActionDeclareGlobalProperty:
		res = en.declareGlobalProperty(ctx, appID, s.Property)
	case classify.ActionRelaxPeerDependencies:
		res = en.relaxPeerDependencies(ctx, appID)
	default:
		res = declined("unknown fix action %q", s.Action)
	}
	if res.Success {
		en.log.Info("applied config fix", zap.String("app_id", appID), zap.String("action", string(s.Action)), zap.String("file", res.File))
	}
	return res
}

func (en *Engine) load(ctx context.Context, appID, path string) (sourcefile.File, error) {
	if strings.TrimSpace(path) == "" {
		return sourcefile.File{}, errors.New("error has no file location")
	}
	f, err := sourcefile.Find(ctx, en.store, appID, path)
	if err != nil {
		return sourcefile.File{}, fmt.Errorf("load %s: %w", path, err)
	}
	return f, nil
}

func (en *Engine) save(ctx context.Context, f sourcefile.File, content string, description string) FixResult {
	f.Content = []byte(content)
	if err := en.store.Put(ctx, f); err != nil {
		return FixResult{Error: fmt.Sprintf("save %s: %v", f.Path, err), File: f.Path}
	}
	return FixResult{Success: true, Description: description, File: f.Path}
}
