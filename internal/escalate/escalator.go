// Package escalate is the model-assisted fix path the build loop falls
// back to when no pattern-based strategy applies.
package escalate

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
)

// JSONGenerator is satisfied by GeminiClient.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
}

const (
	maxContextFiles = 6
	maxFileBytes    = 24 << 10
	maxOutputChars  = 8000
)

const fixPrompt = `You repair React + TypeScript + Vite projects whose production build failed.
Given the build output and the project files most likely involved, return the smallest set of
whole-file replacements that makes the build pass. Only edit files you were given. Do not add
dependencies. Respond with JSON: {"edits":[{"path":"...","content":"...","reason":"..."}]}.
Return {"edits":[]} if you are not confident.`

type contextFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type request struct {
	BuildOutput string        `json:"build_output"`
	Files       []contextFile `json:"files"`
}

type edit struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

type response struct {
	Edits []edit `json:"edits"`
}

// Escalator asks a model for whole-file edits and writes the accepted ones
// back through the source store.
type Escalator struct {
	gen   JSONGenerator
	store sourcefile.Store
	log   *zap.Logger
}

func New(gen JSONGenerator, store sourcefile.Store, log *zap.Logger) *Escalator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Escalator{gen: gen, store: store, log: log}
}

func (e *Escalator) Escalate(ctx context.Context, appID, output string) ([]string, error) {
	files, err := e.store.List(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	picked := relevantFiles(files, output)
	if len(picked) == 0 {
		return nil, fmt.Errorf("no source files to send for %s", appID)
	}

	req := request{BuildOutput: tail(output, maxOutputChars)}
	allowed := map[string]sourcefile.File{}
	for _, f := range picked {
		req.Files = append(req.Files, contextFile{Path: f.Path, Content: f.Text()})
		allowed[f.Path] = f
	}

	raw, err := e.gen.GenerateJSON(ctx, fixPrompt, req)
	if err != nil {
		return nil, fmt.Errorf("generate fix: %w", err)
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode fix: %w", err)
	}

	var applied []string
	for _, ed := range resp.Edits {
		p := sourcefile.NormalizePath(ed.Path)
		f, ok := allowed[p]
		if !ok {
			e.log.Warn("escalation edit outside context ignored", zap.String("app_id", appID), zap.String("path", ed.Path))
			continue
		}
		if ed.Content == f.Text() || strings.TrimSpace(ed.Content) == "" {
			continue
		}
		f.Content = []byte(ed.Content)
		if err := e.store.Put(ctx, f); err != nil {
			return applied, fmt.Errorf("save %s: %w", p, err)
		}
		reason := strings.TrimSpace(ed.Reason)
		if reason == "" {
			reason = "model-suggested rewrite"
		}
		applied = append(applied, fmt.Sprintf("AI fix in %s: %s", p, reason))
	}
	e.log.Info("escalation finished", zap.String("app_id", appID), zap.Int("edits", len(applied)))
	return applied, nil
}

// relevantFiles ranks files named in the output first, then entry points,
// and keeps a bounded number of reasonably sized text files.
func relevantFiles(files []sourcefile.File, output string) []sourcefile.File {
	type scored struct {
		f     sourcefile.File
		score int
	}
	var candidates []scored
	for _, f := range files {
		if len(f.Content) > maxFileBytes {
			continue
		}
		if f.Kind != sourcefile.KindScript && f.Kind != sourcefile.KindStylesheet &&
			f.Kind != sourcefile.KindMarkup && f.Kind != sourcefile.KindConfiguration {
			continue
		}
		score := 0
		switch {
		case strings.Contains(output, f.Path):
			score = 3
		case strings.Contains(output, path.Base(f.Path)):
			score = 2
		case f.Path == "src/App.tsx" || f.Path == "src/main.tsx" || f.Path == "package.json":
			score = 1
		}
		if score > 0 {
			candidates = append(candidates, scored{f, score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].f.Path < candidates[j].f.Path
	})
	if len(candidates) > maxContextFiles {
		candidates = candidates[:maxContextFiles]
	}
	out := make([]sourcefile.File, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.f)
	}
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
