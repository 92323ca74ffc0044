package autofix

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/todddickerson/overskill-sub011/internal/classify"
	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
)

var (
	closingTag     = regexp.MustCompile(`</\s*([\w.\-]*)\s*>`)
	loneClosingTag = regexp.MustCompile(`^\s*</\s*[\w.\-]*\s*>\s*$`)
	openingTag     = regexp.MustCompile(`<([A-Za-z][\w.\-]*)(?:\s[^<>]*)?(/?>|$)`)

	namedReactImport   = regexp.MustCompile(`import\s+(\w+\s*,\s*)?\{([^}]*)\}\s*from\s*['"]react['"]`)
	defaultReactImport = regexp.MustCompile(`import\s+(\w+)\s+from\s*(['"])react(['"])`)
)

// importExtensions is the resolution order for extensionless relative imports.
var importExtensions = []string{".tsx", ".ts", ".jsx", ".js"}

func (en *Engine) fixTagMismatch(ctx context.Context, appID string, e classify.ClassifiedError) FixResult {
	if e.Expected == "" {
		return declined("tag mismatch names no expected tag")
	}
	f, err := en.load(ctx, appID, e.File)
	if err != nil {
		return FixResult{Error: err.Error(), File: e.File}
	}
	lines := strings.Split(f.Text(), "\n")

	idx := e.Line - 1
	if idx < 0 || idx >= len(lines) {
		idx = -1
		if e.Actual != "" {
			for i, l := range lines {
				if strings.Contains(l, "</"+e.Actual+">") {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			return FixResult{Error: fmt.Sprintf("cannot locate the mismatched closing tag in %s", f.Path), File: f.Path}
		}
	}

	if fixed, ok := substituteClosingTag(lines[idx], e.Expected, e.Actual); ok {
		lines[idx] = fixed
		desc := fmt.Sprintf("Fixed closing tag to </%s> at %s:%d", e.Expected, f.Path, idx+1)
		return en.save(ctx, f, strings.Join(lines, "\n"), desc)
	}

	// A stray closing tag between two others on adjacent lines is redundant.
	if idx > 0 && idx+1 < len(lines) &&
		loneClosingTag.MatchString(lines[idx-1]) &&
		loneClosingTag.MatchString(lines[idx]) &&
		loneClosingTag.MatchString(lines[idx+1]) {
		removed := strings.TrimSpace(lines[idx])
		lines = append(lines[:idx], lines[idx+1:]...)
		desc := fmt.Sprintf("Removed redundant closing tag %s at %s:%d", removed, f.Path, idx+1)
		return en.save(ctx, f, strings.Join(lines, "\n"), desc)
	}
	return FixResult{Error: fmt.Sprintf("no mismatched closing tag found at %s:%d", f.Path, idx+1), File: f.Path}
}

// substituteClosingTag replaces the first closing tag on line that does not
// match expected and is not closing an element opened earlier on the line.
func substituteClosingTag(line, expected, actual string) (string, bool) {
	for _, loc := range closingTag.FindAllStringSubmatchIndex(line, -1) {
		name := line[loc[2]:loc[3]]
		if name == "" || name == expected {
			continue
		}
		if actual != "" && name != actual {
			continue
		}
		if actual == "" && strings.Contains(line[:loc[0]], "<"+name) {
			continue
		}
		return line[:loc[0]] + "</" + expected + ">" + line[loc[1]:], true
	}
	return line, false
}

func (en *Engine) fixUnclosedTag(ctx context.Context, appID string, e classify.ClassifiedError) FixResult {
	f, err := en.load(ctx, appID, e.File)
	if err != nil {
		return FixResult{Error: err.Error(), File: e.File}
	}
	lines := strings.Split(f.Text(), "\n")

	idx := e.Line - 1
	if idx < 0 || idx >= len(lines) {
		return FixResult{Error: fmt.Sprintf("line %d is outside %s", e.Line, f.Path), File: f.Path}
	}
	tag, ok := unclosedOpenTag(lines[idx], e.Expected)
	if !ok {
		return FixResult{Error: fmt.Sprintf("%s:%d has no unclosed opening tag", f.Path, e.Line), File: f.Path}
	}
	indent := leadingWhitespace(lines[idx])
	closing := indent + "</" + tag + ">"

	insertAt := -1
	for j := idx + 1; j < len(lines); j++ {
		if !strings.HasPrefix(strings.TrimSpace(lines[j]), "</") {
			continue
		}
		if len(leadingWhitespace(lines[j])) <= len(indent) {
			insertAt = j
			break
		}
	}
	if insertAt < 0 {
		insertAt = len(lines)
		if insertAt > 0 && lines[insertAt-1] == "" {
			insertAt--
		}
	}
	lines = append(lines[:insertAt], append([]string{closing}, lines[insertAt:]...)...)
	desc := fmt.Sprintf("Closed <%s> opened at %s:%d", tag, f.Path, e.Line)
	return en.save(ctx, f, strings.Join(lines, "\n"), desc)
}

func unclosedOpenTag(line, want string) (string, bool) {
	for _, m := range openingTag.FindAllStringSubmatchIndex(line, -1) {
		name := line[m[2]:m[3]]
		if want != "" && name != want {
			continue
		}
		if strings.HasSuffix(line[m[0]:m[1]], "/>") {
			continue
		}
		if strings.Contains(line[m[1]:], "</"+name+">") {
			continue
		}
		return name, true
	}
	return "", false
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

func (en *Engine) fixAttributeName(ctx context.Context, appID string, e classify.ClassifiedError) FixResult {
	if e.Actual == "" || isUnterminated(e.Message) {
		return declined("unterminated block needs manual repair")
	}
	want := e.Expected
	if want == "" {
		want = classify.AttributeAliases[strings.ToLower(e.Actual)]
	}
	if want == "" || want == e.Actual {
		return declined("no known replacement for attribute %q", e.Actual)
	}
	f, err := en.load(ctx, appID, e.File)
	if err != nil {
		return FixResult{Error: err.Error(), File: e.File}
	}
	re := regexp.MustCompile(`(\s)` + regexp.QuoteMeta(e.Actual) + `(\s*=)`)
	repl := "${1}" + want + "${2}"
	desc := fmt.Sprintf("Renamed attribute %s to %s in %s", e.Actual, want, f.Path)

	lines := strings.Split(f.Text(), "\n")
	if idx := e.Line - 1; idx >= 0 && idx < len(lines) {
		if fixed := re.ReplaceAllString(lines[idx], repl); fixed != lines[idx] {
			lines[idx] = fixed
			return en.save(ctx, f, strings.Join(lines, "\n"), desc)
		}
	}
	if fixed := re.ReplaceAllString(f.Text(), repl); fixed != f.Text() {
		return en.save(ctx, f, fixed, desc)
	}
	return FixResult{Error: fmt.Sprintf("attribute %s not found in %s", e.Actual, f.Path), File: f.Path}
}

func isUnterminated(msg string) bool {
	return strings.Contains(msg, "Unterminated") || strings.Contains(msg, "Unexpected end of")
}

func (en *Engine) fixImportPath(ctx context.Context, appID string, e classify.ClassifiedError) FixResult {
	spec := strings.TrimSpace(e.Specifier)
	if !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") {
		return declined("only relative imports are rewritten; %q is not relative", spec)
	}
	if path.Ext(spec) != "" && sourcefile.KindForPath(spec) != sourcefile.KindOther {
		return declined("import target %s does not exist; not creating files", spec)
	}

	files, err := en.store.List(ctx, appID)
	if err != nil {
		return FixResult{Error: fmt.Sprintf("list files: %v", err)}
	}
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f.Path] = true
	}

	var importers []sourcefile.File
	if e.File != "" {
		f, err := en.load(ctx, appID, e.File)
		if err != nil {
			return FixResult{Error: err.Error(), File: e.File}
		}
		importers = append(importers, f)
	} else {
		for _, f := range files {
			if f.Kind == sourcefile.KindScript && mentionsSpecifier(f.Text(), spec) {
				importers = append(importers, f)
			}
		}
	}
	if len(importers) == 0 {
		return declined("no file imports %s", spec)
	}

	for _, f := range importers {
		resolved, ok := resolveSpecifier(f.Path, spec, known)
		if !ok {
			continue
		}
		fixed := rewriteSpecifier(f.Text(), spec, resolved)
		if fixed == f.Text() {
			continue
		}
		return en.save(ctx, f, fixed, fmt.Sprintf("Fixed import path %s -> %s in %s", spec, resolved, f.Path))
	}
	return declined("could not resolve %s to an existing file", spec)
}

func mentionsSpecifier(text, spec string) bool {
	return strings.Contains(text, "'"+spec+"'") || strings.Contains(text, `"`+spec+`"`)
}

// resolveSpecifier finds the existing file a relative, extensionless
// specifier refers to and returns the specifier that names it exactly.
func resolveSpecifier(importer, spec string, known map[string]bool) (string, bool) {
	target := path.Join(path.Dir(importer), spec)
	if target == ".." || strings.HasPrefix(target, "../") {
		return "", false
	}
	for _, ext := range importExtensions {
		if known[target+ext] {
			return spec + ext, true
		}
	}
	for _, ext := range importExtensions {
		if known[target+"/index"+ext] {
			return strings.TrimSuffix(spec, "/") + "/index" + ext, true
		}
	}
	return "", false
}

func rewriteSpecifier(text, from, to string) string {
	re := regexp.MustCompile(`(\b(?:from|import|require)\s*\(?\s*)(['"])` + regexp.QuoteMeta(from) + `(['"])`)
	return re.ReplaceAllString(text, "${1}${2}"+to+"${3}")
}

func (en *Engine) fixHookImport(ctx context.Context, appID string, e classify.ClassifiedError) FixResult {
	name := e.Identifier
	if !classify.ReactHooks[name] {
		return declined("%s is not a known React hook; not guessing an import", name)
	}
	f, err := en.load(ctx, appID, e.File)
	if err != nil {
		return FixResult{Error: err.Error(), File: e.File}
	}
	text := f.Text()

	if m := namedReactImport.FindStringSubmatchIndex(text); m != nil {
		names := strings.Split(text[m[4]:m[5]], ",")
		var kept []string
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n == name {
				return FixResult{Error: fmt.Sprintf("%s is already imported in %s", name, f.Path), File: f.Path}
			}
			if n != "" {
				kept = append(kept, n)
			}
		}
		kept = append(kept, name)
		text = text[:m[4]] + " " + strings.Join(kept, ", ") + " " + text[m[5]:]
	} else if defaultReactImport.MatchString(text) {
		loc := defaultReactImport.FindStringIndex(text)
		stmt := defaultReactImport.ReplaceAllString(text[loc[0]:loc[1]], "import ${1}, { "+name+" } from ${2}react${3}")
		text = text[:loc[0]] + stmt + text[loc[1]:]
	} else {
		text = "import { " + name + " } from 'react';\n" + text
	}
	return en.save(ctx, f, text, fmt.Sprintf("Added import of %s from react in %s", name, f.Path))
}
