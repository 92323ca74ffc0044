package classify

import (
	"regexp"
	"strings"
)

// Hooks that can be imported from react when referenced without an import.
var ReactHooks = map[string]bool{
	"useState": true, "useEffect": true, "useRef": true, "useMemo": true,
	"useCallback": true, "useContext": true, "useReducer": true, "useLayoutEffect": true,
	"useId": true, "useTransition": true, "useDeferredValue": true, "useImperativeHandle": true,
	"useSyncExternalStore": true, "useInsertionEffect": true, "useDebugValue": true,
}

// AttributeAliases maps HTML attribute spellings to their JSX names.
var AttributeAliases = map[string]string{
	"class":          "className",
	"for":            "htmlFor",
	"tabindex":       "tabIndex",
	"readonly":       "readOnly",
	"maxlength":      "maxLength",
	"autocomplete":   "autoComplete",
	"autofocus":      "autoFocus",
	"onclick":        "onClick",
	"onchange":       "onChange",
	"onsubmit":       "onSubmit",
	"stroke-width":   "strokeWidth",
	"stroke-linecap": "strokeLinecap",
	"fill-rule":      "fillRule",
	"clip-rule":      "clipRule",
	"viewbox":        "viewBox",
}

var nodeBuiltins = map[string]bool{
	"fs": true, "path": true, "url": true, "http": true, "https": true, "crypto": true,
	"stream": true, "events": true, "util": true, "os": true, "zlib": true, "buffer": true,
	"timers": true, "assert": true, "tty": true, "net": true, "tls": true, "dns": true,
	"child_process": true,
}

func builtinMatchers() []Matcher {
	return []Matcher{
		{
			Name:    "unresolved-module/tsc",
			Pattern: regexp.MustCompile(`Cannot find module ['"]([^'"]+)['"]`),
			Resolve: resolveUnresolvedModule(1, -1),
		},
		{
			Name:    "unresolved-module/vite",
			Pattern: regexp.MustCompile(`Failed to resolve import ['"]([^'"]+)['"] from ['"]([^'"]+)['"]`),
			Resolve: resolveUnresolvedModule(1, 2),
		},
		{
			Name:    "unresolved-module/esbuild",
			Pattern: regexp.MustCompile(`Could not resolve ['"]([^'"]+)['"]`),
			Resolve: resolveUnresolvedModule(1, -1),
		},
		{
			Name:    "unresolved-module/webpack",
			Pattern: regexp.MustCompile(`Module not found: (?:Error: )?Can't resolve ['"]([^'"]+)['"]`),
			Resolve: resolveUnresolvedModule(1, -1),
		},
		{
			Name:    "missing-type-declaration",
			Pattern: regexp.MustCompile(`Could not find a declaration file for module ['"]([^'"]+)['"]`),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				e := newError(KindMissingDeclaration, loc)
				e.Identifier = m[1]
				return Finding{Error: e, Strategy: &Strategy{Action: ActionDeclareModule, Module: m[1]}}, true
			},
		},
		{
			Name:    "project-reference",
			Pattern: regexp.MustCompile(`Referenced project ['"]([^'"]+)['"] (?:must have setting "composite": true|may not disable emit)`),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				e := newError(KindProjectReference, loc)
				e.File = firstNonEmpty(e.File, "tsconfig.json")
				e.Identifier = m[1]
				return Finding{Error: e, Strategy: &Strategy{Action: ActionFixProjectReferences, ConfigPath: m[1]}}, true
			},
		},
		{
			Name:    "missing-global-property",
			Pattern: regexp.MustCompile(`Property '([\w$]+)' does not exist on type '(Window & typeof globalThis|Window|typeof globalThis)'`),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				e := newError(KindMissingGlobalProperty, loc)
				e.Identifier = m[1]
				return Finding{Error: e, Strategy: &Strategy{Action: ActionDeclareGlobalProperty, Property: m[1]}}, true
			},
		},
		{
			Name:    "dependency-conflict",
			Pattern: regexp.MustCompile(`ERESOLVE (?:unable to resolve dependency tree|could not resolve)|Conflicting peer dependency: (\S+)`),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				e := newError(KindDependencyConflict, loc)
				if len(m) > 1 {
					e.Identifier = m[1]
				}
				return Finding{Error: e, Strategy: &Strategy{Action: ActionRelaxPeerDependencies, Package: e.Identifier}}, true
			},
		},
		{
			Name:    "tag-mismatch/tsc",
			Pattern: regexp.MustCompile(`Expected corresponding (?:JSX )?closing tag for ['<]?([\w.\-]+)['>]?`),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				e := newError(KindTagMismatch, loc)
				e.Expected = m[1]
				return patchableAt(e), true
			},
		},
		{
			Name:    "tag-mismatch/esbuild",
			Pattern: regexp.MustCompile(`Unexpected closing ['"]([\w.\-]+)['"] tag does not match opening ['"]([\w.\-]+)['"] tag`),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				e := newError(KindTagMismatch, loc)
				e.Actual = m[1]
				e.Expected = m[2]
				return patchableAt(e), true
			},
		},
		{
			Name:    "unclosed-tag",
			Pattern: regexp.MustCompile(`JSX element '([\w.\-]+)' has no corresponding closing tag`),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				e := newError(KindUnclosedTag, loc)
				e.Expected = m[1]
				return patchableAt(e), true
			},
		},
		{
			Name:    "attribute-name/react",
			Pattern: regexp.MustCompile("Invalid DOM property [`'\"]([\\w\\-]+)[`'\"]\\. Did you mean [`'\"]([\\w]+)[`'\"]"),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				e := newError(KindSyntaxViolation, loc)
				e.Actual = m[1]
				e.Expected = m[2]
				return patchableAt(e), true
			},
		},
		{
			Name:    "attribute-name/tsc",
			Pattern: regexp.MustCompile(`Property '([\w\-]+)' does not exist on type '[^']*(?:HTMLAttributes|SVGProps|IntrinsicAttributes)[^']*'`),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				want, ok := AttributeAliases[strings.ToLower(m[1])]
				if !ok {
					return Finding{}, false
				}
				e := newError(KindSyntaxViolation, loc)
				e.Actual = m[1]
				e.Expected = want
				return patchableAt(e), true
			},
		},
		{
			Name:    "unterminated-block",
			Pattern: regexp.MustCompile(`Unterminated (?:string literal|template literal|template|regular expression|JSX contents)|Unexpected end of (?:file|input)`),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				return Finding{Error: newError(KindSyntaxViolation, loc)}, true
			},
		},
		{
			Name:    "undefined-identifier",
			Pattern: regexp.MustCompile(`Cannot find name '([\w$]+)'|'([\w$]+)' is not defined|ReferenceError: ([\w$]+) is not defined`),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				e := newError(KindUndefinedIdentifier, loc)
				e.Identifier = firstNonEmpty(m[1:]...)
				if !ReactHooks[e.Identifier] {
					return Finding{Error: e}, true
				}
				return patchableAt(e), true
			},
		},
		{
			Name:    "property-type/missing-property",
			Pattern: regexp.MustCompile(`Property '([\w$\-]+)' does not exist on type '([^']+)'`),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				typ := m[2]
				if strings.Contains(typ, "Window") || strings.Contains(typ, "globalThis") {
					return Finding{}, false
				}
				if _, alias := AttributeAliases[strings.ToLower(m[1])]; alias && (strings.Contains(typ, "Attributes") || strings.Contains(typ, "SVGProps")) {
					return Finding{}, false
				}
				e := newError(KindPropertyType, loc)
				e.Identifier = m[1]
				e.Actual = typ
				return Finding{Error: e}, true
			},
		},
		{
			Name:    "property-type/assignability",
			Pattern: regexp.MustCompile(`Type '([^']+)' is not assignable to type '([^']+)'`),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				e := newError(KindPropertyType, loc)
				e.Actual = m[1]
				e.Expected = m[2]
				return Finding{Error: e}, true
			},
		},
		{
			Name:    "invalid-utility-class",
			Pattern: regexp.MustCompile("The [`'\"]([^`'\"]+)[`'\"] class does not exist"),
			Resolve: func(m []string, loc Location) (Finding, bool) {
				e := newError(KindInvalidUtilityClass, loc)
				e.Identifier = m[1]
				return Finding{Error: e}, true
			},
		},
	}
}

// resolveUnresolvedModule handles every "module not found" shape. Bare
// package specifiers become installs; relative specifiers become source
// patches. fileGroup, when >= 0, names the submatch holding the importer.
func resolveUnresolvedModule(specGroup, fileGroup int) func([]string, Location) (Finding, bool) {
	return func(m []string, loc Location) (Finding, bool) {
		spec := strings.TrimSpace(m[specGroup])
		if spec == "" {
			return Finding{}, false
		}
		e := newError(KindUnresolvedImport, loc)
		e.Specifier = spec
		if fileGroup >= 0 && fileGroup < len(m) && m[fileGroup] != "" {
			e.File = m[fileGroup]
			e.Line = 0
		}
		if isRelativeSpecifier(spec) {
			return patchable(e), true
		}
		pkg := PackageName(spec)
		if pkg == "" || nodeBuiltins[strings.TrimPrefix(pkg, "node:")] {
			return Finding{Error: e}, true
		}
		e.Identifier = pkg
		return Finding{Error: e, Strategy: &Strategy{Action: ActionInstallPackage, Package: pkg}}, true
	}
}

func isRelativeSpecifier(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || spec == "." || spec == ".."
}

// PackageName reduces an import specifier to the npm package that provides
// it, or "" for relative, aliased, and URL specifiers.
func PackageName(spec string) string {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return ""
	}
	if strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") || strings.HasPrefix(spec, "#") ||
		strings.HasPrefix(spec, "node:") || strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") {
		return ""
	}
	if strings.HasPrefix(spec, "@/") || strings.HasPrefix(spec, "~/") {
		return ""
	}
	if strings.HasPrefix(spec, "@") {
		parts := strings.Split(spec, "/")
		if len(parts) >= 2 {
			return parts[0] + "/" + parts[1]
		}
		return spec
	}
	if i := strings.Index(spec, "/"); i >= 0 {
		return spec[:i]
	}
	return spec
}

func newError(kind Kind, loc Location) ClassifiedError {
	return ClassifiedError{Kind: kind, File: loc.File, Line: loc.Line, Column: loc.Column}
}

func patchable(e ClassifiedError) Finding {
	return Finding{Error: e, Strategy: &Strategy{Action: ActionPatchSource}}
}

// patchableAt only proposes a patch when the error names a file to patch.
func patchableAt(e ClassifiedError) Finding {
	if e.File == "" {
		return Finding{Error: e}
	}
	return patchable(e)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
