package classify

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRelativeImportIsPatchable(t *testing.T) {
	out := "src/App.tsx(3,20): error TS2307: Cannot find module './Foo' or its corresponding type declarations."
	res := Classify(out)

	require.True(t, res.CanAutoFix)
	require.Len(t, res.Errors, 1)
	e := res.Errors[0]
	assert.Equal(t, KindUnresolvedImport, e.Kind)
	assert.Equal(t, "src/App.tsx", e.File)
	assert.Equal(t, 3, e.Line)
	assert.Equal(t, "./Foo", e.Specifier)

	require.Len(t, res.Strategies, 1)
	assert.Equal(t, ActionPatchSource, res.Strategies[0].Action)
	assert.Equal(t, "./Foo", res.Strategies[0].Error.Specifier)
}

func TestClassifyRelativeImportWithoutLocationStillPatchable(t *testing.T) {
	res := Classify("Error: Cannot find module './Foo'")
	require.True(t, res.CanAutoFix)
	require.Len(t, res.Strategies, 1)
	assert.Equal(t, ActionPatchSource, res.Strategies[0].Action)
	assert.Empty(t, res.Strategies[0].Error.File)
}

func TestClassifyBarePackageInstalls(t *testing.T) {
	out := `[plugin:vite:import-analysis] Failed to resolve import "framer-motion" from "src/App.tsx". Does the file exist?`
	res := Classify(out)

	require.True(t, res.CanAutoFix)
	require.Len(t, res.Strategies, 1)
	s := res.Strategies[0]
	assert.Equal(t, ActionInstallPackage, s.Action)
	assert.Equal(t, "framer-motion", s.Package)
	assert.Equal(t, "src/App.tsx", s.Error.File)
	assert.Equal(t, "install package framer-motion", s.Describe())
}

func TestClassifyNodeBuiltinHasNoStrategy(t *testing.T) {
	res := Classify(`Could not resolve "fs"`)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindUnresolvedImport, res.Errors[0].Kind)
	assert.False(t, res.CanAutoFix)
}

func TestClassifyWindowPropertyDeclaresGlobal(t *testing.T) {
	out := "src/main.ts(5,12): error TS2339: Property 'ethereum' does not exist on type 'Window & typeof globalThis'."
	res := Classify(out)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindMissingGlobalProperty, res.Errors[0].Kind)
	require.Len(t, res.Strategies, 1)
	assert.Equal(t, ActionDeclareGlobalProperty, res.Strategies[0].Action)
	assert.Equal(t, "ethereum", res.Strategies[0].Property)
}

func TestClassifyDependencyConflictDedupesStrategy(t *testing.T) {
	out := strings.Join([]string{
		"npm ERR! code ERESOLVE",
		"npm ERR! ERESOLVE unable to resolve dependency tree",
		"npm ERR! Conflicting peer dependency: react@17.0.2",
	}, "\n")
	res := Classify(out)

	assert.Len(t, res.Errors, 2)
	require.Len(t, res.Strategies, 1)
	assert.Equal(t, ActionRelaxPeerDependencies, res.Strategies[0].Action)
	assert.True(t, res.CanAutoFix)
}

func TestClassifyMissingDeclarationAndProjectReference(t *testing.T) {
	out := strings.Join([]string{
		"src/App.tsx(1,22): error TS7016: Could not find a declaration file for module 'canvas-confetti'.",
		`tsconfig.json(24,5): error TS6306: Referenced project '/app/tsconfig.node.json' must have setting "composite": true.`,
	}, "\n")
	res := Classify(out)

	require.Len(t, res.Strategies, 2)
	assert.Equal(t, ActionDeclareModule, res.Strategies[0].Action)
	assert.Equal(t, "canvas-confetti", res.Strategies[0].Module)
	assert.Equal(t, ActionFixProjectReferences, res.Strategies[1].Action)
	assert.Equal(t, "/app/tsconfig.node.json", res.Strategies[1].ConfigPath)
}

func TestClassifyMultipleErrors(t *testing.T) {
	out := strings.Join([]string{
		`/work/src/App.tsx:12:4: ERROR: Unexpected closing "div" tag does not match opening "section" tag`,
		"src/App.tsx(4,3): error TS2304: Cannot find name 'useState'.",
		"src/App.tsx(9,3): error TS2304: Cannot find name 'confetti'.",
	}, "\n")
	res := Classify(out)

	require.Len(t, res.Errors, 3)
	assert.Equal(t, KindTagMismatch, res.Errors[0].Kind)
	assert.Equal(t, "div", res.Errors[0].Actual)
	assert.Equal(t, "section", res.Errors[0].Expected)
	assert.Equal(t, "/work/src/App.tsx", res.Errors[0].File)
	assert.Equal(t, KindUndefinedIdentifier, res.Errors[1].Kind)
	assert.Equal(t, "useState", res.Errors[1].Identifier)
	assert.Equal(t, KindUndefinedIdentifier, res.Errors[2].Kind)

	// Only the hook is importable.
	require.Len(t, res.Strategies, 2)
	assert.Len(t, res.ErrorsSummary, 3)
}

func TestClassifyLocationCarriesForward(t *testing.T) {
	out := "src/App.tsx:7:3\nExpected corresponding JSX closing tag for <div>"
	res := Classify(out)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindTagMismatch, res.Errors[0].Kind)
	assert.Equal(t, "src/App.tsx", res.Errors[0].File)
	assert.Equal(t, 7, res.Errors[0].Line)
	assert.Equal(t, "div", res.Errors[0].Expected)
	assert.True(t, res.CanAutoFix)
}

func TestClassifyUnrecognisedOutput(t *testing.T) {
	out := "something weird happened\nexit code 1"
	res := Classify(out)

	assert.False(t, res.CanAutoFix)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Strategies)
	assert.Equal(t, []string{out}, res.ErrorsSummary)
}

func TestClassifyEmptyOutput(t *testing.T) {
	res := Classify("")
	assert.False(t, res.CanAutoFix)
	assert.Equal(t, []string{"build failed with no output"}, res.ErrorsSummary)
}

func TestClassifyStripsANSI(t *testing.T) {
	res := Classify("\x1b[31msrc/App.tsx(2,1): error TS2304: Cannot find name 'useEffect'.\x1b[0m")
	require.Len(t, res.Strategies, 1)
	assert.Equal(t, "useEffect", res.Strategies[0].Error.Identifier)
}

func TestRegistryCustomMatcherAndPanics(t *testing.T) {
	r := NewRegistry()
	r.Register(Matcher{
		Name:    "panics",
		Pattern: regexp.MustCompile(`BOOM`),
		Resolve: func([]string, Location) (Finding, bool) { panic("bad matcher") },
	})
	r.Register(Matcher{
		Name:    "custom",
		Pattern: regexp.MustCompile(`BOOM (\w+)`),
		Resolve: func(m []string, loc Location) (Finding, bool) {
			e := ClassifiedError{Kind: KindSyntaxViolation, File: "src/x.ts", Identifier: m[1]}
			return Finding{Error: e, Strategy: &Strategy{Action: ActionPatchSource}}, true
		},
	})
	assert.Len(t, r.Matchers(), 2)

	res := r.Classify("BOOM thing")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "thing", res.Errors[0].Identifier)
	assert.Equal(t, "BOOM thing", res.Errors[0].Message)
	require.Len(t, res.Strategies, 1)
	assert.Equal(t, "thing", res.Strategies[0].Error.Identifier)
}

func TestLocate(t *testing.T) {
	cases := []struct {
		line string
		want Location
	}{
		{"src/App.tsx(12,5): error TS1005", Location{File: "src/App.tsx", Line: 12, Column: 5}},
		{"/tmp/w/src/main.ts:3:9: ERROR: boom", Location{File: "/tmp/w/src/main.ts", Line: 3, Column: 9}},
		{"SyntaxError: src/App.jsx: Unexpected token (12:5)", Location{File: "src/App.jsx", Line: 12, Column: 5}},
	}
	for _, tc := range cases {
		got, ok := locate(tc.line)
		require.True(t, ok, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}
	_, ok := locate("npm ERR! code 1")
	assert.False(t, ok)
}

func TestPackageName(t *testing.T) {
	cases := map[string]string{
		"react":                       "react",
		"lodash/debounce":             "lodash",
		"@radix-ui/react-dialog":      "@radix-ui/react-dialog",
		"@radix-ui/react-dialog/dist": "@radix-ui/react-dialog",
		"./local":                     "",
		"@/components/Button":         "",
		"node:fs":                     "",
	}
	for spec, want := range cases {
		assert.Equal(t, want, PackageName(spec), spec)
	}
}

func TestSummarizeFailure(t *testing.T) {
	out := strings.Join([]string{
		"> vite build",
		"npm WARN deprecated inflight@1.0.6",
		"transforming...",
		"error during build:",
		"RollupError: Could not resolve entry module",
	}, "\n")
	assert.Equal(t, "error during build:\nRollupError: Could not resolve entry module", SummarizeFailure(out))

	long := strings.Repeat("error x\n", 100)
	got := SummarizeFailure(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Len(t, got, maxSummaryLen+3)
}
