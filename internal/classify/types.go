// Package classify turns raw build-tool output into typed errors and the
// remediation strategies that apply to them.
package classify

import (
	"fmt"
	"strings"
)

// Kind names one recognised class of build failure.
type Kind string

const (
	KindUnresolvedImport      Kind = "unresolved-import"
	KindMissingDeclaration    Kind = "missing-declaration"
	KindProjectReference      Kind = "project-reference"
	KindMissingGlobalProperty Kind = "missing-global-property"
	KindDependencyConflict    Kind = "dependency-conflict"
	KindTagMismatch           Kind = "tag-mismatch"
	KindUnclosedTag           Kind = "unclosed-tag"
	KindSyntaxViolation       Kind = "syntax-violation"
	KindUndefinedIdentifier   Kind = "undefined-identifier"
	KindPropertyType          Kind = "property-type"
	KindInvalidUtilityClass   Kind = "invalid-utility-class"
)

// ClassifiedError is one error extracted from build output. Which of the
// optional fields are set depends on Kind.
type ClassifiedError struct {
	Kind   Kind
	File   string
	Line   int
	Column int

	// Identifier is the offending name: an identifier, property, package,
	// or utility class.
	Identifier string
	// Specifier is the import specifier for unresolved imports.
	Specifier string
	// Expected and Actual carry tag or attribute names.
	Expected string
	Actual   string

	Message string
}

func (e ClassifiedError) Location() string {
	if e.File == "" {
		return ""
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d", e.File, e.Line)
	}
	return e.File
}

func (e ClassifiedError) Summary() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(strings.TrimSpace(e.Message))
	if loc := e.Location(); loc != "" && !strings.Contains(e.Message, e.File) {
		b.WriteString(" (")
		b.WriteString(loc)
		b.WriteString(")")
	}
	return b.String()
}

// Action is the remediation a Strategy asks for.
type Action string

const (
	ActionPatchSource           Action = "patch_source"
	ActionInstallPackage        Action = "install_package"
	ActionDeclareModule         Action = "declare_module"
	ActionFixProjectReferences  Action = "fix_project_references"
	ActionDeclareGlobalProperty Action = "declare_global_property"
	ActionRelaxPeerDependencies Action = "relax_peer_dependencies"
)

// Strategy is a fully parameterised remediation for one classified error.
type Strategy struct {
	Action Action

	Package    string
	Module     string
	Property   string
	ConfigPath string

	Error ClassifiedError
}

// Key identifies strategies that would perform the same change.
func (s Strategy) Key() string {
	switch s.Action {
	case ActionPatchSource:
		e := s.Error
		return fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s|%s", s.Action, e.Kind, e.File, e.Line, e.Identifier, e.Specifier, e.Expected, e.Actual)
	case ActionRelaxPeerDependencies:
		return string(s.Action)
	default:
		return fmt.Sprintf("%s|%s|%s|%s|%s", s.Action, s.Package, s.Module, s.Property, s.ConfigPath)
	}
}

func (s Strategy) Describe() string {
	switch s.Action {
	case ActionInstallPackage:
		return fmt.Sprintf("install package %s", s.Package)
	case ActionDeclareModule:
		return fmt.Sprintf("add type declaration for module %s", s.Module)
	case ActionFixProjectReferences:
		return fmt.Sprintf("enable composite build for referenced project %s", s.ConfigPath)
	case ActionDeclareGlobalProperty:
		return fmt.Sprintf("declare global property window.%s", s.Property)
	case ActionRelaxPeerDependencies:
		return "enable legacy peer dependency resolution"
	default:
		return fmt.Sprintf("patch %s for %s", s.Error.File, s.Error.Kind)
	}
}

// Finding pairs a classified error with the strategy that addresses it.
// Strategy is nil when the error is recognised but not auto-fixable.
type Finding struct {
	Error    ClassifiedError
	Strategy *Strategy
}

// Result is the classifier's verdict on one build output.
type Result struct {
	CanAutoFix    bool
	ErrorsSummary []string
	Strategies    []Strategy
	Errors        []ClassifiedError
}
