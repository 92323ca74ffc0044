package classify

import (
	"regexp"
	"strings"
	"sync"
)

// Matcher recognises one error shape. Resolve receives the submatches of
// Pattern on a single output line plus the location known for that line,
// and reports whether the match yields a finding.
type Matcher struct {
	Name    string
	Pattern *regexp.Regexp
	Resolve func(match []string, loc Location) (Finding, bool)
}

// Location is the file position attached to an output line.
type Location struct {
	File   string
	Line   int
	Column int
}

type Registry struct {
	mu       sync.RWMutex
	matchers []Matcher
}

func NewRegistry(matchers ...Matcher) *Registry {
	return &Registry{matchers: append([]Matcher(nil), matchers...)}
}

// Register appends m; matchers run in registration order.
func (r *Registry) Register(m Matcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matchers = append(r.matchers, m)
}

func (r *Registry) Matchers() []Matcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Matcher(nil), r.matchers...)
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry returns the process-wide registry of built-in matchers.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(builtinMatchers()...)
	})
	return defaultRegistry
}

// Classify runs the default registry against output.
func Classify(output string) Result {
	return DefaultRegistry().Classify(output)
}

// Classify applies every matcher to every line of output. It never fails:
// output nothing recognises yields a Result with CanAutoFix false and a
// trimmed summary of the raw output.
func (r *Registry) Classify(output string) Result {
	var res Result
	matchers := r.Matchers()
	seenErr := map[string]bool{}
	seenStrategy := map[string]bool{}

	// A location printed on its own line applies to the next couple of lines.
	var last Location
	age := 0
	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(stripANSI(raw))
		if line == "" {
			continue
		}
		if loc, ok := locate(line); ok {
			last, age = loc, 0
		} else if age++; age > 2 {
			last = Location{}
		}
		for _, m := range matchers {
			for _, f := range runMatcher(m, line, last) {
				key := string(f.Error.Kind) + "|" + f.Error.Location() + "|" + f.Error.Message
				if !seenErr[key] {
					seenErr[key] = true
					res.Errors = append(res.Errors, f.Error)
					res.ErrorsSummary = append(res.ErrorsSummary, f.Error.Summary())
				}
				if f.Strategy == nil {
					continue
				}
				sk := f.Strategy.Key()
				if seenStrategy[sk] {
					continue
				}
				seenStrategy[sk] = true
				res.Strategies = append(res.Strategies, *f.Strategy)
			}
		}
	}

	res.CanAutoFix = len(res.Strategies) > 0
	if len(res.ErrorsSummary) == 0 {
		res.ErrorsSummary = []string{SummarizeFailure(output)}
	}
	return res
}

func runMatcher(m Matcher, line string, loc Location) (out []Finding) {
	if m.Pattern == nil || m.Resolve == nil {
		return nil
	}
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	for _, match := range m.Pattern.FindAllStringSubmatch(line, -1) {
		f, ok := m.Resolve(match, loc)
		if !ok {
			continue
		}
		if f.Error.Message == "" {
			f.Error.Message = match[0]
		}
		if f.Strategy != nil {
			f.Strategy.Error = f.Error
		}
		out = append(out, f)
	}
	return out
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
