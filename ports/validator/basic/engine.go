// Package basic provides a reference ports.Validator implementation that
// performs syntax-only checks. It is intended to let the execution core run
// end to end without a production validator wired in; deployments that need
// semantic checking (type-checking, linting, test execution) should inject
// their own ports.Validator.
package basic

import (
	"context"
	"go/parser"
	"go/scanner"
	"go/token"
	"strings"

	"goa.design/atomexec/atom"
)

// Options configures the basic validator.
type Options struct {
	// Languages restricts syntax checking to the listed language tags
	// (matched against atom.Atom.Language, case-insensitively). When empty,
	// only atoms tagged "go" are checked. Go is this engine's only supported
	// grammar: atoms whose language is not checked always pass with an info
	// issue noting the skip.
	Languages []string
	// Label annotates emitted issues; defaults to "basic".
	Label string
}

// Engine implements ports.Validator with Go syntax checking via go/parser.
// It never inspects semantics: a syntactically valid but logically wrong
// program passes. This is documented as a reference implementation, not a
// production validator.
type Engine struct {
	languages map[string]struct{}
	label     string
}

// New builds a new Engine using the supplied options.
func New(opts Options) (*Engine, error) {
	label := strings.TrimSpace(opts.Label)
	if label == "" {
		label = "basic"
	}
	langs := make(map[string]struct{}, len(opts.Languages))
	for _, l := range opts.Languages {
		langs[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}
	return &Engine{languages: langs, label: label}, nil
}

// Validate implements ports.Validator. For a checked language (the listed
// Languages, or "go" when Languages is unset) it parses code as a single Go
// source file and reports scanner/parser errors as error-severity issues,
// which block the attempt. For any other
// recognized-but-unchecked language it reports a single info issue noting
// the skip, and passes.
func (e *Engine) Validate(_ context.Context, a atom.Atom, code string) (bool, []atom.Issue, error) {
	if strings.TrimSpace(code) == "" {
		return false, []atom.Issue{{
			Severity: atom.SeverityCritical,
			Message:  "generated code is empty",
		}}, nil
	}

	if !e.checksLanguage(a.Language) {
		return true, []atom.Issue{{
			Severity: atom.SeverityInfo,
			Message:  "validator " + e.label + " does not check language " + a.Language + "; skipping syntax check",
		}}, nil
	}

	fset := token.NewFileSet()
	_, err := parser.ParseFile(fset, a.ID.String()+".go", wrapAsFile(code), parser.AllErrors)
	if err == nil {
		return true, nil, nil
	}

	var issues []atom.Issue
	if list, ok := err.(scanner.ErrorList); ok {
		for _, e := range list {
			issues = append(issues, atom.Issue{
				Severity: atom.SeverityError,
				Message:  e.Msg,
			})
		}
	} else {
		issues = append(issues, atom.Issue{
			Severity: atom.SeverityError,
			Message:  err.Error(),
		})
	}
	return false, issues, nil
}

func (e *Engine) checksLanguage(lang string) bool {
	if len(e.languages) == 0 {
		return strings.EqualFold(lang, "go")
	}
	_, ok := e.languages[strings.ToLower(strings.TrimSpace(lang))]
	return ok
}

// wrapAsFile wraps a code snippet that may be a bare function/type body (not
// a full file with a package clause) so go/parser can still attempt to parse
// it. If the snippet already declares a package, it is used as-is.
func wrapAsFile(code string) string {
	trimmed := strings.TrimSpace(code)
	if strings.HasPrefix(trimmed, "package ") {
		return code
	}
	return "package generated\n\n" + code
}
