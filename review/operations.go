package review

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	gotypes "go/types"
	"math"
	"sort"
)

// Operation names registered by Register.
const (
	OpExtractFunctions = "extract_functions"
	OpCheckComplexity  = "check_complexity"
	OpDetectIssues     = "detect_basic_issues"
	OpSuggest          = "suggest_improvements"
)

// Scoring knobs.
const (
	issuePenaltyPerIssue = 0.12
	maxIssuePenalty      = 0.6
	maxComplexityPenalty = 0.3
	complexityBaseline   = 5.0
	complexityScale      = 25.0
	complexWarnAt        = 8
	complexSplitAt       = 15
)

// source is parsed Go code. Snippets without a package clause are parsed
// with one prepended, so lineOffset is subtracted from reported lines.
type source struct {
	fset       *token.FileSet
	file       *ast.File
	lineOffset int
}

func parseSource(code string) (*source, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "input.go", code, parser.ParseComments)
	if err == nil {
		return &source{fset: fset, file: file}, nil
	}

	wrapped := token.NewFileSet()
	file, wrapErr := parser.ParseFile(wrapped, "input.go", "package review\n"+code, parser.ParseComments)
	if wrapErr != nil {
		return nil, err
	}
	return &source{fset: wrapped, file: file, lineOffset: 1}, nil
}

func (s *source) line(pos token.Pos) int {
	return s.fset.Position(pos).Line - s.lineOffset
}

func funcName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return fn.Name.Name
	}
	recv := fn.Recv.List[0].Type
	if star, ok := recv.(*ast.StarExpr); ok {
		recv = star.X
	}
	switch t := recv.(type) {
	case *ast.Ident:
		return t.Name + "." + fn.Name.Name
	case *ast.IndexExpr:
		if id, ok := t.X.(*ast.Ident); ok {
			return id.Name + "." + fn.Name.Name
		}
	case *ast.IndexListExpr:
		if id, ok := t.X.(*ast.Ident); ok {
			return id.Name + "." + fn.Name.Name
		}
	}
	return fn.Name.Name
}

func funcDecls(file *ast.File) []*ast.FuncDecl {
	var decls []*ast.FuncDecl
	for _, d := range file.Decls {
		if fn, ok := d.(*ast.FuncDecl); ok {
			decls = append(decls, fn)
		}
	}
	return decls
}

// ExtractFunctions records the names of the declared functions and methods.
// Source that does not parse yields no functions.
func ExtractFunctions(ctx context.Context, s State) (State, error) {
	src, err := parseSource(s.Code)
	if err != nil {
		s.Functions = []string{}
		return s, nil
	}
	functions := []string{}
	for _, fn := range funcDecls(src.file) {
		functions = append(functions, funcName(fn))
	}
	s.Functions = functions
	return s, nil
}

// CheckComplexity counts the top-level statements of each function body.
func CheckComplexity(ctx context.Context, s State) (State, error) {
	complexity := map[string]int{}
	src, err := parseSource(s.Code)
	if err != nil {
		s.Complexity = complexity
		return s, nil
	}
	for _, fn := range funcDecls(src.file) {
		if fn.Body == nil {
			continue
		}
		complexity[funcName(fn)] = len(fn.Body.List)
	}
	s.Complexity = complexity
	return s, nil
}

// DetectIssues reports syntax errors, or, for code that parses, the type
// checker's soft errors (unused variables and imports) and empty blocks.
func DetectIssues(ctx context.Context, s State) (State, error) {
	src, err := parseSource(s.Code)
	if err != nil {
		s.Issues = syntaxIssues(err)
		return s, nil
	}

	issues := typeIssues(src)
	issues = append(issues, emptyBlockIssues(src)...)
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Line < issues[j].Line })
	s.Issues = issues
	return s, nil
}

func syntaxIssues(err error) []Issue {
	var list scanner.ErrorList
	if errors.As(err, &list) {
		issues := make([]Issue, 0, len(list))
		for _, e := range list {
			issues = append(issues, Issue{Line: e.Pos.Line, Message: "syntax error: " + e.Msg})
		}
		return issues
	}
	return []Issue{{Line: 0, Message: "syntax error: " + err.Error()}}
}

func typeIssues(src *source) []Issue {
	issues := []Issue{}
	conf := gotypes.Config{
		Importer: newStubImporter(),
		Error: func(err error) {
			var te gotypes.Error
			if errors.As(err, &te) && te.Soft {
				issues = append(issues, Issue{Line: src.line(te.Pos), Message: te.Msg})
			}
		},
	}
	// Hard errors such as unresolved imports are not review findings.
	_, _ = conf.Check(src.file.Name.Name, src.fset, []*ast.File{src.file}, nil)
	return issues
}

func emptyBlockIssues(src *source) []Issue {
	var issues []Issue
	ast.Inspect(src.file, func(n ast.Node) bool {
		switch stmt := n.(type) {
		case *ast.IfStmt:
			if len(stmt.Body.List) == 0 {
				issues = append(issues, Issue{Line: src.line(stmt.Pos()), Message: "empty if block"})
			}
		case *ast.ForStmt:
			if len(stmt.Body.List) == 0 {
				issues = append(issues, Issue{Line: src.line(stmt.Pos()), Message: "empty loop body"})
			}
		case *ast.RangeStmt:
			if len(stmt.Body.List) == 0 {
				issues = append(issues, Issue{Line: src.line(stmt.Pos()), Message: "empty loop body"})
			}
		}
		return true
	})
	return issues
}

// SuggestImprovements turns findings into suggestions, computes the quality
// score and counts one more review pass.
func SuggestImprovements(ctx context.Context, s State) (State, error) {
	suggestions := []string{}

	names := make([]string, 0, len(s.Complexity))
	for name := range s.Complexity {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch n := s.Complexity[name]; {
		case n > complexSplitAt:
			suggestions = append(suggestions, fmt.Sprintf(
				"Function '%s' looks quite complex with %d statements. Consider breaking it into smaller functions.", name, n))
		case n > complexWarnAt:
			suggestions = append(suggestions, fmt.Sprintf(
				"Function '%s' could be simplified; it has %d statements.", name, n))
		}
	}

	for _, issue := range s.Issues {
		suggestions = append(suggestions, fmt.Sprintf("Resolve issue at line %d: %s", issue.Line, issue.Message))
	}

	s.Suggestions = suggestions
	s.QualityScore = Score(len(s.Issues), s.Complexity)
	s.Iter++
	return s, nil
}

// Score rates code from 0 to 1 given its issue count and per-function
// statement counts.
func Score(issues int, complexity map[string]int) float64 {
	issuePenalty := math.Min(maxIssuePenalty, issuePenaltyPerIssue*float64(issues))

	var avg float64
	if len(complexity) > 0 {
		total := 0
		for _, n := range complexity {
			total += n
		}
		avg = float64(total) / float64(len(complexity))
	}
	complexityPenalty := math.Min(maxComplexityPenalty, math.Max(0, (avg-complexityBaseline)/complexityScale))

	return math.Max(0, math.Min(1, 1-issuePenalty-complexityPenalty))
}
