package tools

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/edulab/tutor/internal/llm"
)

// ExplainTool produces a structural summary of a code snippet without
// executing it. Go snippets get a real parse; other languages get a
// line-classifier pass plus general observations.
type ExplainTool struct{}

// NewExplainTool creates the explain capability.
func NewExplainTool() *ExplainTool {
	return &ExplainTool{}
}

// ExplainDefinition declares the explain tool's input schema.
func ExplainDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "explain",
		Description: "Statically analyze a code snippet and describe its structure without running it.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"description": "The code snippet to analyze.",
				},
				"language": map[string]interface{}{
					"type":        "string",
					"description": "Language hint; detected from the snippet when omitted.",
					"enum":        []interface{}{"go", "python", "javascript", "java", "c"},
				},
			},
			"required": []string{"code"},
		},
	}
}

// Execute analyzes the snippet.
func (t *ExplainTool) Execute(_ context.Context, input map[string]interface{}) (string, error) {
	code := stringInput(input, "code")
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("explain: input must include a non-empty code snippet")
	}

	lang := stringInput(input, "language")
	if lang == "" {
		lang = llm.DetectLanguage(code)
	}

	if lang == "go" {
		if summary, ok := explainGo(code); ok {
			return summary, nil
		}
	}
	return explainGeneric(code, lang), nil
}

// explainGo parses the snippet as Go and describes its declarations.
func explainGo(code string) (string, bool) {
	src := code
	if !strings.Contains(src, "package ") {
		src = "package main\n\n" + src
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "snippet.go", src, parser.ParseComments)
	if err != nil {
		// Try once more as bare statements.
		src = "package main\n\nfunc main() {\n" + code + "\n}\n"
		file, err = parser.ParseFile(fset, "snippet.go", src, 0)
		if err != nil {
			return "", false
		}
	}

	var b strings.Builder
	b.WriteString("This is Go code.\n")

	var imports []string
	for _, imp := range file.Imports {
		imports = append(imports, strings.Trim(imp.Path.Value, `"`))
	}
	if len(imports) > 0 {
		fmt.Fprintf(&b, "Imports: %s.\n", strings.Join(imports, ", "))
	}

	var funcs, types []string
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			funcs = append(funcs, describeFunc(d))
		case *ast.GenDecl:
			if d.Tok == token.TYPE {
				for _, spec := range d.Specs {
					if ts, ok := spec.(*ast.TypeSpec); ok {
						types = append(types, describeType(ts))
					}
				}
			}
		}
	}
	for _, t := range types {
		b.WriteString(t)
		b.WriteString("\n")
	}
	for _, f := range funcs {
		b.WriteString(f)
		b.WriteString("\n")
	}

	counts := countConstructs(file)
	if counts != "" {
		b.WriteString(counts)
		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String()), true
}

func describeFunc(fn *ast.FuncDecl) string {
	var b strings.Builder
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		fmt.Fprintf(&b, "Method %s on %s", fn.Name.Name, typeString(fn.Recv.List[0].Type))
	} else {
		fmt.Fprintf(&b, "Function %s", fn.Name.Name)
	}

	params := 0
	if fn.Type.Params != nil {
		for _, field := range fn.Type.Params.List {
			n := len(field.Names)
			if n == 0 {
				n = 1
			}
			params += n
		}
	}
	results := 0
	if fn.Type.Results != nil {
		for _, field := range fn.Type.Results.List {
			n := len(field.Names)
			if n == 0 {
				n = 1
			}
			results += n
		}
	}
	fmt.Fprintf(&b, " takes %d parameter(s) and returns %d value(s).", params, results)
	return b.String()
}

func describeType(ts *ast.TypeSpec) string {
	switch t := ts.Type.(type) {
	case *ast.StructType:
		fields := 0
		if t.Fields != nil {
			fields = len(t.Fields.List)
		}
		return fmt.Sprintf("Struct %s with %d field(s).", ts.Name.Name, fields)
	case *ast.InterfaceType:
		methods := 0
		if t.Methods != nil {
			methods = len(t.Methods.List)
		}
		return fmt.Sprintf("Interface %s with %d method(s).", ts.Name.Name, methods)
	default:
		return fmt.Sprintf("Type %s.", ts.Name.Name)
	}
}

func typeString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + typeString(t.X)
	default:
		return "receiver"
	}
}

func countConstructs(file *ast.File) string {
	var loops, conds, goroutines, deferred int
	ast.Inspect(file, func(n ast.Node) bool {
		switch n.(type) {
		case *ast.ForStmt, *ast.RangeStmt:
			loops++
		case *ast.IfStmt, *ast.SwitchStmt, *ast.TypeSwitchStmt, *ast.SelectStmt:
			conds++
		case *ast.GoStmt:
			goroutines++
		case *ast.DeferStmt:
			deferred++
		}
		return true
	})

	var parts []string
	if loops > 0 {
		parts = append(parts, fmt.Sprintf("%d loop(s)", loops))
	}
	if conds > 0 {
		parts = append(parts, fmt.Sprintf("%d conditional(s)", conds))
	}
	if goroutines > 0 {
		parts = append(parts, fmt.Sprintf("%d goroutine launch(es)", goroutines))
	}
	if deferred > 0 {
		parts = append(parts, fmt.Sprintf("%d deferred call(s)", deferred))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Control flow: " + strings.Join(parts, ", ") + "."
}

// lineClass describes one recognized line pattern for a language.
type lineClass struct {
	prefix      string
	description string
}

var lineClasses = map[string][]lineClass{
	"python": {
		{"def ", "defines a function"},
		{"class ", "defines a class"},
		{"import ", "imports a module"},
		{"from ", "imports names from a module"},
		{"for ", "starts a loop"},
		{"while ", "starts a loop"},
		{"if ", "branches on a condition"},
		{"return ", "returns a value"},
		{"with ", "opens a managed resource"},
		{"try", "begins exception handling"},
	},
	"javascript": {
		{"function ", "defines a function"},
		{"const ", "declares a constant binding"},
		{"let ", "declares a variable"},
		{"class ", "defines a class"},
		{"for ", "starts a loop"},
		{"while ", "starts a loop"},
		{"if ", "branches on a condition"},
		{"return ", "returns a value"},
		{"async ", "defines asynchronous code"},
	},
	"java": {
		{"public class ", "defines a public class"},
		{"private ", "declares a private member"},
		{"public ", "declares a public member"},
		{"for ", "starts a loop"},
		{"while ", "starts a loop"},
		{"if ", "branches on a condition"},
		{"return ", "returns a value"},
	},
	"c": {
		{"#include", "includes a header"},
		{"#define", "defines a macro"},
		{"for ", "starts a loop"},
		{"while ", "starts a loop"},
		{"if ", "branches on a condition"},
		{"return ", "returns a value"},
	},
}

// explainGeneric classifies lines by prefix and appends general
// observations about the snippet.
func explainGeneric(code, lang string) string {
	var b strings.Builder
	if lang != "" {
		fmt.Fprintf(&b, "This looks like %s code.\n", lang)
	} else {
		b.WriteString("Language could not be determined; describing structure generically.\n")
	}

	classes := lineClasses[lang]
	described := 0
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || described >= 12 {
			continue
		}
		for _, cls := range classes {
			if strings.HasPrefix(trimmed, cls.prefix) {
				fmt.Fprintf(&b, "`%s` — %s.\n", truncateLine(trimmed, 60), cls.description)
				described++
				break
			}
		}
	}

	lines := 0
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	fmt.Fprintf(&b, "The snippet has %d non-empty line(s).", lines)

	if lang == "python" && strings.Contains(code, "except:") {
		b.WriteString("\nNote: a bare `except:` swallows every exception; catch specific types instead.")
	}
	if lang == "javascript" && strings.Contains(code, "var ") {
		b.WriteString("\nNote: `var` is function-scoped; prefer `let` or `const`.")
	}

	return b.String()
}

func truncateLine(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
