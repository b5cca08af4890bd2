package sandbox

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"sort"
	"strconv"
	"strings"
)

// allowedImports is the closed set of packages a submission may import.
// Everything else is denied at admission, before execution resources are
// allocated. The set deliberately contains no package that can reach the
// filesystem, the network, other processes, or runtime introspection.
var allowedImports = map[string]bool{
	"bytes":           true,
	"container/heap":  true,
	"container/list":  true,
	"container/ring":  true,
	"encoding/base64": true,
	"encoding/hex":    true,
	"encoding/json":   true,
	"errors":          true,
	"fmt":             true,
	"math":            true,
	"math/bits":       true,
	"math/cmplx":      true,
	"math/rand":       true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"time":            true,
	"unicode":         true,
	"unicode/utf8":    true,
}

// deniedIdents are package qualifiers that must never appear in a
// submission, even unimported. Deny-lists are incomplete against
// obfuscation; the execution backend's restricted symbol table and
// host limits are the real backstop.
var deniedIdents = map[string]bool{
	"os":      true,
	"exec":    true,
	"syscall": true,
	"net":     true,
	"http":    true,
	"rpc":     true,
	"unsafe":  true,
	"reflect": true,
	"plugin":  true,
	"runtime": true,
	"ioutil":  true,
	"cgo":     true,
}

// qualifierImports maps package qualifiers to their allow-listed import
// paths, so normalization can supply imports a bare snippet omits.
var qualifierImports = func() map[string]string {
	m := make(map[string]string, len(allowedImports))
	for pkg := range allowedImports {
		m[path.Base(pkg)] = pkg
	}
	return m
}()

// Normalize rewrites a submission into a complete single-file program.
// Bare snippets get a package clause and, when they are plain statements,
// a main function around them; references to allow-listed packages get
// matching import declarations. The returned source parses cleanly; a
// submission that cannot be normalized returns the parse error.
func Normalize(code string) (string, error) {
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, "submission.go", code, 0); err == nil {
		return code, nil
	}

	bodies := []string{
		code,
		"func main() {\n" + code + "\n}\n",
	}

	var lastErr error
	for _, body := range bodies {
		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, "submission.go", "package main\n\n"+body, 0)
		if err != nil {
			lastErr = err
			continue
		}
		return "package main\n\n" + missingImportBlock(file) + body, nil
	}
	return "", fmt.Errorf("parse submission: %w", lastErr)
}

// missingImportBlock renders an import block for allow-listed packages
// the file references through selectors but never imports. Qualifiers
// that resolve to declarations inside the file are left alone.
func missingImportBlock(file *ast.File) string {
	imported := make(map[string]bool, len(file.Imports))
	for _, imp := range file.Imports {
		if p, err := strconv.Unquote(imp.Path.Value); err == nil {
			imported[p] = true
		}
	}

	need := map[string]bool{}
	ast.Inspect(file, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		if ident, ok := sel.X.(*ast.Ident); ok && ident.Obj == nil {
			if pkg, ok := qualifierImports[ident.Name]; ok && !imported[pkg] {
				need[pkg] = true
			}
		}
		return true
	})
	if len(need) == 0 {
		return ""
	}

	pkgs := make([]string, 0, len(need))
	for pkg := range need {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)

	var b strings.Builder
	b.WriteString("import (\n")
	for _, pkg := range pkgs {
		fmt.Fprintf(&b, "\t%q\n", pkg)
	}
	b.WriteString(")\n\n")
	return b.String()
}

// CheckAdmission statically analyzes a normalized submission and returns
// a DenialError naming the first forbidden construct found, or nil if the
// code is admissible. It is a pure function of the source text: no
// execution resources are touched.
func CheckAdmission(normalized string) *DenialError {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "submission.go", normalized, 0)
	if err != nil {
		// Normalize guarantees parseability; treat a surprise as a denial
		// rather than letting unparseable input reach the interpreter.
		return &DenialError{Construct: "unparseable source"}
	}

	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return &DenialError{Construct: "malformed import " + imp.Path.Value}
		}
		if !allowedImports[path] {
			return &DenialError{Construct: fmt.Sprintf("import %q", path)}
		}
	}

	var denial *DenialError
	ast.Inspect(file, func(n ast.Node) bool {
		if denial != nil {
			return false
		}
		switch node := n.(type) {
		case *ast.SelectorExpr:
			if ident, ok := node.X.(*ast.Ident); ok && deniedIdents[ident.Name] {
				denial = &DenialError{Construct: fmt.Sprintf("reference to %s.%s", ident.Name, node.Sel.Name)}
				return false
			}
		case *ast.ImportSpec:
			// Aliased imports of denied packages are caught above by path;
			// nothing extra to do here.
		}
		return true
	})
	return denial
}

// describeDenial renders a denial reason for user display.
func describeDenial(d *DenialError) string {
	var b strings.Builder
	b.WriteString("submission rejected: ")
	b.WriteString(d.Construct)
	b.WriteString(" is not permitted in the execution sandbox")
	return b.String()
}
