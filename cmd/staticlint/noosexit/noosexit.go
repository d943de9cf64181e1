// Package noosexit reports process exits called directly from main.main.
// cmd/authdemo must return from main so that deferred shutdown of the
// session holder and the document store runs.
package noosexit

import (
	"go/ast"
	"go/types"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/analysis"
)

var Analyzer = &analysis.Analyzer{
	Name: "noosexit",
	Doc:  "prohibits direct use of os.Exit and syscall.Exit in main.main",
	Run:  run,
}

var exitFuncs = map[string]bool{
	"os.Exit":      true,
	"syscall.Exit": true,
}

func run(pass *analysis.Pass) (interface{}, error) {
	if pass.Pkg.Name() != "main" {
		return nil, nil
	}

	for _, file := range pass.Files {
		// go test builds its generated main package in the build cache
		if isGoBuildCacheFile(pass.Fset.File(file.Pos()).Name()) {
			continue
		}

		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Name.Name != "main" || fn.Recv != nil || fn.Body == nil {
				continue
			}

			ast.Inspect(fn.Body, func(n ast.Node) bool {
				call, ok := n.(*ast.CallExpr)
				if !ok {
					return true
				}

				if name := calleeName(pass, call); exitFuncs[name] {
					pass.Reportf(call.Pos(), "avoid using %s in main.main", name)
				}

				return true
			})
		}
	}

	return nil, nil
}

// calleeName resolves call to "pkgpath.Func" through type info, so renamed
// imports are still caught.
func calleeName(pass *analysis.Pass, call *ast.CallExpr) string {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return ""
	}

	fn, ok := pass.TypesInfo.Uses[sel.Sel].(*types.Func)
	if !ok || fn.Pkg() == nil {
		return ""
	}

	return fn.Pkg().Path() + "." + fn.Name()
}

func isGoBuildCacheFile(path string) bool {
	path = filepath.ToSlash(path)
	return strings.Contains(path, "/go-build/")
}
