// Command lockcheck is a standalone analysis tool, not part of the
// kernel's runtime import graph — the same status as misc/depgraph.
// It loads this module's packages with golang.org/x/tools/go/packages
// and walks each function body looking for a call to a MemorySet
// method while a mu field appears still held, flagging a
// violation of the TCB.inner -> MemorySet -> FdManager -> Handlers ->
// Receivers lock order spec.md §5 requires.
//
// golang.org/x/tools/go/pointer, the pointer-analysis package
// biscuit's own go.mod requires, ships as "v0.1.0-deprecated" upstream
// with no working API; this tool uses a syntactic walk over
// go/packages' type-checked ASTs instead of true points-to analysis
// (see DESIGN.md for the full justification). The check is therefore
// an approximation: in any function of package proc, it flags a call
// of a method (other than Lock/Unlock) whose receiver's static type is
// vm.MemorySet or *vm.MemorySet, made textually after a Lock() on a
// field named mu and before the next Unlock() on such a field. Call
// arguments are not inspected, and dynamically reachable violations
// are not found.
package main

import (
	"fmt"
	"go/ast"
	"go/types"
	"os"

	"golang.org/x/tools/go/packages"
)

const lockOrderDoc = "TCB.inner -> MemorySet -> FdManager -> Handlers -> Receivers"

func main() {
	if err := run("."); err != nil {
		fmt.Fprintln(os.Stderr, "lockcheck:", err)
		os.Exit(1)
	}
}

type violation struct {
	pos  string
	desc string
}

func run(pattern string) error {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes | packages.NeedTypesInfo |
			packages.NeedSyntax | packages.NeedImports,
	}
	pkgs, err := packages.Load(cfg, pattern+"/...")
	if err != nil {
		return fmt.Errorf("loading packages: %w", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return fmt.Errorf("packages reported load errors")
	}

	var violations []violation
	for _, pkg := range pkgs {
		if pkg.Name != "proc" {
			// the TCB.mu critical sections this tool cares about all
			// live in package proc; other packages' locks are out of
			// scope for this pass.
			continue
		}
		for _, file := range pkg.Syntax {
			violations = append(violations, checkFile(pkg, file)...)
		}
	}

	if len(violations) == 0 {
		fmt.Println("lockcheck: no violations of", lockOrderDoc)
		return nil
	}
	for _, v := range violations {
		fmt.Printf("%s: %s\n", v.pos, v.desc)
	}
	return fmt.Errorf("%d lock-order violation(s) found", len(violations))
}

// checkFile inspects every function declaration in file for a
// vm.MemorySet method call made textually between a Lock() call on a
// field named mu (of any type) and the next Unlock() call on such a
// field, in source order across the whole function body.
func checkFile(pkg *packages.Package, file *ast.File) []violation {
	var out []violation
	ast.Inspect(file, func(n ast.Node) bool {
		fn, ok := n.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			return true
		}
		locked := false
		ast.Inspect(fn.Body, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			switch sel.Sel.Name {
			case "Lock":
				if isMuField(pkg, sel.X) {
					locked = true
				}
			case "Unlock":
				if isMuField(pkg, sel.X) {
					locked = false
				}
			default:
				if locked && isMemorySetMethod(pkg, sel) {
					out = append(out, violation{
						pos:  pkg.Fset.Position(call.Pos()).String(),
						desc: fmt.Sprintf("MemorySet.%s called while TCB.mu held (order: %s)", sel.Sel.Name, lockOrderDoc),
					})
				}
			}
			return true
		})
		return true
	})
	return out
}

func isMuField(pkg *packages.Package, x ast.Expr) bool {
	sel, ok := x.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	return sel.Sel.Name == "mu"
}

func isMemorySetMethod(pkg *packages.Package, sel *ast.SelectorExpr) bool {
	tv, ok := pkg.TypesInfo.Types[sel.X]
	if !ok {
		return false
	}
	t := tv.Type
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	named, ok := t.(*types.Named)
	if !ok {
		return false
	}
	return named.Obj().Name() == "MemorySet" && named.Obj().Pkg() != nil && named.Obj().Pkg().Path() == "rv39kernel/vm"
}
