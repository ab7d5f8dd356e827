// Copyright (c) 2024 The Kyanite Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.
package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alythical/kyanite/ast"
)

func intLit(v int64) *ast.IntLit { return &ast.IntLit{ExprBase: ast.NewExprBase(ast.TypeInt), Value: v} }

func bin(op ast.BinOp, l, r ast.Expr) *ast.BinaryExpr {
	return &ast.BinaryExpr{ExprBase: ast.NewExprBase(ast.TypeInt), Op: op, Left: l, Right: r}
}

// TestCompileArithmeticFunction exercises the full pipeline end to end
// on a single straight-line function computing (2+3)*4-1, the same
// scenario every stage's own tests were hand-traced against.
func TestCompileArithmeticFunction(t *testing.T) {
	decls := []ast.Decl{
		&ast.FuncDecl{
			Id:   1,
			Name: "main",
			Body: []ast.Stmt{
				&ast.ReturnStmt{Value: bin(ast.OpSub, bin(ast.OpMul, bin(ast.OpAdd, intLit(2), intLit(3)), intLit(4)), intLit(1))},
			},
		},
	}
	out := Compile(decls, ast.NewSymbolTable(), ast.NewAccessMap())

	assert.Contains(t, out, ".text")
	assert.Contains(t, out, "main:")
	assert.Contains(t, out, "main.epilogue:")
	assert.Contains(t, out, "ret")
	assert.NotContains(t, out, ".rodata", "a class-free program emits no descriptor data section")
}

// TestCompileClassInitEmitsDescriptorAndAlloc exercises a class with
// one scalar field: an init expression must route through the runtime
// alloc entry point and the compiled unit must carry the class's
// rodata descriptor.
func TestCompileClassInitEmitsDescriptorAndAlloc(t *testing.T) {
	symbols := ast.NewSymbolTable()
	pair := &ast.ClassDecl{Id: 1, Name: "Pair", Fields: []ast.FieldDecl{
		{Name: "a", Type: ast.TypeInt},
		{Name: "b", Type: ast.TypeInt},
	}}
	symbols.Insert("Pair", pair)

	decls := []ast.Decl{
		pair,
		&ast.FuncDecl{
			Id:   1,
			Name: "main",
			Body: []ast.Stmt{
				&ast.ReturnStmt{Value: &ast.InitExpr{
					ExprBase: ast.NewExprBase(ast.ClassType("Pair")),
					Class:    "Pair",
					Names:    []string{"a", "b"},
					Values:   []ast.Expr{intLit(7), intLit(35)},
				}},
			},
		},
	}

	out := Compile(decls, symbols, ast.NewAccessMap())

	assert.Contains(t, out, ".section .rodata")
	assert.Contains(t, out, "Pair.descriptor:")
	assert.Contains(t, out, `.asciz "ss"`)
	assert.Contains(t, out, "bl alloc")
	assert.Contains(t, out, "main:")
}

// TestCompileIfFallsThroughToFalseBranch pins the traced branch shape:
// the false-target label is the textually next line after the
// conditional branch, and the true branch re-joins with an
// unconditional b to the join label.
func TestCompileIfFallsThroughToFalseBranch(t *testing.T) {
	decls := []ast.Decl{
		&ast.FuncDecl{
			Id:   1,
			Name: "main",
			Body: []ast.Stmt{
				&ast.VarDeclStmt{Name: "x", Type: ast.TypeInt, Init: intLit(1)},
				&ast.IfStmt{
					Cond: bin(ast.OpEq, &ast.Ident{ExprBase: ast.NewExprBase(ast.TypeInt), Name: "x"}, intLit(1)),
					Then: []ast.Stmt{&ast.ReturnStmt{Value: intLit(1)}},
					Else: []ast.Stmt{&ast.ReturnStmt{Value: intLit(2)}},
				},
			},
		},
	}
	out := Compile(decls, ast.NewSymbolTable(), ast.NewAccessMap())

	lines := strings.Split(out, "\n")
	condAt := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "beq ") {
			condAt = i
		}
	}
	require.GreaterOrEqual(t, condAt, 0, "expected a conditional branch in the output")
	trueLabel := strings.TrimPrefix(strings.TrimSpace(lines[condAt]), "beq ")
	assert.True(t, strings.HasSuffix(lines[condAt+1], ":"), "the false branch must fall through to the next label")
	assert.NotEqual(t, trueLabel+":", lines[condAt+1])
	assert.Contains(t, out, "b L2", "the true branch rejoins through the join label")
}

func TestCompileWhileLoopFunctionContainsBranch(t *testing.T) {
	decls := []ast.Decl{
		&ast.FuncDecl{
			Id:   1,
			Name: "countdown",
			Body: []ast.Stmt{
				&ast.WhileStmt{
					Cond: bin(ast.OpLt, intLit(0), intLit(10)),
					Body: []ast.Stmt{&ast.ReturnStmt{Value: intLit(0)}},
				},
			},
		},
	}
	out := Compile(decls, ast.NewSymbolTable(), ast.NewAccessMap())
	require.Contains(t, out, "countdown:")
	assert.Contains(t, out, "cmp")
}
