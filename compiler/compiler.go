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

// Package compiler wires the back-end stages (translate, canon, codegen,
// liveness/regalloc, asmfmt) into a single driver: Compile takes a
// parsed-and-checked program and returns the emitted assembly text. The
// parser, checker and access resolver that produce its inputs live
// outside this repository; a caller, whether a CLI driver or a test, is
// expected to supply an already-validated AST, symbol table and access
// map.
package compiler

import (
	"github.com/alythical/kyanite/arch"
	"github.com/alythical/kyanite/asmfmt"
	"github.com/alythical/kyanite/ast"
	"github.com/alythical/kyanite/canon"
	"github.com/alythical/kyanite/codegen"
	"github.com/alythical/kyanite/ir"
	"github.com/alythical/kyanite/regalloc"
	"github.com/alythical/kyanite/translate"
)

// Compile lowers decls all the way to assembly text. symbols and
// accesses must already describe decls fully (every class and function
// resolved, every Access/Call id present); a Compile call never
// performs name resolution or type checking itself.
func Compile(decls []ast.Decl, symbols *ast.SymbolTable, accesses *ast.AccessMap) string {
	idgen := ir.NewIDGen()

	tr := translate.New(symbols, accesses, idgen)
	tree := tr.Translate(decls)
	canonical := canon.Canonicalize(tree)

	gen := codegen.New(tr.Frames(), idgen)
	instrs := gen.Generate(canonical)

	colors := regalloc.Allocate(instrs, arch.ARM64Registers)

	return descriptors(symbols) + asmfmt.Render(instrs, colors)
}

// descriptors renders the `.asciz` data directive backing every class's
// field descriptor string, emitted ahead of the instruction stream
// under the label translate.DescriptorLabel names. alloc reads this
// string at the address translateInit's DataAddr resolves to and
// copies it into a fresh instance's header cells; translate itself
// never constructs header bytes.
func descriptors(symbols *ast.SymbolTable) string {
	classes := symbols.Classes()
	if len(classes) == 0 {
		return ""
	}
	var instrs []arch.Instr
	for _, c := range classes {
		instrs = append(instrs, arch.A64Label(translate.DescriptorLabel(c.Name)))
		instrs = append(instrs, arch.A64Data("asciz", quote(c.Descriptor())))
	}
	return asmfmt.RenderData(instrs)
}

func quote(s string) string {
	return `"` + s + `"`
}
