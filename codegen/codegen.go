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

// Package codegen lowers canonical tree IR into the target's abstract
// instructions, one fresh temporary at a time. It never chooses a
// concrete register itself; that is regalloc's job once the whole
// stream exists.
package codegen

import (
	"sort"

	"github.com/alythical/kyanite/arch"
	"github.com/alythical/kyanite/frame"
	"github.com/alythical/kyanite/ir"
	"github.com/alythical/kyanite/utils"
)

// Generator walks a canonicalised statement list once and produces the
// instruction stream for the whole compilation unit, with every
// function's epilogue appended at the end (see epilogues).
type Generator struct {
	idgen   *ir.IDGen
	byLabel map[string]*frame.ARM64Frame
	instrs  []arch.Instr
}

// New creates a Generator. frames maps a FuncDecl's id to the frame
// translate allocated for it; idgen must be the same generator
// translate used, so temporaries minted here never collide with ones
// already named in the tree.
func New(frames map[int]*frame.ARM64Frame, idgen *ir.IDGen) *Generator {
	byLabel := make(map[string]*frame.ARM64Frame, len(frames))
	for _, f := range frames {
		byLabel[f.Label()] = f
	}
	return &Generator{idgen: idgen, byLabel: byLabel}
}

// Generate lowers stmts, which must already be canonical (no ESeq, no
// Seq, block-traced), into the full instruction stream.
func (g *Generator) Generate(stmts []ir.Stmt) []arch.Instr {
	for i, s := range stmts {
		g.stmt(s, stmts, i)
	}
	g.epilogues()
	return g.instrs
}

func (g *Generator) emit(instrs ...arch.Instr) { g.instrs = append(g.instrs, instrs...) }

func (g *Generator) stmt(s ir.Stmt, all []ir.Stmt, i int) {
	switch n := s.(type) {
	case *ir.Label:
		g.emit(arch.A64Label(n.Name))
		if f, ok := g.byLabel[n.Name]; ok {
			g.emit(f.Prologue()...)
		}
	case *ir.Jump:
		g.emit(arch.A64Branch(n.Target))
	case *ir.CJump:
		g.cjump(n, all, i)
	case *ir.Move:
		g.move(n)
	case *ir.ExprStmt:
		g.expr(n.Expr)
	case *ir.Noop:
	case *ir.Seq:
		utils.Fatal("codegen: Seq survived canonicalisation")
	default:
		utils.ShouldNotReachHere()
	}
}

// epilogues appends one Label+Epilogue block per function, in a
// deterministic (sorted) order rather than map iteration order.
func (g *Generator) epilogues() {
	names := make([]string, 0, len(g.byLabel))
	for name := range g.byLabel {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := g.byLabel[name]
		g.emit(arch.A64Label(name + ".epilogue"))
		g.emit(f.Epilogue()...)
	}
}

// cjump evaluates the comparison operands, emits the compare and the
// true-branch, and skips the explicit false-branch jump exactly when
// the tracer arranged the false label to be the very next statement,
// keeping the common case down to two instructions instead of three.
func (g *Generator) cjump(n *ir.CJump, all []ir.Stmt, i int) {
	left := g.expr(n.Left)
	right := g.expr(n.Right)
	g.emit(arch.A64Compare(left, right))
	g.emit(arch.A64CBranch(n.True, arch.Rel(n.Op)))
	if !nextLabelIs(all, i, n.False) {
		g.emit(arch.A64Branch(n.False))
	}
}

func nextLabelIs(all []ir.Stmt, i int, label string) bool {
	if i+1 >= len(all) {
		return false
	}
	l, ok := all[i+1].(*ir.Label)
	return ok && l.Name == label
}

// move lowers a Move statement. The target/source each resolve to
// either a plain register name or a freshly-loaded/computed one; a
// target that is a Mem becomes a store instead of a register move.
func (g *Generator) move(n *ir.Move) {
	src := g.expr(n.Expr)
	if mem, ok := n.Target.(*ir.Mem); ok {
		base, offset := g.address(mem.Addr)
		g.emit(arch.A64StoreImmediate(src, base, offset))
		return
	}
	temp, ok := n.Target.(*ir.Temp)
	utils.Assert(ok, "codegen: move target must be Temp or Mem")
	g.emit(arch.A64Move(temp.Name, src))
}

// expr evaluates e and returns the register (a real architecture
// register or a not-yet-coloured temporary) its value ends up in.
func (g *Generator) expr(e ir.Expr) string {
	switch n := e.(type) {
	case *ir.ConstInt:
		t := g.idgen.NewTemp().Name
		g.emit(arch.A64MoveInt(t, n.Value))
		return t
	case *ir.ConstFloat:
		utils.Fatal("codegen: floating-point values are not supported by this target")
		return ""
	case *ir.Temp:
		return n.Name
	case *ir.DataAddr:
		t := g.idgen.NewTemp().Name
		g.emit(arch.A64LoadEffective(t, n.Label))
		return t
	case *ir.Binary:
		return g.binary(n)
	case *ir.Mem:
		base, offset := g.address(n.Addr)
		t := g.idgen.NewTemp().Name
		g.emit(arch.A64LoadImmediate(t, base, offset))
		return t
	case *ir.Call:
		return g.call(n)
	case *ir.ESeq:
		utils.Fatal("codegen: ESeq survived canonicalisation")
		return ""
	}
	utils.ShouldNotReachHere()
	return ""
}

func (g *Generator) binary(n *ir.Binary) string {
	right := g.expr(n.Right)
	left := g.expr(n.Left)
	g.emit(binaryInstr(n.Op, left, right))
	return left
}

func binaryInstr(op ir.BinOp, dst, src string) arch.Instr {
	switch op {
	case ir.OpPlus:
		return arch.A64Add(dst, src)
	case ir.OpMinus:
		return arch.A64Sub(dst, src)
	case ir.OpMul:
		return arch.A64Mul(dst, src)
	case ir.OpDiv:
		return arch.A64Div(dst, src)
	case ir.OpAnd:
		return arch.A64And(dst, src)
	case ir.OpOr:
		return arch.A64Or(dst, src)
	case ir.OpXor:
		return arch.A64Xor(dst, src)
	}
	utils.ShouldNotReachHere()
	return nil
}

// call lowers a Call: arguments are evaluated left-to-right and moved
// into the argument registers in order (spilling beyond them is out of
// scope, matching the frame's own parameter-binding limit), then a
// direct branch-and-link; the callee's result is read from the return
// register.
func (g *Generator) call(n *ir.Call) string {
	argRegs := arch.ARM64Registers.Argument
	utils.Assert(len(n.Args) <= len(argRegs), "codegen: call to %s has more arguments than argument registers", n.Name)
	values := make([]string, len(n.Args))
	for i, a := range n.Args {
		values[i] = g.expr(a)
	}
	for i, v := range values {
		g.emit(arch.A64Move(argRegs[i], v))
	}
	g.emit(arch.A64Call(frame.Prefixed(n.Name)))
	return arch.ARM64Registers.Return
}

// address resolves a Binary(+, base, ConstInt offset) memory address
// expression into a (register, offset) pair, recursively materialising
// base first when it is itself a Mem or another computed expression
// (a multi-hop access chain nests a field dereference directly inside
// the next hop's address rather than an intervening named temp).
func (g *Generator) address(addr ir.Expr) (string, int64) {
	bin, ok := addr.(*ir.Binary)
	utils.Assert(ok && bin.Op == ir.OpPlus, "codegen: malformed memory address %s", addr)
	base := g.expr(bin.Left)
	off, ok := bin.Right.(*ir.ConstInt)
	utils.Assert(ok, "codegen: memory address offset must be constant")
	return base, off.Value
}
