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

// Package translate lowers a type-checked AST into the tree IR: one
// Stmt per top-level declaration, still containing ESeq and unflattened
// Seq trees for package canon to clean up.
package translate

import (
	"github.com/alythical/kyanite/arch"
	"github.com/alythical/kyanite/ast"
	"github.com/alythical/kyanite/frame"
	"github.com/alythical/kyanite/ir"
	"github.com/alythical/kyanite/utils"
)

// headerCells is the number of metadata cells every heap object carries
// ahead of its fields: the runtime's alloc writes the class's descriptor
// bytes into this region itself (see runtime.Alloc), so translate only
// needs the field-offset arithmetic, never the header's contents.
const headerCells = 2

// Translator holds the state threaded through one compilation unit's
// translation: the id generator shared with codegen, the
// (out of scope) checker's resolved symbols and access chains, and the
// frame allocated for whichever function is currently being visited.
type Translator struct {
	idgen    *ir.IDGen
	symbols  *ast.SymbolTable
	accesses *ast.AccessMap
	frames   map[int]*frame.ARM64Frame
	current  *frame.ARM64Frame
}

// New creates a Translator. idgen must be the same generator codegen
// uses for this compilation, so that temp/label/ESeq ids stay
// globally unique across the whole pipeline run.
func New(symbols *ast.SymbolTable, accesses *ast.AccessMap, idgen *ir.IDGen) *Translator {
	return &Translator{
		idgen:    idgen,
		symbols:  symbols,
		accesses: accesses,
		frames:   make(map[int]*frame.ARM64Frame),
	}
}

// Frames returns the frame allocated for every translated function,
// keyed by FuncDecl.Id.
func (t *Translator) Frames() map[int]*frame.ARM64Frame { return t.frames }

// Translate lowers every declaration in order. Class and constant
// declarations carry no runtime code of their own (they only shape the
// symbol table and the descriptors codegen/runtime read) and translate
// to Noop.
func (t *Translator) Translate(decls []ast.Decl) []ir.Stmt {
	out := make([]ir.Stmt, 0, len(decls))
	for _, decl := range decls {
		out = append(out, t.translateDecl(decl))
	}
	return out
}

func (t *Translator) translateDecl(decl ast.Decl) ir.Stmt {
	switch d := decl.(type) {
	case *ast.FuncDecl:
		return t.translateFunc(d)
	case *ast.ClassDecl, *ast.ConstDecl:
		return &ir.Noop{}
	}
	utils.ShouldNotReachHere()
	return nil
}

func (t *Translator) translateFunc(decl *ast.FuncDecl) ir.Stmt {
	if decl.External {
		// An external function has no body to translate; callers
		// reach it directly by name through ir.Call.
		return &ir.Noop{}
	}
	params := make([]string, len(decl.Params))
	for i, p := range decl.Params {
		params[i] = p.Name
	}
	f := frame.NewARM64Frame(decl.Name, params)
	t.frames[decl.Id] = f
	t.current = f

	body := make([]ir.Stmt, 0, len(decl.Body)+2)
	body = append(body, &ir.Label{Name: decl.Name})
	for _, s := range decl.Body {
		body = append(body, t.translateStmt(s))
	}
	// Every path out of a function, including falling off the end of
	// a void function, reaches the same per-function epilogue label;
	// see codegen's Jump handling for the ".epilogue" convention.
	body = append(body, &ir.Jump{Target: decl.Name + ".epilogue"})
	return ir.Seqn(body...)
}

func (t *Translator) translateStmt(s ast.Stmt) ir.Stmt {
	switch n := s.(type) {
	case *ast.VarDeclStmt:
		target := t.current.Allocate(n.Name, n.Type.IsManagedPointer())
		expr := t.translateExpr(n.Init)
		return t.checkedMove(target, expr)
	case *ast.AssignStmt:
		target := t.translateExpr(n.Target)
		expr := t.translateExpr(n.Value)
		return t.checkedMove(target, expr)
	case *ast.ExprStmt:
		return &ir.ExprStmt{Expr: t.translateExpr(n.Expr)}
	case *ast.ReturnStmt:
		if n.Value == nil {
			return &ir.Noop{}
		}
		ret := &ir.Temp{Name: arch.ARM64Registers.Return}
		return t.checkedMove(ret, t.translateExpr(n.Value))
	case *ast.IfStmt:
		return t.translateIf(n)
	case *ast.WhileStmt:
		return t.translateWhile(n)
	case *ast.ForStmt:
		return t.translateFor(n)
	}
	utils.ShouldNotReachHere()
	return nil
}

// translateCondition lowers a condition expression to the (rel, left,
// right) triple a CJump needs. A comparison expression supplies its own
// relation directly; any other expression is a scalar subject to the
// truthiness tie-break: non-zero is true, i.e. `cond != 0`.
func (t *Translator) translateCondition(e ast.Expr) (ir.Rel, ir.Expr, ir.Expr) {
	if bin, ok := e.(*ast.BinaryExpr); ok && bin.Op.IsCmp() {
		return cmpRel(bin.Op), t.translateExpr(bin.Left), t.translateExpr(bin.Right)
	}
	return ir.RelNE, t.translateExpr(e), &ir.ConstInt{Value: 0}
}

func (t *Translator) translateIf(n *ast.IfStmt) ir.Stmt {
	rel, left, right := t.translateCondition(n.Cond)
	tLabel, fLabel, done := t.idgen.NewLabel(), t.idgen.NewLabel(), t.idgen.NewLabel()
	then := t.translateBlock(n.Then)
	otherwise := t.translateBlock(n.Else)
	return ir.Seqn(
		&ir.CJump{Op: rel, Left: left, Right: right, True: tLabel, False: fLabel},
		&ir.Label{Name: tLabel},
		then,
		&ir.Jump{Target: done},
		&ir.Label{Name: fLabel},
		otherwise,
		&ir.Label{Name: done},
	)
}

func (t *Translator) translateWhile(n *ast.WhileStmt) ir.Stmt {
	test := t.idgen.NewLabel()
	tLabel, fLabel := t.idgen.NewLabel(), t.idgen.NewLabel()
	rel, left, right := t.translateCondition(n.Cond)
	body := t.translateBlock(n.Body)
	return ir.Seqn(
		&ir.Label{Name: test},
		&ir.CJump{Op: rel, Left: left, Right: right, True: tLabel, False: fLabel},
		&ir.Label{Name: tLabel},
		body,
		&ir.Jump{Target: test},
		&ir.Label{Name: fLabel},
	)
}

// translateFor desugars to the same test/body/post pattern a while loop
// uses, with Init spliced ahead and Post appended to the body.
func (t *Translator) translateFor(n *ast.ForStmt) ir.Stmt {
	var initStmt ir.Stmt = &ir.Noop{}
	if n.Init != nil {
		initStmt = t.translateStmt(n.Init)
	}
	test := t.idgen.NewLabel()
	tLabel, fLabel := t.idgen.NewLabel(), t.idgen.NewLabel()
	var rel ir.Rel
	var left, right ir.Expr
	if n.Cond != nil {
		rel, left, right = t.translateCondition(n.Cond)
	} else {
		rel, left, right = ir.RelEQ, &ir.ConstInt{Value: 0}, &ir.ConstInt{Value: 0}
	}
	body := t.translateBlock(n.Body)
	var postStmt ir.Stmt = &ir.Noop{}
	if n.Post != nil {
		postStmt = t.translateStmt(n.Post)
	}
	return ir.Seqn(
		initStmt,
		&ir.Label{Name: test},
		&ir.CJump{Op: rel, Left: left, Right: right, True: tLabel, False: fLabel},
		&ir.Label{Name: tLabel},
		body,
		postStmt,
		&ir.Jump{Target: test},
		&ir.Label{Name: fLabel},
	)
}

func (t *Translator) translateBlock(stmts []ast.Stmt) ir.Stmt {
	out := make([]ir.Stmt, len(stmts))
	for i, s := range stmts {
		out[i] = t.translateStmt(s)
	}
	return ir.Seqn(out...)
}

func (t *Translator) translateExpr(e ast.Expr) ir.Expr {
	switch n := e.(type) {
	case *ast.IntLit:
		return &ir.ConstInt{Value: n.Value}
	case *ast.BoolLit:
		v := int64(0)
		if n.Value {
			v = 1
		}
		return &ir.ConstInt{Value: v}
	case *ast.FloatLit:
		return &ir.ConstFloat{Value: n.Value}
	case *ast.StringLit:
		utils.Unimplement()
		return nil
	case *ast.Ident:
		return t.current.Get(n.Name)
	case *ast.ParenExpr:
		return t.translateExpr(n.Inner)
	case *ast.UnaryExpr:
		return t.translateUnary(n)
	case *ast.BinaryExpr:
		utils.Assert(!n.Op.IsCmp(), "translate: comparison %s used outside a CJump condition", n.Op)
		return t.checkedBinary(binOp(n.Op), t.translateExpr(n.Left), t.translateExpr(n.Right))
	case *ast.CallExpr:
		return t.translateCall(n)
	case *ast.AccessExpr:
		return t.translateAccess(n)
	case *ast.InitExpr:
		return t.translateInit(n)
	}
	utils.ShouldNotReachHere()
	return nil
}

// translateUnary desugars the unary operators: unary minus is `0 - x`,
// logical not is `x xor 1`.
func (t *Translator) translateUnary(n *ast.UnaryExpr) ir.Expr {
	operand := t.translateExpr(n.Operand)
	switch n.Op {
	case ast.OpNeg:
		return t.checkedBinary(ir.OpMinus, &ir.ConstInt{Value: 0}, operand)
	case ast.OpNot:
		return t.checkedBinary(ir.OpXor, operand, &ir.ConstInt{Value: 1})
	}
	utils.ShouldNotReachHere()
	return nil
}

// translateCall evaluates arguments left-to-right (so that in the
// presence of side effects the leftmost-apparent effect occurs first)
// and emits Call(name, args).
func (t *Translator) translateCall(n *ast.CallExpr) ir.Expr {
	args := make([]ir.Expr, len(n.Args))
	for i, a := range n.Args {
		args[i] = t.translateExpr(a)
	}
	return &ir.Call{Name: n.Name, Args: args}
}

// translateAccess walks a resolved access chain, producing nested Mem
// dereferences for every intermediate hop (each is a pointer field read
// from the previous object) and a final Mem addressing the target
// field itself.
func (t *Translator) translateAccess(n *ast.AccessExpr) ir.Expr {
	steps, ok := t.accesses.Lookup(n.Id)
	utils.Assert(ok, "translate: access node %d has no resolved chain", n.Id)
	utils.Assert(len(steps) > 0, "translate: access node %d resolved to an empty chain", n.Id)

	base := t.baseOf(n)
	current := t.current.Get(base)
	for i, step := range steps {
		cls, ok := t.symbols.Class(step.Class)
		utils.Assert(ok, "translate: unknown class %q in access chain", step.Class)
		index, _, ok := cls.FieldOffset(step.Field)
		utils.Assert(ok, "translate: class %q has no field %q", step.Class, step.Field)
		offset := int64(headerCells+index) * frame.WordSize
		addr := &ir.Binary{Op: ir.OpPlus, Left: current, Right: &ir.ConstInt{Value: offset}}
		if i == len(steps)-1 {
			return &ir.Mem{Addr: addr}
		}
		current = &ir.Mem{Addr: addr}
	}
	utils.ShouldNotReachHere()
	return nil
}

// baseOf walks down an access chain's Base expressions to the root
// identifier the chain starts from.
func (t *Translator) baseOf(n *ast.AccessExpr) string {
	cur := n.Base
	for {
		switch b := cur.(type) {
		case *ast.Ident:
			return b.Name
		case *ast.AccessExpr:
			cur = b.Base
		case *ast.ParenExpr:
			cur = b.Inner
		default:
			utils.Fatal("translate: access chain does not bottom out in an identifier")
			return ""
		}
	}
}

// translateInit lowers `T: init(...)`: call the runtime allocator for a
// fresh heap object sized to the class's flattened field count, emit a
// move into each of its field slots, and evaluate to the returned
// pointer. The class's field descriptor is emitted as a data symbol by
// the compiler driver (see compiler.descriptors) and referenced here by
// name; the runtime writes it into the object's header cells itself, so
// translate never has to (see runtime.Alloc).
func (t *Translator) translateInit(n *ast.InitExpr) ir.Expr {
	cls, ok := t.symbols.Class(n.Class)
	utils.Assert(ok, "translate: unknown class %q in initializer", n.Class)

	ptr := t.idgen.NewTemp()
	alloc := &ir.Call{
		Name: "alloc",
		Args: []ir.Expr{
			&ir.DataAddr{Label: DescriptorLabel(cls.Name)},
			&ir.Temp{Name: arch.ARM64Registers.Frame},
			&ir.ConstInt{Value: t.current.Offset()},
		},
	}

	stmts := make([]ir.Stmt, 0, len(n.Names)+1)
	stmts = append(stmts, &ir.Move{Target: ptr, Expr: alloc})
	for i, fieldName := range n.Names {
		index, _, ok := cls.FieldOffset(fieldName)
		utils.Assert(ok, "translate: class %q has no field %q", n.Class, fieldName)
		offset := int64(headerCells+index) * frame.WordSize
		slot := &ir.Mem{Addr: &ir.Binary{Op: ir.OpPlus, Left: ptr, Right: &ir.ConstInt{Value: offset}}}
		value := t.translateExpr(n.Values[i])
		stmts = append(stmts, t.checkedMove(slot, value))
	}

	return &ir.ESeq{Stmt: ir.Seqn(stmts...), Expr: ptr, Id: t.idgen.NewESeqID()}
}

// DescriptorLabel is the assembly symbol a class's field descriptor
// string is emitted under; translate and the compiler driver must agree
// on it without either importing the other.
func DescriptorLabel(class string) string { return class + ".descriptor" }

// fix interposes a fresh temporary so that expr, which would otherwise
// be read directly from memory in a context that requires a register
// operand, is materialised first. It returns an ESeq evaluating the
// load then yielding the temp.
func (t *Translator) fix(expr ir.Expr) ir.Expr {
	temp := t.idgen.NewTemp()
	return &ir.ESeq{
		Stmt: &ir.Move{Target: temp, Expr: expr},
		Expr: temp,
		Id:   t.idgen.NewESeqID(),
	}
}

// checkedMove guards against a memory-to-memory IR Move: when target is
// a Mem and expr is itself a Mem (or an ESeq yielding one), the source
// is routed through a fresh temp first.
func (t *Translator) checkedMove(target ir.Expr, expr ir.Expr) ir.Stmt {
	if _, ok := target.(*ir.Mem); ok {
		expr = t.guardMemSource(expr)
	}
	return &ir.Move{Target: target, Expr: expr}
}

// checkedBinary applies the same guard to a Binary's right operand
// when its left operand is a Mem.
func (t *Translator) checkedBinary(op ir.BinOp, left, right ir.Expr) ir.Expr {
	if _, ok := left.(*ir.Mem); ok {
		right = t.guardMemSource(right)
	}
	return &ir.Binary{Op: op, Left: left, Right: right}
}

func (t *Translator) guardMemSource(expr ir.Expr) ir.Expr {
	switch e := expr.(type) {
	case *ir.Mem:
		return t.fix(e)
	case *ir.ESeq:
		if _, ok := e.Expr.(*ir.Mem); ok {
			// Keep the ESeq's own statement: the load through the
			// fresh temp happens after it, not instead of it.
			temp := t.idgen.NewTemp()
			return &ir.ESeq{
				Stmt: ir.Seqn(e.Stmt, &ir.Move{Target: temp, Expr: e.Expr}),
				Expr: temp,
				Id:   t.idgen.NewESeqID(),
			}
		}
		return e
	default:
		return expr
	}
}

func binOp(op ast.BinOp) ir.BinOp {
	switch op {
	case ast.OpAdd:
		return ir.OpPlus
	case ast.OpSub:
		return ir.OpMinus
	case ast.OpMul:
		return ir.OpMul
	case ast.OpDiv:
		return ir.OpDiv
	}
	utils.ShouldNotReachHere()
	return 0
}

func cmpRel(op ast.BinOp) ir.Rel {
	switch op {
	case ast.OpEq:
		return ir.RelEQ
	case ast.OpNe:
		return ir.RelNE
	case ast.OpLt:
		return ir.RelLT
	case ast.OpLe:
		return ir.RelLE
	case ast.OpGt:
		return ir.RelGT
	case ast.OpGe:
		return ir.RelGE
	}
	utils.ShouldNotReachHere()
	return 0
}
