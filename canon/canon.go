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

// Package canon rewrites the translator's tree IR into the linear,
// ESeq-free form codegen expects: every statement-embedded expression is
// lifted ahead of the statement that contains it, every Seq is flattened,
// and the resulting blocks are traced into an order that keeps a CJump's
// false branch physically adjacent whenever that is possible at all.
package canon

import (
	"github.com/alythical/kyanite/ir"
	"github.com/alythical/kyanite/utils"
)

// Canonicalize lowers decls, one Stmt tree per translated declaration in
// source order, into a single flat, ESeq-free, block-traced statement
// list. Unlike the upstream two-pass extract-then-id-keyed-replace
// design, lifting and substitution happen in one recursive walk here:
// the id recorded on each ESeq exists for snapshot debugging, not for
// this step, since a structural replacement needs no key at all.
func Canonicalize(decls []ir.Stmt) []ir.Stmt {
	var flat []ir.Stmt
	for _, d := range decls {
		for _, s := range extractStmt(d) {
			// Class, constant and external-function declarations
			// translate to Noop; they carry no code into any block.
			if _, ok := s.(*ir.Noop); ok {
				continue
			}
			flat = append(flat, s)
		}
	}
	blocks := split(flat)
	return trace(blocks)
}

// extractStmt flattens one Stmt (possibly a Seq spine) into an ordered
// list of ESeq-free leaf statements, in leaves-first evaluation order.
func extractStmt(s ir.Stmt) []ir.Stmt {
	switch n := s.(type) {
	case *ir.Seq:
		out := extractStmt(n.Left)
		if n.Right != nil {
			out = append(out, extractStmt(n.Right)...)
		}
		return out
	case *ir.Move:
		pre, target := liftExpr(n.Target)
		pre2, expr := liftExpr(n.Expr)
		out := append(pre, pre2...)
		return append(out, &ir.Move{Target: target, Expr: expr})
	case *ir.ExprStmt:
		pre, expr := liftExpr(n.Expr)
		return append(pre, &ir.ExprStmt{Expr: expr})
	case *ir.CJump:
		lp, left := liftExpr(n.Left)
		rp, right := liftExpr(n.Right)
		out := append(lp, rp...)
		return append(out, &ir.CJump{Op: n.Op, Left: left, Right: right, True: n.True, False: n.False})
	case *ir.Label, *ir.Jump, *ir.Noop:
		return []ir.Stmt{s}
	}
	utils.ShouldNotReachHere()
	return nil
}

// liftExpr walks e's children first, collecting the prefix statements
// any nested ESeq needs lifted ahead of it, then (if e is itself an
// ESeq) lifts e's own statement and substitutes e for its yielded
// expression.
func liftExpr(e ir.Expr) ([]ir.Stmt, ir.Expr) {
	switch n := e.(type) {
	case *ir.ConstInt, *ir.ConstFloat, *ir.Temp, *ir.DataAddr, nil:
		return nil, e
	case *ir.Binary:
		lp, left := liftExpr(n.Left)
		rp, right := liftExpr(n.Right)
		return append(lp, rp...), &ir.Binary{Op: n.Op, Left: left, Right: right}
	case *ir.Mem:
		pre, addr := liftExpr(n.Addr)
		return pre, &ir.Mem{Addr: addr}
	case *ir.Call:
		var pre []ir.Stmt
		args := make([]ir.Expr, len(n.Args))
		for i, a := range n.Args {
			p, ae := liftExpr(a)
			pre = append(pre, p...)
			args[i] = ae
		}
		return pre, &ir.Call{Name: n.Name, Args: args}
	case *ir.ESeq:
		pre := extractStmt(n.Stmt)
		p, expr := liftExpr(n.Expr)
		return append(pre, p...), expr
	}
	utils.ShouldNotReachHere()
	return nil, e
}

// block is one basic block: a Label followed by straight-line code,
// ending in exactly one Jump or CJump.
type block struct {
	label string
	body  []ir.Stmt
}

func (b *block) terminator() ir.Stmt { return b.body[len(b.body)-1] }

// split divides flat at labels and control transfers: every block
// starts with the Label that opens it and ends with the Jump or CJump
// that closes it. A block that would fall off its end into the next
// label (an if statement's else arm falling into the join label, say)
// gets an explicit Jump to that label, so the tracer is free to
// reorder blocks without changing what the fall-through meant.
func split(flat []ir.Stmt) []*block {
	var blocks []*block
	var cur *block
	for _, s := range flat {
		if lbl, ok := s.(*ir.Label); ok {
			if cur != nil {
				cur.body = append(cur.body, &ir.Jump{Target: lbl.Name})
			}
			cur = &block{label: lbl.Name}
			blocks = append(blocks, cur)
			cur.body = append(cur.body, s)
			continue
		}
		utils.Assert(cur != nil, "canon: statement outside any block: %s", s)
		cur.body = append(cur.body, s)
		if isTerminator(s) {
			cur = nil
		}
	}
	utils.Assert(cur == nil, "canon: final block %q is unterminated", label(cur))
	return blocks
}

func label(b *block) string {
	if b == nil {
		return ""
	}
	return b.label
}

func isTerminator(s ir.Stmt) bool {
	switch s.(type) {
	case *ir.Jump, *ir.CJump:
		return true
	}
	return false
}

// trace schedules blocks into the order codegen emits them in, keeping
// a CJump's false branch (or a plain Jump's target) physically adjacent
// whenever an unvisited candidate is available, inverting the
// condition when only the true branch remains reachable that way. When
// neither of a CJump's targets is still unvisited the block is emitted
// as-is and scheduling resumes from an arbitrary remaining block; since
// every terminator here already names its destinations explicitly,
// nothing further needs rewriting in that case.
func trace(blocks []*block) []ir.Stmt {
	byLabel := make(map[string]*block, len(blocks))
	for _, b := range blocks {
		byLabel[b.label] = b
	}
	visited := make(map[string]bool, len(blocks))
	var out []ir.Stmt

	next := func() *block {
		for _, b := range blocks {
			if !visited[b.label] {
				return b
			}
		}
		return nil
	}

	cur := next()
	for cur != nil {
		visited[cur.label] = true
		body := cur.body
		switch term := cur.terminator().(type) {
		case *ir.CJump:
			if f := byLabel[term.False]; f != nil && !visited[f.label] {
				// False is already the candidate; nothing to invert.
			} else if t := byLabel[term.True]; t != nil && !visited[t.label] {
				body = append(append([]ir.Stmt{}, body[:len(body)-1]...), &ir.CJump{
					Op:    term.Op.Negate(),
					Left:  term.Left,
					Right: term.Right,
					True:  term.False,
					False: term.True,
				})
			}
		case *ir.Jump:
			// Target is named explicitly regardless of scheduling order.
		}
		out = append(out, body...)

		switch term := cur.terminator().(type) {
		case *ir.CJump:
			if f := byLabel[term.False]; f != nil && !visited[f.label] {
				cur = f
				continue
			}
			if t := byLabel[term.True]; t != nil && !visited[t.label] {
				cur = t
				continue
			}
		case *ir.Jump:
			if tgt := byLabel[term.Target]; tgt != nil && !visited[tgt.label] {
				cur = tgt
				continue
			}
		}
		cur = next()
	}
	return out
}
