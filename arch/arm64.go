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
package arch

import (
	"fmt"
	"strings"
)

// ARM64Registers is the AAPCS64 register file, partitioned the way the
// frame and allocator need: ten callee-saved slots, seven scratch
// temporaries the colourer may hand out, eight argument registers, x0
// as the return register, sp/x29/x30 as stack/frame/link, and the zero
// register as a discard sink for instructions whose result is unused.
var ARM64Registers = RegisterMap{
	Callee:    []string{"x19", "x20", "x21", "x22", "x23", "x24", "x25", "x26", "x27", "x28"},
	Temporary: []string{"x9", "x10", "x11", "x12", "x13", "x14", "x15"},
	Argument:  []string{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"},
	Return:    "x0",
	Stack:     "sp",
	Frame:     "x29",
	Link:      "x30",
	Discard:   "xzr",
}

// ARM64Header is the assembly preamble every compiled program's output
// is prefixed with before any function body.
const ARM64Header = "        .text\n        .align 2\n"

// pad is the indentation every non-label ARM64 instruction text form
// carries; labels sit at column 0.
const pad = "        "

// A64 is one ARM64 instruction. The zero value of each variant's fields
// holds plain operand text (a register name, temp name, or immediate);
// Format is the only place those fields ever change.
type A64 struct {
	op     a64op
	dst    string
	src    string
	offset int64
	rel    *Rel
	label  string
}

type a64op int

const (
	opData a64op = iota
	opLabel
	opLoadImmediate
	opStoreImmediate
	opLoadEffective
	opStorePair
	opLoadPair
	opAdd
	opSub
	opMul
	opDiv
	opAnd
	opOr
	opXor
	opMove
	opMoveImm
	opBranch
	opBranchLink
	opCall
	opCompare
	opRet
)

// A64Label declares a symbol at the current position.
func A64Label(name string) *A64 { return &A64{op: opLabel, label: name} }

// A64Data emits a directive such as `.quad`/`.asciz`; kind is the
// directive name (without the leading dot) and value its operand text.
func A64Data(kind, value string) *A64 { return &A64{op: opData, dst: kind, src: value} }

// A64LoadImmediate loads from [src, #offset] into dst.
func A64LoadImmediate(dst, src string, offset int64) *A64 {
	return &A64{op: opLoadImmediate, dst: dst, src: src, offset: offset}
}

// A64StoreImmediate stores src into [dst, #offset].
func A64StoreImmediate(src, dst string, offset int64) *A64 {
	return &A64{op: opStoreImmediate, dst: dst, src: src, offset: offset}
}

// A64LoadEffective materialises the address of label into dst via the
// page/page-offset relocation pair.
func A64LoadEffective(dst, label string) *A64 {
	return &A64{op: opLoadEffective, dst: dst, label: label}
}

func A64StorePair(r1, r2 string) *A64 { return &A64{op: opStorePair, dst: r1, src: r2} }
func A64LoadPair(r1, r2 string) *A64  { return &A64{op: opLoadPair, dst: r1, src: r2} }

func A64Add(dst, src string) *A64 { return &A64{op: opAdd, dst: dst, src: src} }
func A64Sub(dst, src string) *A64 { return &A64{op: opSub, dst: dst, src: src} }
func A64Mul(dst, src string) *A64 { return &A64{op: opMul, dst: dst, src: src} }
func A64Div(dst, src string) *A64 { return &A64{op: opDiv, dst: dst, src: src} }
func A64And(dst, src string) *A64 { return &A64{op: opAnd, dst: dst, src: src} }
func A64Or(dst, src string) *A64  { return &A64{op: opOr, dst: dst, src: src} }
func A64Xor(dst, src string) *A64 { return &A64{op: opXor, dst: dst, src: src} }

func A64Move(dst, src string) *A64 { return &A64{op: opMove, dst: dst, src: src} }
func A64MoveInt(dst string, value int64) *A64 {
	return &A64{op: opMoveImm, dst: dst, offset: value}
}

// A64Branch is an unconditional `b`.
func A64Branch(label string) *A64 { return &A64{op: opBranch, label: label} }

// A64CBranch is a conditional `b<rel>`.
func A64CBranch(label string, rel Rel) *A64 { return &A64{op: opBranch, label: label, rel: &rel} }

func A64BranchLink(label string) *A64 { return &A64{op: opBranchLink, label: label} }
func A64Call(name string) *A64        { return &A64{op: opCall, label: name} }
func A64Compare(lhs, rhs string) *A64 { return &A64{op: opCompare, dst: lhs, src: rhs} }
func A64Ret() *A64                    { return &A64{op: opRet} }

func (i *A64) Defines() []string {
	switch i.op {
	case opLoadImmediate, opLoadEffective, opAdd, opSub, opMul, opDiv, opAnd, opOr, opXor, opMove, opMoveImm:
		return []string{i.dst}
	case opLoadPair:
		return []string{i.dst, i.src}
	default:
		return nil
	}
}

func (i *A64) Uses() []string {
	switch i.op {
	case opStoreImmediate:
		if i.dst == "x29" {
			return []string{i.src}
		}
		return []string{i.src, i.dst}
	case opLoadImmediate:
		if i.src == "x29" {
			return []string{i.dst}
		}
		return []string{i.dst, i.src}
	case opMove:
		return []string{i.src}
	case opStorePair:
		return []string{i.dst, i.src}
	case opAdd, opSub, opMul, opDiv, opAnd, opOr, opXor:
		return []string{i.dst, i.src}
	case opCompare:
		return []string{i.dst, i.src}
	default:
		return nil
	}
}

// Jump reports whether this instruction is a control-transfer for CFG
// purposes. A plain external call (opCall, "bl <extern>") is not: it
// always returns, so the instruction after it is reached exactly like
// any non-transfer. Only explicit branches (conditional or not) count.
func (i *A64) Jump() bool { return i.op == opBranch || i.op == opBranchLink }

func (i *A64) To() string {
	switch i.op {
	case opBranch, opBranchLink:
		return i.label
	default:
		return ""
	}
}

// Conditional reports whether this is a conditional branch (b<cond>),
// as opposed to a plain unconditional b/bl. The liveness CFG's
// fall-through fix-up only strips the fall-through edge for the
// unconditional case.
func (i *A64) Conditional() bool { return i.op == opBranch && i.rel != nil }

func (i *A64) Label() string {
	if i.op == opLabel {
		return i.label
	}
	return ""
}

// Format substitutes every register-shaped operand through registers.
// The frame pointer x29 is an architecture register, not a temporary,
// and always passes through unchanged.
func (i *A64) Format(registers Registers) Instr {
	get := func(operand string) string {
		if operand == "" || Reserved(operand) {
			return operand
		}
		return registers.Get(operand)
	}
	out := *i
	switch i.op {
	case opLoadImmediate, opStoreImmediate:
		out.dst, out.src = get(i.dst), get(i.src)
	case opLoadEffective:
		out.dst = get(i.dst)
	case opStorePair, opLoadPair:
		out.dst, out.src = get(i.dst), get(i.src)
	case opAdd, opSub, opMul, opDiv, opAnd, opOr, opXor:
		out.dst, out.src = get(i.dst), get(i.src)
	case opMove:
		out.dst, out.src = get(i.dst), get(i.src)
	case opMoveImm:
		out.dst = get(i.dst)
	case opCompare:
		out.dst, out.src = get(i.dst), get(i.src)
	}
	return &out
}

func (i *A64) String() string {
	switch i.op {
	case opData:
		return fmt.Sprintf("%s.%s %s", pad, i.dst, i.src)
	case opLabel:
		return i.label + ":"
	case opLoadImmediate:
		return fmt.Sprintf("%sldr %s, [%s, #%d]", pad, i.dst, i.src, i.offset)
	case opStoreImmediate:
		return fmt.Sprintf("%sstr %s, [%s, #%d]", pad, i.src, i.dst, i.offset)
	case opLoadEffective:
		return fmt.Sprintf("%sadrp %s, %s@PAGE\n%sadd %s, %s, %s@PAGEOFF",
			pad, i.dst, i.label, pad, i.dst, i.dst, i.label)
	case opStorePair:
		return fmt.Sprintf("%sstp %s, %s, [sp, #-16]!", pad, i.dst, i.src)
	case opLoadPair:
		return fmt.Sprintf("%sldp %s, %s, [sp], #16", pad, i.dst, i.src)
	case opAdd:
		return fmt.Sprintf("%sadd %s, %s, %s", pad, i.dst, i.dst, i.src)
	case opSub:
		return fmt.Sprintf("%ssub %s, %s, %s", pad, i.dst, i.dst, i.src)
	case opMul:
		return fmt.Sprintf("%smul %s, %s, %s", pad, i.dst, i.dst, i.src)
	case opDiv:
		return fmt.Sprintf("%ssdiv %s, %s, %s", pad, i.dst, i.dst, i.src)
	case opAnd:
		return fmt.Sprintf("%sand %s, %s, %s", pad, i.dst, i.dst, i.src)
	case opOr:
		return fmt.Sprintf("%sorr %s, %s, %s", pad, i.dst, i.dst, i.src)
	case opXor:
		return fmt.Sprintf("%seor %s, %s, %s", pad, i.dst, i.dst, i.src)
	case opMove:
		return fmt.Sprintf("%smov %s, %s", pad, i.dst, i.src)
	case opMoveImm:
		return fmt.Sprintf("%smov %s, #%d", pad, i.dst, i.offset)
	case opBranch:
		if i.rel != nil {
			return fmt.Sprintf("%sb%s %s", pad, i.rel, i.label)
		}
		return fmt.Sprintf("%sb %s", pad, i.label)
	case opBranchLink:
		return fmt.Sprintf("%sbl %s", pad, i.label)
	case opCall:
		return fmt.Sprintf("%sbl %s", pad, i.label)
	case opCompare:
		return fmt.Sprintf("%scmp %s, %s", pad, i.dst, i.src)
	case opRet:
		return fmt.Sprintf("%sret", pad)
	}
	return "<bad-instr>"
}

// IsEpilogueLabel reports whether name is a synthesised per-function
// epilogue label, the `<name>.epilogue` convention codegen emits.
func IsEpilogueLabel(name string) bool {
	return strings.HasSuffix(name, "epilogue")
}
