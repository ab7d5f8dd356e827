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

// Package frame abstracts the per-function activation record: where a
// local variable lives relative to the frame pointer, and the
// instructions that establish and tear down that layout. The translator
// consults a Frame for every identifier it resolves; codegen consults it
// once per function, for the prologue/epilogue splice.
package frame

import (
	"fmt"

	"github.com/alythical/kyanite/arch"
	"github.com/alythical/kyanite/ir"
	"github.com/alythical/kyanite/utils"
)

// Frame is a per-function activation record. One Frame is created per
// FuncDecl by the translator and threaded through the rest of that
// function's translation.
type Frame interface {
	// Allocate assigns ident a fresh negative offset from the frame
	// pointer and returns the Mem expression addressing it. ptr
	// records whether the slot holds a managed pointer, consulted by
	// the (out of scope) stack-map emission a production GC would
	// need; the core itself does not currently read it back, but it
	// is threaded through so a future root-set emitter has it.
	Allocate(ident string, ptr bool) ir.Expr
	// Get returns the expression addressing an already-allocated
	// identifier, a Temp if it lives in an argument register that
	// was never spilled, or a Mem if it lives on the frame.
	Get(ident string) ir.Expr
	// Prologue returns the instructions that establish this frame:
	// save link/frame registers, set the frame pointer, and reserve
	// |Offset()| bytes of locals.
	Prologue() []arch.Instr
	// Epilogue returns the instructions that tear this frame down
	// and return to the caller.
	Epilogue() []arch.Instr
	// Label is the function's assembly symbol.
	Label() string
	// Offset is the current (always non-positive) extent of the
	// frame, i.e. the most negative offset handed out so far.
	Offset() int64
}

// WordSize is the slot size every Frame implementation allocates in,
// also the unit the runtime's descriptor-cell arithmetic uses.
const WordSize = 8

// Header is the assembly preamble emitted once, ahead of every
// function's instructions.
func Header() string { return arch.ARM64Header }

// Prefixed returns the assembly-visible name of an external call
// target. ARM64's ABI does not mangle C symbol names the way Mach-O
// x86-64 historically underscore-prefixed them, so this is currently
// the identity function; it exists as a seam so a second platform's
// Frame can make a different choice without touching callers.
func Prefixed(name string) string { return name }

// ARM64Frame is the concrete Frame for the one supported target.
// Arguments are assumed to fit in the argument registers (spilled
// arguments past the eighth are not handled by this back end); each
// is bound as a Temp named after its register so translate/ never has
// to special-case arguments versus locals beyond the initial lookup.
type ARM64Frame struct {
	label  string
	locals map[string]ir.Expr
	offset int64
	nargs  int
}

// NewARM64Frame creates the frame for a function named label whose
// parameters (already bound to the first len(params) argument
// registers) are params, in declaration order.
func NewARM64Frame(label string, params []string) *ARM64Frame {
	f := &ARM64Frame{label: label, locals: make(map[string]ir.Expr)}
	regs := arch.ARM64Registers.Argument
	utils.Assert(len(params) <= len(regs), "frame: %s has more parameters than argument registers (spilling is out of scope)", label)
	for i, name := range params {
		f.locals[name] = &ir.Temp{Name: regs[i]}
		f.nargs++
	}
	return f
}

func (f *ARM64Frame) Allocate(ident string, _ bool) ir.Expr {
	f.offset -= WordSize
	addr := &ir.Binary{
		Op:    ir.OpPlus,
		Left:  &ir.Temp{Name: arch.ARM64Registers.Frame},
		Right: &ir.ConstInt{Value: f.offset},
	}
	mem := &ir.Mem{Addr: addr}
	f.locals[ident] = mem
	return mem
}

func (f *ARM64Frame) Get(ident string) ir.Expr {
	e, ok := f.locals[ident]
	utils.Assert(ok, "frame: %s has no local named %q", f.label, ident)
	return e
}

func (f *ARM64Frame) Label() string { return f.label }
func (f *ARM64Frame) Offset() int64 { return f.offset }

// Prologue saves the caller's frame/link registers, establishes this
// function's frame pointer, and reserves |Offset()| bytes of locals
// beneath it. The 16-byte-aligned reservation keeps sp aligned per
// AAPCS64, which requires the stack pointer to be a multiple of 16 at
// any public function boundary.
func (f *ARM64Frame) Prologue() []arch.Instr {
	reserve := utils.Align16(int(-f.offset))
	instrs := []arch.Instr{
		arch.A64StorePair(arch.ARM64Registers.Frame, arch.ARM64Registers.Link),
		arch.A64Move(arch.ARM64Registers.Frame, arch.ARM64Registers.Stack),
	}
	if reserve > 0 {
		instrs = append(instrs, arch.A64Sub(arch.ARM64Registers.Stack, fmt.Sprintf("#%d", reserve)))
	}
	return instrs
}

// Epilogue reverses Prologue and returns to the caller.
func (f *ARM64Frame) Epilogue() []arch.Instr {
	reserve := utils.Align16(int(-f.offset))
	var instrs []arch.Instr
	if reserve > 0 {
		instrs = append(instrs, arch.A64Add(arch.ARM64Registers.Stack, fmt.Sprintf("#%d", reserve)))
	}
	instrs = append(instrs,
		arch.A64LoadPair(arch.ARM64Registers.Frame, arch.ARM64Registers.Link),
		arch.A64Ret(),
	)
	return instrs
}
