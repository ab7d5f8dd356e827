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

// Package asmfmt renders a coloured instruction stream as the final
// assembly text: the one place register-shaped operands are
// substituted for their assigned colours and the architecture's
// textual form is produced.
package asmfmt

import (
	"strings"

	"github.com/alythical/kyanite/arch"
	"github.com/alythical/kyanite/frame"
)

// Render substitutes registers is into every instruction in instrs and
// concatenates their textual forms, one per line, prefixed by the
// target's assembly header.
func Render(instrs []arch.Instr, registers arch.Registers) string {
	var b strings.Builder
	b.WriteString(frame.Header())
	for _, instr := range instrs {
		b.WriteString(instr.Format(registers).String())
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderData renders label/data directive pairs (e.g. a class's field
// descriptor string) under a `.rodata` section, ahead of the `.text`
// section Render emits. Labels and data directives carry no
// register-shaped operands, so no colouring is threaded through here.
func RenderData(instrs []arch.Instr) string {
	if len(instrs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("        .section .rodata\n")
	for _, instr := range instrs {
		b.WriteString(instr.String())
		b.WriteByte('\n')
	}
	return b.String()
}
