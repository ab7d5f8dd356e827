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
package asmfmt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alythical/kyanite/arch"
	"github.com/alythical/kyanite/frame"
)

type fakeRegisters map[string]string

func (f fakeRegisters) Get(operand string) string {
	if r, ok := f[operand]; ok {
		return r
	}
	return operand
}

func TestRenderPrefixesHeaderAndSubstitutesRegisters(t *testing.T) {
	instrs := []arch.Instr{
		arch.A64MoveInt("T0", 19),
		arch.A64Move("x0", "T0"),
	}
	out := Render(instrs, fakeRegisters{"T0": "x9"})
	require.True(t, strings.HasPrefix(out, frame.Header()))
	assert.Contains(t, out, "mov x9, #19")
	assert.Contains(t, out, "mov x0, x9")
	assert.NotContains(t, out, "T0")
}

func TestRenderEmptyInstrsYieldsJustHeader(t *testing.T) {
	out := Render(nil, fakeRegisters{})
	assert.Equal(t, frame.Header(), out)
}

func TestRenderDataEmitsRodataSection(t *testing.T) {
	instrs := []arch.Instr{
		arch.A64Label("Pair.descriptor"),
		arch.A64Data("asciz", `"ps"`),
	}
	out := RenderData(instrs)
	require.True(t, strings.HasPrefix(out, "        .section .rodata\n"))
	assert.Contains(t, out, "Pair.descriptor:")
	assert.Contains(t, out, `.asciz "ps"`)
}

func TestRenderDataEmptyInstrsYieldsEmptyString(t *testing.T) {
	assert.Equal(t, "", RenderData(nil))
}
