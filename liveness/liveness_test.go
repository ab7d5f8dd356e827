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
package liveness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alythical/kyanite/arch"
)

// straightLineInstrs: T0 is defined at 0, used at 1; T1 is defined at
// 2 and never used again (a dead store).
func straightLineInstrs() []arch.Instr {
	return []arch.Instr{
		arch.A64MoveInt("T0", 1),
		arch.A64Compare("T0", "T0"),
		arch.A64MoveInt("T1", 2),
	}
}

func TestLivenessStraightLine(t *testing.T) {
	g := NewGraph(straightLineInstrs())
	ranges := NewRanges(g)

	t0 := ranges.Get("T0")
	assert.False(t, t0.IsSet(0), "the defining instruction itself is not live")
	assert.True(t, t0.IsSet(1), "T0 is used at 1")
	assert.False(t, t0.IsSet(2), "T0 is dead past its only use")

	t1 := ranges.Get("T1")
	for i := 0; i < 3; i++ {
		assert.False(t, t1.IsSet(i), "T1 is never used, so it is never live")
	}
}

func TestLivenessGetUnknownTempPanics(t *testing.T) {
	g := NewGraph(straightLineInstrs())
	ranges := NewRanges(g)
	assert.Panics(t, func() { ranges.Get("T99") })
}

func TestInterferencesEdgeWhenSimultaneouslyLive(t *testing.T) {
	instrs := []arch.Instr{
		arch.A64MoveInt("T0", 1),
		arch.A64MoveInt("T1", 2),
		arch.A64Compare("T0", "T1"),
		arch.A64Compare("T0", "T0"),
	}
	g := NewGraph(instrs)
	ranges := NewRanges(g)
	inter := ranges.Interferences()
	require.Contains(t, inter, "T0")
	assert.True(t, inter["T0"].Contains("T1"))
	assert.True(t, inter["T1"].Contains("T0"))
}

func TestInterferencesNoEdgeWhenNeverSimultaneouslyLive(t *testing.T) {
	instrs := []arch.Instr{
		arch.A64MoveInt("T0", 1),
		arch.A64Compare("T0", "T0"),
		arch.A64MoveInt("T1", 2),
		arch.A64Compare("T1", "T1"),
	}
	g := NewGraph(instrs)
	ranges := NewRanges(g)
	inter := ranges.Interferences()
	assert.False(t, inter["T0"].Contains("T1"))
	assert.False(t, inter["T1"].Contains("T0"))
}

func TestTemporariesExcludesReservedRegisters(t *testing.T) {
	instrs := []arch.Instr{
		arch.A64MoveInt("T0", 1),
		arch.A64Move("x0", "T0"),
	}
	g := NewGraph(instrs)
	temps := g.Temporaries()
	assert.ElementsMatch(t, []string{"T0"}, temps)
}

// A conditional branch forward into another block: T0 must stay live across
// the branch and through the taken block, since the CFG (not mere
// textual adjacency) drives the backward dataflow.
func TestConditionalBranchCarriesLivenessAcrossBlocks(t *testing.T) {
	// 0: L0:
	// 1: T0 <- 1
	// 2: cmp T0, T0
	// 3: b.eq L1
	// 4: b L2
	// 5: L1:
	// 6: cmp T0, T0
	// 7: L2:
	instrs := []arch.Instr{
		arch.A64Label("L0"),
		arch.A64MoveInt("T0", 1),
		arch.A64Compare("T0", "T0"),
		arch.A64CBranch("L1", arch.RelEQ),
		arch.A64Branch("L2"),
		arch.A64Label("L1"),
		arch.A64Compare("T0", "T0"),
		arch.A64Label("L2"),
	}
	g := NewGraph(instrs)
	ranges := NewRanges(g)
	t0 := ranges.Get("T0")

	assert.True(t, t0.IsSet(2), "used directly at the first cmp")
	assert.True(t, t0.IsSet(3), "live across the conditional branch")
	assert.True(t, t0.IsSet(5), "live into L1's block via the taken edge")
	assert.True(t, t0.IsSet(6), "used again inside L1's block")

	assert.False(t, t0.IsSet(0), "label carries no liveness by itself")
	assert.False(t, t0.IsSet(1), "the defining instruction is excluded")
	assert.False(t, t0.IsSet(4), "never reached by backward propagation from a use")
	assert.False(t, t0.IsSet(7), "dead past the last use")
}

func TestUnconditionalJumpStripsFallThroughUnlessLabelMatches(t *testing.T) {
	// An unconditional jump whose target is NOT the very next instruction's
	// label must not treat the next instruction as a CFG successor.
	instrs := []arch.Instr{
		arch.A64MoveInt("T0", 1),
		arch.A64Branch("L9"),
		arch.A64MoveInt("T1", 2), // unreachable via fall-through
		arch.A64Label("L9"),
		arch.A64Compare("T0", "T0"),
	}
	g := NewGraph(instrs)
	assert.Equal(t, []int{3}, g.adj[1], "the jump's only successor is L9, not the next instruction")
	ranges := NewRanges(g)
	t1 := ranges.Get("T1")
	// T1 is defined at 2 but never used; it must not be considered live
	// anywhere.
	for i := range instrs {
		assert.False(t, t1.IsSet(i))
	}
}
