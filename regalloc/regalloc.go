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

// Package regalloc assigns a concrete register to every temporary in a
// finished instruction stream, given the interference graph liveness
// computed. It implements a simplify-then-select walk over the
// per-position live set rather than linear-scan: there is no spill
// path, by design (see the register-pressure limitation in the design
// notes); running out of colours is a fatal error, not a recoverable
// one.
package regalloc

import (
	"sort"

	"github.com/alythical/kyanite/arch"
	"github.com/alythical/kyanite/liveness"
	"github.com/alythical/kyanite/utils"
)

// Colors maps a temporary to the architecture register assigned to it.
// It satisfies arch.Registers so asmfmt can hand it straight to an
// instruction's Format call.
type Colors map[string]string

// Get implements arch.Registers: a name already naming an architecture
// register (anything not starting with `T`) passes through unchanged;
// a temporary must have been coloured by Allocate.
func (c Colors) Get(operand string) string {
	if arch.Reserved(operand) {
		return operand
	}
	reg, ok := c[operand]
	utils.Assert(ok, "regalloc: %s was never assigned a register", operand)
	return reg
}

// Allocate computes live ranges for instrs, builds the interference
// graph and colours every temporary, returning the assignment.
//
// The walk processes one instruction position at a time: the
// temporaries live at that position are sorted ascending by their
// global interference degree and popped highest-degree first (so the
// most-constrained temporaries get first pick of a free register,
// mirroring a simplify/select stack without materialising an explicit
// elimination order up front).
func Allocate(instrs []arch.Instr, registers arch.RegisterMap) Colors {
	graph := liveness.NewGraph(instrs)
	ranges := liveness.NewRanges(graph)
	interferences := ranges.Interferences()

	colors := make(Colors)
	palette := registers.Temporary

	for pos := range instrs {
		live := liveAt(ranges, pos)
		sort.Slice(live, func(i, j int) bool {
			return interferences[live[i]].Length() < interferences[live[j]].Length()
		})
		for i := len(live) - 1; i >= 0; i-- {
			temp := live[i]
			if _, done := colors[temp]; done {
				continue
			}
			colors[temp] = pick(temp, interferences, colors, palette)
		}
	}
	return colors
}

func liveAt(ranges liveness.Ranges, pos int) []string {
	var live []string
	for temp, vec := range ranges {
		if pos < vec.Size() && vec.IsSet(pos) {
			live = append(live, temp)
		}
	}
	sort.Strings(live) // deterministic iteration before the degree sort
	return live
}

func pick(temp string, interferences map[string]*utils.Set[string], colors Colors, palette []string) string {
	neighbors := interferences[temp]
	used := utils.NewSet[string]()
	neighbors.ForEach(func(other string) {
		if reg, ok := colors[other]; ok {
			used.Add(reg)
		}
	})
	for _, reg := range palette {
		if !used.Contains(reg) {
			return reg
		}
	}
	utils.Fatal("regalloc: ran out of registers colouring %s", temp)
	return ""
}
