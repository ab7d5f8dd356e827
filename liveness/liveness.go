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

// Package liveness builds the control-flow graph over a finished
// instruction stream and runs, per temporary, the worklist dataflow
// that decides where it is live. The result feeds regalloc's
// interference graph directly.
package liveness

import (
	"github.com/alythical/kyanite/arch"
	"github.com/alythical/kyanite/utils"
)

// conditional is satisfied by arch.Instr implementations (currently
// just *arch.A64) that can tell a conditional branch from an
// unconditional one; the CFG fix-up needs the distinction even though
// the base arch.Instr interface does not expose it.
type conditional interface {
	Conditional() bool
}

// Graph is the CFG over one finished instruction stream: adj[i] holds
// the successor positions of instruction i.
type Graph struct {
	instrs []arch.Instr
	adj    map[int][]int
}

// NewGraph builds the CFG for instrs, which must be the final emitted
// instruction sequence for an entire compilation unit (every function
// concatenated), exactly as liveness is computed across the whole
// stream rather than per function.
func NewGraph(instrs []arch.Instr) *Graph {
	g := &Graph{instrs: instrs, adj: make(map[int][]int)}
	if len(instrs) == 0 {
		return g
	}
	g.build()
	g.restore()
	return g
}

func (g *Graph) labelIndex(name string) int {
	for i, instr := range g.instrs {
		if instr.Label() == name {
			return i
		}
	}
	utils.Fatal("liveness: no instruction labelled %q", name)
	return -1
}

// build does a breadth-first walk from instruction 0, recording for
// each visited position its successors: the target of any
// control-transfer, and the next position for conditional transfers
// and plain non-transfers (restore below handles the unconditional
// case).
func (g *Graph) build() {
	worklist := []int{0}
	visited := map[int]bool{}
	last := len(g.instrs) - 1
	for len(worklist) > 0 {
		cur := worklist[0]
		worklist = worklist[1:]
		instr := g.instrs[cur]
		var successors []int
		if target := instr.To(); target != "" {
			successors = append(successors, g.labelIndex(target), cur+1)
		} else {
			successors = append(successors, cur+1)
		}
		for _, next := range successors {
			g.adj[cur] = append(g.adj[cur], next)
			if !visited[next] && next < last {
				visited[next] = true
				worklist = append(worklist, next)
			}
		}
	}
}

// restore applies the unconditional-jump fix-up: the fall-through
// successor is not real unless the jump happens to target the very
// label the next instruction declares (e.g. a Jump canon's block
// splitter synthesised for a fall-through, whose target the tracer
// then scheduled right after it).
func (g *Graph) restore() {
	for from, to := range g.adj {
		instr := g.instrs[from]
		if !instr.Jump() {
			continue
		}
		if c, ok := instr.(conditional); ok && c.Conditional() {
			continue
		}
		filtered := to[:0]
		for _, x := range to {
			if x != from+1 {
				filtered = append(filtered, x)
			}
		}
		if from+1 < len(g.instrs) && g.instrs[from+1].Label() == instr.To() {
			filtered = append(filtered, from+1)
		}
		g.adj[from] = filtered
	}
}

func (g *Graph) predecessors(cur int) []int {
	var preds []int
	for from, to := range g.adj {
		for _, x := range to {
			if x == cur {
				preds = append(preds, from)
				break
			}
		}
	}
	return preds
}

func (g *Graph) uses(temp string) []int {
	var positions []int
	for i, instr := range g.instrs {
		for _, u := range instr.Uses() {
			if u == temp {
				positions = append(positions, i)
				break
			}
		}
	}
	return positions
}

func (g *Graph) defines(pos int, temp string) bool {
	for _, d := range g.instrs[pos].Defines() {
		if d == temp {
			return true
		}
	}
	return false
}

// Temporaries returns every distinct temporary name (every `T<n>`)
// mentioned as a use or a define anywhere in the stream.
func (g *Graph) Temporaries() []string {
	seen := utils.NewSet[string]()
	for _, instr := range g.instrs {
		for _, name := range instr.Uses() {
			if !arch.Reserved(name) {
				seen.Add(name)
			}
		}
		for _, name := range instr.Defines() {
			if !arch.Reserved(name) {
				seen.Add(name)
			}
		}
	}
	return seen.Slice()
}

// Liveness runs the worklist dataflow for one temporary: seed every use
// site as live, then propagate backwards along predecessors, stopping
// at any position that defines the temporary (its value there is dead
// on entry to that instruction). The result is a bitset, one bit per
// instruction position.
func (g *Graph) Liveness(temp string) *utils.BitMap {
	live := utils.NewBitMap(len(g.instrs))
	var worklist []int
	for _, site := range g.uses(temp) {
		live.Set(site)
		worklist = append(worklist, site)
	}
	for len(worklist) > 0 {
		cur := worklist[0]
		worklist = worklist[1:]
		if !g.defines(cur, temp) {
			if !live.IsSet(cur) {
				live.Set(cur)
			}
			worklist = append(worklist, g.predecessors(cur)...)
		}
	}
	return live
}

// Ranges maps a temporary to the bitmap of its liveness at every
// instruction position.
type Ranges map[string]*utils.BitMap

// Get returns temp's liveness vector, panicking if temp was never
// computed (a programming error in the caller, not a user-facing one).
func (r Ranges) Get(temp string) *utils.BitMap {
	v, ok := r[temp]
	utils.Assert(ok, "liveness: no live range computed for %s", temp)
	return v
}

// NewRanges computes Liveness for every temporary the graph mentions.
func NewRanges(g *Graph) Ranges {
	ranges := make(Ranges)
	for _, temp := range g.Temporaries() {
		ranges[temp] = g.Liveness(temp)
	}
	return ranges
}

// Interferences derives the interference graph from ranges: an edge
// between a and b exists iff some instruction position has both live.
func (r Ranges) Interferences() map[string]*utils.Set[string] {
	out := make(map[string]*utils.Set[string])
	for temp := range r {
		out[temp] = utils.NewSet[string]()
	}
	for temp, live := range r {
		for other, otherLive := range r {
			if other == temp {
				continue
			}
			if overlaps(live, otherLive) {
				out[temp].Add(other)
			}
		}
	}
	return out
}

func overlaps(a, b *utils.BitMap) bool {
	n := a.Size()
	if b.Size() < n {
		n = b.Size()
	}
	for i := 0; i < n; i++ {
		if a.IsSet(i) && b.IsSet(i) {
			return true
		}
	}
	return false
}
