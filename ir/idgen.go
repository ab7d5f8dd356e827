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
package ir

import "fmt"

// IDGen hands out the process-wide-unique names and ids the pipeline needs:
// fresh temporaries (T0, T1, ...), fresh labels (L0, L1, ...) and ESeq /
// instruction ids. It is threaded explicitly through translate and
// codegen rather than kept as package-level mutable state, so that two
// independent compilations in the same process (as happens in table-driven
// tests) never race or leak counters into each other's snapshots.
type IDGen struct {
	temp  int
	label int
	eseq  int
	instr int
}

func NewIDGen() *IDGen { return &IDGen{} }

func (g *IDGen) NewTemp() *Temp {
	t := &Temp{Name: fmt.Sprintf("T%d", g.temp)}
	g.temp++
	return t
}

func (g *IDGen) NewLabel() string {
	l := fmt.Sprintf("L%d", g.label)
	g.label++
	return l
}

func (g *IDGen) NewESeqID() int {
	id := g.eseq
	g.eseq++
	return id
}

func (g *IDGen) NewInstrID() int {
	id := g.instr
	g.instr++
	return id
}
