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
package utils

import (
	"strconv"
	"strings"
)

// BitMap is a fixed-size bitset backed by bytes, used by the back end for
// per-instruction liveness vectors (one bit per instruction position).
type BitMap struct {
	data []uint8
	size int
}

func NewBitMap(size int) *BitMap {
	return &BitMap{
		data: make([]uint8, (size+7)/8),
		size: size,
	}
}

func (bm *BitMap) Size() int {
	return bm.size
}

func (bm *BitMap) Set(i int) {
	bm.data[i/8] |= 1 << uint8(i%8)
}

func (bm *BitMap) Reset(i int) {
	bm.data[i/8] &^= 1 << uint8(i%8)
}

func (bm *BitMap) IsSet(i int) bool {
	return bm.data[i/8]&(1<<uint8(i%8)) != 0
}

// Unite computes bm |= o in place, returning whether bm changed.
func (bm *BitMap) Unite(o *BitMap) bool {
	Assert(bm.size == o.size, "sanity check")
	changed := false
	for i := range bm.data {
		nv := bm.data[i] | o.data[i]
		if nv != bm.data[i] {
			bm.data[i] = nv
			changed = true
		}
	}
	return changed
}

func (bm *BitMap) Intersect(o *BitMap) bool {
	Assert(bm.size == o.size, "sanity check")
	changed := false
	for i := range bm.data {
		nv := bm.data[i] & o.data[i]
		if nv != bm.data[i] {
			bm.data[i] = nv
			changed = true
		}
	}
	return changed
}

func (bm *BitMap) Remove(o *BitMap) bool {
	Assert(bm.size == o.size, "sanity check")
	changed := false
	for i := range bm.data {
		nv := bm.data[i] &^ o.data[i]
		if nv != bm.data[i] {
			bm.data[i] = nv
			changed = true
		}
	}
	return changed
}

func (bm *BitMap) SetFrom(o *BitMap) bool {
	Assert(bm.size == o.size, "sanity check")
	changed := false
	for i := range o.data {
		if o.data[i] != bm.data[i] {
			bm.data[i] = o.data[i]
			changed = true
		}
	}
	return changed
}

func (bm *BitMap) Copy() *BitMap {
	nd := make([]uint8, len(bm.data))
	copy(nd, bm.data)
	return &BitMap{data: nd, size: bm.size}
}

// Count returns the number of set bits.
func (bm *BitMap) Count() int {
	n := 0
	for i := 0; i < bm.size; i++ {
		if bm.IsSet(i) {
			n++
		}
	}
	return n
}

// ForEach calls f with the index of every set bit, ascending.
func (bm *BitMap) ForEach(f func(int)) {
	for i := 0; i < bm.size; i++ {
		if bm.IsSet(i) {
			f(i)
		}
	}
}

func (bm *BitMap) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	bm.ForEach(func(i int) {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(strconv.Itoa(i))
	})
	sb.WriteByte('}')
	return sb.String()
}
