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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertPanicsOnFalse(t *testing.T) {
	assert.NotPanics(t, func() { Assert(true, "unreachable") })
	assert.PanicsWithValue(t, "bad: 42", func() { Assert(false, "bad: %d", 42) })
}

func TestAlign16(t *testing.T) {
	assert.Equal(t, 0, Align16(0))
	assert.Equal(t, 16, Align16(1))
	assert.Equal(t, 16, Align16(16))
	assert.Equal(t, 32, Align16(17))
}

func TestAbs(t *testing.T) {
	assert.Equal(t, 3, Abs(-3))
	assert.Equal(t, 3, Abs(3))
	assert.Equal(t, 0, Abs(0))
}

func TestAny(t *testing.T) {
	assert.True(t, Any(2, 1, 2, 3))
	assert.False(t, Any(5, 1, 2, 3))
}

func TestSetBasics(t *testing.T) {
	s := NewSet[string]()
	require.True(t, s.Add("a"))
	require.False(t, s.Add("a"))
	assert.True(t, s.Contains("a"))
	assert.Equal(t, 1, s.Length())
	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Equal(t, 0, s.Length())
}

func TestSetForEachAndSlice(t *testing.T) {
	s := NewSet[int]()
	s.Add(1)
	s.Add(2)
	s.Add(3)
	seen := map[int]bool{}
	s.ForEach(func(e int) { seen[e] = true })
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, seen)
	assert.ElementsMatch(t, []int{1, 2, 3}, s.Slice())
}

func TestBitMapSetResetIsSet(t *testing.T) {
	bm := NewBitMap(10)
	assert.Equal(t, 10, bm.Size())
	bm.Set(3)
	bm.Set(9)
	assert.True(t, bm.IsSet(3))
	assert.True(t, bm.IsSet(9))
	assert.False(t, bm.IsSet(4))
	bm.Reset(3)
	assert.False(t, bm.IsSet(3))
}

func TestBitMapUniteIntersectRemove(t *testing.T) {
	a := NewBitMap(8)
	b := NewBitMap(8)
	a.Set(0)
	a.Set(1)
	b.Set(1)
	b.Set(2)

	changed := a.Copy()
	assert.True(t, changed.Unite(b))
	assert.True(t, changed.IsSet(0))
	assert.True(t, changed.IsSet(1))
	assert.True(t, changed.IsSet(2))

	inter := a.Copy()
	assert.True(t, inter.Intersect(b))
	assert.False(t, inter.IsSet(0))
	assert.True(t, inter.IsSet(1))
	assert.False(t, inter.IsSet(2))

	removed := a.Copy()
	assert.True(t, removed.Remove(b))
	assert.True(t, removed.IsSet(0))
	assert.False(t, removed.IsSet(1))
}

func TestBitMapCountForEachString(t *testing.T) {
	bm := NewBitMap(5)
	bm.Set(0)
	bm.Set(2)
	bm.Set(4)
	assert.Equal(t, 3, bm.Count())
	var got []int
	bm.ForEach(func(i int) { got = append(got, i) })
	assert.Equal(t, []int{0, 2, 4}, got)
	assert.Equal(t, "{0,2,4}", bm.String())
}

func TestBitMapSetFromAndCopyAreIndependent(t *testing.T) {
	a := NewBitMap(4)
	a.Set(1)
	cp := a.Copy()
	cp.Set(2)
	assert.False(t, a.IsSet(2), "Copy must not alias the original's backing storage")

	b := NewBitMap(4)
	b.Set(3)
	require.True(t, a.SetFrom(b))
	assert.False(t, a.IsSet(1))
	assert.True(t, a.IsSet(3))
}
