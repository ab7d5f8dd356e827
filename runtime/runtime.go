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

// Package runtime implements the managed half of a compiled program: a
// bump allocator backing every `T: init(...)` and array allocation, and
// a breadth-first copying collector that runs when the bump arena is
// exhausted. Compiled assembly reaches this package through three
// C-ABI-shaped entry points (Alloc, InitArray, SetStackBase); there is
// no cgo boundary here since nothing in this repository links compiled
// ARM64 object code, but the signatures and allocation protocol mirror
// the native runtime exactly so the two stay interchangeable.
//
// Pointers are modelled as plain byte offsets into a simulated address
// space rather than unsafe.Pointer arithmetic: a stack buffer standing
// in for the compiled program's call stack, and a from-space/to-space
// pair of arenas standing in for the heap. This keeps the collector
// exercisable from ordinary Go tests, which poke "pointer" values
// directly into the stack buffer the way compiled `str` instructions
// would.
package runtime

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// ClassMetadataFields is the number of header cells every class
// instance carries ahead of its fields. Alloc copies the field
// descriptor's raw bytes into this region itself; translate never
// writes it directly (see translate.headerCells).
const ClassMetadataFields = 2

// ArrayMetadataFields is the header cell count for arrays: one cell
// holding the element count as a decimal ASCII string.
const ArrayMetadataFields = 1

// defaultLimit bounds how many bytes a single arena may grow to before
// an allocation attempt triggers a collection.
const defaultLimit = 4_000_000

// defaultStackSize is the simulated call-stack region's byte size.
const defaultStackSize = 1 << 20

// arena is a bump allocator over a fixed-capacity byte buffer. Go's
// make already zero-fills, so (unlike the native allocator, which
// depends on fresh OS pages happening to be zero) a freshly bumped
// region's unused trailing bytes are reliably zero here.
type arena struct {
	bytes []byte
	limit int
}

func newArena(limit int) *arena { return &arena{limit: limit} }

// alloc reserves words*8 bytes, returning their starting offset, or
// false if doing so would exceed the arena's limit.
func (a *arena) alloc(words int) (int64, bool) {
	size := words * 8
	if len(a.bytes)+size > a.limit {
		return 0, false
	}
	off := int64(len(a.bytes))
	a.bytes = append(a.bytes, make([]byte, size)...)
	return off, true
}

// root is one stack slot found, during a collection, to hold the
// address of a still-live class instance.
type root struct {
	loc   int64 // offset into the stack buffer
	class int64 // offset into the from-space arena
}

// Allocator is the GC-backed heap for one simulated program. The zero
// value is not usable; construct with NewAllocator.
type Allocator struct {
	mu          sync.Mutex
	current     *arena  // from-space
	allocations []int64 // live allocation base offsets within current
	stack       []byte  // simulated call stack
	sp          int64   // the stack's recorded high-water offset
}

// NewAllocator creates an Allocator with a stackSize-byte simulated
// call stack and the default 4MB bump arena.
func NewAllocator(stackSize int) *Allocator {
	return &Allocator{
		current: newArena(defaultLimit),
		stack:   make([]byte, stackSize),
	}
}

// Stack exposes the simulated call stack so tests can write root
// pointer values into it exactly as compiled `str` instructions would.
func (a *Allocator) Stack() []byte { return a.stack }

// SetStackBase records sp as the high end of the live stack region the
// next collection's root scan covers.
func (a *Allocator) SetStackBase(sp int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sp = sp
}

// Alloc allocates a class instance whose field descriptor is
// descriptor (one byte per field, 'p' for a managed pointer, see
// ast.ClassDecl.Descriptor), rooted at the frame [fp-|size|, sp] for
// collection purposes. It returns the new instance's base offset.
func (a *Allocator) Alloc(descriptor string, fp, size int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := len(descriptor) + ClassMetadataFields
	return a.alloc([]byte(descriptor), fp, size, count, 0)
}

// InitArray allocates an array of length cells, described by the
// decimal string form of length the same way Alloc's class descriptor
// describes fields.
func (a *Allocator) InitArray(length int, fp, size int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	descriptor := []byte(strconv.Itoa(length))
	count := length + ArrayMetadataFields
	return a.alloc(descriptor, fp, size, count, 0)
}

// alloc is the shared bump-then-retry-after-gc core behind Alloc and
// InitArray. tries distinguishes a first attempt (0) from a post-gc
// retry (1) from the fatal give-up case (2): the collector runs at
// most twice before an allocation is reported as unrecoverable.
func (a *Allocator) alloc(descriptor []byte, fp, size int64, count, tries int) (int64, error) {
	if gcAlways() {
		a.gc(fp, size)
	}
	if tries >= 2 {
		return 0, fmt.Errorf("runtime: alloc: failed to allocate memory")
	}
	off, ok := a.current.alloc(count)
	if !ok {
		a.gc(fp, size)
		return a.alloc(descriptor, fp, size, count, tries+1)
	}
	copy(a.current.bytes[off:], descriptor)
	a.allocations = append(a.allocations, off)
	return off, nil
}

// gc runs one breadth-first copying collection: the stack range
// [fp-|size|, sp] is scanned for slots holding a live allocation's
// address, each such class is forwarded into a fresh arena (classes
// embedding array fields forward the array first, rewriting the
// from-space field in place, so the class copy that follows picks up
// the already-forwarded address), and every stack root is rewritten to
// its forwarded address before the old arena is discarded. A class's
// pointer field is rewritten only when its target is itself a stack
// root; an object reachable solely through another object's field is
// not copied, and the field keeps its old value.
func (a *Allocator) gc(frameFP, frameSize int64) {
	fp := frameFP - absInt64(frameSize)
	sp := a.sp
	reach := a.reachableRoots(fp, sp)
	logGC("runtime: gc: scanning range [%d, %d], %d roots", fp, sp, len(reach))

	scratch := newArena(a.current.limit)
	var allocations []int64
	forwarded := make(map[int64]int64)
	children := make(map[int64][]int64)

	for _, r := range reach {
		descriptor, err := a.readString(r.class)
		if err != nil {
			continue
		}
		if _, err := strconv.Atoi(descriptor); err == nil {
			// This root names an array header directly, not a class;
			// arrays are only ever forwarded as a class's child field.
			continue
		}
		newBase, already := forwarded[r.class]
		if !already {
			count := len(descriptor) + ClassMetadataFields
			var ok bool
			newBase, ok = scratch.alloc(count)
			if !ok {
				continue
			}
			allocations = append(allocations, newBase)
			a.copyFields(r.class, descriptor, count, newBase, scratch, &allocations, children)
			forwarded[r.class] = newBase
		}
		logGC("runtime: gc: stack(%d): forwarding %d to %d", r.loc, r.class, newBase)
		binary.LittleEndian.PutUint64(a.stack[r.loc:], uint64(newBase))
	}
	forwardChildFields(reach, children, forwarded, scratch)

	a.current = scratch
	a.allocations = allocations
}

// copyFields copies every word of a class instance (the metadata
// header words included) into its new-space region, substituting a
// forwarded address whenever the old word held one of its own array
// fields, and recording any not-yet-forwarded pointer field so
// forwardChildFields can fix it up once every class has moved.
func (a *Allocator) copyFields(class int64, descriptor string, count int, newBase int64, scratch *arena, allocations *[]int64, children map[int64][]int64) {
	for n := 0; n < count; n++ {
		offset := int64(n * 8)
		cur := class + offset
		val := int64(binary.LittleEndian.Uint64(a.current.bytes[cur:]))
		if n >= ClassMetadataFields && indexOf(a.allocations, val) >= 0 {
			a.copyArray(val, cur, scratch, allocations)
			val = int64(binary.LittleEndian.Uint64(a.current.bytes[cur:]))
		}
		newPtr := newBase + offset
		binary.LittleEndian.PutUint64(scratch.bytes[newPtr:], uint64(val))
		if n >= ClassMetadataFields && descriptor[n-ClassMetadataFields] == 'p' {
			children[val] = append(children[val], newPtr)
		}
	}
}

// copyArray forwards the array at ptr into scratch ahead of its
// enclosing class, rewriting the from-space field at currentValuePtr
// in place so the class copy that triggered this reads the forwarded
// address instead of the stale one. If ptr does not actually describe
// an array (its header does not parse as a decimal length, i.e. it is
// itself a class that merely aliases a live allocation's base address),
// this is a no-op: the enclosing class copy proceeds unchanged.
func (a *Allocator) copyArray(ptr, currentValuePtr int64, scratch *arena, allocations *[]int64) {
	header, err := a.readString(ptr)
	if err != nil {
		return
	}
	length, err := strconv.Atoi(header)
	if err != nil {
		return
	}
	count := length + ArrayMetadataFields
	newArr, ok := scratch.alloc(count)
	if !ok {
		return
	}
	for n := 0; n <= length; n++ {
		off := int64(n * 8)
		v := binary.LittleEndian.Uint64(a.current.bytes[ptr+off:])
		binary.LittleEndian.PutUint64(scratch.bytes[newArr+off:], v)
	}
	binary.LittleEndian.PutUint64(a.current.bytes[currentValuePtr:], uint64(newArr))
	*allocations = append(*allocations, newArr)
}

// forwardChildFields runs once every reachable class has been
// forwarded: for each class with unresolved pointer fields recorded by
// copyFields, the forwarded address is written into every one of those
// fields' new-space slots.
func forwardChildFields(reach []root, children map[int64][]int64, forwarded map[int64]int64, scratch *arena) {
	for _, r := range reach {
		fields, ok := children[r.class]
		if !ok {
			continue
		}
		newBase, ok := forwarded[r.class]
		if !ok {
			continue
		}
		for _, ptr := range fields {
			binary.LittleEndian.PutUint64(scratch.bytes[ptr:], uint64(newBase))
		}
	}
}

// reachableRoots scans every 8-byte stack slot in (fp, sp] for a value
// matching a currently-live allocation's base offset. The slot at fp
// itself is skipped, matching the native scan: it holds this frame's
// own saved frame/link pair, never a root.
func (a *Allocator) reachableRoots(fp, sp int64) []root {
	var out []root
	for offset := int64(8); fp+offset <= sp; offset += 8 {
		src := fp + offset
		if src < 0 || src+8 > int64(len(a.stack)) {
			break
		}
		val := int64(binary.LittleEndian.Uint64(a.stack[src:]))
		if indexOf(a.allocations, val) >= 0 {
			out = append(out, root{loc: src, class: val})
		}
	}
	return out
}

// readString reads the NUL-terminated byte run starting at ptr within
// the current (from-space) arena: a class's field descriptor or an
// array's decimal length.
func (a *Allocator) readString(ptr int64) (string, error) {
	buf := a.current.bytes
	if ptr < 0 || ptr >= int64(len(buf)) {
		return "", fmt.Errorf("runtime: read_string: offset %d out of range", ptr)
	}
	end := ptr
	for end < int64(len(buf)) && buf[end] != 0 {
		end++
	}
	return string(buf[ptr:end]), nil
}

func indexOf(xs []int64, v int64) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}

func absInt64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func gcAlways() bool {
	_, ok := os.LookupEnv("KYANITE_GC_ALWAYS")
	return ok
}

func logGC(format string, args ...interface{}) {
	if _, ok := os.LookupEnv("KYANITE_LOG_GC"); ok {
		fmt.Fprintf(os.Stdout, format+"\n", args...)
	}
}

var (
	once   sync.Once
	global *Allocator
)

// Global returns the process-wide allocator instance the C-ABI-shaped
// entry points below operate on, constructing it on first use.
func Global() *Allocator {
	once.Do(func() { global = NewAllocator(defaultStackSize) })
	return global
}

// SetStackBase is the `set_stack_base` entry point.
func SetStackBase(sp int64) { Global().SetStackBase(sp) }

// Alloc is the `alloc` entry point: it panics, like its native
// counterpart, when the arena is still exhausted after two
// collections.
func Alloc(descriptor string, fp, size int64) int64 {
	ptr, err := Global().Alloc(descriptor, fp, size)
	if err != nil {
		panic(err.Error())
	}
	return ptr
}

// InitArray is the `init_array` entry point.
func InitArray(length int, fp, size int64) int64 {
	ptr, err := Global().InitArray(length, fp, size)
	if err != nil {
		panic(err.Error())
	}
	return ptr
}
