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

import "fmt"

// Assert panics with the formatted message when cond is false. The core
// treats a failed assertion as a fatal internal-invariant break, never as a
// recoverable error (see the "Translation / codegen internal invariants"
// category).
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Unimplement marks a code path that is known but not yet built.
func Unimplement() {
	panic("not implemented yet")
}

// ShouldNotReachHere marks a code path that well-typed input can never take.
func ShouldNotReachHere() {
	panic("should not reach here")
}

// Fatal aborts the compiler with a message naming the violated invariant.
func Fatal(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

func Abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Align16 rounds n up to the next 16-byte boundary, as required by the
// AArch64 stack-alignment rule at a public interface (call/branch-link).
func Align16(n int) int {
	return (n + 15) &^ 15
}

func Any[T comparable](c T, cs ...T) bool {
	for _, cc := range cs {
		if c == cc {
			return true
		}
	}
	return false
}
