// Copyright 2020 MPI-SWS and Valentin Wuestholz

// This file is part of Husk.
//
// Husk is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Husk is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Husk.  If not, see <https://www.gnu.org/licenses/>.

package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrStackUnderflow is returned by stack operations that need more
	// items than the stack holds.
	ErrStackUnderflow = errors.New("stack underflow")

	// ErrStackOverflow is returned when a push would exceed the 1024-word
	// stack limit.
	ErrStackOverflow = errors.New("stack limit reached")
)

// UnsupportedOpError is returned by Step for any opcode outside the
// prologue subset, for jumps to invalid destinations, and for oversized
// CALLDATACOPYs. Reaching one is the interpreter's normal way of ending an
// analysis: the prologue is over.
type UnsupportedOpError struct {
	Op OpCode
}

func (e *UnsupportedOpError) Error() string {
	return fmt.Sprintf("unsupported opcode %v", e.Op)
}
