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

package analysis

import (
	"fmt"

	"github.com/practical-formal-methods/husk/vm"
)

// The tags below form the provenance lattice the driver imprints on the
// VM's stack. vm.Concrete is the bottom element; each variant remembers
// the calldata byte offset of the argument it descends from, and upgrades
// never change that offset.

// Arg marks a word loaded by CALLDATALOAD from an argument's head slot
// (or, with Dynamic set, from its dynamic payload area).
type Arg struct {
	Offset  uint32
	Dynamic bool
	Val     []byte
}

// NewArg returns an Arg with an all-zero word value.
func NewArg(offset uint32, dynamic bool) Arg {
	return Arg{Offset: offset, Dynamic: dynamic, Val: make([]byte, 32)}
}

func (a Arg) Bytes() []byte { return a.Val }

func (a Arg) String() string {
	return fmt.Sprintf("arg(%d,%v)", a.Offset, a.Dynamic)
}

// ArgDynamicLength marks the 32-byte length prefix of a dynamic argument.
// Its concrete value is conventionally 1; only the tag matters.
type ArgDynamicLength struct {
	Offset uint32
}

func (a ArgDynamicLength) Bytes() []byte {
	w := make([]byte, 32)
	w[31] = 1
	return w
}

func (a ArgDynamicLength) String() string {
	return fmt.Sprintf("dlen(%d)", a.Offset)
}

// ArgDynamic marks a cursor into the dynamic payload area of the argument
// at Offset, produced by adding to an Arg head slot.
type ArgDynamic struct {
	Offset uint32
	Val    []byte
}

func (a ArgDynamic) Bytes() []byte { return a.Val }

func (a ArgDynamic) String() string {
	return fmt.Sprintf("darg(%d)", a.Offset)
}

// IsZeroResult marks the result of ISZERO applied to an Arg.
type IsZeroResult struct {
	Offset  uint32
	Dynamic bool
	Val     []byte
}

func (a IsZeroResult) Bytes() []byte { return a.Val }

func (a IsZeroResult) String() string {
	return fmt.Sprintf("zarg(%d)", a.Offset)
}

var (
	_ vm.Word = Arg{}
	_ vm.Word = ArgDynamicLength{}
	_ vm.Word = ArgDynamic{}
	_ vm.Word = IsZeroResult{}
)
