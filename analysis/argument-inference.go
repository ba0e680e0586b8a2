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
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/practical-formal-methods/husk/vm"
)

// Termination causes recorded in Stats.
var (
	EndOfCodeStop         = "end-of-code"
	UnsupportedOpcodeStop = "unsupported-opcode"
	StackErrorStop        = "stack-error"
	GasOverflowStop       = "gas-overflow"
)

// DefaultGasLimit bounds an analysis when the caller passes 0.
var DefaultGasLimit = MagicUInt64(10000)

// spoofedCallDataSize is pushed in place of the true calldata length (4)
// once inside the target function, so the prologue's length checks pass.
// Any value large enough to survive the prologue's arithmetic without
// wrapping would do.
var spoofedCallDataSize = MagicUInt64(8192)

// maxArgOffset is the exclusive upper bound for plausible argument head
// slots; anything past it is treated as noise rather than calldata layout.
var maxArgOffset = MagicUInt64(1) << 32

// Stats describes how an analysis ended.
type Stats struct {
	Steps   uint64
	GasUsed uint64
	Cause   string
}

// FunctionArguments infers the argument types of the function behind the
// given 4-byte selector from runtime bytecode. It returns a comma-joined
// list of ABI types, ordered by calldata offset, or "" when nothing was
// discovered. A gasLimit of 0 means DefaultGasLimit. It never fails: every
// exceptional VM condition just ends the analysis with whatever has been
// inferred so far.
func FunctionArguments(code, selector []byte, gasLimit uint64) string {
	res, _ := FunctionArgumentsWithStats(code, selector, gasLimit)
	return res
}

// FunctionArgumentsWithStats is FunctionArguments plus termination stats.
func FunctionArgumentsWithStats(code, selector []byte, gasLimit uint64) (string, Stats) {
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	d := &driver{
		vm:       vm.NewVM(code, vm.CallData(selector)),
		selector: selector,
		gasLimit: gasLimit,
		args:     map[uint32]string{},
	}
	d.run()
	return d.render(), d.stats
}

// FunctionArgumentsHex accepts the code and selector as hex strings,
// optionally 0x-prefixed.
func FunctionArgumentsHex(code, selector string, gasLimit uint64) string {
	return FunctionArguments(common.FromHex(code), common.FromHex(selector), gasLimit)
}

// driver steps a fresh VM through the dispatcher and prologue, upgrading
// stack tags between steps and collecting the offset→type map.
type driver struct {
	vm       *vm.VM
	selector []byte
	gasLimit uint64
	args     map[uint32]string
	inside   bool
	stats    Stats
}

func (d *driver) run() {
	for !d.vm.Stopped {
		rec, err := d.vm.Step()
		if err != nil {
			d.stats.Cause = stopCause(err)
			log.Debug("inference ended", "cause", d.stats.Cause, "op", rec.Op, "steps", d.stats.Steps)
			break
		}
		d.stats.Steps++
		d.stats.GasUsed += rec.Gas
		if d.gasLimit < d.stats.GasUsed {
			d.stats.Cause = GasOverflowStop
			log.Debug("inference ended", "cause", d.stats.Cause, "gas", d.stats.GasUsed, "limit", d.gasLimit)
			break
		}
		if !d.inside {
			d.watchDispatch(rec)
			continue
		}
		d.apply(rec)
	}
	if d.stats.Cause == "" {
		d.stats.Cause = EndOfCodeStop
	}
}

// watchDispatch latches the inside-function flag once the dispatcher
// compares the incoming selector against ours: an EQ leaving 1 on the
// stack, or an XOR/SUB leaving 0, whose first popped operand ends with
// the target selector bytes. The flag never resets.
func (d *driver) watchDispatch(rec vm.TraceRecord) {
	switch rec.Op {
	case vm.EQ, vm.XOR, vm.SUB:
	default:
		return
	}
	top, err := d.vm.Stack.Peek()
	if err != nil {
		return
	}
	want := uint64(0)
	if rec.Op == vm.EQ {
		want = 1
	}
	p := new(big.Int).SetBytes(top.Bytes())
	if !p.IsUint64() || p.Uint64() != want {
		return
	}
	if 0 < len(rec.Operands) && bytes.HasSuffix(rec.Operands[0].Bytes(), d.selector) {
		d.inside = true
	}
}

// apply inspects one trace record against the inference rules, possibly
// rewriting the VM's stack top with an upgraded tag and recording type
// facts in the offset→type map.
func (d *driver) apply(rec vm.TraceRecord) {
	ops := rec.Operands
	switch rec.Op {
	case vm.CALLDATASIZE:
		// The true length is 4; make length checks pass.
		d.replaceTop(vm.NewConcrete(new(big.Int).SetUint64(spoofedCallDataSize).Bytes()))

	case vm.CALLDATALOAD:
		if len(ops) < 1 {
			return
		}
		switch arg := ops[0].(type) {
		case Arg:
			// A second load through a head slot: the slot held a pointer,
			// and what was just loaded is the payload's length prefix.
			d.args[arg.Offset] = "bytes"
			d.replaceTop(ArgDynamicLength{Offset: arg.Offset})
		case ArgDynamic:
			d.replaceTop(NewArg(arg.Offset, true))
		default:
			off := operandUint(ops[0])
			if off.IsUint64() && 4 <= off.Uint64() && off.Uint64() < maxArgOffset {
				o := uint32(off.Uint64())
				d.replaceTop(NewArg(o, false))
				if _, known := d.args[o]; !known {
					d.args[o] = ""
				}
			}
		}

	case vm.ADD:
		if len(ops) < 2 {
			return
		}
		if cd, other, ok := pickArg(ops); ok {
			sum, err := d.vm.Stack.Pop()
			if err != nil {
				return
			}
			if operandIs(other, 4) {
				// The "+4 selector skip": still the same head slot.
				d.push(Arg{Offset: cd.Offset, Dynamic: cd.Dynamic, Val: sum.Bytes()})
			} else {
				d.push(ArgDynamic{Offset: cd.Offset, Val: sum.Bytes()})
			}
		} else if cd, ok := pickArgDynamic(ops); ok {
			sum, err := d.vm.Stack.Pop()
			if err != nil {
				return
			}
			d.push(ArgDynamic{Offset: cd.Offset, Val: sum.Bytes()})
		}

	case vm.SHL:
		if len(ops) < 2 {
			return
		}
		if arg, ok := ops[1].(ArgDynamicLength); ok && operandIs(ops[0], 5) {
			d.args[arg.Offset] = "uint256[]"
		}

	case vm.MUL:
		if len(ops) < 2 {
			return
		}
		if arg, ok := ops[0].(ArgDynamicLength); ok && operandIs(ops[1], 32) {
			d.args[arg.Offset] = "uint256[]"
		} else if arg, ok := ops[1].(ArgDynamicLength); ok && operandIs(ops[0], 32) {
			d.args[arg.Offset] = "uint256[]"
		}

	case vm.AND:
		if len(ops) < 2 {
			return
		}
		if arg, other, ok := pickArg(ops); ok {
			if t := maskType(other.Bytes()); t != "" {
				if arg.Dynamic {
					t += "[]"
				}
				d.args[arg.Offset] = t
			}
		}

	case vm.ISZERO:
		if len(ops) < 1 {
			return
		}
		switch arg := ops[0].(type) {
		case Arg:
			res, err := d.vm.Stack.Pop()
			if err != nil {
				return
			}
			d.push(IsZeroResult{Offset: arg.Offset, Dynamic: arg.Dynamic, Val: res.Bytes()})
		case IsZeroResult:
			// Two ISZEROs in a row normalize a bool.
			t := "bool"
			if arg.Dynamic {
				t = "bool[]"
			}
			d.args[arg.Offset] = t
		}

	case vm.SIGNEXTEND:
		if len(ops) < 2 {
			return
		}
		if arg, ok := ops[1].(Arg); ok {
			s0 := operandUint(ops[0])
			if s0.IsUint64() && s0.Uint64() < 32 {
				t := fmt.Sprintf("int%d", 8*(s0.Uint64()+1))
				if arg.Dynamic {
					t += "[]"
				}
				d.args[arg.Offset] = t
			}
		}

	case vm.BYTE:
		if len(ops) < 2 {
			return
		}
		if arg, ok := ops[1].(Arg); ok && d.args[arg.Offset] == "" {
			d.args[arg.Offset] = "bytes32"
		}
	}
}

// replaceTop swaps the freshly pushed result of the last step for w.
func (d *driver) replaceTop(w vm.Word) {
	if _, err := d.vm.Stack.Pop(); err != nil {
		return
	}
	d.push(w)
}

func (d *driver) push(w vm.Word) {
	_ = d.vm.Stack.Push(w)
}

func (d *driver) render() string {
	offsets := make([]uint32, 0, len(d.args))
	for off := range d.args {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	parts := make([]string, 0, len(offsets))
	for _, off := range offsets {
		t := d.args[off]
		if t == "" {
			t = "uint256"
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, ",")
}

// pickArg finds an Arg among two operands, preferring the first, and
// returns it with the other operand.
func pickArg(ops []vm.Word) (Arg, vm.Word, bool) {
	if a, ok := ops[0].(Arg); ok {
		return a, ops[1], true
	}
	if a, ok := ops[1].(Arg); ok {
		return a, ops[0], true
	}
	return Arg{}, nil, false
}

func pickArgDynamic(ops []vm.Word) (ArgDynamic, bool) {
	if a, ok := ops[0].(ArgDynamic); ok {
		return a, true
	}
	if a, ok := ops[1].(ArgDynamic); ok {
		return a, true
	}
	return ArgDynamic{}, false
}

func operandUint(w vm.Word) *big.Int {
	return new(big.Int).SetBytes(w.Bytes())
}

func operandIs(w vm.Word, n uint64) bool {
	v := operandUint(w)
	return v.IsUint64() && v.Uint64() == n
}

func stopCause(err error) string {
	var unsupported *vm.UnsupportedOpError
	switch {
	case errors.As(err, &unsupported):
		return UnsupportedOpcodeStop
	case errors.Is(err, vm.ErrStackUnderflow), errors.Is(err, vm.ErrStackOverflow):
		return StackErrorStop
	default:
		return err.Error()
	}
}
